package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hongminglow/solace-be/internal/apperror"
	"github.com/hongminglow/solace-be/internal/http/respond"
)

const pingTimeout = 2 * time.Second

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler returns uptime and database reachability.
type HealthHandler struct {
	startedAt time.Time
	db        Pinger
	log       *slog.Logger
}

// NewHealthHandler creates a health endpoint handler.
func NewHealthHandler(startedAt time.Time, db Pinger, log *slog.Logger) *HealthHandler {
	return &HealthHandler{startedAt: startedAt, db: db, log: log}
}

// Register wires the handler into a ServeMux.
func (h *HealthHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handle)
}

func (h *HealthHandler) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", http.MethodGet)
		respond.Error(w, apperror.NewMethodNotAllowed(), false)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	status, database, code := "ok", "ok", http.StatusOK
	if err := h.db.Ping(ctx); err != nil {
		h.log.WarnContext(r.Context(), "health check: database unreachable", slog.Any("error", err))
		status, database, code = "degraded", "unreachable", http.StatusServiceUnavailable
	}
	respond.JSON(w, code, map[string]string{
		"status":   status,
		"database": database,
		"uptime":   time.Since(h.startedAt).Truncate(time.Second).String(),
	})
}

// NotFound answers every unregistered path.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	respond.Error(w, apperror.NewNotFound("Route not found"), false)
}
