package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/hongminglow/solace-be/internal/auth"
	"github.com/hongminglow/solace-be/internal/config"
	"github.com/hongminglow/solace-be/internal/http/handlers"
	"github.com/hongminglow/solace-be/internal/mail"
	"github.com/hongminglow/solace-be/internal/middleware"
	"github.com/hongminglow/solace-be/internal/storage"
)

// Deps are the long-lived services the HTTP layer is built on. main owns
// their lifecycle.
type Deps struct {
	Store  storage.UserStore
	Hasher *auth.Hasher
	Resets *auth.ResetTokens
	Mailer mail.Gateway
	Log    *slog.Logger
}

// Server wraps an http.Server with configured routes.
type Server struct {
	inner *http.Server
	log   *slog.Logger
}

// New wires up middleware, routes, and returns a ready server.
func New(cfg config.Config, deps Deps) *Server {
	return &Server{
		inner: &http.Server{
			Addr:              cfg.HTTPAddress(),
			Handler:           Handler(cfg, deps),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       120 * time.Second,
			ErrorLog:          slog.NewLogLogger(deps.Log.Handler(), slog.LevelWarn),
		},
		log: deps.Log,
	}
}

// Handler builds the routed and wrapped handler tree.
func Handler(cfg config.Config, deps Deps) http.Handler {
	mux := http.NewServeMux()
	handlers.NewHealthHandler(time.Now(), deps.Store, deps.Log).Register(mux)
	handlers.NewAuthHandler(deps.Store, deps.Hasher, deps.Resets, deps.Mailer, &cfg, deps.Log).Register(mux)
	mux.HandleFunc("/", handlers.NotFound)

	var h http.Handler = mux
	h = middleware.Recover(deps.Log, h)
	h = middleware.Logging(deps.Log, h)
	h = middleware.CORS(cfg.CORSOrigins, h)
	return middleware.RequestID(h)
}

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	s.log.Info("listening", slog.String("addr", s.inner.Addr))
	return s.inner.ListenAndServe()
}

// Serve accepts connections on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("listening", slog.String("addr", ln.Addr().String()))
	return s.inner.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
