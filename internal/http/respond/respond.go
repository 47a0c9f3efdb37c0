package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hongminglow/solace-be/internal/apperror"
)

// ErrorBody is the shape of every failed API response.
type ErrorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// JSON writes payload with the given status.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("respond: encode payload failed", slog.Any("error", err))
	}
}

// Error writes err using its AppError status and message. Details carry the
// wrapped internal error and are only included when includeDetails is set.
func Error(w http.ResponseWriter, err *apperror.AppError, includeDetails bool) {
	body := ErrorBody{Error: err.Message, Code: err.Type}
	if includeDetails && err.Internal != nil {
		body.Details = err.Internal.Error()
	}
	JSON(w, err.Code, body)
}
