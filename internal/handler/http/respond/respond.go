// Package respond writes JSON responses and error bodies that never leak
// provider credentials.
package respond

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
}

// JSON writes a JSON response with the given status code and data.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already sent.
		slog.Default().Error("failed to encode JSON response",
			slog.Int("status_code", code),
			slog.Any("error", err))
	}
}

// Error writes a JSON error response with the sanitized error message.
func Error(w http.ResponseWriter, code int, err error) {
	JSON(w, code, ErrorBody{Error: SanitizeError(err)})
}

// AppError carries a user-facing message, a status code and an optional
// category alongside the internal error.
type AppError struct {
	UserMsg  string
	Category string
	Code     int
	Err      error
}

// Error implements error.
func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.UserMsg
}

// Unwrap returns the internal error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates an AppError.
func NewAppError(code int, userMsg string, err error) *AppError {
	return &AppError{Code: code, UserMsg: userMsg, Err: err}
}

// SafeError writes err as a JSON error. An *AppError in the chain supplies
// the status and user message; any other error becomes a generic message
// with status code. 5xx internals are logged, never returned.
func SafeError(w http.ResponseWriter, code int, err error) {
	if err == nil {
		return
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Err != nil && appErr.Code >= 500 {
			slog.Default().Error("request failed",
				slog.Int("code", appErr.Code),
				slog.String("user_message", appErr.UserMsg),
				slog.String("error", SanitizeError(appErr.Err)))
		}
		JSON(w, appErr.Code, ErrorBody{Error: appErr.UserMsg, Category: appErr.Category})
		return
	}

	if code < 500 {
		Error(w, code, err)
		return
	}

	slog.Default().Error("internal server error",
		slog.Int("code", code),
		slog.String("error", SanitizeError(err)))
	JSON(w, code, ErrorBody{Error: "internal server error"})
}
