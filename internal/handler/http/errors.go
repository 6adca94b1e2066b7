package http

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"callguard/internal/handler/http/respond"
	"callguard/internal/infra/llm"
	"callguard/internal/resilience/circuitbreaker"
	"callguard/internal/resilience/classify"
	"callguard/internal/resilience/ratelimiter"
)

// writeError maps gateway errors to status codes:
//
//	invalid request            400
//	unknown destination        404
//	queue full                 429
//	upstream rate limited      429
//	upstream failure           502
//	circuit open / closing     503 (Retry-After when known)
//	deadline exceeded          504
func writeError(w http.ResponseWriter, err error) {
	var (
		openErr *circuitbreaker.CircuitOpenError
		execErr *ratelimiter.ExecutionError
	)

	switch {
	case errors.Is(err, llm.ErrEmptyPrompt), errors.Is(err, llm.ErrUnknownProvider),
		errors.Is(err, llm.ErrInvalidMaxTokens):
		respond.Error(w, http.StatusBadRequest, err)

	case errors.Is(err, ratelimiter.ErrUnknownDestination):
		respond.Error(w, http.StatusNotFound, err)

	case errors.Is(err, ratelimiter.ErrQueueFull):
		respond.SafeError(w, http.StatusTooManyRequests, &respond.AppError{
			Code: http.StatusTooManyRequests, UserMsg: err.Error(), Category: "QUEUE_FULL",
		})

	case errors.As(err, &openErr):
		if wait := time.Until(openErr.NextAttemptTime); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		}
		respond.SafeError(w, http.StatusServiceUnavailable, &respond.AppError{
			Code: http.StatusServiceUnavailable, UserMsg: openErr.Error(), Category: "CIRCUIT_OPEN",
		})

	case errors.Is(err, ratelimiter.ErrClosed):
		respond.Error(w, http.StatusServiceUnavailable, err)

	case errors.Is(err, context.DeadlineExceeded):
		respond.Error(w, http.StatusGatewayTimeout, err)

	case errors.As(err, &execErr):
		code := http.StatusBadGateway
		if execErr.Classification.Category == classify.CategoryRateLimit {
			code = http.StatusTooManyRequests
		}
		respond.SafeError(w, code, &respond.AppError{
			Code:     code,
			UserMsg:  respond.SanitizeError(execErr),
			Category: execErr.Classification.Category.String(),
			Err:      execErr,
		})

	default:
		respond.SafeError(w, http.StatusInternalServerError, err)
	}
}
