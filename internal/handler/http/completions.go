package http

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"callguard/internal/handler/http/respond"
	"callguard/internal/infra/llm"
)

func (s *Server) complete(w http.ResponseWriter, r *http.Request) {
	var req llm.CompletionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Error(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
			return
		}
		respond.Error(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return
	}
	if req.Provider == "" {
		respond.Error(w, http.StatusBadRequest, errors.New("provider is required"))
		return
	}

	if err := req.Validate(); err != nil {
		writeError(w, err)
		return
	}

	out, err := s.deps.Completer.Complete(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, out)
}
