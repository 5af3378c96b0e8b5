package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/antoniostano/memochat/internal/chat"
	"github.com/antoniostano/memochat/internal/gateway"
	"github.com/antoniostano/memochat/internal/prompt"
)

type chatRequest struct {
	Message   string `json:"message"`
	Mode      string `json:"mode"`
	Persona   string `json:"persona,omitempty"`
	Verbosity string `json:"verbosity,omitempty"`
}

const (
	msgMessageRequired = "Message is required"
	msgProcessFailed   = "Failed to process your request"
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", msgMessageRequired)
		return
	}
	if s.chat == nil {
		respondError(w, http.StatusInternalServerError, "upstream_failed", msgProcessFailed)
		return
	}

	out, err := s.chat.SendTurn(r.Context(), chat.Turn{
		Message:   req.Message,
		Mode:      req.Mode,
		Persona:   req.Persona,
		Verbosity: req.Verbosity,
	})
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, out)
	case errors.Is(err, prompt.ErrEmptyMessage):
		respondError(w, http.StatusBadRequest, "invalid_request", msgMessageRequired)
	case errors.Is(err, prompt.ErrInvalidMode):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		// Upstream details stay in the log.
		s.logger.Error("chat turn failed", zap.String("kind", gateway.Kind(err)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "upstream_failed", msgProcessFailed)
	}
}
