package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dtnewman/appt-booking/pkg/logging"
)

// Handler exposes the conversation endpoint.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if service == nil {
		panic("chat: service is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Respond handles POST /api/chat.
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeChatError(w, http.StatusBadRequest, "validation_error", "request body must be valid JSON")
		return
	}

	resp, err := h.service.Respond(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyMessage):
			writeChatError(w, http.StatusBadRequest, "validation_error", err.Error())
		case errors.Is(err, ErrSchemaAttempts):
			h.logger.Error("assistant output failed schema validation", "error", err)
			writeChatError(w, http.StatusBadGateway, "upstream_error", "the assistant could not produce a valid reply")
		default:
			h.logger.Error("chat turn failed", "error", err)
			writeChatError(w, http.StatusBadGateway, "upstream_error", "the assistant is unavailable")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode chat response", "error", err)
	}
}

func writeChatError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
