package scheduling

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dtnewman/appt-booking/pkg/logging"
)

// Handler wires HTTP requests to the scheduling service.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

// NewHandler creates a scheduling handler.
func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// Availability handles GET /api/appointments.
// Query params: provider_id, start_date, end_date, start_time, end_time.
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	f := Filter{
		ProviderID: params.Get("provider_id"),
		StartDate:  params.Get("start_date"),
		EndDate:    params.Get("end_date"),
		StartTime:  params.Get("start_time"),
		EndTime:    params.Get("end_time"),
	}

	slots, err := h.service.Availability(r.Context(), f)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

// Book handles POST /api/appointments.
func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	var req BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode booking request", "error", err)
		h.writeJSON(w, http.StatusBadRequest, errorResponse{errorBody{
			Code:    "validation_error",
			Message: "invalid request body",
		}})
		return
	}

	result, err := h.service.Book(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case IsValidation(err):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{errorBody{
			Code:    "validation_error",
			Message: err.Error(),
		}})
	case errors.Is(err, ErrSlotNotFound):
		h.writeJSON(w, http.StatusNotFound, errorResponse{errorBody{
			Code:    "not_found",
			Message: "slot not found",
		}})
	case errors.Is(err, ErrSlotUnavailable):
		h.writeJSON(w, http.StatusConflict, errorResponse{errorBody{
			Code:    "conflict",
			Message: "slot is no longer available",
		}})
	default:
		h.logger.Error("scheduling request failed", "error", err)
		h.writeJSON(w, http.StatusBadGateway, errorResponse{errorBody{
			Code:    "upstream_error",
			Message: "dependency failure",
		}})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
