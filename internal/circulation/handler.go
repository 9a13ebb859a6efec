// internal/circulation/handler.go
package circulation

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"libracirc/internal/eventstore"
	"libracirc/internal/failure"
	"libracirc/internal/requests"
)

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes mounts the circulation endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Route("/circulation", func(r chi.Router) {
		r.Post("/due-date", h.HandleDueDate)
		r.Post("/check-out", h.HandleCheckOut)
		r.Get("/loans/{id}", h.HandleGetLoan)
		r.Get("/loans/{id}/events", h.HandleLoanEvents)
		r.Post("/loans/{id}/check-in", h.HandleCheckIn)
		r.Post("/requests/instances", h.HandleInstanceRequest)
	})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) HandleDueDate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CheckoutTime   time.Time `json:"checkoutTime"`
		LoanPolicyID   uuid.UUID `json:"loanPolicyId"`
		ServicePointID uuid.UUID `json:"servicePointId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	due, err := h.service.CalculateDueDate(r.Context(), req.CheckoutTime, req.LoanPolicyID, req.ServicePointID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, due)
}

func (h *Handler) HandleCheckOut(w http.ResponseWriter, r *http.Request) {
	var req CheckOut
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	loan, err := h.service.CheckOutItem(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (h *Handler) HandleGetLoan(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid loan ID", http.StatusBadRequest)
		return
	}

	loan, err := h.service.GetLoan(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (h *Handler) HandleCheckIn(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid loan ID", http.StatusBadRequest)
		return
	}
	var req CheckIn
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	loan, err := h.service.CheckInItem(r.Context(), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (h *Handler) HandleLoanEvents(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid loan ID", http.StatusBadRequest)
		return
	}

	history, err := h.service.LoanHistory(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events":       history,
		"totalRecords": len(history),
	})
}

func (h *Handler) HandleInstanceRequest(w http.ResponseWriter, r *http.Request) {
	var req requests.InstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	created, err := h.service.PlaceInstanceRequest(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type errorParameter struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type errorEntry struct {
	Message    string           `json:"message"`
	Parameters []errorParameter `json:"parameters,omitempty"`
}

type errorResponse struct {
	Errors []errorEntry `json:"errors"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		pe *failure.PlacementExhaustedError
		ve *failure.ValidationError
	)
	switch {
	case errors.As(err, &pe):
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("instance_id", pe.InstanceID),
			zap.Int("attempts", pe.Attempts),
			zap.NamedError("last_attempt", pe.Last),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Errors: []errorEntry{{Message: pe.Error()}}})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Errors: []errorEntry{{
			Message:    ve.Message,
			Parameters: []errorParameter{{Key: ve.Parameter, Value: ve.Value}},
		}}})
	case errors.Is(err, ErrLoanNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Errors: []errorEntry{{Message: err.Error()}}})
	case errors.Is(err, eventstore.ErrConcurrencyConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Errors: []errorEntry{{Message: err.Error()}}})
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Errors: []errorEntry{{Message: err.Error()}}})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
