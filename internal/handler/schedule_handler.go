package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"moneygo/internal/domain"
	"moneygo/internal/errors"
	"moneygo/internal/service"
)

type ScheduleHandler struct {
	scheduleService *service.ScheduledTransferService
}

func NewScheduleHandler(scheduleService *service.ScheduledTransferService) *ScheduleHandler {
	return &ScheduleHandler{
		scheduleService: scheduleService,
	}
}

type CreateScheduleRequest struct {
	ToAccountNumber string    `json:"to_account_number"`
	Amount          string    `json:"amount"`
	Memo            string    `json:"memo,omitempty"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	Secret          string    `json:"secret"`
}

type ScheduleResponse struct {
	ID                   uuid.UUID  `json:"id"`
	FromAccountID        int64      `json:"from_account_id"`
	ToAccountNumber      string     `json:"to_account_number"`
	Amount               string     `json:"amount"`
	Memo                 string     `json:"memo,omitempty"`
	ScheduledAt          time.Time  `json:"scheduled_at"`
	Status               string     `json:"status"`
	ExecutedEntryID      *uuid.UUID `json:"executed_entry_id,omitempty"`
	ExecutionAttemptedAt *time.Time `json:"execution_attempted_at,omitempty"`
	FailureReason        string     `json:"failure_reason,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

func newScheduleResponse(s *domain.ScheduledTransfer) ScheduleResponse {
	return ScheduleResponse{
		ID:                   s.ID,
		FromAccountID:        s.FromAccountID,
		ToAccountNumber:      s.ToAccountNumber,
		Amount:               s.Amount.StringFixed(domain.MoneyScale),
		Memo:                 s.Memo,
		ScheduledAt:          s.ScheduledAt,
		Status:               string(s.Status),
		ExecutedEntryID:      s.ExecutedEntryID,
		ExecutionAttemptedAt: s.ExecutionAttemptedAt,
		FailureReason:        s.FailureReason,
		CreatedAt:            s.CreatedAt,
	}
}

func scheduleID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, errors.NewAppError(errors.InvalidInput, "invalid scheduled transfer id").WithDetails(err.Error())
	}
	return id, nil
}

func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}

	var req CreateScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	schedule, err := h.scheduleService.Create(r.Context(), service.CreateScheduleRequest{
		ActorID:         actor.UserID,
		ToAccountNumber: req.ToAccountNumber,
		Amount:          amount,
		Memo:            req.Memo,
		ScheduledAt:     req.ScheduledAt,
		Secret:          req.Secret,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newScheduleResponse(schedule))
}

func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	limit, offset, err := pagination(r)
	if err != nil {
		writeError(w, err)
		return
	}

	schedules, err := h.scheduleService.List(r.Context(), actor.UserID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	response := make([]ScheduleResponse, 0, len(schedules))
	for _, s := range schedules {
		response = append(response, newScheduleResponse(s))
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, err := scheduleID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	schedule, err := h.scheduleService.Get(r.Context(), actor.UserID, id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newScheduleResponse(schedule))
}

func (h *ScheduleHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, err := scheduleID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	schedule, err := h.scheduleService.Cancel(r.Context(), actor.UserID, id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newScheduleResponse(schedule))
}
