package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"moneygo/internal/domain"
	"moneygo/internal/service"
)

// IdempotencyKeyHeader takes precedence over the idempotency_key body field.
const IdempotencyKeyHeader = "Idempotency-Key"

type TransferHandler struct {
	transferService *service.TransferService
}

func NewTransferHandler(transferService *service.TransferService) *TransferHandler {
	return &TransferHandler{
		transferService: transferService,
	}
}

type TransferRequest struct {
	ToAccountNumber string `json:"to_account_number"`
	Amount          string `json:"amount"`
	Memo            string `json:"memo,omitempty"`
	Secret          string `json:"secret"`
	IdempotencyKey  string `json:"idempotency_key,omitempty"`
}

type MovementRequest struct {
	Amount         string `json:"amount"`
	Memo           string `json:"memo,omitempty"`
	Secret         string `json:"secret,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type TransferResponse struct {
	Entry        EntryResponse `json:"entry"`
	BalanceAfter string        `json:"balance_after"`
	Replayed     bool          `json:"replayed"`
}

func newTransferResponse(result *service.TransferResult) TransferResponse {
	return TransferResponse{
		Entry:        newEntryResponse(result.Entry),
		BalanceAfter: result.BalanceAfter.StringFixed(domain.MoneyScale),
		Replayed:     result.Replayed,
	}
}

// writeTransferResult answers 201 for a new entry and 200 for a replay.
func writeTransferResult(w http.ResponseWriter, result *service.TransferResult) {
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, newTransferResponse(result))
}

func idempotencyKeyFrom(r *http.Request, body string) string {
	if key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)); key != "" {
		return key
	}
	return body
}

func (h *TransferHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}

	var req TransferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.transferService.Transfer(r.Context(), service.TransferRequest{
		ActorID:         actor.UserID,
		ToAccountNumber: req.ToAccountNumber,
		Amount:          amount,
		Memo:            req.Memo,
		Secret:          req.Secret,
		IdempotencyKey:  idempotencyKeyFrom(r, req.IdempotencyKey),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeTransferResult(w, result)
}

func (h *TransferHandler) SelfDeposit(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, false, h.transferService.SelfDeposit)
}

func (h *TransferHandler) SelfWithdraw(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, false, h.transferService.SelfWithdraw)
}

func (h *TransferHandler) AdminDeposit(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, true, h.transferService.AdminDeposit)
}

func (h *TransferHandler) AdminWithdraw(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, true, h.transferService.AdminWithdraw)
}

type movementFunc func(ctx context.Context, req service.MovementRequest) (*service.TransferResult, error)

func (h *TransferHandler) movement(w http.ResponseWriter, r *http.Request, byAccountID bool, op movementFunc) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}

	var req MovementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	movement := service.MovementRequest{
		ActorID:        actor.UserID,
		Amount:         amount,
		Memo:           req.Memo,
		Secret:         req.Secret,
		IdempotencyKey: idempotencyKeyFrom(r, req.IdempotencyKey),
	}
	if byAccountID {
		accountID, err := parseID(mux.Vars(r)["account_id"], "account_id")
		if err != nil {
			writeError(w, err)
			return
		}
		movement.AccountID = accountID
	}

	result, err := op(r.Context(), movement)
	if err != nil {
		writeError(w, err)
		return
	}

	writeTransferResult(w, result)
}
