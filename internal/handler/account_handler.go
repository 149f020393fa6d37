package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"moneygo/internal/domain"
	"moneygo/internal/errors"
	"moneygo/internal/service"
)

type AccountHandler struct {
	accountService *service.AccountService
}

func NewAccountHandler(accountService *service.AccountService) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
	}
}

type OpenAccountRequest struct {
	Secret string `json:"secret"`
}

type ChangeSecretRequest struct {
	CurrentSecret string `json:"current_secret"`
	NewSecret     string `json:"new_secret"`
}

type AccountResponse struct {
	AccountID     int64     `json:"account_id"`
	AccountNumber string    `json:"account_number"`
	OwnerID       int64     `json:"owner_id"`
	Balance       string    `json:"balance"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

func newAccountResponse(account *domain.Account) AccountResponse {
	return AccountResponse{
		AccountID:     account.ID,
		AccountNumber: account.AccountNumber,
		OwnerID:       account.OwnerID,
		Balance:       account.Balance.StringFixed(domain.MoneyScale),
		Status:        string(account.Status),
		CreatedAt:     account.CreatedAt,
	}
}

type EntryResponse struct {
	ID             uuid.UUID `json:"id"`
	Type           string    `json:"type"`
	Status         string    `json:"status"`
	FromAccountID  *int64    `json:"from_account_id,omitempty"`
	ToAccountID    *int64    `json:"to_account_id,omitempty"`
	Amount         string    `json:"amount"`
	Memo           string    `json:"memo,omitempty"`
	IdempotencyKey *string   `json:"idempotency_key,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func newEntryResponse(entry *domain.LedgerEntry) EntryResponse {
	return EntryResponse{
		ID:             entry.ID,
		Type:           string(entry.Type),
		Status:         string(entry.Status),
		FromAccountID:  entry.FromAccountID,
		ToAccountID:    entry.ToAccountID,
		Amount:         entry.Amount.StringFixed(domain.MoneyScale),
		Memo:           entry.Memo,
		IdempotencyKey: entry.IdempotencyKey,
		ErrorMessage:   entry.ErrorMessage,
		CreatedAt:      entry.CreatedAt,
	}
}

func (h *AccountHandler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}

	var req OpenAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	account, err := h.accountService.OpenAccount(r.Context(), actor.UserID, req.Secret)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newAccountResponse(account))
}

func (h *AccountHandler) GetMyAccount(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}

	account, err := h.accountService.GetMyAccount(r.Context(), actor.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newAccountResponse(account))
}

func (h *AccountHandler) GetLimit(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}

	status, err := h.accountService.GetLimit(r.Context(), actor.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"daily_limit":           status.DailyLimit.StringFixed(domain.MoneyScale),
		"per_transaction_limit": status.PerTransactionLimit.StringFixed(domain.MoneyScale),
		"today_used":            status.TodayUsed.StringFixed(domain.MoneyScale),
		"remaining":             status.Remaining.StringFixed(domain.MoneyScale),
		"date":                  status.Date,
	})
}

func (h *AccountHandler) History(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	limit, offset, err := pagination(r)
	if err != nil {
		writeError(w, err)
		return
	}

	query, err := historyQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	query.Limit, query.Offset = limit, offset

	entries, err := h.accountService.History(r.Context(), actor.UserID, query)
	if err != nil {
		writeError(w, err)
		return
	}

	response := make([]EntryResponse, 0, len(entries))
	for _, entry := range entries {
		response = append(response, newEntryResponse(entry))
	}
	writeJSON(w, http.StatusOK, response)
}

// historyQuery reads the type, from and to filters. Dates are YYYY-MM-DD.
func historyQuery(r *http.Request) (service.HistoryQuery, error) {
	var q service.HistoryQuery
	params := r.URL.Query()
	if raw := params.Get("type"); raw != "" {
		entryType, err := domain.ParseEntryType(strings.ToUpper(raw))
		if err != nil {
			return q, err
		}
		q.Type = entryType
	}
	for name, target := range map[string]*time.Time{"from": &q.From, "to": &q.To} {
		raw := params.Get(name)
		if raw == "" {
			continue
		}
		date, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return q, errors.NewAppError(errors.InvalidInput, "invalid "+name+" date").WithDetails(err.Error())
		}
		*target = date
	}
	return q, nil
}

func (h *AccountHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	entryID, err := uuid.Parse(mux.Vars(r)["entry_id"])
	if err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid entry_id").WithDetails(err.Error()))
		return
	}

	entry, err := h.accountService.GetEntry(r.Context(), actor.UserID, entryID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newEntryResponse(entry))
}

func (h *AccountHandler) GetByNumber(w http.ResponseWriter, r *http.Request) {
	summary, err := h.accountService.GetAccountByNumber(r.Context(), mux.Vars(r)["account_number"])
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (h *AccountHandler) GetSecretStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}

	status, err := h.accountService.SecretStatus(r.Context(), actor.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (h *AccountHandler) ChangeSecret(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}

	var req ChangeSecretRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.accountService.ChangeSecret(r.Context(), actor.UserID, req.CurrentSecret, req.NewSecret); err != nil {
		writeError(w, err)
		return
	}

	status, err := h.accountService.SecretStatus(r.Context(), actor.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Admin operations address accounts by id.

func (h *AccountHandler) AdminGetAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := parseID(mux.Vars(r)["account_id"], "account_id")
	if err != nil {
		writeError(w, err)
		return
	}

	account, err := h.accountService.GetAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newAccountResponse(account))
}

func (h *AccountHandler) Freeze(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.accountService.Freeze)
}

func (h *AccountHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.accountService.Activate)
}

func (h *AccountHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.accountService.Close)
}

func (h *AccountHandler) UnlockSecret(w http.ResponseWriter, r *http.Request) {
	accountID, err := parseID(mux.Vars(r)["account_id"], "account_id")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.accountService.UnlockSecret(r.Context(), accountID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": accountID,
		"unlocked":   true,
	})
}

func (h *AccountHandler) changeStatus(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, accountID int64) (*domain.Account, error)) {
	accountID, err := parseID(mux.Vars(r)["account_id"], "account_id")
	if err != nil {
		writeError(w, err)
		return
	}

	account, err := op(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newAccountResponse(account))
}
