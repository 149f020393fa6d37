package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"moneygo/internal/domain"
	"moneygo/internal/service"
)

type QrHandler struct {
	qrService *service.QrPaymentService
}

func NewQrHandler(qrService *service.QrPaymentService) *QrHandler {
	return &QrHandler{
		qrService: qrService,
	}
}

type GenerateQrRequest struct {
	Amount string `json:"amount"`
	Memo   string `json:"memo,omitempty"`
}

type PayQrRequest struct {
	Secret string `json:"secret"`
}

type QrPaymentResponse struct {
	QrCode          string     `json:"qr_code"`
	SellerAccountID int64      `json:"seller_account_id"`
	Amount          string     `json:"amount"`
	Memo            string     `json:"memo,omitempty"`
	Status          string     `json:"status"`
	ExpiresAt       time.Time  `json:"expires_at"`
	EntryID         *uuid.UUID `json:"entry_id,omitempty"`
}

func newQrPaymentResponse(p *domain.QrPayment) QrPaymentResponse {
	return QrPaymentResponse{
		QrCode:          p.QrCode,
		SellerAccountID: p.SellerAccountID,
		Amount:          p.Amount.StringFixed(domain.MoneyScale),
		Memo:            p.Memo,
		Status:          string(p.Status),
		ExpiresAt:       p.ExpiresAt,
		EntryID:         p.EntryID,
	}
}

type QrRedemptionResponse struct {
	Payment      QrPaymentResponse `json:"payment"`
	Entry        EntryResponse     `json:"entry"`
	BalanceAfter string            `json:"balance_after"`
}

func (h *QrHandler) Generate(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}

	var req GenerateQrRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	payment, err := h.qrService.Generate(r.Context(), actor.UserID, amount, req.Memo)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newQrPaymentResponse(payment))
}

func (h *QrHandler) Get(w http.ResponseWriter, r *http.Request) {
	payment, err := h.qrService.Get(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newQrPaymentResponse(payment))
}

func (h *QrHandler) Pay(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}

	var req PayQrRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	redemption, err := h.qrService.Redeem(r.Context(), service.RedeemRequest{
		ActorID: actor.UserID,
		QrCode:  mux.Vars(r)["code"],
		Secret:  req.Secret,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, QrRedemptionResponse{
		Payment:      newQrPaymentResponse(redemption.Payment),
		Entry:        newEntryResponse(redemption.Entry),
		BalanceAfter: redemption.BalanceAfter.StringFixed(domain.MoneyScale),
	})
}

func (h *QrHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}

	payment, err := h.qrService.Cancel(r.Context(), actor.UserID, mux.Vars(r)["code"])
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newQrPaymentResponse(payment))
}
