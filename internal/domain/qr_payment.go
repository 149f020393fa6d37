package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"moneygo/internal/errors"
)

type QrPaymentStatus string

const (
	QrPaymentStatusPending   QrPaymentStatus = "PENDING"
	QrPaymentStatusCompleted QrPaymentStatus = "COMPLETED"
	QrPaymentStatusExpired   QrPaymentStatus = "EXPIRED"
	QrPaymentStatusCancelled QrPaymentStatus = "CANCELLED"
)

const DefaultQrTTL = 10 * time.Minute

// QrPayment is a single-use payment request. At most one redemption succeeds
// per QrCode.
type QrPayment struct {
	ID              uuid.UUID       `json:"id"`
	SellerAccountID int64           `json:"seller_account_id"`
	Amount          decimal.Decimal `json:"amount"`
	Memo            string          `json:"memo,omitempty"`
	QrCode          string          `json:"qr_code"`
	Status          QrPaymentStatus `json:"status"`
	ExpiresAt       time.Time       `json:"expires_at"`
	EntryID         *uuid.UUID      `json:"entry_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func NewQrPayment(sellerAccountID int64, amount decimal.Decimal, memo, code string, expiresAt time.Time) *QrPayment {
	return &QrPayment{
		ID:              uuid.New(),
		SellerAccountID: sellerAccountID,
		Amount:          amount,
		Memo:            memo,
		QrCode:          code,
		Status:          QrPaymentStatusPending,
		ExpiresAt:       expiresAt,
	}
}

func (q *QrPayment) IsPending() bool {
	return q.Status == QrPaymentStatusPending
}

func (q *QrPayment) IsExpired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

func (q *QrPayment) Complete(entryID uuid.UUID) error {
	if !q.IsPending() {
		return errors.ErrAlreadySettled.WithDetails("qr payment is " + string(q.Status))
	}
	q.Status = QrPaymentStatusCompleted
	q.EntryID = &entryID
	return nil
}

func (q *QrPayment) Expire() error {
	if !q.IsPending() {
		return errors.ErrAlreadySettled.WithDetails("qr payment is " + string(q.Status))
	}
	q.Status = QrPaymentStatusExpired
	return nil
}

func (q *QrPayment) Cancel() error {
	if !q.IsPending() {
		return errors.ErrAlreadySettled.WithDetails("qr payment is " + string(q.Status))
	}
	q.Status = QrPaymentStatusCancelled
	return nil
}
