package notify

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event is a committed ledger fact delivered to hooks. The set of events is
// closed: only types in this package implement it.
type Event interface {
	Name() string
	OccurredAt() time.Time
	event()
}

const (
	EventTransferCompleted   = "transfer_completed"
	EventScheduledExecuted   = "scheduled_executed"
	EventScheduledFailed     = "scheduled_failed"
	EventQrSettled           = "qr_settled"
	EventLargeAmountDetected = "large_amount_detected"
)

type TransferCompleted struct {
	EntryID       uuid.UUID       `json:"entry_id"`
	EntryType     string          `json:"entry_type"`
	FromAccountID *int64          `json:"from_account_id,omitempty"`
	ToAccountID   *int64          `json:"to_account_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Memo          string          `json:"memo,omitempty"`
	At            time.Time       `json:"at"`
}

type ScheduledExecuted struct {
	ScheduleID    uuid.UUID       `json:"schedule_id"`
	EntryID       uuid.UUID       `json:"entry_id"`
	FromAccountID int64           `json:"from_account_id"`
	ToAccountID   int64           `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
	At            time.Time       `json:"at"`
}

type ScheduledFailed struct {
	ScheduleID    uuid.UUID       `json:"schedule_id"`
	FromAccountID int64           `json:"from_account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
	Refunded      bool            `json:"refunded"`
	At            time.Time       `json:"at"`
}

type QrSettled struct {
	QrCode          string          `json:"qr_code"`
	EntryID         uuid.UUID       `json:"entry_id"`
	BuyerAccountID  int64           `json:"buyer_account_id"`
	SellerAccountID int64           `json:"seller_account_id"`
	Amount          decimal.Decimal `json:"amount"`
	At              time.Time       `json:"at"`
}

type LargeAmountDetected struct {
	EntryID   uuid.UUID       `json:"entry_id"`
	AccountID int64           `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Threshold decimal.Decimal `json:"threshold"`
	At        time.Time       `json:"at"`
}

func (TransferCompleted) Name() string   { return EventTransferCompleted }
func (ScheduledExecuted) Name() string   { return EventScheduledExecuted }
func (ScheduledFailed) Name() string     { return EventScheduledFailed }
func (QrSettled) Name() string           { return EventQrSettled }
func (LargeAmountDetected) Name() string { return EventLargeAmountDetected }

func (e TransferCompleted) OccurredAt() time.Time   { return e.At }
func (e ScheduledExecuted) OccurredAt() time.Time   { return e.At }
func (e ScheduledFailed) OccurredAt() time.Time     { return e.At }
func (e QrSettled) OccurredAt() time.Time           { return e.At }
func (e LargeAmountDetected) OccurredAt() time.Time { return e.At }

func (TransferCompleted) event()   {}
func (ScheduledExecuted) event()   {}
func (ScheduledFailed) event()     {}
func (QrSettled) event()           {}
func (LargeAmountDetected) event() {}

// Format renders a one-line human readable message. ok is false for an
// event type without a formatter.
func Format(e Event) (msg string, ok bool) {
	switch ev := e.(type) {
	case TransferCompleted:
		return fmt.Sprintf("%s of %s completed (%s -> %s)",
			ev.EntryType, ev.Amount.StringFixed(2), accountRef(ev.FromAccountID), accountRef(ev.ToAccountID)), true
	case ScheduledExecuted:
		return fmt.Sprintf("scheduled transfer %s of %s executed (%d -> %d)",
			ev.ScheduleID, ev.Amount.StringFixed(2), ev.FromAccountID, ev.ToAccountID), true
	case ScheduledFailed:
		refund := "refunded"
		if !ev.Refunded {
			refund = "refund pending reconciliation"
		}
		return fmt.Sprintf("scheduled transfer %s of %s failed: %s (%s)",
			ev.ScheduleID, ev.Amount.StringFixed(2), ev.Reason, refund), true
	case QrSettled:
		return fmt.Sprintf("qr payment %s of %s settled (%d -> %d)",
			ev.QrCode, ev.Amount.StringFixed(2), ev.BuyerAccountID, ev.SellerAccountID), true
	case LargeAmountDetected:
		return fmt.Sprintf("large amount %s on account %d exceeds %s",
			ev.Amount.StringFixed(2), ev.AccountID, ev.Threshold.StringFixed(2)), true
	}
	return "", false
}

func accountRef(id *int64) string {
	if id == nil {
		return "external"
	}
	return fmt.Sprintf("%d", *id)
}
