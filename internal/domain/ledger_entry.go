package domain

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"moneygo/internal/errors"
)

type EntryType string

const (
	EntryTypeTransfer  EntryType = "TRANSFER"
	EntryTypeDeposit   EntryType = "DEPOSIT"
	EntryTypeWithdraw  EntryType = "WITHDRAW"
	EntryTypeQrPayment EntryType = "QR_PAYMENT"
)

type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "PENDING"
	EntryStatusCompleted EntryStatus = "COMPLETED"
	EntryStatusFailed    EntryStatus = "FAILED"
	EntryStatusCancelled EntryStatus = "CANCELLED"
)

// LedgerEntry records one attempted money movement. A nil FromAccountID is an
// external deposit, a nil ToAccountID an external withdrawal.
type LedgerEntry struct {
	ID             uuid.UUID       `json:"id"`
	FromAccountID  *int64          `json:"from_account_id,omitempty"`
	ToAccountID    *int64          `json:"to_account_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Type           EntryType       `json:"type"`
	Status         EntryStatus     `json:"status"`
	Memo           string          `json:"memo,omitempty"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func NewLedgerEntry(entryType EntryType, from, to *int64, amount decimal.Decimal, memo string, idempotencyKey *string) *LedgerEntry {
	return &LedgerEntry{
		ID:             uuid.New(),
		FromAccountID:  from,
		ToAccountID:    to,
		Amount:         amount,
		Type:           entryType,
		Status:         EntryStatusPending,
		Memo:           memo,
		IdempotencyKey: idempotencyKey,
	}
}

func (e *LedgerEntry) IsTerminal() bool {
	return e.Status != EntryStatusPending
}

func (e *LedgerEntry) Complete() error {
	if e.IsTerminal() {
		return errors.ErrAlreadySettled.WithDetails("ledger entry is " + string(e.Status))
	}
	e.Status = EntryStatusCompleted
	return nil
}

func (e *LedgerEntry) Fail(reason string) error {
	if e.IsTerminal() {
		return errors.ErrAlreadySettled.WithDetails("ledger entry is " + string(e.Status))
	}
	e.Status = EntryStatusFailed
	e.ErrorMessage = truncate(reason, 500)
	return nil
}

func (e *LedgerEntry) Cancel() error {
	if e.IsTerminal() {
		return errors.ErrAlreadySettled.WithDetails("ledger entry is " + string(e.Status))
	}
	e.Status = EntryStatusCancelled
	return nil
}

// Involves reports whether accountID is on either side of the entry.
func (e *LedgerEntry) Involves(accountID int64) bool {
	return (e.FromAccountID != nil && *e.FromAccountID == accountID) ||
		(e.ToAccountID != nil && *e.ToAccountID == accountID)
}

// SameMovement reports whether e moves the same amount of the same type
// between the same accounts as other.
func (e *LedgerEntry) SameMovement(other *LedgerEntry) bool {
	return e.Type == other.Type &&
		e.Amount.Equal(other.Amount) &&
		sameAccount(e.FromAccountID, other.FromAccountID) &&
		sameAccount(e.ToAccountID, other.ToAccountID)
}

func sameAccount(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ParseEntryType accepts the upper-case entry type names.
func ParseEntryType(raw string) (EntryType, error) {
	switch t := EntryType(raw); t {
	case EntryTypeTransfer, EntryTypeDeposit, EntryTypeWithdraw, EntryTypeQrPayment:
		return t, nil
	}
	return "", errors.NewAppError(errors.InvalidInput, "invalid entry type").WithDetails(fmt.Sprintf("unknown type %q", raw))
}

// EntryFilter narrows the history of an account. Zero fields match every
// entry; Since is inclusive and Until exclusive.
type EntryFilter struct {
	Type   EntryType
	Since  time.Time
	Until  time.Time
	Limit  int
	Offset int
}

func (f EntryFilter) Matches(e *LedgerEntry) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.CreatedAt.Before(f.Until) {
		return false
	}
	return true
}

// truncate keeps at most max characters of s without splitting a rune.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
