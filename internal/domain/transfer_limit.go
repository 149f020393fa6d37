package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	DefaultDailyLimit          = decimal.NewFromInt(3_000_000)
	DefaultPerTransactionLimit = decimal.NewFromInt(1_000_000)
)

// TransferLimit caps the outgoing volume of one account. TodayUsed is reset
// lazily: every operation calls ResetIfStale with the current business date
// first.
type TransferLimit struct {
	AccountID           int64           `json:"account_id"`
	DailyLimit          decimal.Decimal `json:"daily_limit"`
	PerTransactionLimit decimal.Decimal `json:"per_transaction_limit"`
	TodayUsed           decimal.Decimal `json:"today_used"`
	LastResetDate       time.Time       `json:"last_reset_date"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

func NewTransferLimit(accountID int64, daily, perTransaction decimal.Decimal, today time.Time) *TransferLimit {
	return &TransferLimit{
		AccountID:           accountID,
		DailyLimit:          daily,
		PerTransactionLimit: perTransaction,
		TodayUsed:           decimal.Zero,
		LastResetDate:       today,
	}
}

// ResetIfStale zeroes TodayUsed when the limit was last reset on another day.
// It reports whether a reset happened.
func (l *TransferLimit) ResetIfStale(today time.Time) bool {
	if sameDate(l.LastResetDate, today) {
		return false
	}
	l.TodayUsed = decimal.Zero
	l.LastResetDate = today
	return true
}

func (l *TransferLimit) CanTransfer(amount decimal.Decimal, today time.Time) bool {
	l.ResetIfStale(today)

	if amount.GreaterThan(l.PerTransactionLimit) {
		return false
	}
	return l.TodayUsed.Add(amount).LessThanOrEqual(l.DailyLimit)
}

// AddUsage must follow a successful CanTransfer under the same row lock.
func (l *TransferLimit) AddUsage(amount decimal.Decimal, today time.Time) {
	l.ResetIfStale(today)
	l.TodayUsed = l.TodayUsed.Add(amount)
}

func (l *TransferLimit) Remaining(today time.Time) decimal.Decimal {
	l.ResetIfStale(today)
	remaining := l.DailyLimit.Sub(l.TodayUsed)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
