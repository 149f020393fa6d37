package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"moneygo/internal/errors"
)

type ScheduleStatus string

const (
	ScheduleStatusPending   ScheduleStatus = "PENDING"
	ScheduleStatusExecuted  ScheduleStatus = "EXECUTED"
	ScheduleStatusFailed    ScheduleStatus = "FAILED"
	ScheduleStatusCancelled ScheduleStatus = "CANCELLED"
)

const (
	MinScheduleLead = time.Minute
	MaxScheduleLead = 365 * 24 * time.Hour
)

// ScheduledTransfer is a future-dated transfer whose amount is reserved
// (debited from FromAccountID) at creation. While PENDING the reservation is
// outstanding; every terminal state has either delivered it to the
// destination or refunded it.
type ScheduledTransfer struct {
	ID                   uuid.UUID       `json:"id"`
	FromAccountID        int64           `json:"from_account_id"`
	ToAccountNumber      string          `json:"to_account_number"`
	Amount               decimal.Decimal `json:"amount"`
	Memo                 string          `json:"memo,omitempty"`
	ScheduledAt          time.Time       `json:"scheduled_at"`
	Status               ScheduleStatus  `json:"status"`
	ExecutedEntryID      *uuid.UUID      `json:"executed_entry_id,omitempty"`
	ExecutionAttemptedAt *time.Time      `json:"execution_attempted_at,omitempty"`
	FailureReason        string          `json:"failure_reason,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

func NewScheduledTransfer(fromAccountID int64, toAccountNumber string, amount decimal.Decimal, memo string, scheduledAt time.Time) *ScheduledTransfer {
	return &ScheduledTransfer{
		ID:              uuid.New(),
		FromAccountID:   fromAccountID,
		ToAccountNumber: toAccountNumber,
		Amount:          amount,
		Memo:            memo,
		ScheduledAt:     scheduledAt,
		Status:          ScheduleStatusPending,
	}
}

// ValidateScheduleTime requires scheduledAt to fall between one minute and
// one year after now.
func ValidateScheduleTime(scheduledAt, now time.Time) error {
	if scheduledAt.Before(now.Add(MinScheduleLead)) {
		return errors.NewAppError(errors.InvalidInput, "scheduled_at must be at least one minute in the future")
	}
	if scheduledAt.After(now.Add(MaxScheduleLead)) {
		return errors.NewAppError(errors.InvalidInput, "scheduled_at must be within one year")
	}
	return nil
}

func (s *ScheduledTransfer) IsPending() bool {
	return s.Status == ScheduleStatusPending
}

func (s *ScheduledTransfer) IsDue(now time.Time) bool {
	return s.IsPending() && !s.ScheduledAt.After(now)
}

func (s *ScheduledTransfer) MarkExecuted(entryID uuid.UUID, at time.Time) error {
	if !s.IsPending() {
		return errors.ErrAlreadySettled.WithDetails("scheduled transfer is " + string(s.Status))
	}
	s.Status = ScheduleStatusExecuted
	s.ExecutedEntryID = &entryID
	s.ExecutionAttemptedAt = &at
	return nil
}

func (s *ScheduledTransfer) MarkFailed(reason string, at time.Time) error {
	if !s.IsPending() {
		return errors.ErrAlreadySettled.WithDetails("scheduled transfer is " + string(s.Status))
	}
	s.Status = ScheduleStatusFailed
	s.FailureReason = truncate(reason, 500)
	s.ExecutionAttemptedAt = &at
	return nil
}

func (s *ScheduledTransfer) Cancel() error {
	if !s.IsPending() {
		return errors.ErrAlreadySettled.WithDetails("only pending scheduled transfers can be cancelled")
	}
	s.Status = ScheduleStatusCancelled
	return nil
}
