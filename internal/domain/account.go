package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"moneygo/internal/errors"
)

type AccountStatus string

const (
	AccountStatusActive AccountStatus = "ACTIVE"
	AccountStatusFrozen AccountStatus = "FROZEN"
	AccountStatusClosed AccountStatus = "CLOSED"
)

type Account struct {
	ID            int64           `json:"account_id"`
	OwnerID       int64           `json:"owner_id"`
	AccountNumber string          `json:"account_number"`
	Balance       decimal.Decimal `json:"balance"`
	Status        AccountStatus   `json:"status"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Debit and Credit are in-memory transitions. Callers must hold the row lock
// obtained through one of the ForUpdate reads; the change is persisted by
// AccountRepository.Save inside the same unit of work.
func (a *Account) Debit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.ErrInvalidAmount
	}
	if a.Balance.LessThan(amount) {
		return errors.ErrInsufficientFunds.WithDetails("balance " + a.Balance.StringFixed(2) + ", requested " + amount.StringFixed(2))
	}
	a.Balance = a.Balance.Sub(amount)
	return nil
}

func (a *Account) Credit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.ErrInvalidAmount
	}
	balance := a.Balance.Add(amount)
	if balance.GreaterThan(MaxAmount) {
		return errors.ErrInvalidAmount.WithDetails("balance would exceed " + MaxAmount.StringFixed(MoneyScale))
	}
	a.Balance = balance
	return nil
}

func (a *Account) HasEnoughBalance(amount decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(amount)
}

func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

func (a *Account) Freeze() error {
	if a.Status == AccountStatusClosed {
		return errors.ErrAccountNotActive.WithDetails("account is closed")
	}
	a.Status = AccountStatusFrozen
	return nil
}

func (a *Account) Activate() error {
	if a.Status == AccountStatusClosed {
		return errors.ErrAccountNotActive.WithDetails("account is closed")
	}
	a.Status = AccountStatusActive
	return nil
}

// Close is permanent. Accounts are never deleted.
func (a *Account) Close() error {
	if a.Status == AccountStatusClosed {
		return errors.ErrAlreadySettled.WithDetails("account already closed")
	}
	if !a.Balance.IsZero() {
		return errors.NewAppError(errors.InvalidInput, "account balance must be zero before closing")
	}
	a.Status = AccountStatusClosed
	return nil
}

// EnsureActive returns ErrAccountNotActive naming the role of the account
// ("source", "destination") when it cannot move money.
func (a *Account) EnsureActive(role string) error {
	if a.IsActive() {
		return nil
	}
	return errors.ErrAccountNotActive.WithDetails(role + " account is " + string(a.Status))
}
