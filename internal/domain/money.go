package domain

import (
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"moneygo/internal/errors"
)

// MoneyScale is the number of fractional digits kept for every amount.
const MoneyScale = 2

const (
	MaxMemoLength           = 255
	MaxIdempotencyKeyLength = 100
)

// MaxAmount is the largest amount or balance a NUMERIC(15,2) column holds.
var MaxAmount = decimal.RequireFromString("9999999999999.99")

// ValidateAmount rejects non-positive amounts, amounts with more than two
// fractional digits and amounts above MaxAmount.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.ErrInvalidAmount
	}
	if !amount.Equal(amount.Round(MoneyScale)) {
		return errors.ErrInvalidAmount.WithDetails("at most two decimal places are allowed")
	}
	if amount.GreaterThan(MaxAmount) {
		return errors.ErrInvalidAmount.WithDetails("amount exceeds " + MaxAmount.StringFixed(MoneyScale))
	}
	return nil
}

// ValidateMemo limits a memo to MaxMemoLength characters.
func ValidateMemo(memo string) error {
	if utf8.RuneCountInString(memo) > MaxMemoLength {
		return errors.ErrInvalidInput.WithDetails("memo exceeds " + strconv.Itoa(MaxMemoLength) + " characters")
	}
	return nil
}

// ValidateIdempotencyKey limits a client key to MaxIdempotencyKeyLength
// characters.
func ValidateIdempotencyKey(key string) error {
	if utf8.RuneCountInString(key) > MaxIdempotencyKeyLength {
		return errors.ErrInvalidInput.WithDetails("idempotency key exceeds " + strconv.Itoa(MaxIdempotencyKeyLength) + " characters")
	}
	return nil
}

// DateOf returns the calendar date of t in loc as a UTC midnight timestamp.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
