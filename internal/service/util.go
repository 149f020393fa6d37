package service

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"moneygo/internal/domain"
)

// validateMovement checks the request bounds shared by every money movement
// before any unit of work starts.
func validateMovement(amount decimal.Decimal, memo, key string) error {
	if err := domain.ValidateAmount(amount); err != nil {
		return err
	}
	if err := domain.ValidateMemo(memo); err != nil {
		return err
	}
	return domain.ValidateIdempotencyKey(strings.TrimSpace(key))
}

// idempotencyKey returns the trimmed client key, or a fresh one when the
// client sent none.
func idempotencyKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return uuid.NewString()
	}
	return key
}

func int64Ptr(v int64) *int64 {
	return &v
}
