package service

import (
	"context"

	"github.com/shopspring/decimal"

	"moneygo/internal/domain"
	"moneygo/internal/errors"
)

// checkLimit locks the transfer limit row of accountID, rejects amount when
// it exceeds either cap and otherwise records the usage.
func (c *core) checkLimit(ctx context.Context, tx domain.Store, accountID int64, amount decimal.Decimal) error {
	today := c.today()
	defaults := domain.NewTransferLimit(accountID, c.opts.DailyLimit, c.opts.PerTransactionLimit, today)

	limit, err := tx.Limits().GetOrCreateForUpdate(ctx, accountID, defaults)
	if err != nil {
		return err
	}

	if !limit.CanTransfer(amount, today) {
		remaining := limit.Remaining(today)
		return errors.ErrLimitExceeded.
			WithDetails("remaining today "+remaining.StringFixed(2)).
			WithMeta("per_transaction_limit", limit.PerTransactionLimit.StringFixed(2)).
			WithMeta("daily_limit", limit.DailyLimit.StringFixed(2)).
			WithMeta("remaining", remaining.StringFixed(2))
	}

	limit.AddUsage(amount, today)
	return tx.Limits().Save(ctx, limit)
}
