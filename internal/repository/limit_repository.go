package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"moneygo/internal/domain"
	"moneygo/internal/errors"
)

type limitRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewTransferLimitRepository(db SQLExecutor, logger *slog.Logger) domain.TransferLimitRepository {
	return &limitRepository{
		db:     db,
		logger: logger,
	}
}

func (r *limitRepository) GetOrCreateForUpdate(ctx context.Context, accountID int64, defaults *domain.TransferLimit) (*domain.TransferLimit, error) {
	insert := `
		INSERT INTO transfer_limits (account_id, daily_limit, per_transaction_limit, today_used, last_reset_date, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4::date, $5, $5)
		ON CONFLICT (account_id) DO NOTHING
	`

	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, insert,
		accountID,
		defaults.DailyLimit.String(),
		defaults.PerTransactionLimit.String(),
		defaults.LastResetDate.Format("2006-01-02"),
		now,
	); err != nil {
		r.logger.Error("Failed to create transfer limit", "account_id", accountID, "error", err)
		return nil, mapError(err, "failed to create transfer limit")
	}

	query := `
		SELECT account_id, daily_limit, per_transaction_limit, today_used, last_reset_date, created_at, updated_at
		FROM transfer_limits WHERE account_id = $1 FOR UPDATE
	`

	var limit domain.TransferLimit
	var daily, perTx, used string
	err := r.db.QueryRowContext(ctx, query, accountID).Scan(
		&limit.AccountID,
		&daily,
		&perTx,
		&used,
		&limit.LastResetDate,
		&limit.CreatedAt,
		&limit.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrAccountNotFound
		}
		r.logger.Error("Failed to lock transfer limit", "account_id", accountID, "error", err)
		return nil, mapError(err, "failed to lock transfer limit")
	}

	if limit.DailyLimit, err = decimal.NewFromString(daily); err != nil {
		return nil, errors.Internal("failed to parse daily limit", err)
	}
	if limit.PerTransactionLimit, err = decimal.NewFromString(perTx); err != nil {
		return nil, errors.Internal("failed to parse per transaction limit", err)
	}
	if limit.TodayUsed, err = decimal.NewFromString(used); err != nil {
		return nil, errors.Internal("failed to parse today used", err)
	}
	limit.LastResetDate = limit.LastResetDate.UTC()
	return &limit, nil
}

func (r *limitRepository) Save(ctx context.Context, limit *domain.TransferLimit) error {
	query := `
		UPDATE transfer_limits
		SET today_used = $1, last_reset_date = $2::date, updated_at = $3
		WHERE account_id = $4
	`

	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, query,
		limit.TodayUsed.String(),
		limit.LastResetDate.Format("2006-01-02"),
		now,
		limit.AccountID,
	); err != nil {
		r.logger.Error("Failed to save transfer limit", "account_id", limit.AccountID, "error", err)
		return mapError(err, "failed to save transfer limit")
	}

	limit.UpdatedAt = now
	return nil
}
