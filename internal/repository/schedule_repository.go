package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"moneygo/internal/domain"
	"moneygo/internal/errors"
)

const scheduleColumns = `id, from_account_id, to_account_number, amount, memo, scheduled_at, status,
	executed_entry_id, execution_attempted_at, failure_reason, created_at, updated_at`

type scheduleRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewScheduledTransferRepository(db SQLExecutor, logger *slog.Logger) domain.ScheduledTransferRepository {
	return &scheduleRepository{
		db:     db,
		logger: logger,
	}
}

func (r *scheduleRepository) Create(ctx context.Context, schedule *domain.ScheduledTransfer) error {
	query := `
		INSERT INTO scheduled_transfers
		(id, from_account_id, to_account_number, amount, memo, scheduled_at, status, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '', $8, $8)
	`

	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, query,
		schedule.ID,
		schedule.FromAccountID,
		schedule.ToAccountNumber,
		schedule.Amount.String(),
		schedule.Memo,
		schedule.ScheduledAt.UTC(),
		schedule.Status,
		now,
	)
	if err != nil {
		r.logger.Error("Failed to create scheduled transfer", "schedule_id", schedule.ID, "error", err)
		return mapError(err, "failed to create scheduled transfer")
	}

	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	return nil
}

func (r *scheduleRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduledTransfer, error) {
	return r.get(ctx, `SELECT `+scheduleColumns+` FROM scheduled_transfers WHERE id = $1`, id)
}

func (r *scheduleRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.ScheduledTransfer, error) {
	return r.get(ctx, `SELECT `+scheduleColumns+` FROM scheduled_transfers WHERE id = $1 FOR UPDATE`, id)
}

func (r *scheduleRepository) get(ctx context.Context, query string, id uuid.UUID) (*domain.ScheduledTransfer, error) {
	schedule, err := scanSchedule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrScheduleNotFound
		}
		r.logger.Error("Failed to get scheduled transfer", "schedule_id", id, "error", err)
		return nil, mapError(err, "failed to get scheduled transfer")
	}
	return schedule, nil
}

func (r *scheduleRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.ScheduledTransfer, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM scheduled_transfers
		WHERE status = 'PENDING' AND scheduled_at <= $1
		ORDER BY scheduled_at, id
		LIMIT $2
	`
	return r.list(ctx, query, now.UTC(), limit)
}

func (r *scheduleRepository) ListByAccount(ctx context.Context, accountID int64, limit, offset int) ([]*domain.ScheduledTransfer, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM scheduled_transfers
		WHERE from_account_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`
	return r.list(ctx, query, accountID, limit, offset)
}

func (r *scheduleRepository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.ScheduledTransfer, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list scheduled transfers", "error", err)
		return nil, mapError(err, "failed to list scheduled transfers")
	}
	defer rows.Close()

	schedules := make([]*domain.ScheduledTransfer, 0)
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, mapError(err, "failed to scan scheduled transfer")
		}
		schedules = append(schedules, schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "failed to iterate scheduled transfers")
	}
	return schedules, nil
}

func scanSchedule(row scanner) (*domain.ScheduledTransfer, error) {
	var schedule domain.ScheduledTransfer
	var amountStr string
	var entryID uuid.NullUUID
	var attemptedAt sql.NullTime

	err := row.Scan(
		&schedule.ID,
		&schedule.FromAccountID,
		&schedule.ToAccountNumber,
		&amountStr,
		&schedule.Memo,
		&schedule.ScheduledAt,
		&schedule.Status,
		&entryID,
		&attemptedAt,
		&schedule.FailureReason,
		&schedule.CreatedAt,
		&schedule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, errors.Internal("failed to parse amount", err)
	}
	schedule.Amount = amount

	if entryID.Valid {
		schedule.ExecutedEntryID = &entryID.UUID
	}
	if attemptedAt.Valid {
		schedule.ExecutionAttemptedAt = &attemptedAt.Time
	}
	return &schedule, nil
}

func (r *scheduleRepository) Save(ctx context.Context, schedule *domain.ScheduledTransfer) error {
	query := `
		UPDATE scheduled_transfers
		SET status = $1, executed_entry_id = $2, execution_attempted_at = $3, failure_reason = $4, updated_at = $5
		WHERE id = $6
	`

	var entryID interface{}
	if schedule.ExecutedEntryID != nil {
		entryID = *schedule.ExecutedEntryID
	}
	var attemptedAt interface{}
	if schedule.ExecutionAttemptedAt != nil {
		attemptedAt = schedule.ExecutionAttemptedAt.UTC()
	}

	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query, schedule.Status, entryID, attemptedAt, schedule.FailureReason, now, schedule.ID)
	if err != nil {
		r.logger.Error("Failed to save scheduled transfer", "schedule_id", schedule.ID, "error", err)
		return mapError(err, "failed to save scheduled transfer")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Internal("failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return errors.ErrScheduleNotFound
	}

	schedule.UpdatedAt = now
	return nil
}
