package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"moneygo/internal/domain"
	"moneygo/internal/errors"
)

const entryColumns = `id, from_account_id, to_account_id, amount, type, status, memo, idempotency_key, error_message, created_at, updated_at`

type ledgerRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewLedgerRepository(db SQLExecutor, logger *slog.Logger) domain.LedgerRepository {
	return &ledgerRepository{
		db:     db,
		logger: logger,
	}
}

func (r *ledgerRepository) Create(ctx context.Context, entry *domain.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries
		(id, from_account_id, to_account_id, amount, type, status, memo, idempotency_key, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`

	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		nullableInt64(entry.FromAccountID),
		nullableInt64(entry.ToAccountID),
		entry.Amount.String(),
		entry.Type,
		entry.Status,
		entry.Memo,
		nullableString(entry.IdempotencyKey),
		entry.ErrorMessage,
		now,
	)

	if err != nil {
		if isUniqueViolation(err, "idx_ledger_entries_idempotency_key") {
			r.logger.Warn("Duplicate idempotency key", "idempotency_key", nullableString(entry.IdempotencyKey))
			return errors.ErrDuplicateRequest
		}
		if isUniqueViolation(err, "ledger_entries_pkey") {
			return errors.ErrDuplicateRequest.WithDetails("ledger entry " + entry.ID.String() + " already exists")
		}
		r.logger.Error("Failed to create ledger entry",
			"entry_id", entry.ID,
			"type", entry.Type,
			"amount", entry.Amount,
			"error", err)
		return mapError(err, "failed to create ledger entry")
	}

	entry.CreatedAt = now
	entry.UpdatedAt = now
	r.logger.Debug("Ledger entry created", "entry_id", entry.ID, "status", entry.Status)
	return nil
}

func (r *ledgerRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error) {
	entry, err := r.get(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, errors.ErrEntryNotFound
	}
	return entry, nil
}

func (r *ledgerRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.LedgerEntry, error) {
	return r.get(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE idempotency_key = $1`, key)
}

func (r *ledgerRepository) get(ctx context.Context, query string, arg interface{}) (*domain.LedgerEntry, error) {
	entry, err := scanEntry(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.Error("Failed to get ledger entry", "arg", arg, "error", err)
		return nil, mapError(err, "failed to get ledger entry")
	}
	return entry, nil
}

func (r *ledgerRepository) ListByAccount(ctx context.Context, accountID int64, filter domain.EntryFilter) ([]*domain.LedgerEntry, error) {
	conditions := []string{"(from_account_id = $1 OR to_account_id = $1)"}
	args := []interface{}{accountID}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.Until.IsZero() {
		args = append(args, filter.Until)
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", len(args)))
	}
	args = append(args, filter.Limit, filter.Offset)

	query := fmt.Sprintf(`
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE %s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d
	`, strings.Join(conditions, " AND "), len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list ledger entries", "account_id", accountID, "error", err)
		return nil, mapError(err, "failed to list ledger entries")
	}
	defer rows.Close()

	entries := make([]*domain.LedgerEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, mapError(err, "failed to scan ledger entry")
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "failed to iterate ledger entries")
	}
	return entries, nil
}

func scanEntry(row scanner) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	var amountStr string
	var from, to sql.NullInt64
	var idempotencyKey sql.NullString

	err := row.Scan(
		&entry.ID,
		&from,
		&to,
		&amountStr,
		&entry.Type,
		&entry.Status,
		&entry.Memo,
		&idempotencyKey,
		&entry.ErrorMessage,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, errors.Internal("failed to parse amount", err)
	}
	entry.Amount = amount

	if from.Valid {
		entry.FromAccountID = &from.Int64
	}
	if to.Valid {
		entry.ToAccountID = &to.Int64
	}
	if idempotencyKey.Valid {
		entry.IdempotencyKey = &idempotencyKey.String
	}
	return &entry, nil
}

func (r *ledgerRepository) Update(ctx context.Context, entry *domain.LedgerEntry) error {
	query := `
		UPDATE ledger_entries
		SET status = $1, error_message = $2, updated_at = $3
		WHERE id = $4 AND status = 'PENDING'
	`

	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query, entry.Status, entry.ErrorMessage, now, entry.ID)
	if err != nil {
		r.logger.Error("Failed to update ledger entry",
			"entry_id", entry.ID, "status", entry.Status, "error", err)
		return mapError(err, "failed to update ledger entry")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Internal("failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return errors.ErrAlreadySettled.WithDetails("ledger entry " + entry.ID.String() + " is not pending")
	}

	entry.UpdatedAt = now
	r.logger.Debug("Ledger entry updated", "entry_id", entry.ID, "status", entry.Status)
	return nil
}
