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

const qrColumns = `id, seller_account_id, amount, memo, qr_code, status, expires_at, entry_id, created_at, updated_at`

type qrRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewQrPaymentRepository(db SQLExecutor, logger *slog.Logger) domain.QrPaymentRepository {
	return &qrRepository{
		db:     db,
		logger: logger,
	}
}

func (r *qrRepository) Create(ctx context.Context, payment *domain.QrPayment) error {
	query := `
		INSERT INTO qr_payments (id, seller_account_id, amount, memo, qr_code, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`

	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, query,
		payment.ID,
		payment.SellerAccountID,
		payment.Amount.String(),
		payment.Memo,
		payment.QrCode,
		payment.Status,
		payment.ExpiresAt.UTC(),
		now,
	)
	if err != nil {
		if isUniqueViolation(err, "idx_qr_payments_qr_code") {
			return errors.ErrDuplicateRequest.WithDetails("qr code " + payment.QrCode + " is taken")
		}
		r.logger.Error("Failed to create qr payment", "qr_code", payment.QrCode, "error", err)
		return mapError(err, "failed to create qr payment")
	}

	payment.CreatedAt = now
	payment.UpdatedAt = now
	return nil
}

func (r *qrRepository) GetByCode(ctx context.Context, code string) (*domain.QrPayment, error) {
	return r.get(ctx, `SELECT `+qrColumns+` FROM qr_payments WHERE qr_code = $1`, code)
}

func (r *qrRepository) GetByCodeForUpdate(ctx context.Context, code string) (*domain.QrPayment, error) {
	return r.get(ctx, `SELECT `+qrColumns+` FROM qr_payments WHERE qr_code = $1 FOR UPDATE`, code)
}

func (r *qrRepository) ExistsByCode(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM qr_payments WHERE qr_code = $1)`, code).Scan(&exists); err != nil {
		return false, mapError(err, "failed to check qr code")
	}
	return exists, nil
}

func (r *qrRepository) get(ctx context.Context, query, code string) (*domain.QrPayment, error) {
	var payment domain.QrPayment
	var amountStr string
	var entryID uuid.NullUUID

	err := r.db.QueryRowContext(ctx, query, code).Scan(
		&payment.ID,
		&payment.SellerAccountID,
		&amountStr,
		&payment.Memo,
		&payment.QrCode,
		&payment.Status,
		&payment.ExpiresAt,
		&entryID,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrQrPaymentNotFound
		}
		r.logger.Error("Failed to get qr payment", "qr_code", code, "error", err)
		return nil, mapError(err, "failed to get qr payment")
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, errors.Internal("failed to parse amount", err)
	}
	payment.Amount = amount
	if entryID.Valid {
		payment.EntryID = &entryID.UUID
	}
	return &payment, nil
}

func (r *qrRepository) Save(ctx context.Context, payment *domain.QrPayment) error {
	query := `UPDATE qr_payments SET status = $1, entry_id = $2, updated_at = $3 WHERE id = $4`

	var entryID interface{}
	if payment.EntryID != nil {
		entryID = *payment.EntryID
	}

	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, query, payment.Status, entryID, now, payment.ID); err != nil {
		r.logger.Error("Failed to save qr payment", "qr_code", payment.QrCode, "error", err)
		return mapError(err, "failed to save qr payment")
	}

	payment.UpdatedAt = now
	return nil
}
