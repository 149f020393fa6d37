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

const accountColumns = `id, owner_id, account_number, balance, status, version, created_at, updated_at`

type accountRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewAccountRepository(db SQLExecutor, logger *slog.Logger) domain.AccountRepository {
	return &accountRepository{
		db:     db,
		logger: logger,
	}
}

func (r *accountRepository) Create(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (owner_id, account_number, balance, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $5)
		RETURNING id
	`

	now := time.Now().UTC()
	err := r.db.QueryRowContext(ctx, query,
		account.OwnerID,
		account.AccountNumber,
		account.Balance.String(),
		account.Status,
		now,
	).Scan(&account.ID)

	if err != nil {
		if isUniqueViolation(err, "idx_accounts_owner_id") {
			r.logger.Warn("Duplicate account creation attempt", "owner_id", account.OwnerID)
			return errors.ErrDuplicateAccount
		}
		if isUniqueViolation(err, "idx_accounts_account_number") {
			return errors.ErrDuplicateAccount.WithDetails("account number " + account.AccountNumber + " is taken")
		}
		r.logger.Error("Failed to create account", "owner_id", account.OwnerID, "error", err)
		return mapError(err, "failed to create account")
	}

	account.Version = 0
	account.CreatedAt = now
	account.UpdatedAt = now
	r.logger.Info("Account created successfully", "account_id", account.ID, "account_number", account.AccountNumber)
	return nil
}

func (r *accountRepository) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	return r.get(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (r *accountRepository) GetByNumber(ctx context.Context, number string) (*domain.Account, error) {
	return r.get(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_number = $1`, number)
}

func (r *accountRepository) GetByOwner(ctx context.Context, ownerID int64) (*domain.Account, error) {
	return r.get(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1`, ownerID)
}

func (r *accountRepository) GetByIDForUpdate(ctx context.Context, id int64) (*domain.Account, error) {
	return r.get(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
}

func (r *accountRepository) GetByNumberForUpdate(ctx context.Context, number string) (*domain.Account, error) {
	return r.get(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_number = $1 FOR UPDATE`, number)
}

func (r *accountRepository) get(ctx context.Context, query string, arg interface{}) (*domain.Account, error) {
	account, err := scanAccount(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrAccountNotFound
		}
		r.logger.Error("Failed to get account", "arg", arg, "error", err)
		return nil, mapError(err, "failed to get account")
	}
	return account, nil
}

func scanAccount(row scanner) (*domain.Account, error) {
	var account domain.Account
	var balanceStr string

	err := row.Scan(
		&account.ID,
		&account.OwnerID,
		&account.AccountNumber,
		&balanceStr,
		&account.Status,
		&account.Version,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, errors.Internal("failed to parse balance", err)
	}
	account.Balance = balance
	return &account, nil
}

func (r *accountRepository) Save(ctx context.Context, account *domain.Account) error {
	query := `
		UPDATE accounts
		SET balance = $1, status = $2, version = version + 1, updated_at = $3
		WHERE id = $4 AND version = $5
	`

	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query, account.Balance.String(), account.Status, now, account.ID, account.Version)
	if err != nil {
		r.logger.Error("Failed to save account", "account_id", account.ID, "error", err)
		return mapError(err, "failed to save account")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Internal("failed to get rows affected", err)
	}

	if rowsAffected == 0 {
		r.logger.Warn("Account version mismatch", "account_id", account.ID, "version", account.Version)
		return errors.ErrLockConflict.WithDetails("account was modified concurrently")
	}

	account.Version++
	account.UpdatedAt = now
	r.logger.Debug("Account saved", "account_id", account.ID, "balance", account.Balance, "version", account.Version)
	return nil
}
