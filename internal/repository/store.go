package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"moneygo/internal/domain"
	"moneygo/internal/errors"
)

// Store provides a unified interface for all repository operations with transaction support
type Store struct {
	executor    SQLExecutor
	logger      *slog.Logger
	lockTimeout time.Duration
}

var _ domain.Store = (*Store)(nil)

// NewStore creates a new Store instance. A positive lockTimeout bounds how
// long any statement inside WithTransaction waits for a row lock.
func NewStore(db *sql.DB, logger *slog.Logger, lockTimeout time.Duration) *Store {
	return &Store{
		executor:    db,
		logger:      logger,
		lockTimeout: lockTimeout,
	}
}

func (s *Store) Accounts() domain.AccountRepository {
	return NewAccountRepository(s.executor, s.logger)
}

func (s *Store) Ledger() domain.LedgerRepository {
	return NewLedgerRepository(s.executor, s.logger)
}

func (s *Store) Limits() domain.TransferLimitRepository {
	return NewTransferLimitRepository(s.executor, s.logger)
}

func (s *Store) Schedules() domain.ScheduledTransferRepository {
	return NewScheduledTransferRepository(s.executor, s.logger)
}

func (s *Store) QrPayments() domain.QrPaymentRepository {
	return NewQrPaymentRepository(s.executor, s.logger)
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	db, ok := s.executor.(*sql.DB)
	if !ok {
		return nil
	}
	return db.PingContext(ctx)
}

// WithTransaction executes a function within a database transaction
func (s *Store) WithTransaction(ctx context.Context, fn func(tx domain.Store) error) error {
	// Only sql.DB can begin transactions
	db, ok := s.executor.(*sql.DB)
	if !ok {
		return errors.ErrCannotBeginTransaction
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err, "failed to begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return mapError(err, "failed to set lock timeout")
		}
	}

	txStore := &Store{
		executor:    &TxWrapper{Tx: tx},
		logger:      s.logger,
		lockTimeout: s.lockTimeout,
	}

	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.logger.Error("Failed to roll back transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("Failed to commit transaction", "error", err)
		return mapError(err, "failed to commit transaction")
	}
	return nil
}
