package credential

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"moneygo/internal/errors"
)

type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

func (s *PostgresStore) Get(ctx context.Context, userID int64) (*Credential, error) {
	query := `SELECT user_id, secret_hash, failed_attempts, locked_at FROM credentials WHERE user_id = $1`

	var cred Credential
	var lockedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&cred.UserID, &cred.SecretHash, &cred.FailedAttempts, &lockedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		s.logger.Error("Failed to get credential", "user_id", userID, "error", err)
		return nil, errors.Internal("failed to get credential", err)
	}
	if lockedAt.Valid {
		cred.LockedAt = &lockedAt.Time
	}
	return &cred, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, userID int64, secretHash string) error {
	query := `
		INSERT INTO credentials (user_id, secret_hash, failed_attempts, locked_at, created_at, updated_at)
		VALUES ($1, $2, 0, NULL, $3, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET secret_hash = EXCLUDED.secret_hash, failed_attempts = 0, locked_at = NULL, updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, userID, secretHash, time.Now().UTC()); err != nil {
		s.logger.Error("Failed to store credential", "user_id", userID, "error", err)
		return errors.Internal("failed to store credential", err)
	}
	return nil
}

func (s *PostgresStore) IncrementFailures(ctx context.Context, userID int64, maxFailures int) (int, error) {
	query := `
		UPDATE credentials
		SET failed_attempts = failed_attempts + 1,
		    locked_at = CASE WHEN failed_attempts + 1 >= $2 THEN COALESCE(locked_at, $3) ELSE locked_at END,
		    updated_at = $3
		WHERE user_id = $1
		RETURNING failed_attempts
	`

	var attempts int
	err := s.db.QueryRowContext(ctx, query, userID, maxFailures, time.Now().UTC()).Scan(&attempts)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, errors.ErrAuthenticationFailed.WithDetails("no credential registered")
		}
		s.logger.Error("Failed to record credential failure", "user_id", userID, "error", err)
		return 0, errors.Internal("failed to record credential failure", err)
	}
	return attempts, nil
}

func (s *PostgresStore) ResetFailures(ctx context.Context, userID int64) error {
	query := `UPDATE credentials SET failed_attempts = 0, updated_at = $2 WHERE user_id = $1 AND locked_at IS NULL`
	if _, err := s.db.ExecContext(ctx, query, userID, time.Now().UTC()); err != nil {
		return errors.Internal("failed to reset credential failures", err)
	}
	return nil
}

func (s *PostgresStore) Unlock(ctx context.Context, userID int64) (bool, error) {
	query := `UPDATE credentials SET failed_attempts = 0, locked_at = NULL, updated_at = $2 WHERE user_id = $1`
	result, err := s.db.ExecContext(ctx, query, userID, time.Now().UTC())
	if err != nil {
		s.logger.Error("Failed to unlock credential", "user_id", userID, "error", err)
		return false, errors.Internal("failed to unlock credential", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Internal("failed to unlock credential", err)
	}
	return rows > 0, nil
}
