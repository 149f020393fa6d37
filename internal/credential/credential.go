// Package credential verifies the transaction secret of a user. A credential
// is locked after a configurable number of consecutive failures; a successful
// verification resets the counter.
package credential

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"moneygo/internal/errors"
)

const DefaultMaxFailures = 5

type Credential struct {
	UserID         int64
	SecretHash     string
	FailedAttempts int
	LockedAt       *time.Time
}

func (c *Credential) IsLocked() bool {
	return c.LockedAt != nil
}

// Store persists credentials. IncrementFailures is atomic and locks the
// credential once attempts reach maxFailures; it returns the new count.
type Store interface {
	Get(ctx context.Context, userID int64) (*Credential, error)
	Upsert(ctx context.Context, userID int64, secretHash string) error
	IncrementFailures(ctx context.Context, userID int64, maxFailures int) (int, error)
	ResetFailures(ctx context.Context, userID int64) error
	// Unlock clears the lock and the failure count. It reports false when
	// userID has no credential.
	Unlock(ctx context.Context, userID int64) (bool, error)
}

type Verifier struct {
	store       Store
	maxFailures int
	cost        int
	logger      *slog.Logger
}

func NewVerifier(store Store, maxFailures, cost int, logger *slog.Logger) *Verifier {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Verifier{
		store:       store,
		maxFailures: maxFailures,
		cost:        cost,
		logger:      logger,
	}
}

// SetSecret stores a new secret for userID and clears any lock.
func (v *Verifier) SetSecret(ctx context.Context, userID int64, secret string) error {
	if len(secret) < 4 {
		return errors.NewAppError(errors.InvalidInput, "secret must have at least 4 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), v.cost)
	if err != nil {
		return errors.Internal("failed to hash secret", err)
	}
	return v.store.Upsert(ctx, userID, string(hash))
}

// Verify reports whether secret matches. A locked or missing credential is
// an AuthenticationFailed error rather than a mismatch.
func (v *Verifier) Verify(ctx context.Context, userID int64, secret string) (bool, error) {
	cred, err := v.store.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	if cred == nil {
		return false, errors.ErrAuthenticationFailed.WithDetails("no credential registered")
	}
	if cred.IsLocked() {
		return false, errors.ErrAuthenticationFailed.
			WithDetails("credential locked after too many failed attempts").
			WithMeta("remaining_attempts", "0")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.SecretHash), []byte(secret)); err != nil {
		return false, nil
	}

	if cred.FailedAttempts > 0 {
		if err := v.store.ResetFailures(ctx, userID); err != nil {
			v.logger.Warn("Failed to reset credential failures", "user_id", userID, "error", err)
		}
	}
	return true, nil
}

// Status describes the credential of a user without revealing the secret.
type Status struct {
	Registered        bool       `json:"registered"`
	Locked            bool       `json:"locked"`
	LockedAt          *time.Time `json:"locked_at,omitempty"`
	FailedAttempts    int        `json:"failed_attempts"`
	RemainingAttempts int        `json:"remaining_attempts"`
}

func (v *Verifier) Status(ctx context.Context, userID int64) (*Status, error) {
	cred, err := v.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return &Status{}, nil
	}
	remaining := v.maxFailures - cred.FailedAttempts
	if remaining < 0 || cred.IsLocked() {
		remaining = 0
	}
	return &Status{
		Registered:        true,
		Locked:            cred.IsLocked(),
		LockedAt:          cred.LockedAt,
		FailedAttempts:    cred.FailedAttempts,
		RemainingAttempts: remaining,
	}, nil
}

// Unlock lifts a lock placed after too many failures.
func (v *Verifier) Unlock(ctx context.Context, userID int64) error {
	found, err := v.store.Unlock(ctx, userID)
	if err != nil {
		return err
	}
	if !found {
		return errors.NewAppError(errors.NotFound, "credential not found")
	}
	v.logger.Info("Credential unlocked", "user_id", userID)
	return nil
}

// RecordFailure counts a mismatch and returns the attempts left before the
// credential locks.
func (v *Verifier) RecordFailure(ctx context.Context, userID int64) (int, error) {
	attempts, err := v.store.IncrementFailures(ctx, userID, v.maxFailures)
	if err != nil {
		return 0, err
	}

	remaining := v.maxFailures - attempts
	if remaining <= 0 {
		v.logger.Warn("Credential locked", "user_id", userID, "failed_attempts", attempts)
		return 0, nil
	}
	v.logger.Info("Credential verification failed", "user_id", userID, "remaining_attempts", remaining)
	return remaining, nil
}
