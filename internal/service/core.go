package service

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"moneygo/internal/domain"
	"moneygo/internal/errors"
	"moneygo/internal/notify"
	"moneygo/internal/observability"
	"moneygo/internal/resilience"
)

// CredentialVerifier checks the transaction secret of a user. RecordFailure
// returns the attempts left before the credential locks.
type CredentialVerifier interface {
	Verify(ctx context.Context, userID int64, secret string) (bool, error)
	RecordFailure(ctx context.Context, userID int64) (int, error)
}

// Notifier receives events after the unit of work that produced them
// committed. Implementations must not block.
type Notifier interface {
	Dispatch(ctx context.Context, events ...notify.Event)
}

type Options struct {
	Now                  func() time.Time
	Location             *time.Location
	DailyLimit           decimal.Decimal
	PerTransactionLimit  decimal.Decimal
	LargeAmountThreshold decimal.Decimal
	LockRetryAttempts    int
	LockRetryBackoff     time.Duration
	QrTTL                time.Duration
}

type Deps struct {
	Store       domain.Store
	Credentials CredentialVerifier
	Notifier    Notifier
	Metrics     *observability.Metrics
	Logger      *slog.Logger
	Options     Options
}

// core holds what every ledger operation shares: the unit of work with lock
// conflict retries, canonical lock ordering and the entry failure path.
type core struct {
	store       domain.Store
	credentials CredentialVerifier
	notifier    Notifier
	metrics     *observability.Metrics
	logger      *slog.Logger
	opts        Options
}

func newCore(d Deps) *core {
	opts := d.Options
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.DailyLimit.IsZero() {
		opts.DailyLimit = domain.DefaultDailyLimit
	}
	if opts.PerTransactionLimit.IsZero() {
		opts.PerTransactionLimit = domain.DefaultPerTransactionLimit
	}
	if opts.LockRetryBackoff <= 0 {
		opts.LockRetryBackoff = 20 * time.Millisecond
	}
	if opts.QrTTL <= 0 {
		opts.QrTTL = domain.DefaultQrTTL
	}
	return &core{
		store:       d.Store,
		credentials: d.Credentials,
		notifier:    d.Notifier,
		metrics:     d.Metrics,
		logger:      d.Logger,
		opts:        opts,
	}
}

func (c *core) now() time.Time {
	return c.opts.Now().UTC()
}

// today is the current calendar date in the business time zone.
func (c *core) today() time.Time {
	return domain.DateOf(c.opts.Now(), c.opts.Location)
}

// runInTx runs fn in a unit of work and retries the whole unit of work when
// it aborts on a lock conflict.
func (c *core) runInTx(ctx context.Context, operation string, fn func(tx domain.Store) error) error {
	cfg := resilience.Config{
		MaxRetries:     c.opts.LockRetryAttempts,
		InitialBackoff: c.opts.LockRetryBackoff,
		Retryable:      errors.Retryable,
	}
	return resilience.RetryWithBackoff(ctx, cfg, func() error {
		err := c.store.WithTransaction(ctx, fn)
		if errors.Retryable(err) {
			c.metrics.IncrLockConflict(operation)
			c.logger.Warn("Lock conflict, retrying unit of work", "operation", operation, "error", err)
		}
		return err
	})
}

func (c *core) observe(operation string, start time.Time) {
	c.metrics.RecordOperationDuration(operation, time.Since(start))
}

// lockPair takes the update locks of two distinct accounts in ascending id
// order and returns them in argument order.
func lockPair(ctx context.Context, tx domain.Store, firstID, secondID int64) (*domain.Account, *domain.Account, error) {
	lowID, highID := firstID, secondID
	if highID < lowID {
		lowID, highID = highID, lowID
	}

	low, err := tx.Accounts().GetByIDForUpdate(ctx, lowID)
	if err != nil {
		return nil, nil, err
	}
	high, err := tx.Accounts().GetByIDForUpdate(ctx, highID)
	if err != nil {
		return nil, nil, err
	}

	if low.ID == firstID {
		return low, high, nil
	}
	return high, low, nil
}

// verifySecret checks the actor's secret. A mismatch is recorded outside the
// current unit of work so the failure count survives its rollback.
func (c *core) verifySecret(ctx context.Context, userID int64, secret string) error {
	ok, err := c.credentials.Verify(ctx, userID, secret)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	remaining, err := c.credentials.RecordFailure(context.WithoutCancel(ctx), userID)
	if err != nil {
		return err
	}
	return errors.ErrAuthenticationFailed.
		WithDetails(strconv.Itoa(remaining)+" attempts remaining").
		WithMeta("remaining_attempts", strconv.Itoa(remaining))
}

// complete marks entry COMPLETED inside the unit of work.
func complete(ctx context.Context, tx domain.Store, entry *domain.LedgerEntry) error {
	if err := entry.Complete(); err != nil {
		return err
	}
	return tx.Ledger().Update(ctx, entry)
}

// recordFailure persists entry as FAILED after its unit of work rolled back.
func (c *core) recordFailure(ctx context.Context, entry *domain.LedgerEntry, cause error) {
	// The in-memory entry may have advanced before the rollback.
	failed := *entry
	failed.Status = domain.EntryStatusPending
	if err := failed.Fail(cause.Error()); err != nil {
		return
	}

	if err := c.store.Ledger().Create(context.WithoutCancel(ctx), &failed); err != nil {
		c.logger.Error("Failed to record failed ledger entry",
			"entry_id", failed.ID, "type", failed.Type, "amount", failed.Amount, "cause", cause, "error", err)
		return
	}
	c.metrics.IncrLedgerEntry(string(failed.Type), string(failed.Status))
	c.logger.Warn("Ledger entry failed", "entry_id", failed.ID, "type", failed.Type, "error", cause)
}

func (c *core) publish(ctx context.Context, events ...notify.Event) {
	if c.notifier == nil || len(events) == 0 {
		return
	}
	c.notifier.Dispatch(ctx, events...)
}

// largeAmount returns a LargeAmountDetected event when amount reaches the
// configured threshold.
func (c *core) largeAmount(entry *domain.LedgerEntry, accountID int64, at time.Time) []notify.Event {
	threshold := c.opts.LargeAmountThreshold
	if !threshold.IsPositive() || entry.Amount.LessThan(threshold) {
		return nil
	}
	return []notify.Event{notify.LargeAmountDetected{
		EntryID:   entry.ID,
		AccountID: accountID,
		Amount:    entry.Amount,
		Threshold: threshold,
		At:        at,
	}}
}

// resolveReplay returns the entry stored under key when it records the same
// movement as want. A key held by another account, or by a different movement
// of accountID, is a DuplicateRequest.
func (c *core) resolveReplay(ctx context.Context, key string, want *domain.LedgerEntry, accountID int64) (*domain.LedgerEntry, error) {
	existing, err := c.store.Ledger().GetByIdempotencyKey(ctx, key)
	if err != nil || existing == nil {
		return nil, err
	}
	if existing.SameMovement(want) {
		return existing, nil
	}
	owned := existing.FromAccountID != nil && *existing.FromAccountID == accountID ||
		existing.FromAccountID == nil && existing.Involves(accountID)
	if !owned {
		return nil, errors.ErrDuplicateRequest.WithDetails("idempotency key used by another request")
	}
	c.logger.Warn("Idempotency key reused with different parameters",
		"idempotency_key", key, "entry_id", existing.ID, "type", want.Type, "amount", want.Amount)
	return nil, errors.ErrDuplicateRequest.WithDetails("idempotency key reused with different parameters")
}

func isDuplicate(err error) bool {
	return stderrors.Is(err, errors.ErrDuplicateRequest)
}
