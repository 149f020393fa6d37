package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AccountRepository interface {
	Create(ctx context.Context, account *Account) error
	GetByID(ctx context.Context, id int64) (*Account, error)
	GetByNumber(ctx context.Context, number string) (*Account, error)
	GetByOwner(ctx context.Context, ownerID int64) (*Account, error)
	GetByIDForUpdate(ctx context.Context, id int64) (*Account, error)
	GetByNumberForUpdate(ctx context.Context, number string) (*Account, error)
	// Save persists balance and status if the stored version still matches
	// account.Version, then increments it.
	Save(ctx context.Context, account *Account) error
}

type LedgerRepository interface {
	Create(ctx context.Context, entry *LedgerEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*LedgerEntry, error)
	// GetByIdempotencyKey returns nil, nil when no entry carries key.
	GetByIdempotencyKey(ctx context.Context, key string) (*LedgerEntry, error)
	ListByAccount(ctx context.Context, accountID int64, filter EntryFilter) ([]*LedgerEntry, error)
	Update(ctx context.Context, entry *LedgerEntry) error
}

type TransferLimitRepository interface {
	// GetOrCreateForUpdate returns the locked limit row of accountID, creating
	// it from defaults when it does not exist yet.
	GetOrCreateForUpdate(ctx context.Context, accountID int64, defaults *TransferLimit) (*TransferLimit, error)
	Save(ctx context.Context, limit *TransferLimit) error
}

type ScheduledTransferRepository interface {
	Create(ctx context.Context, schedule *ScheduledTransfer) error
	GetByID(ctx context.Context, id uuid.UUID) (*ScheduledTransfer, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*ScheduledTransfer, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*ScheduledTransfer, error)
	ListByAccount(ctx context.Context, accountID int64, limit, offset int) ([]*ScheduledTransfer, error)
	Save(ctx context.Context, schedule *ScheduledTransfer) error
}

type QrPaymentRepository interface {
	Create(ctx context.Context, payment *QrPayment) error
	GetByCode(ctx context.Context, code string) (*QrPayment, error)
	GetByCodeForUpdate(ctx context.Context, code string) (*QrPayment, error)
	ExistsByCode(ctx context.Context, code string) (bool, error)
	Save(ctx context.Context, payment *QrPayment) error
}

// Store groups the repositories behind one unit of work. Repositories
// obtained from the Store passed to fn share its transaction; row locks taken
// through them are held until fn returns.
type Store interface {
	Accounts() AccountRepository
	Ledger() LedgerRepository
	Limits() TransferLimitRepository
	Schedules() ScheduledTransferRepository
	QrPayments() QrPaymentRepository
	WithTransaction(ctx context.Context, fn func(tx Store) error) error
}
