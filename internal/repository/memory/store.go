// Package memory is an in-process domain.Store with the same locking and
// unit-of-work semantics as the Postgres store. Row locks are exclusive and
// held until the enclosing transaction ends; writes made inside a transaction
// are buffered and become visible to other callers only on commit.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"moneygo/internal/domain"
	"moneygo/internal/errors"
)

const defaultLockTimeout = 5 * time.Second

type database struct {
	mu sync.Mutex

	nextAccountID   int64
	accounts        map[int64]domain.Account
	accountByNumber map[string]int64
	accountByOwner  map[int64]int64

	entries    map[uuid.UUID]domain.LedgerEntry
	entryByKey map[string]uuid.UUID

	limits    map[int64]domain.TransferLimit
	schedules map[uuid.UUID]domain.ScheduledTransfer

	qrPayments map[uuid.UUID]domain.QrPayment
	qrByCode   map[string]uuid.UUID

	// reservations maps a unique key to the transaction that inserted it but
	// has not committed yet.
	reservations map[string]*txState
	locks        map[string]chan struct{}
}

type Store struct {
	db          *database
	tx          *txState
	logger      *slog.Logger
	lockTimeout time.Duration
}

var _ domain.Store = (*Store)(nil)

func NewStore(logger *slog.Logger, lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &Store{
		db: &database{
			accounts:        make(map[int64]domain.Account),
			accountByNumber: make(map[string]int64),
			accountByOwner:  make(map[int64]int64),
			entries:         make(map[uuid.UUID]domain.LedgerEntry),
			entryByKey:      make(map[string]uuid.UUID),
			limits:          make(map[int64]domain.TransferLimit),
			schedules:       make(map[uuid.UUID]domain.ScheduledTransfer),
			qrPayments:      make(map[uuid.UUID]domain.QrPayment),
			qrByCode:        make(map[string]uuid.UUID),
			reservations:    make(map[string]*txState),
			locks:           make(map[string]chan struct{}),
		},
		logger:      logger,
		lockTimeout: lockTimeout,
	}
}

func (s *Store) Accounts() domain.AccountRepository {
	return &accountRepository{store: s}
}

func (s *Store) Ledger() domain.LedgerRepository {
	return &ledgerRepository{store: s}
}

func (s *Store) Limits() domain.TransferLimitRepository {
	return &limitRepository{store: s}
}

func (s *Store) Schedules() domain.ScheduledTransferRepository {
	return &scheduleRepository{store: s}
}

func (s *Store) QrPayments() domain.QrPaymentRepository {
	return &qrRepository{store: s}
}

func (s *Store) Ping(_ context.Context) error {
	return nil
}

// txState buffers the writes of one unit of work.
type txState struct {
	held         []chan struct{}
	accounts     map[int64]domain.Account
	entries      map[uuid.UUID]domain.LedgerEntry
	limits       map[int64]domain.TransferLimit
	schedules    map[uuid.UUID]domain.ScheduledTransfer
	qrPayments   map[uuid.UUID]domain.QrPayment
	reservations []string
	heldKeys     map[string]bool
}

func newTxState() *txState {
	return &txState{
		accounts:   make(map[int64]domain.Account),
		entries:    make(map[uuid.UUID]domain.LedgerEntry),
		limits:     make(map[int64]domain.TransferLimit),
		schedules:  make(map[uuid.UUID]domain.ScheduledTransfer),
		qrPayments: make(map[uuid.UUID]domain.QrPayment),
		heldKeys:   make(map[string]bool),
	}
}

func (s *Store) WithTransaction(ctx context.Context, fn func(tx domain.Store) error) error {
	if s.tx != nil {
		return errors.ErrCannotBeginTransaction
	}

	tx := newTxState()
	txStore := &Store{
		db:          s.db,
		tx:          tx,
		logger:      s.logger,
		lockTimeout: s.lockTimeout,
	}

	defer func() {
		if p := recover(); p != nil {
			s.rollback(tx)
			panic(p)
		}
	}()

	if err := fn(txStore); err != nil {
		s.rollback(tx)
		return err
	}

	if err := ctx.Err(); err != nil {
		s.rollback(tx)
		return errors.Internal("failed to commit transaction", err)
	}

	s.commit(tx)
	return nil
}

func (s *Store) commit(tx *txState) {
	db := s.db
	db.mu.Lock()
	for id, account := range tx.accounts {
		db.accounts[id] = account
		db.accountByNumber[account.AccountNumber] = id
		db.accountByOwner[account.OwnerID] = id
	}
	for id, entry := range tx.entries {
		db.entries[id] = entry
		if entry.IdempotencyKey != nil {
			db.entryByKey[*entry.IdempotencyKey] = id
		}
	}
	for id, limit := range tx.limits {
		db.limits[id] = limit
	}
	for id, schedule := range tx.schedules {
		db.schedules[id] = schedule
	}
	for id, payment := range tx.qrPayments {
		db.qrPayments[id] = payment
		db.qrByCode[payment.QrCode] = id
	}
	for _, key := range tx.reservations {
		delete(db.reservations, key)
	}
	db.mu.Unlock()

	s.release(tx)
}

func (s *Store) rollback(tx *txState) {
	db := s.db
	db.mu.Lock()
	for _, key := range tx.reservations {
		delete(db.reservations, key)
	}
	db.mu.Unlock()

	s.release(tx)
}

func (s *Store) release(tx *txState) {
	for i := len(tx.held) - 1; i >= 0; i-- {
		<-tx.held[i]
	}
	tx.held = nil
}

// lock takes the exclusive row lock for key. Outside a transaction it is a
// no-op, like a FOR UPDATE read in autocommit mode.
func (s *Store) lock(ctx context.Context, key string) error {
	if s.tx == nil || s.tx.heldKeys[key] {
		return nil
	}

	s.db.mu.Lock()
	ch, ok := s.db.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.db.locks[key] = ch
	}
	s.db.mu.Unlock()

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		s.tx.held = append(s.tx.held, ch)
		s.tx.heldKeys[key] = true
		return nil
	case <-ctx.Done():
		return errors.Internal("lock wait cancelled", ctx.Err())
	case <-timer.C:
		return errors.ErrLockConflict.WithDetails("lock timeout on " + key)
	}
}

// reserve claims a unique key. It must be called with db.mu held.
func (s *Store) reserve(key string) error {
	if owner, ok := s.db.reservations[key]; ok && owner != s.tx {
		return errors.ErrLockConflict.WithDetails("unique key " + key + " is being inserted concurrently")
	}
	if s.tx != nil {
		s.db.reservations[key] = s.tx
		s.tx.reservations = append(s.tx.reservations, key)
	}
	return nil
}
