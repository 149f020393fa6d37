package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"moneygo/internal/domain"
	"moneygo/internal/errors"
)

func accountLockKey(id int64) string {
	return fmt.Sprintf("account:%d", id)
}

func limitLockKey(id int64) string {
	return fmt.Sprintf("limit:%d", id)
}

func scheduleLockKey(id uuid.UUID) string {
	return "schedule:" + id.String()
}

func qrLockKey(id uuid.UUID) string {
	return "qr:" + id.String()
}

type accountRepository struct {
	store *Store
}

func (r *accountRepository) Create(_ context.Context, account *domain.Account) error {
	s := r.store
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.accountByOwner[account.OwnerID]; ok {
		return errors.ErrDuplicateAccount
	}
	if _, ok := s.db.accountByNumber[account.AccountNumber]; ok {
		return errors.ErrDuplicateAccount.WithDetails("account number " + account.AccountNumber + " is taken")
	}
	if err := s.reserve(fmt.Sprintf("owner:%d", account.OwnerID)); err != nil {
		return err
	}
	if err := s.reserve("account_number:" + account.AccountNumber); err != nil {
		return err
	}

	now := time.Now().UTC()
	s.db.nextAccountID++
	account.ID = s.db.nextAccountID
	account.Version = 0
	account.CreatedAt = now
	account.UpdatedAt = now

	if s.tx != nil {
		s.tx.accounts[account.ID] = *account
		return nil
	}
	s.db.accounts[account.ID] = *account
	s.db.accountByNumber[account.AccountNumber] = account.ID
	s.db.accountByOwner[account.OwnerID] = account.ID
	return nil
}

// lookup resolves an account id through the committed indexes and the
// transaction's own inserts.
func (r *accountRepository) lookup(match func(domain.Account) bool, indexed func() (int64, bool)) (int64, bool) {
	s := r.store
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if id, ok := indexed(); ok {
		return id, true
	}
	if s.tx != nil {
		for id, account := range s.tx.accounts {
			if match(account) {
				return id, true
			}
		}
	}
	return 0, false
}

func (r *accountRepository) read(id int64) (*domain.Account, error) {
	s := r.store
	if s.tx != nil {
		if account, ok := s.tx.accounts[id]; ok {
			return &account, nil
		}
	}
	s.db.mu.Lock()
	account, ok := s.db.accounts[id]
	s.db.mu.Unlock()
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	return &account, nil
}

func (r *accountRepository) GetByID(_ context.Context, id int64) (*domain.Account, error) {
	return r.read(id)
}

func (r *accountRepository) GetByNumber(_ context.Context, number string) (*domain.Account, error) {
	id, ok := r.idByNumber(number)
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	return r.read(id)
}

func (r *accountRepository) GetByOwner(_ context.Context, ownerID int64) (*domain.Account, error) {
	s := r.store
	id, ok := r.lookup(
		func(a domain.Account) bool { return a.OwnerID == ownerID },
		func() (int64, bool) { id, ok := s.db.accountByOwner[ownerID]; return id, ok },
	)
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	return r.read(id)
}

func (r *accountRepository) GetByIDForUpdate(ctx context.Context, id int64) (*domain.Account, error) {
	if _, err := r.read(id); err != nil {
		return nil, err
	}
	if err := r.store.lock(ctx, accountLockKey(id)); err != nil {
		return nil, err
	}
	return r.read(id)
}

func (r *accountRepository) GetByNumberForUpdate(ctx context.Context, number string) (*domain.Account, error) {
	id, ok := r.idByNumber(number)
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	return r.GetByIDForUpdate(ctx, id)
}

func (r *accountRepository) idByNumber(number string) (int64, bool) {
	s := r.store
	return r.lookup(
		func(a domain.Account) bool { return a.AccountNumber == number },
		func() (int64, bool) { id, ok := s.db.accountByNumber[number]; return id, ok },
	)
}

func (r *accountRepository) Save(_ context.Context, account *domain.Account) error {
	s := r.store
	current, err := r.read(account.ID)
	if err != nil {
		return err
	}
	if current.Version != account.Version {
		return errors.ErrLockConflict.WithDetails("account was modified concurrently")
	}

	saved := *account
	saved.Version++
	saved.UpdatedAt = time.Now().UTC()

	if s.tx != nil {
		s.tx.accounts[account.ID] = saved
	} else {
		s.db.mu.Lock()
		if s.db.accounts[account.ID].Version != account.Version {
			s.db.mu.Unlock()
			return errors.ErrLockConflict.WithDetails("account was modified concurrently")
		}
		s.db.accounts[account.ID] = saved
		s.db.mu.Unlock()
	}

	account.Version = saved.Version
	account.UpdatedAt = saved.UpdatedAt
	return nil
}

type ledgerRepository struct {
	store *Store
}

func (r *ledgerRepository) Create(_ context.Context, entry *domain.LedgerEntry) error {
	s := r.store
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.entries[entry.ID]; ok {
		return errors.ErrDuplicateRequest.WithDetails("ledger entry " + entry.ID.String() + " already exists")
	}
	if entry.IdempotencyKey != nil {
		key := *entry.IdempotencyKey
		if _, ok := s.db.entryByKey[key]; ok {
			return errors.ErrDuplicateRequest
		}
		if err := s.reserve("entry_key:" + key); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	if s.tx != nil {
		s.tx.entries[entry.ID] = *entry
		return nil
	}
	s.db.entries[entry.ID] = *entry
	if entry.IdempotencyKey != nil {
		s.db.entryByKey[*entry.IdempotencyKey] = entry.ID
	}
	return nil
}

func (r *ledgerRepository) read(id uuid.UUID) (*domain.LedgerEntry, bool) {
	s := r.store
	if s.tx != nil {
		if entry, ok := s.tx.entries[id]; ok {
			return &entry, true
		}
	}
	s.db.mu.Lock()
	entry, ok := s.db.entries[id]
	s.db.mu.Unlock()
	if !ok {
		return nil, false
	}
	return &entry, true
}

func (r *ledgerRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.LedgerEntry, error) {
	entry, ok := r.read(id)
	if !ok {
		return nil, errors.ErrEntryNotFound
	}
	return entry, nil
}

func (r *ledgerRepository) GetByIdempotencyKey(_ context.Context, key string) (*domain.LedgerEntry, error) {
	s := r.store
	if s.tx != nil {
		for _, entry := range s.tx.entries {
			if entry.IdempotencyKey != nil && *entry.IdempotencyKey == key {
				found := entry
				return &found, nil
			}
		}
	}

	s.db.mu.Lock()
	id, ok := s.db.entryByKey[key]
	s.db.mu.Unlock()
	if !ok {
		return nil, nil
	}
	entry, _ := r.read(id)
	return entry, nil
}

func (r *ledgerRepository) ListByAccount(_ context.Context, accountID int64, filter domain.EntryFilter) ([]*domain.LedgerEntry, error) {
	s := r.store
	merged := make(map[uuid.UUID]domain.LedgerEntry)

	s.db.mu.Lock()
	for id, entry := range s.db.entries {
		merged[id] = entry
	}
	s.db.mu.Unlock()
	if s.tx != nil {
		for id, entry := range s.tx.entries {
			merged[id] = entry
		}
	}

	entries := make([]*domain.LedgerEntry, 0)
	for _, entry := range merged {
		if entry.Involves(accountID) && filter.Matches(&entry) {
			e := entry
			entries = append(entries, &e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID.String() < entries[j].ID.String()
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return page(entries, filter.Limit, filter.Offset), nil
}

func (r *ledgerRepository) Update(_ context.Context, entry *domain.LedgerEntry) error {
	s := r.store
	current, ok := r.read(entry.ID)
	if !ok {
		return errors.ErrEntryNotFound
	}
	if current.Status != domain.EntryStatusPending {
		return errors.ErrAlreadySettled.WithDetails("ledger entry " + entry.ID.String() + " is not pending")
	}

	updated := *current
	updated.Status = entry.Status
	updated.ErrorMessage = entry.ErrorMessage
	updated.UpdatedAt = time.Now().UTC()

	if s.tx != nil {
		s.tx.entries[entry.ID] = updated
	} else {
		s.db.mu.Lock()
		s.db.entries[entry.ID] = updated
		s.db.mu.Unlock()
	}
	entry.UpdatedAt = updated.UpdatedAt
	return nil
}

type limitRepository struct {
	store *Store
}

func (r *limitRepository) GetOrCreateForUpdate(ctx context.Context, accountID int64, defaults *domain.TransferLimit) (*domain.TransferLimit, error) {
	s := r.store
	if err := s.lock(ctx, limitLockKey(accountID)); err != nil {
		return nil, err
	}

	if s.tx != nil {
		if limit, ok := s.tx.limits[accountID]; ok {
			return &limit, nil
		}
	}

	s.db.mu.Lock()
	limit, ok := s.db.limits[accountID]
	s.db.mu.Unlock()
	if ok {
		return &limit, nil
	}

	now := time.Now().UTC()
	created := *defaults
	created.AccountID = accountID
	created.CreatedAt = now
	created.UpdatedAt = now
	if s.tx != nil {
		s.tx.limits[accountID] = created
	} else {
		s.db.mu.Lock()
		s.db.limits[accountID] = created
		s.db.mu.Unlock()
	}
	return &created, nil
}

func (r *limitRepository) Save(_ context.Context, limit *domain.TransferLimit) error {
	s := r.store
	saved := *limit
	saved.UpdatedAt = time.Now().UTC()
	if s.tx != nil {
		s.tx.limits[limit.AccountID] = saved
	} else {
		s.db.mu.Lock()
		s.db.limits[limit.AccountID] = saved
		s.db.mu.Unlock()
	}
	limit.UpdatedAt = saved.UpdatedAt
	return nil
}

type scheduleRepository struct {
	store *Store
}

func (r *scheduleRepository) Create(_ context.Context, schedule *domain.ScheduledTransfer) error {
	now := time.Now().UTC()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	return r.put(schedule)
}

func (r *scheduleRepository) put(schedule *domain.ScheduledTransfer) error {
	s := r.store
	if s.tx != nil {
		s.tx.schedules[schedule.ID] = *schedule
		return nil
	}
	s.db.mu.Lock()
	s.db.schedules[schedule.ID] = *schedule
	s.db.mu.Unlock()
	return nil
}

func (r *scheduleRepository) read(id uuid.UUID) (*domain.ScheduledTransfer, error) {
	s := r.store
	if s.tx != nil {
		if schedule, ok := s.tx.schedules[id]; ok {
			return &schedule, nil
		}
	}
	s.db.mu.Lock()
	schedule, ok := s.db.schedules[id]
	s.db.mu.Unlock()
	if !ok {
		return nil, errors.ErrScheduleNotFound
	}
	return &schedule, nil
}

func (r *scheduleRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.ScheduledTransfer, error) {
	return r.read(id)
}

func (r *scheduleRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.ScheduledTransfer, error) {
	if _, err := r.read(id); err != nil {
		return nil, err
	}
	if err := r.store.lock(ctx, scheduleLockKey(id)); err != nil {
		return nil, err
	}
	return r.read(id)
}

func (r *scheduleRepository) snapshot() []*domain.ScheduledTransfer {
	s := r.store
	merged := make(map[uuid.UUID]domain.ScheduledTransfer)
	s.db.mu.Lock()
	for id, schedule := range s.db.schedules {
		merged[id] = schedule
	}
	s.db.mu.Unlock()
	if s.tx != nil {
		for id, schedule := range s.tx.schedules {
			merged[id] = schedule
		}
	}

	schedules := make([]*domain.ScheduledTransfer, 0, len(merged))
	for _, schedule := range merged {
		sc := schedule
		schedules = append(schedules, &sc)
	}
	return schedules
}

func (r *scheduleRepository) ListDue(_ context.Context, now time.Time, limit int) ([]*domain.ScheduledTransfer, error) {
	due := make([]*domain.ScheduledTransfer, 0)
	for _, schedule := range r.snapshot() {
		if schedule.IsDue(now) {
			due = append(due, schedule)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].ID.String() < due[j].ID.String()
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	return page(due, limit, 0), nil
}

func (r *scheduleRepository) ListByAccount(_ context.Context, accountID int64, limit, offset int) ([]*domain.ScheduledTransfer, error) {
	owned := make([]*domain.ScheduledTransfer, 0)
	for _, schedule := range r.snapshot() {
		if schedule.FromAccountID == accountID {
			owned = append(owned, schedule)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].ID.String() < owned[j].ID.String()
		}
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})
	return page(owned, limit, offset), nil
}

func (r *scheduleRepository) Save(_ context.Context, schedule *domain.ScheduledTransfer) error {
	if _, err := r.read(schedule.ID); err != nil {
		return err
	}
	schedule.UpdatedAt = time.Now().UTC()
	return r.put(schedule)
}

type qrRepository struct {
	store *Store
}

func (r *qrRepository) Create(_ context.Context, payment *domain.QrPayment) error {
	s := r.store
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.qrByCode[payment.QrCode]; ok {
		return errors.ErrDuplicateRequest.WithDetails("qr code " + payment.QrCode + " is taken")
	}
	if err := s.reserve("qr_code:" + payment.QrCode); err != nil {
		return err
	}

	now := time.Now().UTC()
	payment.CreatedAt = now
	payment.UpdatedAt = now
	if s.tx != nil {
		s.tx.qrPayments[payment.ID] = *payment
		return nil
	}
	s.db.qrPayments[payment.ID] = *payment
	s.db.qrByCode[payment.QrCode] = payment.ID
	return nil
}

func (r *qrRepository) idByCode(code string) (uuid.UUID, bool) {
	s := r.store
	if s.tx != nil {
		for id, payment := range s.tx.qrPayments {
			if payment.QrCode == code {
				return id, true
			}
		}
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	id, ok := s.db.qrByCode[code]
	return id, ok
}

func (r *qrRepository) read(id uuid.UUID) (*domain.QrPayment, error) {
	s := r.store
	if s.tx != nil {
		if payment, ok := s.tx.qrPayments[id]; ok {
			return &payment, nil
		}
	}
	s.db.mu.Lock()
	payment, ok := s.db.qrPayments[id]
	s.db.mu.Unlock()
	if !ok {
		return nil, errors.ErrQrPaymentNotFound
	}
	return &payment, nil
}

func (r *qrRepository) GetByCode(_ context.Context, code string) (*domain.QrPayment, error) {
	id, ok := r.idByCode(code)
	if !ok {
		return nil, errors.ErrQrPaymentNotFound
	}
	return r.read(id)
}

func (r *qrRepository) GetByCodeForUpdate(ctx context.Context, code string) (*domain.QrPayment, error) {
	id, ok := r.idByCode(code)
	if !ok {
		return nil, errors.ErrQrPaymentNotFound
	}
	if err := r.store.lock(ctx, qrLockKey(id)); err != nil {
		return nil, err
	}
	return r.read(id)
}

func (r *qrRepository) ExistsByCode(_ context.Context, code string) (bool, error) {
	_, ok := r.idByCode(code)
	return ok, nil
}

func (r *qrRepository) Save(_ context.Context, payment *domain.QrPayment) error {
	s := r.store
	if _, err := r.read(payment.ID); err != nil {
		return err
	}
	payment.UpdatedAt = time.Now().UTC()
	if s.tx != nil {
		s.tx.qrPayments[payment.ID] = *payment
		return nil
	}
	s.db.mu.Lock()
	s.db.qrPayments[payment.ID] = *payment
	s.db.mu.Unlock()
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
