package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"moneygo/internal/credential"
	"moneygo/internal/domain"
	"moneygo/internal/errors"
)

const (
	accountNumberPrefix   = "1001"
	accountNumberAttempts = 5

	defaultPageSize = 20
	maxPageSize     = 100
)

// SecretManager administers the transaction secret of account owners.
type SecretManager interface {
	SetSecret(ctx context.Context, userID int64, secret string) error
	Status(ctx context.Context, userID int64) (*credential.Status, error)
	Unlock(ctx context.Context, userID int64) error
}

type AccountService struct {
	*core
	secrets SecretManager
}

func NewAccountService(d Deps, secrets SecretManager) *AccountService {
	return &AccountService{core: newCore(d), secrets: secrets}
}

// OpenAccount creates the single account of ownerID with a zero balance and
// stores its transaction secret.
func (s *AccountService) OpenAccount(ctx context.Context, ownerID int64, secret string) (*domain.Account, error) {
	s.logger.Info("Opening account", "owner_id", ownerID)

	if ownerID <= 0 {
		return nil, errors.ErrInvalidInput.WithDetails("owner id must be positive")
	}

	if _, err := s.store.Accounts().GetByOwner(ctx, ownerID); err == nil {
		s.logger.Warn("Account already exists", "owner_id", ownerID)
		return nil, errors.ErrDuplicateAccount
	} else if !stderrors.Is(err, errors.ErrAccountNotFound) {
		return nil, err
	}

	if err := s.secrets.SetSecret(ctx, ownerID, secret); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < accountNumberAttempts; attempt++ {
		account := &domain.Account{
			OwnerID:       ownerID,
			AccountNumber: newAccountNumber(),
			Balance:       decimal.Zero,
			Status:        domain.AccountStatusActive,
		}

		err := s.store.Accounts().Create(ctx, account)
		if err == nil {
			s.logger.Info("Account opened", "account_id", account.ID, "account_number", account.AccountNumber)
			return account, nil
		}
		if !isDuplicate(err) {
			return nil, err
		}
		if _, lookupErr := s.store.Accounts().GetByOwner(ctx, ownerID); lookupErr == nil {
			return nil, errors.ErrDuplicateAccount
		}
		s.logger.Warn("Account number collision, regenerating", "account_number", account.AccountNumber)
	}

	return nil, errors.Internal("could not allocate an account number", nil)
}

func newAccountNumber() string {
	return fmt.Sprintf("%s-%04d-%04d", accountNumberPrefix, rand.IntN(10000), rand.IntN(10000))
}

func (s *AccountService) GetAccount(ctx context.Context, accountID int64) (*domain.Account, error) {
	return s.store.Accounts().GetByID(ctx, accountID)
}

func (s *AccountService) GetMyAccount(ctx context.Context, actorID int64) (*domain.Account, error) {
	return s.store.Accounts().GetByOwner(ctx, actorID)
}

// AccountSummary is what another user may see of an account.
type AccountSummary struct {
	AccountNumber string               `json:"account_number"`
	OwnerID       int64                `json:"owner_id"`
	Status        domain.AccountStatus `json:"status"`
}

func (s *AccountService) GetAccountByNumber(ctx context.Context, number string) (*AccountSummary, error) {
	account, err := s.store.Accounts().GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	return &AccountSummary{
		AccountNumber: account.AccountNumber,
		OwnerID:       account.OwnerID,
		Status:        account.Status,
	}, nil
}

func (s *AccountService) Freeze(ctx context.Context, accountID int64) (*domain.Account, error) {
	return s.changeStatus(ctx, "freeze", accountID, (*domain.Account).Freeze)
}

func (s *AccountService) Activate(ctx context.Context, accountID int64) (*domain.Account, error) {
	return s.changeStatus(ctx, "activate", accountID, (*domain.Account).Activate)
}

// Close requires a zero balance. Closed accounts are kept for history.
func (s *AccountService) Close(ctx context.Context, accountID int64) (*domain.Account, error) {
	return s.changeStatus(ctx, "close", accountID, (*domain.Account).Close)
}

func (s *AccountService) changeStatus(ctx context.Context, operation string, accountID int64, transition func(*domain.Account) error) (*domain.Account, error) {
	var result *domain.Account

	err := s.runInTx(ctx, operation, func(tx domain.Store) error {
		account, err := tx.Accounts().GetByIDForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		if err := transition(account); err != nil {
			return err
		}
		if err := tx.Accounts().Save(ctx, account); err != nil {
			return err
		}
		result = account
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Account status changed", "account_id", accountID, "operation", operation, "status", result.Status)
	return result, nil
}

// ChangeSecret replaces the actor's secret after checking the current one.
// A wrong current secret counts toward the lock like any other mismatch.
func (s *AccountService) ChangeSecret(ctx context.Context, actorID int64, current, next string) error {
	if _, err := s.store.Accounts().GetByOwner(ctx, actorID); err != nil {
		return err
	}
	if err := s.verifySecret(ctx, actorID, current); err != nil {
		s.logger.Warn("Secret change rejected", "actor_id", actorID, "error", err)
		return err
	}
	if current == next {
		return errors.NewAppError(errors.InvalidInput, "new secret must differ from the current one")
	}
	if err := s.secrets.SetSecret(ctx, actorID, next); err != nil {
		return err
	}
	s.logger.Info("Secret changed", "actor_id", actorID)
	return nil
}

// SecretStatus reports whether the actor's secret is registered or locked.
func (s *AccountService) SecretStatus(ctx context.Context, actorID int64) (*credential.Status, error) {
	if _, err := s.store.Accounts().GetByOwner(ctx, actorID); err != nil {
		return nil, err
	}
	return s.secrets.Status(ctx, actorID)
}

// UnlockSecret clears the failure lock of the owner of accountID.
func (s *AccountService) UnlockSecret(ctx context.Context, accountID int64) error {
	account, err := s.store.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if err := s.secrets.Unlock(ctx, account.OwnerID); err != nil {
		return err
	}
	s.logger.Info("Secret unlocked by admin", "account_id", accountID, "owner_id", account.OwnerID)
	return nil
}

// HistoryQuery selects part of an account's history. From and To are
// calendar dates in the business timezone, both inclusive; zero values leave
// that side open.
type HistoryQuery struct {
	Type   domain.EntryType
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// History lists the ledger entries touching the actor's account, newest
// first.
func (s *AccountService) History(ctx context.Context, actorID int64, q HistoryQuery) ([]*domain.LedgerEntry, error) {
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return nil, errors.NewAppError(errors.InvalidInput, "invalid date range").WithDetails("to is before from")
	}

	account, err := s.store.Accounts().GetByOwner(ctx, actorID)
	if err != nil {
		return nil, err
	}

	filter := domain.EntryFilter{Type: q.Type}
	filter.Limit, filter.Offset = page(q.Limit, q.Offset)
	if !q.From.IsZero() {
		filter.Since = s.startOfDay(q.From)
	}
	if !q.To.IsZero() {
		filter.Until = s.startOfDay(q.To.AddDate(0, 0, 1))
	}
	return s.store.Ledger().ListByAccount(ctx, account.ID, filter)
}

// startOfDay returns midnight of date's calendar day in the business
// timezone.
func (s *AccountService) startOfDay(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.opts.Location)
}

// GetEntry returns an entry of the actor's account. Entries of other
// accounts are reported as missing.
func (s *AccountService) GetEntry(ctx context.Context, actorID int64, entryID uuid.UUID) (*domain.LedgerEntry, error) {
	account, err := s.store.Accounts().GetByOwner(ctx, actorID)
	if err != nil {
		return nil, err
	}
	entry, err := s.store.Ledger().GetByID(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if !entry.Involves(account.ID) {
		return nil, errors.ErrEntryNotFound
	}
	return entry, nil
}

// LimitStatus is the transfer limit of an account as of the current business
// date.
type LimitStatus struct {
	DailyLimit          decimal.Decimal `json:"daily_limit"`
	PerTransactionLimit decimal.Decimal `json:"per_transaction_limit"`
	TodayUsed           decimal.Decimal `json:"today_used"`
	Remaining           decimal.Decimal `json:"remaining"`
	Date                string          `json:"date"`
}

func (s *AccountService) GetLimit(ctx context.Context, actorID int64) (*LimitStatus, error) {
	account, err := s.store.Accounts().GetByOwner(ctx, actorID)
	if err != nil {
		return nil, err
	}

	today := s.today()
	var status *LimitStatus
	err = s.runInTx(ctx, "get_limit", func(tx domain.Store) error {
		defaults := domain.NewTransferLimit(account.ID, s.opts.DailyLimit, s.opts.PerTransactionLimit, today)
		limit, err := tx.Limits().GetOrCreateForUpdate(ctx, account.ID, defaults)
		if err != nil {
			return err
		}
		remaining := limit.Remaining(today)
		status = &LimitStatus{
			DailyLimit:          limit.DailyLimit,
			PerTransactionLimit: limit.PerTransactionLimit,
			TodayUsed:           limit.TodayUsed,
			Remaining:           remaining,
			Date:                today.Format(time.DateOnly),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

func page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
