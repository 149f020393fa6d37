package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"moneygo/internal/domain"
	"moneygo/internal/errors"
	"moneygo/internal/notify"
)

type TransferService struct {
	*core
}

func NewTransferService(d Deps) *TransferService {
	return &TransferService{core: newCore(d)}
}

type TransferRequest struct {
	ActorID         int64
	ToAccountNumber string
	Amount          decimal.Decimal
	Memo            string
	Secret          string
	IdempotencyKey  string
}

type TransferResult struct {
	Entry        *domain.LedgerEntry `json:"entry"`
	BalanceAfter decimal.Decimal     `json:"balance_after"`
	Replayed     bool                `json:"replayed"`
}

// MovementRequest describes a deposit or withdrawal. Admin variants act on
// AccountID; self-service variants act on the account owned by ActorID and
// require Secret.
type MovementRequest struct {
	ActorID        int64
	AccountID      int64
	Amount         decimal.Decimal
	Memo           string
	Secret         string
	IdempotencyKey string
}

// Transfer moves Amount from the actor's account to ToAccountNumber.
func (s *TransferService) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	defer s.observe("transfer", time.Now())

	s.logger.Info("Processing transfer",
		"actor_id", req.ActorID,
		"to_account_number", req.ToAccountNumber,
		"amount", req.Amount,
		"idempotency_key", req.IdempotencyKey)

	if err := validateMovement(req.Amount, req.Memo, req.IdempotencyKey); err != nil {
		return nil, err
	}

	source, err := s.store.Accounts().GetByOwner(ctx, req.ActorID)
	if err != nil {
		return nil, err
	}

	dest, err := s.store.Accounts().GetByNumber(ctx, req.ToAccountNumber)
	if err != nil {
		return nil, err
	}
	if dest.ID == source.ID {
		return nil, errors.ErrSelfTransfer
	}

	key := idempotencyKey(req.IdempotencyKey)
	template := domain.NewLedgerEntry(domain.EntryTypeTransfer, int64Ptr(source.ID), int64Ptr(dest.ID), req.Amount, req.Memo, &key)
	existing, err := s.resolveReplay(ctx, key, template, source.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.replay(ctx, existing, source.ID)
	}

	var entry *domain.LedgerEntry
	var balanceAfter decimal.Decimal
	mutating := false

	err = s.runInTx(ctx, "transfer", func(tx domain.Store) error {
		mutating = false

		from, to, err := lockPair(ctx, tx, source.ID, dest.ID)
		if err != nil {
			return err
		}
		if err := s.verifySecret(ctx, req.ActorID, req.Secret); err != nil {
			return err
		}
		if err := from.EnsureActive("source"); err != nil {
			return err
		}
		if err := to.EnsureActive("destination"); err != nil {
			return err
		}
		if !from.HasEnoughBalance(req.Amount) {
			return errors.ErrInsufficientFunds.WithDetails("balance " + from.Balance.StringFixed(2) + ", requested " + req.Amount.StringFixed(2))
		}
		if err := s.checkLimit(ctx, tx, from.ID, req.Amount); err != nil {
			return err
		}

		e := *template
		entry = &e
		if err := tx.Ledger().Create(ctx, entry); err != nil {
			return err
		}
		mutating = true

		if err := from.Debit(req.Amount); err != nil {
			return err
		}
		if err := to.Credit(req.Amount); err != nil {
			return err
		}
		if err := tx.Accounts().Save(ctx, from); err != nil {
			return err
		}
		if err := tx.Accounts().Save(ctx, to); err != nil {
			return err
		}
		if err := complete(ctx, tx, entry); err != nil {
			return err
		}

		balanceAfter = from.Balance
		return nil
	})

	if err != nil {
		if !mutating && isDuplicate(err) {
			return s.replayAfterConflict(ctx, template, source.ID, err)
		}
		if mutating {
			s.recordFailure(ctx, entry, err)
		}
		s.logger.Warn("Transfer rejected", "actor_id", req.ActorID, "amount", req.Amount, "error", err)
		return nil, err
	}

	s.metrics.IncrLedgerEntry(string(entry.Type), string(entry.Status))
	s.logger.Info("Transfer completed successfully", "entry_id", entry.ID, "from_account_id", source.ID, "to_account_id", dest.ID)

	now := s.now()
	events := []notify.Event{notify.TransferCompleted{
		EntryID:       entry.ID,
		EntryType:     string(entry.Type),
		FromAccountID: entry.FromAccountID,
		ToAccountID:   entry.ToAccountID,
		Amount:        entry.Amount,
		Memo:          entry.Memo,
		At:            now,
	}}
	s.publish(ctx, append(events, s.largeAmount(entry, source.ID, now)...)...)

	return &TransferResult{Entry: entry, BalanceAfter: balanceAfter}, nil
}

func (s *TransferService) AdminDeposit(ctx context.Context, req MovementRequest) (*TransferResult, error) {
	return s.move(ctx, movement{
		operation: "admin_deposit",
		entryType: domain.EntryTypeDeposit,
		accountID: req.AccountID,
		request:   req,
	})
}

func (s *TransferService) AdminWithdraw(ctx context.Context, req MovementRequest) (*TransferResult, error) {
	return s.move(ctx, movement{
		operation: "admin_withdraw",
		entryType: domain.EntryTypeWithdraw,
		accountID: req.AccountID,
		request:   req,
	})
}

// SelfDeposit credits the actor's own account. No transfer limit applies.
func (s *TransferService) SelfDeposit(ctx context.Context, req MovementRequest) (*TransferResult, error) {
	account, err := s.store.Accounts().GetByOwner(ctx, req.ActorID)
	if err != nil {
		return nil, err
	}
	return s.move(ctx, movement{
		operation:    "self_deposit",
		entryType:    domain.EntryTypeDeposit,
		accountID:    account.ID,
		request:      req,
		verifySecret: true,
	})
}

// SelfWithdraw debits the actor's own account under the transfer limit.
func (s *TransferService) SelfWithdraw(ctx context.Context, req MovementRequest) (*TransferResult, error) {
	account, err := s.store.Accounts().GetByOwner(ctx, req.ActorID)
	if err != nil {
		return nil, err
	}
	return s.move(ctx, movement{
		operation:    "self_withdraw",
		entryType:    domain.EntryTypeWithdraw,
		accountID:    account.ID,
		request:      req,
		verifySecret: true,
		applyLimit:   true,
	})
}

type movement struct {
	operation    string
	entryType    domain.EntryType
	accountID    int64
	request      MovementRequest
	verifySecret bool
	applyLimit   bool
}

func (m movement) isDeposit() bool {
	return m.entryType == domain.EntryTypeDeposit
}

func (s *TransferService) move(ctx context.Context, m movement) (*TransferResult, error) {
	defer s.observe(m.operation, time.Now())

	req := m.request
	s.logger.Info("Processing "+m.operation, "account_id", m.accountID, "amount", req.Amount)

	if err := validateMovement(req.Amount, req.Memo, req.IdempotencyKey); err != nil {
		return nil, err
	}

	key := idempotencyKey(req.IdempotencyKey)
	var from, to *int64
	if m.isDeposit() {
		to = int64Ptr(m.accountID)
	} else {
		from = int64Ptr(m.accountID)
	}
	template := domain.NewLedgerEntry(m.entryType, from, to, req.Amount, req.Memo, &key)
	existing, err := s.resolveReplay(ctx, key, template, m.accountID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.replay(ctx, existing, m.accountID)
	}

	var entry *domain.LedgerEntry
	var balanceAfter decimal.Decimal
	mutating := false

	err = s.runInTx(ctx, m.operation, func(tx domain.Store) error {
		mutating = false

		account, err := tx.Accounts().GetByIDForUpdate(ctx, m.accountID)
		if err != nil {
			return err
		}
		if m.verifySecret {
			if err := s.verifySecret(ctx, req.ActorID, req.Secret); err != nil {
				return err
			}
		}
		if err := account.EnsureActive("target"); err != nil {
			return err
		}
		if !m.isDeposit() {
			if !account.HasEnoughBalance(req.Amount) {
				return errors.ErrInsufficientFunds.WithDetails("balance " + account.Balance.StringFixed(2) + ", requested " + req.Amount.StringFixed(2))
			}
			if m.applyLimit {
				if err := s.checkLimit(ctx, tx, account.ID, req.Amount); err != nil {
					return err
				}
			}
		}

		e := *template
		entry = &e
		if err := tx.Ledger().Create(ctx, entry); err != nil {
			return err
		}
		mutating = true

		if m.isDeposit() {
			err = account.Credit(req.Amount)
		} else {
			err = account.Debit(req.Amount)
		}
		if err != nil {
			return err
		}
		if err := tx.Accounts().Save(ctx, account); err != nil {
			return err
		}
		if err := complete(ctx, tx, entry); err != nil {
			return err
		}

		balanceAfter = account.Balance
		return nil
	})

	if err != nil {
		if !mutating && isDuplicate(err) {
			return s.replayAfterConflict(ctx, template, m.accountID, err)
		}
		if mutating {
			s.recordFailure(ctx, entry, err)
		}
		s.logger.Warn(m.operation+" rejected", "account_id", m.accountID, "amount", req.Amount, "error", err)
		return nil, err
	}

	s.metrics.IncrLedgerEntry(string(entry.Type), string(entry.Status))
	s.logger.Info(m.operation+" completed", "entry_id", entry.ID, "account_id", m.accountID)

	now := s.now()
	events := []notify.Event{notify.TransferCompleted{
		EntryID:       entry.ID,
		EntryType:     string(entry.Type),
		FromAccountID: entry.FromAccountID,
		ToAccountID:   entry.ToAccountID,
		Amount:        entry.Amount,
		Memo:          entry.Memo,
		At:            now,
	}}
	s.publish(ctx, append(events, s.largeAmount(entry, m.accountID, now)...)...)

	return &TransferResult{Entry: entry, BalanceAfter: balanceAfter}, nil
}

func (c *core) replay(ctx context.Context, entry *domain.LedgerEntry, accountID int64) (*TransferResult, error) {
	account, err := c.store.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Returning existing ledger entry for idempotency key", "entry_id", entry.ID, "status", entry.Status)
	return &TransferResult{Entry: entry, BalanceAfter: account.Balance, Replayed: true}, nil
}

// replayAfterConflict resolves a unique violation on the idempotency key
// raised by a concurrent request with the same key.
func (c *core) replayAfterConflict(ctx context.Context, want *domain.LedgerEntry, accountID int64, cause error) (*TransferResult, error) {
	existing, err := c.resolveReplay(ctx, *want.IdempotencyKey, want, accountID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, cause
	}
	return c.replay(ctx, existing, accountID)
}
