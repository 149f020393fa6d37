package service

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"moneygo/internal/domain"
	"moneygo/internal/errors"
	"moneygo/internal/notify"
)

type ScheduledTransferService struct {
	*core
}

func NewScheduledTransferService(d Deps) *ScheduledTransferService {
	return &ScheduledTransferService{core: newCore(d)}
}

type CreateScheduleRequest struct {
	ActorID         int64
	ToAccountNumber string
	Amount          decimal.Decimal
	Memo            string
	ScheduledAt     time.Time
	Secret          string
}

// Create reserves Amount by debiting the actor's account now and stores a
// PENDING schedule. The reservation is delivered by Execute or returned by
// Cancel or the failure path.
func (s *ScheduledTransferService) Create(ctx context.Context, req CreateScheduleRequest) (*domain.ScheduledTransfer, error) {
	defer s.observe("create_schedule", time.Now())

	s.logger.Info("Creating scheduled transfer",
		"actor_id", req.ActorID,
		"to_account_number", req.ToAccountNumber,
		"amount", req.Amount,
		"scheduled_at", req.ScheduledAt)

	if err := validateMovement(req.Amount, req.Memo, ""); err != nil {
		return nil, err
	}
	if err := domain.ValidateScheduleTime(req.ScheduledAt, s.now()); err != nil {
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

	template := domain.NewScheduledTransfer(source.ID, dest.AccountNumber, req.Amount, req.Memo, req.ScheduledAt.UTC())
	var schedule *domain.ScheduledTransfer

	err = s.runInTx(ctx, "create_schedule", func(tx domain.Store) error {
		account, err := tx.Accounts().GetByIDForUpdate(ctx, source.ID)
		if err != nil {
			return err
		}
		if err := s.verifySecret(ctx, req.ActorID, req.Secret); err != nil {
			return err
		}
		if err := account.EnsureActive("source"); err != nil {
			return err
		}
		if err := account.Debit(req.Amount); err != nil {
			return err
		}
		if err := tx.Accounts().Save(ctx, account); err != nil {
			return err
		}

		sched := *template
		schedule = &sched
		return tx.Schedules().Create(ctx, schedule)
	})
	if err != nil {
		s.logger.Warn("Scheduled transfer rejected", "actor_id", req.ActorID, "error", err)
		return nil, err
	}

	s.logger.Info("Scheduled transfer created", "schedule_id", schedule.ID, "from_account_id", source.ID)
	return schedule, nil
}

// Cancel refunds the reservation of a PENDING schedule owned by the actor.
func (s *ScheduledTransferService) Cancel(ctx context.Context, actorID int64, id uuid.UUID) (*domain.ScheduledTransfer, error) {
	account, err := s.store.Accounts().GetByOwner(ctx, actorID)
	if err != nil {
		return nil, err
	}

	var schedule *domain.ScheduledTransfer
	err = s.runInTx(ctx, "cancel_schedule", func(tx domain.Store) error {
		sched, err := tx.Schedules().GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if sched.FromAccountID != account.ID {
			return errors.ErrForbidden.WithDetails("scheduled transfer belongs to another account")
		}
		if err := sched.Cancel(); err != nil {
			return err
		}

		source, err := tx.Accounts().GetByIDForUpdate(ctx, sched.FromAccountID)
		if err != nil {
			return err
		}
		if err := source.Credit(sched.Amount); err != nil {
			return err
		}
		if err := tx.Accounts().Save(ctx, source); err != nil {
			return err
		}
		if err := tx.Schedules().Save(ctx, sched); err != nil {
			return err
		}
		schedule = sched
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Scheduled transfer cancelled", "schedule_id", id, "refunded", schedule.Amount)
	return schedule, nil
}

func (s *ScheduledTransferService) Get(ctx context.Context, actorID int64, id uuid.UUID) (*domain.ScheduledTransfer, error) {
	account, err := s.store.Accounts().GetByOwner(ctx, actorID)
	if err != nil {
		return nil, err
	}
	schedule, err := s.store.Schedules().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if schedule.FromAccountID != account.ID {
		return nil, errors.ErrForbidden.WithDetails("scheduled transfer belongs to another account")
	}
	return schedule, nil
}

func (s *ScheduledTransferService) List(ctx context.Context, actorID int64, limit, offset int) ([]*domain.ScheduledTransfer, error) {
	account, err := s.store.Accounts().GetByOwner(ctx, actorID)
	if err != nil {
		return nil, err
	}
	limit, offset = page(limit, offset)
	return s.store.Schedules().ListByAccount(ctx, account.ID, limit, offset)
}

// ListDue returns up to limit PENDING schedules whose time has come, oldest
// first.
func (s *ScheduledTransferService) ListDue(ctx context.Context, limit int) ([]*domain.ScheduledTransfer, error) {
	return s.store.Schedules().ListDue(ctx, s.now(), limit)
}

// Execute delivers the reservation of a due schedule to its destination.
//
// A lock conflict that survives the retries leaves the schedule PENDING for
// the next poll. Any other failure refunds the reservation and marks the
// schedule FAILED; the original error is returned either way.
func (s *ScheduledTransferService) Execute(ctx context.Context, id uuid.UUID) (*domain.ScheduledTransfer, error) {
	defer s.observe("execute_schedule", time.Now())

	key := "schedule:" + id.String()
	entryID := uuid.New()

	var schedule *domain.ScheduledTransfer
	var entry *domain.LedgerEntry
	var destID int64
	claimed := false
	mutating := false

	err := s.runInTx(ctx, "execute_schedule", func(tx domain.Store) error {
		claimed = false
		mutating = false

		sched, err := tx.Schedules().GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !sched.IsPending() {
			return errors.ErrAlreadySettled.WithDetails("scheduled transfer is " + string(sched.Status))
		}
		claimed = true
		schedule = sched

		dest, err := tx.Accounts().GetByNumber(ctx, sched.ToAccountNumber)
		if err != nil {
			return err
		}
		if dest.ID == sched.FromAccountID {
			return errors.ErrSelfTransfer
		}
		from, to, err := lockPair(ctx, tx, sched.FromAccountID, dest.ID)
		if err != nil {
			return err
		}
		if err := from.EnsureActive("source"); err != nil {
			return err
		}
		if err := to.EnsureActive("destination"); err != nil {
			return err
		}
		if err := s.checkLimit(ctx, tx, from.ID, sched.Amount); err != nil {
			return err
		}

		entry = domain.NewLedgerEntry(domain.EntryTypeTransfer, int64Ptr(from.ID), int64Ptr(to.ID), sched.Amount, sched.Memo, &key)
		entry.ID = entryID
		if err := tx.Ledger().Create(ctx, entry); err != nil {
			return err
		}
		mutating = true

		// The source was debited when the schedule was created.
		if err := to.Credit(sched.Amount); err != nil {
			return err
		}
		if err := tx.Accounts().Save(ctx, to); err != nil {
			return err
		}
		if err := complete(ctx, tx, entry); err != nil {
			return err
		}
		if err := sched.MarkExecuted(entry.ID, s.now()); err != nil {
			return err
		}
		if err := tx.Schedules().Save(ctx, sched); err != nil {
			return err
		}
		destID = to.ID
		return nil
	})

	switch {
	case err == nil:
	case !claimed:
		return nil, err
	case errors.Retryable(err):
		s.logger.Warn("Scheduled transfer left pending after lock conflicts", "schedule_id", id, "error", err)
		return nil, err
	default:
		if mutating {
			s.recordFailure(ctx, entry, err)
		}
		s.fail(ctx, schedule, err)
		return nil, err
	}

	s.metrics.IncrLedgerEntry(string(entry.Type), string(entry.Status))
	s.logger.Info("Scheduled transfer executed", "schedule_id", id, "entry_id", entry.ID)

	now := s.now()
	events := []notify.Event{notify.ScheduledExecuted{
		ScheduleID:    schedule.ID,
		EntryID:       entry.ID,
		FromAccountID: schedule.FromAccountID,
		ToAccountID:   destID,
		Amount:        schedule.Amount,
		At:            now,
	}}
	s.publish(ctx, append(events, s.largeAmount(entry, schedule.FromAccountID, now)...)...)

	return schedule, nil
}

// fail refunds the reservation and marks the schedule FAILED in a unit of
// work of its own. When the refund cannot be written the schedule is still
// marked FAILED and the lost refund is logged for reconciliation.
func (s *ScheduledTransferService) fail(ctx context.Context, schedule *domain.ScheduledTransfer, cause error) {
	ctx = context.WithoutCancel(ctx)
	reason := cause.Error()

	err := s.runInTx(ctx, "refund_schedule", func(tx domain.Store) error {
		sched, err := tx.Schedules().GetByIDForUpdate(ctx, schedule.ID)
		if err != nil {
			return err
		}
		if err := sched.MarkFailed(reason, s.now()); err != nil {
			return err
		}
		source, err := tx.Accounts().GetByIDForUpdate(ctx, sched.FromAccountID)
		if err != nil {
			return err
		}
		if err := source.Credit(sched.Amount); err != nil {
			return err
		}
		if err := tx.Accounts().Save(ctx, source); err != nil {
			return err
		}
		return tx.Schedules().Save(ctx, sched)
	})

	refunded := err == nil
	switch {
	case refunded:
		s.logger.Warn("Scheduled transfer failed, reservation refunded",
			"schedule_id", schedule.ID, "amount", schedule.Amount, "reason", reason)
	case stderrors.Is(err, errors.ErrAlreadySettled):
		return
	default:
		s.logger.Error("Refund of scheduled transfer reservation failed",
			"schedule_id", schedule.ID,
			"from_account_id", schedule.FromAccountID,
			"amount", schedule.Amount,
			"reason", reason,
			"error", err)
		if markErr := s.markFailed(ctx, schedule.ID, reason); markErr != nil {
			s.logger.Error("Failed to mark scheduled transfer as failed", "schedule_id", schedule.ID, "error", markErr)
			return
		}
	}

	s.publish(ctx, notify.ScheduledFailed{
		ScheduleID:    schedule.ID,
		FromAccountID: schedule.FromAccountID,
		Amount:        schedule.Amount,
		Reason:        reason,
		Refunded:      refunded,
		At:            s.now(),
	})
}

func (s *ScheduledTransferService) markFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return s.runInTx(ctx, "mark_schedule_failed", func(tx domain.Store) error {
		sched, err := tx.Schedules().GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := sched.MarkFailed(reason, s.now()); err != nil {
			return err
		}
		return tx.Schedules().Save(ctx, sched)
	})
}
