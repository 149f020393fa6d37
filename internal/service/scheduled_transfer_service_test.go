package service

import (
	stderrors "errors"
	"time"

	"moneygo/internal/domain"
	"moneygo/internal/errors"
	"moneygo/internal/notify"
)

func (s *ServiceTestSuite) scheduleTransfer(actor int64, to string, v int64) *domain.ScheduledTransfer {
	schedule, err := s.schedule.Create(s.ctx, CreateScheduleRequest{
		ActorID:         actor,
		ToAccountNumber: to,
		Amount:          amount(v),
		Memo:            "monthly",
		ScheduledAt:     s.clock.Now().Add(time.Hour),
		Secret:          testSecret,
	})
	s.Require().NoError(err)
	return schedule
}

func (s *ServiceTestSuite) TestScheduleReservesAndExecutes() {
	a := s.open(1, 100_000)
	b := s.open(2, 0)

	schedule := s.scheduleTransfer(1, b.AccountNumber, 30_000)
	s.Equal(domain.ScheduleStatusPending, schedule.Status)
	s.assertBalance(a.ID, 70_000)

	due, err := s.schedule.ListDue(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(due)

	s.clock.Advance(2 * time.Hour)
	due, err = s.schedule.ListDue(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(due, 1)
	s.Equal(schedule.ID, due[0].ID)

	executed, err := s.schedule.Execute(s.ctx, schedule.ID)
	s.Require().NoError(err)
	s.Equal(domain.ScheduleStatusExecuted, executed.Status)
	s.Require().NotNil(executed.ExecutedEntryID)
	s.assertBalance(a.ID, 70_000)
	s.assertBalance(b.ID, 30_000)

	entry, err := s.store.Ledger().GetByID(s.ctx, *executed.ExecutedEntryID)
	s.Require().NoError(err)
	s.Equal(domain.EntryStatusCompleted, entry.Status)
	s.Equal("schedule:"+schedule.ID.String(), *entry.IdempotencyKey)
	s.Equal([]string{notify.EventScheduledExecuted}, s.events.names())

	_, err = s.schedule.Execute(s.ctx, schedule.ID)
	s.True(stderrors.Is(err, errors.ErrAlreadySettled))
	s.assertBalance(b.ID, 30_000)
}

func (s *ServiceTestSuite) TestScheduleCancelRefunds() {
	a := s.open(1, 100_000)
	b := s.open(2, 0)
	schedule := s.scheduleTransfer(1, b.AccountNumber, 40_000)

	_, err := s.schedule.Cancel(s.ctx, 2, schedule.ID)
	s.True(stderrors.Is(err, errors.ErrForbidden))
	_, err = s.schedule.Get(s.ctx, 2, schedule.ID)
	s.True(stderrors.Is(err, errors.ErrForbidden))

	cancelled, err := s.schedule.Cancel(s.ctx, 1, schedule.ID)
	s.Require().NoError(err)
	s.Equal(domain.ScheduleStatusCancelled, cancelled.Status)
	s.assertBalance(a.ID, 100_000)

	_, err = s.schedule.Cancel(s.ctx, 1, schedule.ID)
	s.True(stderrors.Is(err, errors.ErrAlreadySettled))
	s.assertBalance(a.ID, 100_000)

	s.clock.Advance(2 * time.Hour)
	_, err = s.schedule.Execute(s.ctx, schedule.ID)
	s.True(stderrors.Is(err, errors.ErrAlreadySettled))
	s.assertBalance(b.ID, 0)
}

func (s *ServiceTestSuite) TestScheduleCreateValidation() {
	s.open(1, 10_000)
	b := s.open(2, 0)

	_, err := s.schedule.Create(s.ctx, CreateScheduleRequest{
		ActorID: 1, ToAccountNumber: b.AccountNumber, Amount: amount(1_000),
		ScheduledAt: s.clock.Now().Add(30 * time.Second), Secret: testSecret,
	})
	s.True(stderrors.Is(err, errors.ErrInvalidInput))

	_, err = s.schedule.Create(s.ctx, CreateScheduleRequest{
		ActorID: 1, ToAccountNumber: b.AccountNumber, Amount: amount(10_001),
		ScheduledAt: s.clock.Now().Add(time.Hour), Secret: testSecret,
	})
	s.True(stderrors.Is(err, errors.ErrInsufficientFunds))

	_, err = s.schedule.Create(s.ctx, CreateScheduleRequest{
		ActorID: 1, ToAccountNumber: b.AccountNumber, Amount: amount(1_000),
		ScheduledAt: s.clock.Now().Add(time.Hour), Secret: "bad!",
	})
	s.True(stderrors.Is(err, errors.ErrAuthenticationFailed))

	list, err := s.schedule.List(s.ctx, 1, 10, 0)
	s.Require().NoError(err)
	s.Empty(list)
}

func (s *ServiceTestSuite) TestScheduleExecutionFailureRefunds() {
	a := s.open(1, 100_000)
	b := s.open(2, 0)
	schedule := s.scheduleTransfer(1, b.AccountNumber, 25_000)

	_, err := s.accounts.Freeze(s.ctx, b.ID)
	s.Require().NoError(err)
	s.clock.Advance(2 * time.Hour)

	_, err = s.schedule.Execute(s.ctx, schedule.ID)
	s.True(stderrors.Is(err, errors.ErrAccountNotActive))

	stored, err := s.schedule.Get(s.ctx, 1, schedule.ID)
	s.Require().NoError(err)
	s.Equal(domain.ScheduleStatusFailed, stored.Status)
	s.Contains(stored.FailureReason, "destination account is FROZEN")
	s.NotNil(stored.ExecutionAttemptedAt)
	s.assertBalance(a.ID, 100_000)

	failed, ok := s.events.last().(notify.ScheduledFailed)
	s.Require().True(ok)
	s.True(failed.Refunded)
}

func (s *ServiceTestSuite) TestScheduleExecutionRechecksLimit() {
	a := s.open(1, 4_000_000)
	b := s.open(2, 0)
	schedule := s.scheduleTransfer(1, b.AccountNumber, 1_000_000)

	for _, v := range []int64{1_000_000, 1_000_000, 500_000} {
		_, err := s.transfer.Transfer(s.ctx, TransferRequest{ActorID: 1, ToAccountNumber: b.AccountNumber, Amount: amount(v), Secret: testSecret})
		s.Require().NoError(err)
	}
	s.clock.Advance(2 * time.Hour)

	_, err := s.schedule.Execute(s.ctx, schedule.ID)
	s.True(stderrors.Is(err, errors.ErrLimitExceeded))
	s.assertBalance(a.ID, 1_500_000)
	s.assertBalance(b.ID, 2_500_000)
}

func (s *ServiceTestSuite) TestScheduleRefundFailureStillMarksFailed() {
	a := s.open(1, 100_000)
	b := s.open(2, 0)
	schedule := s.scheduleTransfer(1, b.AccountNumber, 30_000)
	s.clock.Advance(2 * time.Hour)

	faulty := NewScheduledTransferService(s.withStore(&faultyStore{Store: s.store, saveErr: stderrors.New("disk full")}))
	_, err := faulty.Execute(s.ctx, schedule.ID)
	s.Require().Error(err)

	stored, err := s.store.Schedules().GetByID(s.ctx, schedule.ID)
	s.Require().NoError(err)
	s.Equal(domain.ScheduleStatusFailed, stored.Status)

	entry, err := s.store.Ledger().GetByIdempotencyKey(s.ctx, "schedule:"+schedule.ID.String())
	s.Require().NoError(err)
	s.Require().NotNil(entry)
	s.Equal(domain.EntryStatusFailed, entry.Status)

	failed, ok := s.events.last().(notify.ScheduledFailed)
	s.Require().True(ok)
	s.False(failed.Refunded)
	s.assertBalance(a.ID, 70_000)
	s.assertBalance(b.ID, 0)
}
