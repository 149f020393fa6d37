package service

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"moneygo/internal/domain"
	"moneygo/internal/errors"
	"moneygo/internal/notify"
)

func (s *ServiceTestSuite) TestTransferMovesMoney() {
	a := s.open(1, 500_000)
	b := s.open(2, 0)

	result, err := s.transfer.Transfer(s.ctx, TransferRequest{
		ActorID:         1,
		ToAccountNumber: b.AccountNumber,
		Amount:          amount(120_000),
		Memo:            "rent",
		Secret:          testSecret,
	})

	s.Require().NoError(err)
	s.False(result.Replayed)
	s.Equal(domain.EntryStatusCompleted, result.Entry.Status)
	s.True(amount(380_000).Equal(result.BalanceAfter))
	s.assertBalance(a.ID, 380_000)
	s.assertBalance(b.ID, 120_000)
	s.Equal([]string{notify.EventTransferCompleted}, s.events.names())

	stored, err := s.store.Ledger().GetByID(s.ctx, result.Entry.ID)
	s.Require().NoError(err)
	s.Equal(domain.EntryStatusCompleted, stored.Status)
	s.NotNil(stored.IdempotencyKey)
}

func (s *ServiceTestSuite) TestTransferRejections() {
	a := s.open(1, 100_000)
	b := s.open(2, 0)

	tests := []struct {
		name string
		req  TransferRequest
		want *errors.AppError
	}{
		{
			name: "zero amount",
			req:  TransferRequest{ActorID: 1, ToAccountNumber: b.AccountNumber, Amount: decimal.Zero, Secret: testSecret},
			want: errors.ErrInvalidAmount,
		},
		{
			name: "three decimal places",
			req:  TransferRequest{ActorID: 1, ToAccountNumber: b.AccountNumber, Amount: decimal.RequireFromString("1.005"), Secret: testSecret},
			want: errors.ErrInvalidAmount,
		},
		{
			name: "self transfer",
			req:  TransferRequest{ActorID: 1, ToAccountNumber: a.AccountNumber, Amount: amount(10), Secret: testSecret},
			want: errors.ErrSelfTransfer,
		},
		{
			name: "unknown destination",
			req:  TransferRequest{ActorID: 1, ToAccountNumber: "1001-9999-9999", Amount: amount(10), Secret: testSecret},
			want: errors.ErrAccountNotFound,
		},
		{
			name: "insufficient funds",
			req:  TransferRequest{ActorID: 1, ToAccountNumber: b.AccountNumber, Amount: amount(100_001), Secret: testSecret},
			want: errors.ErrInsufficientFunds,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.transfer.Transfer(s.ctx, tt.req)
			s.True(stderrors.Is(err, tt.want), "got %v", err)
		})
	}

	s.assertBalance(a.ID, 100_000)
	s.assertBalance(b.ID, 0)
	history, err := s.accounts.History(s.ctx, 2, HistoryQuery{})
	s.Require().NoError(err)
	s.Empty(history)
}

func (s *ServiceTestSuite) TestTransferWrongSecretReportsRemainingAttempts() {
	s.open(1, 100_000)
	b := s.open(2, 0)

	req := TransferRequest{ActorID: 1, ToAccountNumber: b.AccountNumber, Amount: amount(10), Secret: "0000"}
	_, err := s.transfer.Transfer(s.ctx, req)

	appErr := errors.AsAppError(err)
	s.Equal(errors.AuthenticationFailed, appErr.Code)
	s.Equal("4", appErr.Meta["remaining_attempts"])

	for i := 0; i < 4; i++ {
		_, err = s.transfer.Transfer(s.ctx, req)
		s.True(stderrors.Is(err, errors.ErrAuthenticationFailed))
	}

	req.Secret = testSecret
	_, err = s.transfer.Transfer(s.ctx, req)
	s.True(stderrors.Is(err, errors.ErrAuthenticationFailed), "credential stays locked after five failures")
	s.assertBalance(b.ID, 0)
}

func (s *ServiceTestSuite) TestTransferToFrozenAccount() {
	a := s.open(1, 100_000)
	b := s.open(2, 0)
	_, err := s.accounts.Freeze(s.ctx, b.ID)
	s.Require().NoError(err)

	_, err = s.transfer.Transfer(s.ctx, TransferRequest{ActorID: 1, ToAccountNumber: b.AccountNumber, Amount: amount(10), Secret: testSecret})

	s.True(stderrors.Is(err, errors.ErrAccountNotActive))
	s.assertBalance(a.ID, 100_000)
}

func (s *ServiceTestSuite) TestTransferLimits() {
	s.open(1, 5_000_000)
	b := s.open(2, 0)

	send := func(v int64) error {
		_, err := s.transfer.Transfer(s.ctx, TransferRequest{ActorID: 1, ToAccountNumber: b.AccountNumber, Amount: amount(v), Secret: testSecret})
		return err
	}

	err := send(1_000_001)
	s.Require().True(stderrors.Is(err, errors.ErrLimitExceeded))
	s.Equal("1000000.00", errors.AsAppError(err).Meta["per_transaction_limit"])

	for i := 0; i < 3; i++ {
		s.Require().NoError(send(1_000_000))
	}

	err = send(1)
	s.Require().True(stderrors.Is(err, errors.ErrLimitExceeded))
	s.Equal("0.00", errors.AsAppError(err).Meta["remaining"])

	// 15:00 UTC is midnight in Seoul.
	s.clock.Advance(15 * time.Hour)
	s.NoError(send(1_000_000))
	s.assertBalance(b.ID, 4_000_000)
}

func (s *ServiceTestSuite) TestTransferIdempotencyReplay() {
	a := s.open(1, 100_000)
	b := s.open(2, 0)
	req := TransferRequest{ActorID: 1, ToAccountNumber: b.AccountNumber, Amount: amount(30_000), Secret: testSecret, IdempotencyKey: "key-1"}

	first, err := s.transfer.Transfer(s.ctx, req)
	s.Require().NoError(err)
	second, err := s.transfer.Transfer(s.ctx, req)
	s.Require().NoError(err)

	s.True(second.Replayed)
	s.Equal(first.Entry.ID, second.Entry.ID)
	s.assertBalance(a.ID, 70_000)
	s.assertBalance(b.ID, 30_000)

	s.open(3, 100_000)
	req.ActorID = 3
	_, err = s.transfer.Transfer(s.ctx, req)
	s.True(stderrors.Is(err, errors.ErrDuplicateRequest), "key owned by another source account")
}

func (s *ServiceTestSuite) TestConcurrentTransfersSameKey() {
	a := s.open(1, 100_000)
	b := s.open(2, 0)
	req := TransferRequest{ActorID: 1, ToAccountNumber: b.AccountNumber, Amount: amount(10_000), Secret: testSecret, IdempotencyKey: "same"}

	var wg sync.WaitGroup
	results := make([]*TransferResult, 5)
	errs := make([]error, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.transfer.Transfer(s.ctx, req)
		}(i)
	}
	wg.Wait()

	for i := range results {
		s.Require().NoError(errs[i])
		s.Equal(results[0].Entry.ID, results[i].Entry.ID)
	}
	s.assertBalance(a.ID, 90_000)
	s.assertBalance(b.ID, 10_000)
}

func (s *ServiceTestSuite) TestConcurrentTransfersConserveBalance() {
	a := s.open(1, 1_000_000)
	b := s.open(2, 0)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.transfer.Transfer(s.ctx, TransferRequest{ActorID: 1, ToAccountNumber: b.AccountNumber, Amount: amount(100_000), Secret: testSecret})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		s.NoError(err)
	}
	s.assertBalance(a.ID, 0)
	s.assertBalance(b.ID, 1_000_000)
}

func (s *ServiceTestSuite) TestOppositeDirectionTransfersDoNotDeadlock() {
	a := s.open(1, 500_000)
	b := s.open(2, 500_000)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.transfer.Transfer(s.ctx, TransferRequest{ActorID: 1, ToAccountNumber: b.AccountNumber, Amount: amount(10_000), Secret: testSecret})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := s.transfer.Transfer(s.ctx, TransferRequest{ActorID: 2, ToAccountNumber: a.AccountNumber, Amount: amount(20_000), Secret: testSecret})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		s.NoError(err)
	}
	s.assertBalance(a.ID, 600_000)
	s.assertBalance(b.ID, 400_000)
}

func (s *ServiceTestSuite) TestMutationFailureWritesFailedEntry() {
	a := s.open(1, 100_000)
	b := s.open(2, 0)

	boom := stderrors.New("disk full")
	faulty := NewTransferService(s.withStore(&faultyStore{Store: s.store, saveErr: boom}))
	req := TransferRequest{ActorID: 1, ToAccountNumber: b.AccountNumber, Amount: amount(5_000), Secret: testSecret, IdempotencyKey: "fails"}

	_, err := faulty.Transfer(s.ctx, req)
	s.Require().ErrorIs(err, boom)

	entry, err := s.store.Ledger().GetByIdempotencyKey(s.ctx, "fails")
	s.Require().NoError(err)
	s.Require().NotNil(entry)
	s.Equal(domain.EntryStatusFailed, entry.Status)
	s.Contains(entry.ErrorMessage, "disk full")
	s.assertBalance(a.ID, 100_000)
	s.assertBalance(b.ID, 0)

	replayed, err := s.transfer.Transfer(s.ctx, req)
	s.Require().NoError(err)
	s.True(replayed.Replayed)
	s.Equal(domain.EntryStatusFailed, replayed.Entry.Status)
	s.assertBalance(a.ID, 100_000)
}

func (s *ServiceTestSuite) TestLargeAmountEvent() {
	s.open(1, 2_000_000)
	b := s.open(2, 0)

	_, err := s.transfer.Transfer(s.ctx, TransferRequest{ActorID: 1, ToAccountNumber: b.AccountNumber, Amount: amount(1_000_000), Secret: testSecret})
	s.Require().NoError(err)

	s.Equal([]string{notify.EventTransferCompleted, notify.EventLargeAmountDetected}, s.events.names())
	large, ok := s.events.last().(notify.LargeAmountDetected)
	s.Require().True(ok)
	s.True(amount(1_000_000).Equal(large.Threshold))
}

func (s *ServiceTestSuite) TestFailingHookDoesNotFailTransfer() {
	a := s.open(1, 100_000)
	b := s.open(2, 0)

	delivered := make(chan notify.Event, 1)
	dispatcher := notify.NewDispatcher(s.deps.Logger, nil, time.Second,
		hook{name: "broken", fn: func(context.Context, notify.Event) error { return stderrors.New("unreachable") }},
		hook{name: "panics", fn: func(context.Context, notify.Event) error { panic("boom") }},
		hook{name: "ok", fn: func(_ context.Context, e notify.Event) error { delivered <- e; return nil }},
	)
	deps := s.deps
	deps.Notifier = dispatcher
	svc := NewTransferService(deps)

	_, err := svc.Transfer(s.ctx, TransferRequest{ActorID: 1, ToAccountNumber: b.AccountNumber, Amount: amount(1_000), Secret: testSecret})
	s.Require().NoError(err)
	dispatcher.Wait()

	s.Equal(notify.EventTransferCompleted, (<-delivered).Name())
	s.assertBalance(a.ID, 99_000)
}

func (s *ServiceTestSuite) TestDepositsAndWithdrawals() {
	a := s.open(1, 0)

	_, err := s.transfer.SelfDeposit(s.ctx, MovementRequest{ActorID: 1, Amount: amount(50_000), Secret: testSecret})
	s.Require().NoError(err)

	result, err := s.transfer.SelfWithdraw(s.ctx, MovementRequest{ActorID: 1, Amount: amount(20_000), Secret: testSecret})
	s.Require().NoError(err)
	s.Equal(domain.EntryTypeWithdraw, result.Entry.Type)
	s.Nil(result.Entry.ToAccountID)
	s.True(amount(30_000).Equal(result.BalanceAfter))

	_, err = s.transfer.SelfWithdraw(s.ctx, MovementRequest{ActorID: 1, Amount: amount(30_001), Secret: testSecret})
	s.True(stderrors.Is(err, errors.ErrInsufficientFunds))

	_, err = s.transfer.SelfDeposit(s.ctx, MovementRequest{ActorID: 1, Amount: amount(10), Secret: "9999"})
	s.True(stderrors.Is(err, errors.ErrAuthenticationFailed))

	_, err = s.transfer.AdminWithdraw(s.ctx, MovementRequest{AccountID: a.ID, Amount: amount(30_000)})
	s.Require().NoError(err)
	s.assertBalance(a.ID, 0)

	history, err := s.accounts.History(s.ctx, 1, HistoryQuery{Limit: 10})
	s.Require().NoError(err)
	s.Len(history, 3)
}

func (s *ServiceTestSuite) TestSelfWithdrawCountsAgainstLimit() {
	s.open(1, 2_000_000)

	_, err := s.transfer.SelfWithdraw(s.ctx, MovementRequest{ActorID: 1, Amount: amount(1_000_001), Secret: testSecret})
	s.True(stderrors.Is(err, errors.ErrLimitExceeded))

	_, err = s.transfer.SelfDeposit(s.ctx, MovementRequest{ActorID: 1, Amount: amount(1_500_000), Secret: testSecret})
	s.NoError(err, "deposits are not limited")
}

func (s *ServiceTestSuite) TestAdminDepositToClosedAccount() {
	a := s.open(1, 0)
	_, err := s.accounts.Close(s.ctx, a.ID)
	s.Require().NoError(err)

	_, err = s.transfer.AdminDeposit(s.ctx, MovementRequest{AccountID: a.ID, Amount: amount(10)})
	s.True(stderrors.Is(err, errors.ErrAccountNotActive))
}

func (s *ServiceTestSuite) TestIdempotencyKeyReusedForDifferentMovement() {
	a := s.open(1, 100_000)
	b := s.open(2, 0)
	c := s.open(3, 0)

	_, err := s.transfer.Transfer(s.ctx, TransferRequest{ActorID: 1, ToAccountNumber: b.AccountNumber, Amount: amount(10_000), Secret: testSecret, IdempotencyKey: "k"})
	s.Require().NoError(err)

	tests := []struct {
		name string
		run  func() (*TransferResult, error)
	}{
		{"admin withdraw", func() (*TransferResult, error) {
			return s.transfer.AdminWithdraw(s.ctx, MovementRequest{AccountID: a.ID, Amount: amount(50_000), IdempotencyKey: "k"})
		}},
		{"self deposit", func() (*TransferResult, error) {
			return s.transfer.SelfDeposit(s.ctx, MovementRequest{ActorID: 1, Amount: amount(10_000), Secret: testSecret, IdempotencyKey: "k"})
		}},
		{"different amount", func() (*TransferResult, error) {
			return s.transfer.Transfer(s.ctx, TransferRequest{ActorID: 1, ToAccountNumber: b.AccountNumber, Amount: amount(20_000), Secret: testSecret, IdempotencyKey: "k"})
		}},
		{"different destination", func() (*TransferResult, error) {
			return s.transfer.Transfer(s.ctx, TransferRequest{ActorID: 1, ToAccountNumber: c.AccountNumber, Amount: amount(10_000), Secret: testSecret, IdempotencyKey: "k"})
		}},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			result, err := tt.run()
			s.Nil(result)
			s.Require().True(stderrors.Is(err, errors.ErrDuplicateRequest), "got %v", err)
			s.Contains(errors.AsAppError(err).Details, "different parameters")
		})
	}

	s.assertBalance(a.ID, 90_000)
	s.assertBalance(b.ID, 10_000)
	s.assertBalance(c.ID, 0)
}

func (s *ServiceTestSuite) TestRequestBoundsCheckedBeforeMutation() {
	a := s.open(1, 100_000)
	b := s.open(2, 0)
	transfer := func(memo, key string, value decimal.Decimal) error {
		_, err := s.transfer.Transfer(s.ctx, TransferRequest{ActorID: 1, ToAccountNumber: b.AccountNumber, Amount: value, Memo: memo, Secret: testSecret, IdempotencyKey: key})
		return err
	}

	err := transfer(strings.Repeat("가", domain.MaxMemoLength+1), "", amount(10))
	s.True(stderrors.Is(err, errors.ErrInvalidInput), "got %v", err)

	err = transfer("", strings.Repeat("k", domain.MaxIdempotencyKeyLength+1), amount(10))
	s.True(stderrors.Is(err, errors.ErrInvalidInput), "got %v", err)

	err = transfer("", "", domain.MaxAmount.Add(amount(1)))
	s.True(stderrors.Is(err, errors.ErrInvalidAmount), "got %v", err)

	_, err = s.qr.Generate(s.ctx, 2, amount(10), strings.Repeat("m", domain.MaxMemoLength+1))
	s.True(stderrors.Is(err, errors.ErrInvalidInput), "got %v", err)

	_, err = s.schedule.Create(s.ctx, CreateScheduleRequest{
		ActorID:         1,
		ToAccountNumber: b.AccountNumber,
		Amount:          amount(10),
		Memo:            strings.Repeat("m", domain.MaxMemoLength+1),
		ScheduledAt:     s.clock.Now().Add(time.Hour),
		Secret:          testSecret,
	})
	s.True(stderrors.Is(err, errors.ErrInvalidInput), "got %v", err)

	s.assertBalance(a.ID, 100_000)

	// Multi-byte memos are measured in characters.
	s.Require().NoError(transfer(strings.Repeat("가", domain.MaxMemoLength), strings.Repeat("k", domain.MaxIdempotencyKeyLength), amount(10)))
	s.assertBalance(b.ID, 10)
}

func (s *ServiceTestSuite) TestDepositCannotOverflowBalance() {
	a := s.open(1, 0)
	_, err := s.transfer.AdminDeposit(s.ctx, MovementRequest{AccountID: a.ID, Amount: domain.MaxAmount})
	s.Require().NoError(err)

	_, err = s.transfer.AdminDeposit(s.ctx, MovementRequest{AccountID: a.ID, Amount: amount(1), IdempotencyKey: "overflow"})
	s.True(stderrors.Is(err, errors.ErrInvalidAmount), "got %v", err)
	s.True(domain.MaxAmount.Equal(s.balance(a.ID)))

	failed, err := s.store.Ledger().GetByIdempotencyKey(s.ctx, "overflow")
	s.Require().NoError(err)
	s.Require().NotNil(failed)
	s.Equal(domain.EntryStatusFailed, failed.Status)
}

type hook struct {
	name string
	fn   func(context.Context, notify.Event) error
}

func (h hook) Name() string                                     { return h.name }
func (h hook) Notify(ctx context.Context, e notify.Event) error { return h.fn(ctx, e) }

func (s *ServiceTestSuite) withStore(store domain.Store) Deps {
	deps := s.deps
	deps.Store = store
	return deps
}

// faultyStore fails every account Save made inside a unit of work.
type faultyStore struct {
	domain.Store
	saveErr error
	inTx    bool
}

func (f *faultyStore) WithTransaction(ctx context.Context, fn func(tx domain.Store) error) error {
	return f.Store.WithTransaction(ctx, func(tx domain.Store) error {
		return fn(&faultyStore{Store: tx, saveErr: f.saveErr, inTx: true})
	})
}

func (f *faultyStore) Accounts() domain.AccountRepository {
	if !f.inTx {
		return f.Store.Accounts()
	}
	return faultyAccounts{AccountRepository: f.Store.Accounts(), err: f.saveErr}
}

type faultyAccounts struct {
	domain.AccountRepository
	err error
}

func (a faultyAccounts) Save(context.Context, *domain.Account) error {
	return a.err
}
