package service

import (
	stderrors "errors"
	"time"

	"github.com/google/uuid"

	"moneygo/internal/domain"
	"moneygo/internal/errors"
)

func (s *ServiceTestSuite) TestOpenAccount() {
	account, err := s.accounts.OpenAccount(s.ctx, 7, testSecret)
	s.Require().NoError(err)
	s.Regexp(`^1001-\d{4}-\d{4}$`, account.AccountNumber)
	s.True(account.Balance.IsZero())
	s.Equal(domain.AccountStatusActive, account.Status)

	_, err = s.accounts.OpenAccount(s.ctx, 7, testSecret)
	s.True(stderrors.Is(err, errors.ErrDuplicateAccount))

	_, err = s.accounts.OpenAccount(s.ctx, 8, "12")
	s.True(stderrors.Is(err, errors.ErrInvalidInput))

	mine, err := s.accounts.GetMyAccount(s.ctx, 7)
	s.Require().NoError(err)
	s.Equal(account.ID, mine.ID)

	summary, err := s.accounts.GetAccountByNumber(s.ctx, account.AccountNumber)
	s.Require().NoError(err)
	s.Equal(int64(7), summary.OwnerID)
}

func (s *ServiceTestSuite) TestAccountStatusTransitions() {
	a := s.open(1, 1_000)

	frozen, err := s.accounts.Freeze(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Equal(domain.AccountStatusFrozen, frozen.Status)

	active, err := s.accounts.Activate(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Equal(domain.AccountStatusActive, active.Status)

	_, err = s.accounts.Close(s.ctx, a.ID)
	s.True(stderrors.Is(err, errors.ErrInvalidInput), "non-zero balance")

	_, err = s.transfer.AdminWithdraw(s.ctx, MovementRequest{AccountID: a.ID, Amount: amount(1_000)})
	s.Require().NoError(err)
	closed, err := s.accounts.Close(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Equal(domain.AccountStatusClosed, closed.Status)

	_, err = s.accounts.Activate(s.ctx, a.ID)
	s.True(stderrors.Is(err, errors.ErrAccountNotActive))

	_, err = s.accounts.Freeze(s.ctx, 999)
	s.True(stderrors.Is(err, errors.ErrAccountNotFound))
}

func (s *ServiceTestSuite) TestHistoryAndEntryAccess() {
	s.open(1, 10_000)
	b := s.open(2, 0)
	s.open(3, 0)

	result, err := s.transfer.Transfer(s.ctx, TransferRequest{ActorID: 1, ToAccountNumber: b.AccountNumber, Amount: amount(2_500), Secret: testSecret})
	s.Require().NoError(err)

	history, err := s.accounts.History(s.ctx, 2, HistoryQuery{})
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal(result.Entry.ID, history[0].ID)

	entry, err := s.accounts.GetEntry(s.ctx, 2, result.Entry.ID)
	s.Require().NoError(err)
	s.Equal(domain.EntryTypeTransfer, entry.Type)

	_, err = s.accounts.GetEntry(s.ctx, 3, result.Entry.ID)
	s.True(stderrors.Is(err, errors.ErrEntryNotFound))

	_, err = s.accounts.GetEntry(s.ctx, 2, uuid.New())
	s.True(stderrors.Is(err, errors.ErrEntryNotFound))
}

func (s *ServiceTestSuite) TestGetLimit() {
	s.open(1, 2_000_000)
	b := s.open(2, 0)

	_, err := s.transfer.Transfer(s.ctx, TransferRequest{ActorID: 1, ToAccountNumber: b.AccountNumber, Amount: amount(400_000), Secret: testSecret})
	s.Require().NoError(err)

	status, err := s.accounts.GetLimit(s.ctx, 1)
	s.Require().NoError(err)
	s.True(amount(400_000).Equal(status.TodayUsed))
	s.True(amount(2_600_000).Equal(status.Remaining))
	s.Equal("2026-03-10", status.Date)
}

func (s *ServiceTestSuite) TestHistoryFilters() {
	s.open(1, 10_000)
	b := s.open(2, 0)

	_, err := s.transfer.Transfer(s.ctx, TransferRequest{ActorID: 1, ToAccountNumber: b.AccountNumber, Amount: amount(2_500), Secret: testSecret})
	s.Require().NoError(err)

	transfers, err := s.accounts.History(s.ctx, 1, HistoryQuery{Type: domain.EntryTypeTransfer})
	s.Require().NoError(err)
	s.Require().Len(transfers, 1)
	s.Equal(domain.EntryTypeTransfer, transfers[0].Type)

	deposits, err := s.accounts.History(s.ctx, 1, HistoryQuery{Type: domain.EntryTypeDeposit})
	s.Require().NoError(err)
	s.Require().Len(deposits, 1)
	s.Equal("seed", deposits[0].Memo)

	// Entries carry the store's wall-clock creation time.
	today := time.Now().In(s.deps.Options.Location)
	around, err := s.accounts.History(s.ctx, 1, HistoryQuery{From: today.AddDate(0, 0, -1), To: today.AddDate(0, 0, 1)})
	s.Require().NoError(err)
	s.Len(around, 2)

	later, err := s.accounts.History(s.ctx, 1, HistoryQuery{From: today.AddDate(0, 0, 2)})
	s.Require().NoError(err)
	s.Empty(later)

	earlier, err := s.accounts.History(s.ctx, 1, HistoryQuery{To: today.AddDate(0, 0, -2)})
	s.Require().NoError(err)
	s.Empty(earlier)

	_, err = s.accounts.History(s.ctx, 1, HistoryQuery{From: today, To: today.AddDate(0, 0, -1)})
	s.True(stderrors.Is(err, errors.ErrInvalidInput), "got %v", err)
}

func (s *ServiceTestSuite) TestSecretLockAndAdminUnlock() {
	a := s.open(1, 100_000)
	b := s.open(2, 0)

	status, err := s.accounts.SecretStatus(s.ctx, 1)
	s.Require().NoError(err)
	s.True(status.Registered)
	s.False(status.Locked)

	req := TransferRequest{ActorID: 1, ToAccountNumber: b.AccountNumber, Amount: amount(10), Secret: "0000"}
	for i := 0; i < 5; i++ {
		_, err = s.transfer.Transfer(s.ctx, req)
		s.True(stderrors.Is(err, errors.ErrAuthenticationFailed))
	}

	status, err = s.accounts.SecretStatus(s.ctx, 1)
	s.Require().NoError(err)
	s.True(status.Locked)
	s.Equal(0, status.RemainingAttempts)

	err = s.accounts.ChangeSecret(s.ctx, 1, testSecret, "5678")
	s.True(stderrors.Is(err, errors.ErrAuthenticationFailed), "locked secret cannot be changed")

	s.Require().NoError(s.accounts.UnlockSecret(s.ctx, a.ID))
	status, err = s.accounts.SecretStatus(s.ctx, 1)
	s.Require().NoError(err)
	s.False(status.Locked)
	s.Equal(5, status.RemainingAttempts)

	req.Secret = testSecret
	_, err = s.transfer.Transfer(s.ctx, req)
	s.Require().NoError(err)
	s.assertBalance(b.ID, 10)

	err = s.accounts.UnlockSecret(s.ctx, 999)
	s.True(stderrors.Is(err, errors.ErrAccountNotFound))
}

func (s *ServiceTestSuite) TestChangeSecret() {
	s.open(1, 100_000)
	b := s.open(2, 0)

	err := s.accounts.ChangeSecret(s.ctx, 1, "0000", "5678")
	appErr := errors.AsAppError(err)
	s.Require().NotNil(appErr)
	s.Equal(errors.AuthenticationFailed, appErr.Code)
	s.Equal("4", appErr.Meta["remaining_attempts"])

	err = s.accounts.ChangeSecret(s.ctx, 1, testSecret, testSecret)
	s.True(stderrors.Is(err, errors.ErrInvalidInput))

	err = s.accounts.ChangeSecret(s.ctx, 1, testSecret, "12")
	s.True(stderrors.Is(err, errors.ErrInvalidInput), "new secret must be a valid PIN")

	s.Require().NoError(s.accounts.ChangeSecret(s.ctx, 1, testSecret, "5678"))

	_, err = s.transfer.Transfer(s.ctx, TransferRequest{ActorID: 1, ToAccountNumber: b.AccountNumber, Amount: amount(10), Secret: testSecret})
	s.True(stderrors.Is(err, errors.ErrAuthenticationFailed))
	_, err = s.transfer.Transfer(s.ctx, TransferRequest{ActorID: 1, ToAccountNumber: b.AccountNumber, Amount: amount(10), Secret: "5678"})
	s.Require().NoError(err)

	err = s.accounts.ChangeSecret(s.ctx, 42, testSecret, "5678")
	s.True(stderrors.Is(err, errors.ErrAccountNotFound))
}
