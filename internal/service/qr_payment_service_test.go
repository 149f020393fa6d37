package service

import (
	stderrors "errors"
	"sync"
	"time"

	"moneygo/internal/domain"
	"moneygo/internal/errors"
	"moneygo/internal/notify"
)

func (s *ServiceTestSuite) TestQrGenerateAndRedeem() {
	a := s.open(1, 50_000)
	b := s.open(2, 0)

	payment, err := s.qr.Generate(s.ctx, 2, amount(12_000), "coffee")
	s.Require().NoError(err)
	s.Regexp(`^QR_20260310_[0-9A-F]{8}$`, payment.QrCode)
	s.Equal(s.clock.Now().Add(domain.DefaultQrTTL), payment.ExpiresAt)

	redemption, err := s.qr.Redeem(s.ctx, RedeemRequest{ActorID: 1, QrCode: payment.QrCode, Secret: testSecret})
	s.Require().NoError(err)
	s.Equal(domain.QrPaymentStatusCompleted, redemption.Payment.Status)
	s.Equal(redemption.Entry.ID, *redemption.Payment.EntryID)
	s.Equal(domain.EntryTypeQrPayment, redemption.Entry.Type)
	s.Nil(redemption.Entry.IdempotencyKey)
	s.True(amount(38_000).Equal(redemption.BalanceAfter))
	s.assertBalance(a.ID, 38_000)
	s.assertBalance(b.ID, 12_000)
	s.Equal([]string{notify.EventQrSettled}, s.events.names())

	_, err = s.qr.Redeem(s.ctx, RedeemRequest{ActorID: 1, QrCode: payment.QrCode, Secret: testSecret})
	s.True(stderrors.Is(err, errors.ErrAlreadySettled))
	s.assertBalance(a.ID, 38_000)
}

func (s *ServiceTestSuite) TestQrExpiry() {
	a := s.open(1, 50_000)
	s.open(2, 0)
	payment, err := s.qr.Generate(s.ctx, 2, amount(1_000), "")
	s.Require().NoError(err)

	s.clock.Advance(11 * time.Minute)

	_, err = s.qr.Redeem(s.ctx, RedeemRequest{ActorID: 1, QrCode: payment.QrCode, Secret: testSecret})
	s.True(stderrors.Is(err, errors.ErrExpired))

	stored, err := s.qr.Get(s.ctx, payment.QrCode)
	s.Require().NoError(err)
	s.Equal(domain.QrPaymentStatusExpired, stored.Status)

	_, err = s.qr.Redeem(s.ctx, RedeemRequest{ActorID: 1, QrCode: payment.QrCode, Secret: testSecret})
	s.True(stderrors.Is(err, errors.ErrAlreadySettled))
	s.assertBalance(a.ID, 50_000)
}

func (s *ServiceTestSuite) TestQrRejections() {
	s.open(1, 500)
	s.open(2, 0)
	payment, err := s.qr.Generate(s.ctx, 2, amount(1_000), "")
	s.Require().NoError(err)

	_, err = s.qr.Redeem(s.ctx, RedeemRequest{ActorID: 2, QrCode: payment.QrCode, Secret: testSecret})
	s.True(stderrors.Is(err, errors.ErrSelfTransfer))

	_, err = s.qr.Redeem(s.ctx, RedeemRequest{ActorID: 1, QrCode: payment.QrCode, Secret: testSecret})
	s.True(stderrors.Is(err, errors.ErrInsufficientFunds))

	_, err = s.qr.Redeem(s.ctx, RedeemRequest{ActorID: 1, QrCode: "QR_19700101_00000000", Secret: testSecret})
	s.True(stderrors.Is(err, errors.ErrQrPaymentNotFound))

	stored, err := s.qr.Get(s.ctx, payment.QrCode)
	s.Require().NoError(err)
	s.Equal(domain.QrPaymentStatusPending, stored.Status)

	_, err = s.qr.Generate(s.ctx, 2, amount(-5), "")
	s.True(stderrors.Is(err, errors.ErrInvalidAmount))
}

func (s *ServiceTestSuite) TestQrCancel() {
	s.open(1, 50_000)
	s.open(2, 0)
	payment, err := s.qr.Generate(s.ctx, 2, amount(1_000), "")
	s.Require().NoError(err)

	_, err = s.qr.Cancel(s.ctx, 1, payment.QrCode)
	s.True(stderrors.Is(err, errors.ErrForbidden))

	cancelled, err := s.qr.Cancel(s.ctx, 2, payment.QrCode)
	s.Require().NoError(err)
	s.Equal(domain.QrPaymentStatusCancelled, cancelled.Status)

	_, err = s.qr.Redeem(s.ctx, RedeemRequest{ActorID: 1, QrCode: payment.QrCode, Secret: testSecret})
	s.True(stderrors.Is(err, errors.ErrAlreadySettled))
}

func (s *ServiceTestSuite) TestQrRedeemedOnce() {
	s.open(1, 50_000)
	s.open(3, 50_000)
	b := s.open(2, 0)
	payment, err := s.qr.Generate(s.ctx, 2, amount(10_000), "")
	s.Require().NoError(err)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, buyer := range []int64{1, 3} {
		wg.Add(1)
		go func(buyer int64) {
			defer wg.Done()
			_, err := s.qr.Redeem(s.ctx, RedeemRequest{ActorID: buyer, QrCode: payment.QrCode, Secret: testSecret})
			errs <- err
		}(buyer)
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		s.True(stderrors.Is(err, errors.ErrAlreadySettled))
	}
	s.Equal(1, succeeded)
	s.assertBalance(b.ID, 10_000)
}
