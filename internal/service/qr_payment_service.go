package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"moneygo/internal/domain"
	"moneygo/internal/errors"
	"moneygo/internal/notify"
)

const qrCodeAttempts = 5

type QrPaymentService struct {
	*core
}

func NewQrPaymentService(d Deps) *QrPaymentService {
	return &QrPaymentService{core: newCore(d)}
}

// Generate issues a single-use payment request payable to the actor's
// account.
func (s *QrPaymentService) Generate(ctx context.Context, actorID int64, amount decimal.Decimal, memo string) (*domain.QrPayment, error) {
	s.logger.Info("Generating qr payment", "actor_id", actorID, "amount", amount)

	if err := validateMovement(amount, memo, ""); err != nil {
		return nil, err
	}

	seller, err := s.store.Accounts().GetByOwner(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := seller.EnsureActive("seller"); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < qrCodeAttempts; attempt++ {
		now := s.now()
		code := s.newQrCode(now)

		exists, err := s.store.QrPayments().ExistsByCode(ctx, code)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}

		payment := domain.NewQrPayment(seller.ID, amount, memo, code, now.Add(s.opts.QrTTL))
		err = s.store.QrPayments().Create(ctx, payment)
		if err == nil {
			s.logger.Info("Qr payment generated", "qr_code", code, "seller_account_id", seller.ID, "expires_at", payment.ExpiresAt)
			return payment, nil
		}
		if !isDuplicate(err) {
			return nil, err
		}
		s.logger.Warn("Qr code collision, regenerating", "qr_code", code)
	}

	return nil, errors.Internal("could not allocate a qr code", nil)
}

// newQrCode formats QR_<business date>_<random suffix>.
func (s *QrPaymentService) newQrCode(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "QR_" + now.In(s.opts.Location).Format("20060102") + "_" + suffix
}

type RedeemRequest struct {
	ActorID int64
	QrCode  string
	Secret  string
}

type QrRedemption struct {
	Payment      *domain.QrPayment   `json:"payment"`
	Entry        *domain.LedgerEntry `json:"entry"`
	BalanceAfter decimal.Decimal     `json:"balance_after"`
}

// Redeem pays a PENDING QR payment from the actor's account. At most one
// redemption of a code succeeds.
func (s *QrPaymentService) Redeem(ctx context.Context, req RedeemRequest) (*QrRedemption, error) {
	defer s.observe("redeem_qr", time.Now())

	s.logger.Info("Redeeming qr payment", "actor_id", req.ActorID, "qr_code", req.QrCode)

	buyer, err := s.store.Accounts().GetByOwner(ctx, req.ActorID)
	if err != nil {
		return nil, err
	}

	entryID := uuid.New()
	var result *QrRedemption
	var entry *domain.LedgerEntry
	expired := false
	mutating := false

	err = s.runInTx(ctx, "redeem_qr", func(tx domain.Store) error {
		expired = false
		mutating = false

		payment, err := tx.QrPayments().GetByCodeForUpdate(ctx, req.QrCode)
		if err != nil {
			return err
		}
		if !payment.IsPending() {
			return errors.ErrAlreadySettled.WithDetails("qr payment is " + string(payment.Status))
		}
		if payment.IsExpired(s.now()) {
			if err := payment.Expire(); err != nil {
				return err
			}
			expired = true
			return tx.QrPayments().Save(ctx, payment)
		}
		if payment.SellerAccountID == buyer.ID {
			return errors.ErrSelfTransfer
		}

		from, to, err := lockPair(ctx, tx, buyer.ID, payment.SellerAccountID)
		if err != nil {
			return err
		}
		if err := s.verifySecret(ctx, req.ActorID, req.Secret); err != nil {
			return err
		}
		if err := from.EnsureActive("buyer"); err != nil {
			return err
		}
		if err := to.EnsureActive("seller"); err != nil {
			return err
		}
		if !from.HasEnoughBalance(payment.Amount) {
			return errors.ErrInsufficientFunds.WithDetails("balance " + from.Balance.StringFixed(2) + ", requested " + payment.Amount.StringFixed(2))
		}

		entry = domain.NewLedgerEntry(domain.EntryTypeQrPayment, int64Ptr(from.ID), int64Ptr(to.ID), payment.Amount, payment.Memo, nil)
		entry.ID = entryID
		if err := tx.Ledger().Create(ctx, entry); err != nil {
			return err
		}
		mutating = true

		if err := from.Debit(payment.Amount); err != nil {
			return err
		}
		if err := to.Credit(payment.Amount); err != nil {
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
		if err := payment.Complete(entry.ID); err != nil {
			return err
		}
		if err := tx.QrPayments().Save(ctx, payment); err != nil {
			return err
		}

		result = &QrRedemption{Payment: payment, Entry: entry, BalanceAfter: from.Balance}
		return nil
	})

	if err != nil {
		if mutating {
			s.recordFailure(ctx, entry, err)
		}
		s.logger.Warn("Qr payment rejected", "qr_code", req.QrCode, "actor_id", req.ActorID, "error", err)
		return nil, err
	}
	if expired {
		s.logger.Info("Qr payment expired", "qr_code", req.QrCode)
		return nil, errors.ErrExpired.WithDetails("qr payment " + req.QrCode + " expired")
	}

	s.metrics.IncrLedgerEntry(string(entry.Type), string(entry.Status))
	s.logger.Info("Qr payment settled", "qr_code", req.QrCode, "entry_id", entry.ID)

	now := s.now()
	events := []notify.Event{notify.QrSettled{
		QrCode:          req.QrCode,
		EntryID:         entry.ID,
		BuyerAccountID:  buyer.ID,
		SellerAccountID: result.Payment.SellerAccountID,
		Amount:          entry.Amount,
		At:              now,
	}}
	s.publish(ctx, append(events, s.largeAmount(entry, buyer.ID, now)...)...)

	return result, nil
}

// Cancel withdraws a PENDING QR payment. Only its seller may cancel it.
func (s *QrPaymentService) Cancel(ctx context.Context, actorID int64, code string) (*domain.QrPayment, error) {
	seller, err := s.store.Accounts().GetByOwner(ctx, actorID)
	if err != nil {
		return nil, err
	}

	var result *domain.QrPayment
	err = s.runInTx(ctx, "cancel_qr", func(tx domain.Store) error {
		payment, err := tx.QrPayments().GetByCodeForUpdate(ctx, code)
		if err != nil {
			return err
		}
		if payment.SellerAccountID != seller.ID {
			return errors.ErrForbidden.WithDetails("qr payment belongs to another seller")
		}
		if err := payment.Cancel(); err != nil {
			return err
		}
		if err := tx.QrPayments().Save(ctx, payment); err != nil {
			return err
		}
		result = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Qr payment cancelled", "qr_code", code)
	return result, nil
}

func (s *QrPaymentService) Get(ctx context.Context, code string) (*domain.QrPayment, error) {
	return s.store.QrPayments().GetByCode(ctx, code)
}
