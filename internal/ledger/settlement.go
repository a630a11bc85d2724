package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/prjktcode/poly-grid-ai/internal/events"
	"github.com/prjktcode/poly-grid-ai/pkg/errors"
	"github.com/prjktcode/poly-grid-ai/pkg/metrics"
	"github.com/prjktcode/poly-grid-ai/pkg/models"
)

// Receipt confirms a settled purchase. The recorded listing.purchased event
// remains the contract of record; the receipt is a convenience for the caller.
type Receipt struct {
	ListingID    uint64          `json:"listing_id"`
	Buyer        string          `json:"buyer"`
	Seller       string          `json:"seller"`
	Price        decimal.Decimal `json:"price"`
	Fee          decimal.Decimal `json:"fee"`
	SellerAmount decimal.Decimal `json:"seller_amount"`
	Refund       decimal.Decimal `json:"refund"`
	SettledAt    time.Time       `json:"settled_at"`
	EventSeq     uint64          `json:"event_seq"`
}

// BuyItem settles a purchase atomically: the buyer's payment is debited from
// custody, the listing is marked inactive before any outbound transfer, then
// the seller payout, fee, and overpayment refund move in that order. Any
// failing leg rolls the whole call back, listing state included.
//
// Conservation holds exactly on every success:
//
//	sellerAmount + fee == price
//	payment - refund   == price
func (s *Service) BuyItem(ctx context.Context, buyer string, id uint64, payment decimal.Decimal) (*Receipt, error) {
	if inProgress(ctx) {
		return nil, countFailure(errors.ErrReentrantCall.Explain("BuyItem re-entered during a state-changing call"))
	}
	ctx = markInProgress(ctx)

	buyerAddr, ok := models.NormalizeAddress(buyer)
	if !ok {
		return nil, countFailure(errors.ErrInvalidAddress.Explain("malformed buyer address %q", buyer))
	}
	if !payment.IsInteger() || !payment.IsPositive() {
		return nil, countFailure(errors.ErrInvalidPayment.Explain("payment must be a positive integer number of base units, got %s", payment))
	}

	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	rateBps, feeRecipient := s.feeTerms()

	var receipt *Receipt
	var purchased *models.LedgerEvent
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		listing, err := s.loadListingTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !listing.Active {
			return errors.ErrListingNotActive.Explain("listing %d is not active", id)
		}
		if buyerAddr == listing.Seller {
			return errors.ErrSelfPurchaseForbidden.Explain("seller %s can not buy own listing %d", buyerAddr, id)
		}
		if payment.LessThan(listing.Price) {
			return errors.ErrInsufficientPayment.Explain("payment %s < price %s", payment, listing.Price)
		}

		// Attach the payment: the buyer's custody account funds the settlement.
		if err := s.sink.Debit(ctx, tx, buyerAddr, payment, fmt.Sprintf("purchase listing %d", id)); err != nil {
			if errors.Is(err, errors.TransferFailure) {
				return err
			}
			return errors.ErrBuyerDebitFailed.Wrap(err)
		}

		// Effects before external transfers: the listing leaves the active
		// state before any sink call, so a reentrant BuyItem on the same id
		// observes active == false even if the guard were bypassed.
		now := time.Now().UTC()
		listing.Active = false
		listing.PurchasedBy = &buyerAddr
		listing.SettledAt = &now
		listing.UpdatedAt = now
		if err := tx.Save(listing).Error; err != nil {
			return fmt.Errorf("failed to mark listing purchased: %w", err)
		}

		fee := listing.Price.Mul(decimal.NewFromInt(rateBps)).Div(feeRateDivisor).Floor()
		sellerAmount := listing.Price.Sub(fee)
		refund := payment.Sub(listing.Price)

		if err := s.sink.Transfer(ctx, tx, listing.Seller, sellerAmount, fmt.Sprintf("sale of listing %d", id)); err != nil {
			return errors.ErrSellerTransferFailed.Explain("seller payout for listing %d failed", id).Wrap(err)
		}
		if fee.IsPositive() {
			if err := s.sink.Transfer(ctx, tx, feeRecipient, fee, fmt.Sprintf("fee for listing %d", id)); err != nil {
				return errors.ErrFeeTransferFailed.Explain("fee payout for listing %d failed", id).Wrap(err)
			}
		}
		if refund.IsPositive() {
			if err := s.sink.Transfer(ctx, tx, buyerAddr, refund, fmt.Sprintf("refund for listing %d", id)); err != nil {
				return errors.ErrRefundFailed.Explain("overpayment refund for listing %d failed", id).Wrap(err)
			}
		}

		payload := events.ItemPurchasedPayload{
			ListingID: id,
			Buyer:     buyerAddr,
			Seller:    listing.Seller,
			Price:     listing.Price,
			Timestamp: now,
		}
		event, err := s.events.RecordTx(ctx, tx, models.EventListingPurchased, &id, buyerAddr, payload)
		if err != nil {
			return err
		}

		purchased = event
		receipt = &Receipt{
			ListingID:    id,
			Buyer:        buyerAddr,
			Seller:       listing.Seller,
			Price:        listing.Price,
			Fee:          fee,
			SellerAmount: sellerAmount,
			Refund:       refund,
			SettledAt:    now,
			EventSeq:     event.Seq,
		}
		return nil
	})
	if err != nil {
		return nil, countFailure(err)
	}

	s.idxMu.Lock()
	s.active.Delete(id)
	s.idxMu.Unlock()
	metrics.PurchasesSettled.Inc()
	metrics.ActiveListings.Dec()
	metrics.SettlementLatency.Observe(time.Since(start).Seconds())
	s.events.PublishCommitted(ctx, []*models.LedgerEvent{purchased})

	s.logger.Info("purchase settled",
		zap.Uint64("id", id),
		zap.String("buyer", receipt.Buyer),
		zap.String("seller", receipt.Seller),
		zap.String("price", receipt.Price.String()),
		zap.String("fee", receipt.Fee.String()),
		zap.String("refund", receipt.Refund.String()))
	return receipt, nil
}
