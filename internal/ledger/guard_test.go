package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/prjktcode/poly-grid-ai/internal/accounts"
	"github.com/prjktcode/poly-grid-ai/internal/events"
	"github.com/prjktcode/poly-grid-ai/pkg/errors"
	"github.com/prjktcode/poly-grid-ai/pkg/models"
)

// reentrantSink behaves like the custody sink but, on the first seller payout,
// calls back into the ledger the way a malicious transfer target would.
type reentrantSink struct {
	inner     *accounts.Service
	ledger    *Service
	listingID uint64
	attacker  string
	payment   decimal.Decimal

	attempted   bool
	callbackErr error
}

func (r *reentrantSink) Debit(ctx context.Context, tx *gorm.DB, from string, amount decimal.Decimal, memo string) error {
	return r.inner.Debit(ctx, tx, from, amount, memo)
}

func (r *reentrantSink) Transfer(ctx context.Context, tx *gorm.DB, to string, amount decimal.Decimal, memo string) error {
	if !r.attempted {
		r.attempted = true
		_, r.callbackErr = r.ledger.BuyItem(ctx, r.attacker, r.listingID, r.payment)
	}
	return r.inner.Transfer(ctx, tx, to, amount, memo)
}

func TestReentrantPurchaseIsRejected(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Listing{}, &models.FeeSchedule{}, &models.Account{}, &models.LedgerEvent{}))

	logger := zap.NewNop()
	eventsSvc := events.NewService(db, logger, events.NopPublisher{})
	accountsSvc := accounts.NewService(db, logger, eventsSvc)

	sink := &reentrantSink{inner: accountsSvc}
	ledgerSvc, err := NewService(db, logger, sink, eventsSvc, Config{
		DefaultFeeRateBps: 250,
		MaxFeeRateBps:     1000,
		FeeRecipient:      recipientAddr,
		Admin:             adminAddr,
	})
	require.NoError(t, err)
	sink.ledger = ledgerSvc

	ctx := context.Background()
	_, err = accountsSvc.Deposit(ctx, buyerAddr, dec(600))
	require.NoError(t, err)
	_, err = accountsSvc.Deposit(ctx, strangerAddr, dec(600))
	require.NoError(t, err)

	id, err := ledgerSvc.ListItem(ctx, sellerAddr, "ipfs://QmModel", dec(500), models.ItemKindModel)
	require.NoError(t, err)
	sink.listingID = id
	sink.attacker = strangerAddr
	sink.payment = dec(500)

	// The outer purchase succeeds; the nested one is rejected fast.
	receipt, err := ledgerSvc.BuyItem(ctx, buyerAddr, id, dec(600))
	require.NoError(t, err)
	require.True(t, sink.attempted)
	require.ErrorIs(t, sink.callbackErr, errors.Reentrant)

	// No double spend: only the outer settlement moved funds.
	stranger, err := accountsSvc.Get(ctx, strangerAddr)
	require.NoError(t, err)
	require.True(t, stranger.Balance.Equal(dec(600)), "attacker balance changed")
	seller, err := accountsSvc.Get(ctx, sellerAddr)
	require.NoError(t, err)
	require.True(t, seller.Balance.Equal(receipt.SellerAmount))

	listing, err := ledgerSvc.GetListing(ctx, id)
	require.NoError(t, err)
	require.False(t, listing.Active)
	require.Equal(t, buyerAddr, *listing.PurchasedBy)
}

func TestReentrantGuardCoversAllMutators(t *testing.T) {
	f := setup(t)
	ctx := markInProgress(context.Background())

	_, err := f.ledger.ListItem(ctx, sellerAddr, "ipfs://Qm", dec(100), models.ItemKindModel)
	require.ErrorIs(t, err, errors.Reentrant)
	_, err = f.ledger.BuyItem(ctx, buyerAddr, 1, dec(100))
	require.ErrorIs(t, err, errors.Reentrant)
	require.ErrorIs(t, f.ledger.DeactivateListing(ctx, sellerAddr, 1), errors.Reentrant)
	require.ErrorIs(t, f.ledger.UpdateFeeRate(ctx, adminAddr, 100), errors.Reentrant)
	require.ErrorIs(t, f.ledger.UpdateFeeRecipient(ctx, adminAddr, strangerAddr), errors.Reentrant)
	require.ErrorIs(t, f.ledger.TransferAdmin(ctx, adminAddr, strangerAddr), errors.Reentrant)
}
