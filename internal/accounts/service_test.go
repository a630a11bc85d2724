package accounts

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/prjktcode/poly-grid-ai/internal/events"
	"github.com/prjktcode/poly-grid-ai/pkg/errors"
	"github.com/prjktcode/poly-grid-ai/pkg/models"
)

const (
	testAddr  = "0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa"
	otherAddr = "0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB"
	adminAddr = "0x3333333333333333333333333333333333333333"
)

func setupService(t *testing.T) (*Service, *events.Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Account{}, &models.LedgerEvent{}))
	logger := zap.NewNop()
	eventsSvc := events.NewService(db, logger, events.NopPublisher{})
	return NewService(db, logger, eventsSvc), eventsSvc, db
}

func dec(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func TestGetOrCreate(t *testing.T) {
	s, _, _ := setupService(t)
	ctx := context.Background()

	account, err := s.GetOrCreate(ctx, testAddr)
	require.NoError(t, err)
	require.True(t, account.Balance.IsZero())
	require.False(t, account.Frozen)

	again, err := s.GetOrCreate(ctx, testAddr)
	require.NoError(t, err)
	require.Equal(t, account.Address, again.Address)

	_, err = s.Get(ctx, otherAddr)
	require.ErrorIs(t, err, errors.ErrAccountNotFound)

	_, err = s.GetOrCreate(ctx, "junk")
	require.ErrorIs(t, err, errors.ErrInvalidAddress)
}

func TestDepositWithdraw(t *testing.T) {
	s, eventsSvc, _ := setupService(t)
	ctx := context.Background()

	account, err := s.Deposit(ctx, testAddr, dec(1000))
	require.NoError(t, err)
	require.True(t, account.Balance.Equal(dec(1000)))

	account, err = s.Withdraw(ctx, testAddr, dec(400))
	require.NoError(t, err)
	require.True(t, account.Balance.Equal(dec(600)))

	_, err = s.Withdraw(ctx, testAddr, dec(601))
	require.ErrorIs(t, err, errors.ErrInsufficientFunds)

	_, err = s.Deposit(ctx, testAddr, dec(-5))
	require.ErrorIs(t, err, errors.ErrInvalidAmount)
	_, err = s.Deposit(ctx, testAddr, decimal.NewFromFloat(1.5))
	require.ErrorIs(t, err, errors.ErrInvalidAmount)

	// Both successful movements hit the event log.
	recorded, err := eventsSvc.List(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, recorded, 2)
	require.Equal(t, models.EventAccountDeposited, recorded[0].Type)
	require.Equal(t, models.EventAccountWithdrawn, recorded[1].Type)
}

func TestFreezeBlocksMovement(t *testing.T) {
	s, _, db := setupService(t)
	ctx := context.Background()

	_, err := s.Deposit(ctx, testAddr, dec(1000))
	require.NoError(t, err)

	require.NoError(t, s.Freeze(ctx, adminAddr, testAddr))
	require.ErrorIs(t, s.Freeze(ctx, adminAddr, testAddr), errors.StateConflict)

	_, err = s.Withdraw(ctx, testAddr, dec(100))
	require.ErrorIs(t, err, errors.ErrAccountFrozen)
	_, err = s.Deposit(ctx, testAddr, dec(100))
	require.ErrorIs(t, err, errors.ErrAccountFrozen)

	// Transaction-scoped legs respect the hold too.
	tx := db.Begin()
	require.ErrorIs(t, s.DebitTx(ctx, tx, mustNormalize(t, testAddr), dec(10)), errors.ErrAccountFrozen)
	require.ErrorIs(t, s.CreditTx(ctx, tx, mustNormalize(t, testAddr), dec(10)), errors.ErrAccountFrozen)
	tx.Rollback()

	require.NoError(t, s.Unfreeze(ctx, adminAddr, testAddr))
	_, err = s.Withdraw(ctx, testAddr, dec(100))
	require.NoError(t, err)
}

func TestTransferSinkLegs(t *testing.T) {
	s, _, db := setupService(t)
	ctx := context.Background()

	_, err := s.Deposit(ctx, testAddr, dec(500))
	require.NoError(t, err)

	from := mustNormalize(t, testAddr)
	to := mustNormalize(t, otherAddr)

	tx := db.Begin()
	require.NoError(t, s.Debit(ctx, tx, from, dec(200), "test debit"))
	// Crediting an address with no account creates it.
	require.NoError(t, s.Transfer(ctx, tx, to, dec(200), "test credit"))
	require.NoError(t, tx.Commit().Error)

	fromAccount, err := s.Get(ctx, from)
	require.NoError(t, err)
	require.True(t, fromAccount.Balance.Equal(dec(300)))
	toAccount, err := s.Get(ctx, to)
	require.NoError(t, err)
	require.True(t, toAccount.Balance.Equal(dec(200)))

	// A rolled-back transaction leaves no trace.
	tx = db.Begin()
	require.NoError(t, s.Debit(ctx, tx, from, dec(300), "doomed"))
	tx.Rollback()
	fromAccount, err = s.Get(ctx, from)
	require.NoError(t, err)
	require.True(t, fromAccount.Balance.Equal(dec(300)))
}

func mustNormalize(t *testing.T, s string) string {
	t.Helper()
	addr, ok := models.NormalizeAddress(s)
	require.True(t, ok)
	return addr
}
