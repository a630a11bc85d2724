package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/prjktcode/poly-grid-ai/pkg/models"
)

func setupService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.LedgerEvent{}))
	return NewService(db, zap.NewNop(), NopPublisher{}), db
}

func TestRecordTxCommitsWithCaller(t *testing.T) {
	s, db := setupService(t)
	ctx := context.Background()

	id := uint64(7)
	payload := ItemListedPayload{
		ListingID:      id,
		ContentLocator: "ipfs://Qm",
		Price:          decimal.NewFromInt(500),
		Seller:         "0x1111111111111111111111111111111111111111",
		Kind:           models.ItemKindModel,
		Active:         true,
		CreatedAt:      time.Now().UTC(),
	}

	tx := db.Begin()
	event, err := s.RecordTx(ctx, tx, models.EventListingCreated, &id, payload.Seller, payload)
	require.NoError(t, err)
	require.NoError(t, tx.Commit().Error)

	require.NotZero(t, event.Seq)
	var decoded ItemListedPayload
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	require.Equal(t, id, decoded.ListingID)
	require.True(t, decoded.Price.Equal(payload.Price))
}

// An event exists iff its transition committed.
func TestRecordTxRollsBackWithCaller(t *testing.T) {
	s, db := setupService(t)
	ctx := context.Background()

	id := uint64(1)
	tx := db.Begin()
	_, err := s.RecordTx(ctx, tx, models.EventListingDeactivated, &id, "actor", ListingDeactivatedPayload{ListingID: id})
	require.NoError(t, err)
	tx.Rollback()

	recorded, err := s.List(ctx, 0, 10)
	require.NoError(t, err)
	require.Empty(t, recorded)
}

func TestListPagesInSequenceOrder(t *testing.T) {
	s, db := setupService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		id := uint64(i + 1)
		tx := db.Begin()
		_, err := s.RecordTx(ctx, tx, models.EventListingDeactivated, &id, "actor", ListingDeactivatedPayload{ListingID: id})
		require.NoError(t, err)
		require.NoError(t, tx.Commit().Error)
	}

	first, err := s.List(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	rest, err := s.List(ctx, first[2].Seq, 10)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.Greater(t, rest[0].Seq, first[2].Seq)
}

func TestListByListing(t *testing.T) {
	s, db := setupService(t)
	ctx := context.Background()

	for _, id := range []uint64{1, 2, 1} {
		id := id
		tx := db.Begin()
		_, err := s.RecordTx(ctx, tx, models.EventListingDeactivated, &id, "actor", ListingDeactivatedPayload{ListingID: id})
		require.NoError(t, err)
		require.NoError(t, tx.Commit().Error)
	}

	only, err := s.ListByListing(ctx, 1)
	require.NoError(t, err)
	require.Len(t, only, 2)
	for _, e := range only {
		require.Equal(t, uint64(1), *e.ListingID)
	}
}
