// Package events owns the append-only ledger event log. Events are written in
// the same database transaction as the state change they record, so an event
// row exists iff its transition committed. Committed events are additionally
// fanned out to Kafka on a best-effort basis for external indexers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/prjktcode/poly-grid-ai/pkg/metrics"
	"github.com/prjktcode/poly-grid-ai/pkg/models"
)

// Recorder is the interface the ledger uses to append events
type Recorder interface {
	RecordTx(ctx context.Context, tx *gorm.DB, eventType models.EventType, listingID *uint64, actor string, payload interface{}) (*models.LedgerEvent, error)
	PublishCommitted(ctx context.Context, events []*models.LedgerEvent)
}

// Service implements Recorder plus the query side of the event log
type Service struct {
	db        *gorm.DB
	logger    *zap.Logger
	publisher Publisher
}

// NewService creates the event log service. publisher may be NopPublisher
// for deployments without Kafka.
func NewService(db *gorm.DB, logger *zap.Logger, publisher Publisher) *Service {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Service{db: db, logger: logger, publisher: publisher}
}

// RecordTx appends one event within the caller's transaction
func (s *Service) RecordTx(ctx context.Context, tx *gorm.DB, eventType models.EventType, listingID *uint64, actor string, payload interface{}) (*models.LedgerEvent, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	event := &models.LedgerEvent{
		ID:        uuid.New(),
		Type:      eventType,
		ListingID: listingID,
		Actor:     actor,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(event).Error; err != nil {
		return nil, fmt.Errorf("failed to record event: %w", err)
	}
	return event, nil
}

// PublishCommitted fans committed events out to the publisher. Failures are
// logged and counted, never surfaced: the DB row is the contract of record.
func (s *Service) PublishCommitted(ctx context.Context, events []*models.LedgerEvent) {
	for _, event := range events {
		if err := s.publisher.Publish(ctx, event); err != nil {
			metrics.EventPublishFailures.Inc()
			s.logger.Error("failed to publish ledger event",
				zap.Uint64("seq", event.Seq),
				zap.String("type", string(event.Type)),
				zap.Error(err))
		}
	}
}

// List pages the event log in sequence order, starting after afterSeq
func (s *Service) List(ctx context.Context, afterSeq uint64, limit int) ([]*models.LedgerEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var out []*models.LedgerEvent
	if err := s.db.WithContext(ctx).
		Where("seq > ?", afterSeq).
		Order("seq ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return out, nil
}

// ListByListing returns every event recorded for one listing, oldest first
func (s *Service) ListByListing(ctx context.Context, listingID uint64) ([]*models.LedgerEvent, error) {
	var out []*models.LedgerEvent
	if err := s.db.WithContext(ctx).
		Where("listing_id = ?", listingID).
		Order("seq ASC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list events for listing %d: %w", listingID, err)
	}
	return out, nil
}
