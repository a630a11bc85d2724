// Package ledger owns the marketplace listing table, the fee schedule, and
// purchase settlement. Every state-changing call is serialized behind a single
// mutex and executes in one database transaction: it either fully commits or
// fully rolls back, and the listing id counter only moves on commit.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/prjktcode/poly-grid-ai/internal/events"
	"github.com/prjktcode/poly-grid-ai/pkg/errors"
	"github.com/prjktcode/poly-grid-ai/pkg/metrics"
	"github.com/prjktcode/poly-grid-ai/pkg/models"
)

// feeRateDivisor converts basis points to a fraction (10000 bps = 100%)
var feeRateDivisor = decimal.NewFromInt(10000)

// TransferSink moves custody funds inside the settlement transaction. A
// failing sink aborts and rolls back the whole purchase.
type TransferSink interface {
	Debit(ctx context.Context, tx *gorm.DB, from string, amount decimal.Decimal, memo string) error
	Transfer(ctx context.Context, tx *gorm.DB, to string, amount decimal.Decimal, memo string) error
}

// Config holds the fee schedule policy constants
type Config struct {
	DefaultFeeRateBps int64
	MaxFeeRateBps     int64
	FeeRecipient      string
	Admin             string
}

// Service implements the marketplace ledger
type Service struct {
	mu     sync.Mutex // serializes state-changing calls
	db     *gorm.DB
	logger *zap.Logger
	sink   TransferSink
	events events.Recorder
	cfg    Config

	count atomic.Uint64 // listings ever created; advanced only on commit

	idxMu  sync.RWMutex
	active btree.Set[uint64]

	schedMu  sync.RWMutex
	schedule models.FeeSchedule
}

// NewService creates the ledger and restores its state from the database:
// fee schedule singleton (created on first boot from cfg), id counter from
// MAX(id), and the active listing index replayed from the listing table.
func NewService(db *gorm.DB, logger *zap.Logger, sink TransferSink, recorder events.Recorder, cfg Config) (*Service, error) {
	admin, ok := models.NormalizeAddress(cfg.Admin)
	if !ok || admin == models.ZeroAddress {
		return nil, errors.ErrInvalidAddress.Explain("ledger admin address is missing or malformed: %q", cfg.Admin)
	}
	recipient, ok := models.NormalizeAddress(cfg.FeeRecipient)
	if !ok || recipient == models.ZeroAddress {
		return nil, errors.ErrInvalidRecipient.Explain("fee recipient address is missing or malformed: %q", cfg.FeeRecipient)
	}
	if cfg.DefaultFeeRateBps < 0 || cfg.DefaultFeeRateBps > cfg.MaxFeeRateBps {
		return nil, errors.ErrFeeRateTooHigh.Explain("default fee rate %d bps exceeds cap %d", cfg.DefaultFeeRateBps, cfg.MaxFeeRateBps)
	}
	cfg.Admin = admin
	cfg.FeeRecipient = recipient

	s := &Service{
		db:     db,
		logger: logger,
		sink:   sink,
		events: recorder,
		cfg:    cfg,
	}
	if err := s.restore(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) restore() error {
	var schedule models.FeeSchedule
	err := s.db.First(&schedule).Error
	if err == gorm.ErrRecordNotFound {
		now := time.Now().UTC()
		schedule = models.FeeSchedule{
			FeeRateBps:   s.cfg.DefaultFeeRateBps,
			FeeRecipient: s.cfg.FeeRecipient,
			Admin:        s.cfg.Admin,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.db.Create(&schedule).Error; err != nil {
			return fmt.Errorf("failed to create fee schedule: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to load fee schedule: %w", err)
	}
	s.schedule = schedule

	var maxID int64
	if err := s.db.Model(&models.Listing{}).Select("COALESCE(MAX(id), 0)").Scan(&maxID).Error; err != nil {
		return fmt.Errorf("failed to restore id counter: %w", err)
	}
	s.count.Store(uint64(maxID))

	var activeIDs []uint64
	if err := s.db.Model(&models.Listing{}).Where("active = ?", true).Order("id ASC").Pluck("id", &activeIDs).Error; err != nil {
		return fmt.Errorf("failed to restore active index: %w", err)
	}
	for _, id := range activeIDs {
		s.active.Insert(id)
	}
	metrics.ActiveListings.Set(float64(len(activeIDs)))

	s.logger.Info("ledger state restored",
		zap.Uint64("listing_count", s.count.Load()),
		zap.Int("active_listings", len(activeIDs)),
		zap.Int64("fee_rate_bps", schedule.FeeRateBps))
	return nil
}

// countFailure counts a rejected or rolled-back operation and passes the error through
func countFailure(err error) error {
	var e *errors.Error
	code := "internal"
	if errors.As(err, &e) {
		code = e.Code
		if code == "" {
			code = e.Kind
		}
	}
	metrics.SettlementFailures.WithLabelValues(code).Inc()
	return err
}

// ListItem records a new active listing and returns its id. Ids are assigned
// sequentially with no gaps: the counter advances only after commit.
func (s *Service) ListItem(ctx context.Context, seller, contentLocator string, price decimal.Decimal, kind models.ItemKind) (uint64, error) {
	if inProgress(ctx) {
		return 0, countFailure(errors.ErrReentrantCall.Explain("ListItem re-entered during a state-changing call"))
	}
	ctx = markInProgress(ctx)

	sellerAddr, ok := models.NormalizeAddress(seller)
	if !ok {
		return 0, countFailure(errors.ErrInvalidAddress.Explain("malformed seller address %q", seller))
	}
	if contentLocator == "" {
		return 0, countFailure(errors.ErrInvalidContentLocator.Explain("content locator must not be empty"))
	}
	if !price.IsInteger() || !price.IsPositive() {
		return 0, countFailure(errors.ErrInvalidPrice.Explain("price must be a positive integer number of base units, got %s", price))
	}
	if !kind.Valid() {
		return 0, countFailure(errors.ErrInvalidItemKind.Explain("unrecognized item kind %q", kind))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.count.Load() + 1
	now := time.Now().UTC()
	listing := &models.Listing{
		ID:             id,
		ContentLocator: contentLocator,
		Price:          price,
		Seller:         sellerAddr,
		Kind:           kind,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var created *models.LedgerEvent
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(listing).Error; err != nil {
			return fmt.Errorf("failed to store listing: %w", err)
		}
		payload := events.ItemListedPayload{
			ListingID:      id,
			ContentLocator: contentLocator,
			Price:          price,
			Seller:         sellerAddr,
			Kind:           kind,
			Active:         true,
			CreatedAt:      now,
		}
		event, err := s.events.RecordTx(ctx, tx, models.EventListingCreated, &id, sellerAddr, payload)
		if err != nil {
			return err
		}
		created = event
		return nil
	})
	if err != nil {
		return 0, countFailure(err)
	}

	s.count.Store(id)
	s.idxMu.Lock()
	s.active.Insert(id)
	s.idxMu.Unlock()
	metrics.ListingsCreated.WithLabelValues(string(kind)).Inc()
	metrics.ActiveListings.Inc()
	s.events.PublishCommitted(ctx, []*models.LedgerEvent{created})

	s.logger.Info("listing created",
		zap.Uint64("id", id),
		zap.String("seller", sellerAddr),
		zap.String("kind", string(kind)),
		zap.String("price", price.String()))
	return id, nil
}

// DeactivateListing retires a listing without a purchase. Only the seller or
// the admin may do this; the transition is terminal.
func (s *Service) DeactivateListing(ctx context.Context, caller string, id uint64) error {
	if inProgress(ctx) {
		return countFailure(errors.ErrReentrantCall.Explain("DeactivateListing re-entered during a state-changing call"))
	}
	ctx = markInProgress(ctx)

	callerAddr, ok := models.NormalizeAddress(caller)
	if !ok {
		return countFailure(errors.ErrInvalidAddress.Explain("malformed caller address %q", caller))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var deactivated *models.LedgerEvent
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		listing, err := s.loadListingTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !listing.Active {
			return errors.ErrListingAlreadyInactive.Explain("listing %d is already inactive", id)
		}
		if callerAddr != listing.Seller && callerAddr != s.admin() {
			return errors.Unauthorized.Explain("caller %s is neither seller nor admin of listing %d", callerAddr, id)
		}

		now := time.Now().UTC()
		listing.Active = false
		listing.DeactivatedBy = &callerAddr
		listing.UpdatedAt = now
		if err := tx.Save(listing).Error; err != nil {
			return fmt.Errorf("failed to deactivate listing: %w", err)
		}

		payload := events.ListingDeactivatedPayload{ListingID: id, DeactivatedBy: callerAddr, Timestamp: now}
		event, err := s.events.RecordTx(ctx, tx, models.EventListingDeactivated, &id, callerAddr, payload)
		if err != nil {
			return err
		}
		deactivated = event
		return nil
	})
	if err != nil {
		return countFailure(err)
	}

	s.idxMu.Lock()
	s.active.Delete(id)
	s.idxMu.Unlock()
	metrics.ActiveListings.Dec()
	s.events.PublishCommitted(ctx, []*models.LedgerEvent{deactivated})

	s.logger.Info("listing deactivated", zap.Uint64("id", id), zap.String("by", callerAddr))
	return nil
}

// UpdateFeeRate changes the fee rate. Admin only; capped at cfg.MaxFeeRateBps.
func (s *Service) UpdateFeeRate(ctx context.Context, caller string, newRateBps int64) error {
	if inProgress(ctx) {
		return errors.ErrReentrantCall.Explain("UpdateFeeRate re-entered during a state-changing call")
	}
	ctx = markInProgress(ctx)

	if err := s.RequireAdmin(ctx, caller); err != nil {
		return err
	}
	if newRateBps < 0 || newRateBps > s.cfg.MaxFeeRateBps {
		return errors.ErrFeeRateTooHigh.Explain("fee rate %d bps outside [0, %d]", newRateBps, s.cfg.MaxFeeRateBps)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	oldRate := s.schedule.FeeRateBps
	var updated *models.LedgerEvent
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		if err := tx.Model(&models.FeeSchedule{}).Where("id = ?", s.schedule.ID).
			Updates(map[string]interface{}{"fee_rate_bps": newRateBps, "updated_at": now}).Error; err != nil {
			return fmt.Errorf("failed to update fee rate: %w", err)
		}
		payload := events.FeeRateUpdatedPayload{OldRateBps: oldRate, NewRateBps: newRateBps, UpdatedBy: s.admin(), Timestamp: now}
		event, err := s.events.RecordTx(ctx, tx, models.EventFeeRateUpdated, nil, s.admin(), payload)
		if err != nil {
			return err
		}
		updated = event
		return nil
	})
	if err != nil {
		return err
	}

	s.schedMu.Lock()
	s.schedule.FeeRateBps = newRateBps
	s.schedMu.Unlock()
	s.events.PublishCommitted(ctx, []*models.LedgerEvent{updated})

	s.logger.Info("fee rate updated", zap.Int64("old_bps", oldRate), zap.Int64("new_bps", newRateBps))
	return nil
}

// UpdateFeeRecipient changes where fees are paid. Admin only; never the zero address.
func (s *Service) UpdateFeeRecipient(ctx context.Context, caller, newRecipient string) error {
	if inProgress(ctx) {
		return errors.ErrReentrantCall.Explain("UpdateFeeRecipient re-entered during a state-changing call")
	}
	ctx = markInProgress(ctx)

	if err := s.RequireAdmin(ctx, caller); err != nil {
		return err
	}
	recipient, ok := models.NormalizeAddress(newRecipient)
	if !ok || recipient == models.ZeroAddress {
		return errors.ErrInvalidRecipient.Explain("fee recipient address is missing or malformed: %q", newRecipient)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	oldRecipient := s.schedule.FeeRecipient
	var updated *models.LedgerEvent
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		if err := tx.Model(&models.FeeSchedule{}).Where("id = ?", s.schedule.ID).
			Updates(map[string]interface{}{"fee_recipient": recipient, "updated_at": now}).Error; err != nil {
			return fmt.Errorf("failed to update fee recipient: %w", err)
		}
		payload := events.FeeRecipientUpdatedPayload{OldRecipient: oldRecipient, NewRecipient: recipient, UpdatedBy: s.admin(), Timestamp: now}
		event, err := s.events.RecordTx(ctx, tx, models.EventFeeRecipientUpdated, nil, s.admin(), payload)
		if err != nil {
			return err
		}
		updated = event
		return nil
	})
	if err != nil {
		return err
	}

	s.schedMu.Lock()
	s.schedule.FeeRecipient = recipient
	s.schedMu.Unlock()
	s.events.PublishCommitted(ctx, []*models.LedgerEvent{updated})

	s.logger.Info("fee recipient updated", zap.String("old", oldRecipient), zap.String("new", recipient))
	return nil
}

// TransferAdmin hands the admin role to a new address. Admin only.
func (s *Service) TransferAdmin(ctx context.Context, caller, newAdmin string) error {
	if inProgress(ctx) {
		return errors.ErrReentrantCall.Explain("TransferAdmin re-entered during a state-changing call")
	}
	ctx = markInProgress(ctx)

	if err := s.RequireAdmin(ctx, caller); err != nil {
		return err
	}
	admin, ok := models.NormalizeAddress(newAdmin)
	if !ok || admin == models.ZeroAddress {
		return errors.ErrInvalidAddress.Explain("new admin address is missing or malformed: %q", newAdmin)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	oldAdmin := s.schedule.Admin
	var transferred *models.LedgerEvent
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		if err := tx.Model(&models.FeeSchedule{}).Where("id = ?", s.schedule.ID).
			Updates(map[string]interface{}{"admin": admin, "updated_at": now}).Error; err != nil {
			return fmt.Errorf("failed to transfer admin: %w", err)
		}
		payload := events.AdminTransferredPayload{OldAdmin: oldAdmin, NewAdmin: admin, Timestamp: now}
		event, err := s.events.RecordTx(ctx, tx, models.EventAdminTransferred, nil, oldAdmin, payload)
		if err != nil {
			return err
		}
		transferred = event
		return nil
	})
	if err != nil {
		return err
	}

	s.schedMu.Lock()
	s.schedule.Admin = admin
	s.schedMu.Unlock()
	s.events.PublishCommitted(ctx, []*models.LedgerEvent{transferred})

	s.logger.Info("admin transferred", zap.String("old", oldAdmin), zap.String("new", admin))
	return nil
}

// RequireAdmin fails with Unauthorized unless caller is the current admin
func (s *Service) RequireAdmin(ctx context.Context, caller string) error {
	callerAddr, ok := models.NormalizeAddress(caller)
	if !ok {
		return errors.ErrInvalidAddress.Explain("malformed caller address %q", caller)
	}
	if callerAddr != s.admin() {
		return errors.Unauthorized.Explain("caller %s is not the ledger admin", callerAddr)
	}
	return nil
}

func (s *Service) admin() string {
	s.schedMu.RLock()
	defer s.schedMu.RUnlock()
	return s.schedule.Admin
}

func (s *Service) feeTerms() (int64, string) {
	s.schedMu.RLock()
	defer s.schedMu.RUnlock()
	return s.schedule.FeeRateBps, s.schedule.FeeRecipient
}

// loadListingTx fetches a listing by id with the range check applied first
func (s *Service) loadListingTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.Listing, error) {
	if id == 0 || id > s.count.Load() {
		return nil, errors.ErrInvalidListingID.Explain("listing id %d out of range [1, %d]", id, s.count.Load())
	}
	var listing models.Listing
	if err := tx.WithContext(ctx).First(&listing, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrInvalidListingID.Explain("listing %d not found", id)
		}
		return nil, fmt.Errorf("failed to load listing: %w", err)
	}
	return &listing, nil
}

// inTx runs fn in a single transaction, rolling back on any error or panic
func (s *Service) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
