package ledger

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/prjktcode/poly-grid-ai/pkg/errors"
	"github.com/prjktcode/poly-grid-ai/pkg/models"
)

// Read-only views. Reads never take the op mutex: the id counter is atomic,
// the active index has its own RWMutex, and DB reads see committed state.

// ListingFilter narrows ActiveListings
type ListingFilter struct {
	Kind    models.ItemKind
	Seller  string
	Page    int
	PerPage int
}

// GetListing returns the full record for any listing ever created, regardless
// of active state. History is permanent.
func (s *Service) GetListing(ctx context.Context, id uint64) (*models.Listing, error) {
	if id == 0 || id > s.count.Load() {
		return nil, errors.ErrInvalidListingID.Explain("listing id %d out of range [1, %d]", id, s.count.Load())
	}
	var listing models.Listing
	if err := s.db.WithContext(ctx).First(&listing, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrInvalidListingID.Explain("listing %d not found", id)
		}
		return nil, fmt.Errorf("failed to load listing: %w", err)
	}
	return &listing, nil
}

// ListingCount returns the number of listings ever created
func (s *Service) ListingCount(ctx context.Context) uint64 {
	return s.count.Load()
}

// ActiveListingsCount returns how many listings are currently active. Served
// from the in-memory index, which is updated only after a commit and therefore
// always agrees with the per-listing active flags.
func (s *Service) ActiveListingsCount(ctx context.Context) int {
	s.idxMu.RLock()
	defer s.idxMu.RUnlock()
	return s.active.Len()
}

// ActiveListings pages through currently active listings in id order
func (s *Service) ActiveListings(ctx context.Context, filter ListingFilter) ([]*models.Listing, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}

	q := s.db.WithContext(ctx).Where("active = ?", true)
	if filter.Kind != "" {
		if !filter.Kind.Valid() {
			return nil, errors.ErrInvalidItemKind.Explain("unrecognized item kind %q", filter.Kind)
		}
		q = q.Where("kind = ?", filter.Kind)
	}
	if filter.Seller != "" {
		seller, ok := models.NormalizeAddress(filter.Seller)
		if !ok {
			return nil, errors.ErrInvalidAddress.Explain("malformed seller address %q", filter.Seller)
		}
		q = q.Where("seller = ?", seller)
	}

	var out []*models.Listing
	if err := q.Order("id ASC").Limit(perPage).Offset((page - 1) * perPage).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list active listings: %w", err)
	}
	return out, nil
}

// ListingsBySeller returns every listing a seller ever created, any state
func (s *Service) ListingsBySeller(ctx context.Context, seller string) ([]*models.Listing, error) {
	addr, ok := models.NormalizeAddress(seller)
	if !ok {
		return nil, errors.ErrInvalidAddress.Explain("malformed seller address %q", seller)
	}
	var out []*models.Listing
	if err := s.db.WithContext(ctx).Where("seller = ?", addr).Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list seller listings: %w", err)
	}
	return out, nil
}

// FeeSchedule returns the current fee terms
func (s *Service) FeeSchedule(ctx context.Context) models.FeeSchedule {
	s.schedMu.RLock()
	defer s.schedMu.RUnlock()
	return s.schedule
}
