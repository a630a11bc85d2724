package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/prjktcode/poly-grid-ai/pkg/models"
)

// Event payload schemas. Field order in these structs is the wire contract
// external indexers rely on; do not reorder.

// ItemListedPayload is recorded for listing.created
type ItemListedPayload struct {
	ListingID      uint64          `json:"id"`
	ContentLocator string          `json:"content_locator"`
	Price          decimal.Decimal `json:"price"`
	Seller         string          `json:"seller"`
	Kind           models.ItemKind `json:"kind"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ItemPurchasedPayload is recorded for listing.purchased
type ItemPurchasedPayload struct {
	ListingID uint64          `json:"id"`
	Buyer     string          `json:"buyer"`
	Seller    string          `json:"seller"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// ListingDeactivatedPayload is recorded for listing.deactivated
type ListingDeactivatedPayload struct {
	ListingID     uint64    `json:"id"`
	DeactivatedBy string    `json:"deactivated_by"`
	Timestamp     time.Time `json:"timestamp"`
}

// FeeRateUpdatedPayload is recorded for fee.rate_updated
type FeeRateUpdatedPayload struct {
	OldRateBps int64     `json:"old_rate_bps"`
	NewRateBps int64     `json:"new_rate_bps"`
	UpdatedBy  string    `json:"updated_by"`
	Timestamp  time.Time `json:"timestamp"`
}

// FeeRecipientUpdatedPayload is recorded for fee.recipient_updated
type FeeRecipientUpdatedPayload struct {
	OldRecipient string    `json:"old_recipient"`
	NewRecipient string    `json:"new_recipient"`
	UpdatedBy    string    `json:"updated_by"`
	Timestamp    time.Time `json:"timestamp"`
}

// AdminTransferredPayload is recorded for admin.transferred
type AdminTransferredPayload struct {
	OldAdmin  string    `json:"old_admin"`
	NewAdmin  string    `json:"new_admin"`
	Timestamp time.Time `json:"timestamp"`
}

// AccountMovementPayload is recorded for account.deposited / account.withdrawn
type AccountMovementPayload struct {
	Address   string          `json:"address"`
	Amount    decimal.Decimal `json:"amount"`
	Balance   decimal.Decimal `json:"balance"`
	Timestamp time.Time       `json:"timestamp"`
}

// AccountFreezePayload is recorded for account.frozen / account.unfrozen
type AccountFreezePayload struct {
	Address   string    `json:"address"`
	Admin     string    `json:"admin"`
	Timestamp time.Time `json:"timestamp"`
}
