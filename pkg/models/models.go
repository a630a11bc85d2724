package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ItemKind is the kind of content a listing sells
type ItemKind string

const (
	ItemKindModel   ItemKind = "model"
	ItemKindDataset ItemKind = "dataset"
)

// Valid reports whether the kind is one of the two recognized tags
func (k ItemKind) Valid() bool {
	return k == ItemKindModel || k == ItemKindDataset
}

// Tag returns the numeric wire tag (0 = model, 1 = dataset)
func (k ItemKind) Tag() int {
	if k == ItemKindDataset {
		return 1
	}
	return 0
}

// ParseItemKind accepts either the string name or the numeric wire tag
func ParseItemKind(s string) (ItemKind, bool) {
	switch s {
	case "model", "0":
		return ItemKindModel, true
	case "dataset", "1":
		return ItemKindDataset, true
	}
	return "", false
}

// NormalizeAddress canonicalizes an actor address to its EIP-55 checksummed form.
// Returns false for anything that is not a well-formed hex address.
func NormalizeAddress(s string) (string, bool) {
	if !common.IsHexAddress(s) {
		return "", false
	}
	return common.HexToAddress(s).Hex(), true
}

// ZeroAddress is the all-zero actor address; never a valid recipient or admin
var ZeroAddress = common.Address{}.Hex()

// Listing is a single sell offer recorded by the ledger.
// Ids are assigned by the ledger's own counter (1, 2, 3, ... with no gaps),
// never by the database, so a rolled-back settlement can not burn an id.
type Listing struct {
	ID             uint64          `json:"id" gorm:"primaryKey;autoIncrement:false"`
	ContentLocator string          `json:"content_locator" gorm:"not null" validate:"required"`
	Price          decimal.Decimal `json:"price" gorm:"type:decimal(38,0);not null"`
	Seller         string          `json:"seller" gorm:"index;not null" validate:"required"`
	Kind           ItemKind        `json:"kind" gorm:"index;not null" validate:"required,oneof=model dataset"`
	Active         bool            `json:"active" gorm:"index"`
	PurchasedBy    *string         `json:"purchased_by,omitempty"`
	DeactivatedBy  *string         `json:"deactivated_by,omitempty"`
	SettledAt      *time.Time      `json:"settled_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// FeeSchedule is the singleton fee configuration row.
// Mutated only by the admin; loaded into the ledger at startup.
type FeeSchedule struct {
	ID           uint            `json:"-" gorm:"primaryKey"`
	FeeRateBps   int64           `json:"fee_rate_bps" validate:"min=0"`
	FeeRecipient string          `json:"fee_recipient" validate:"required"`
	Admin        string          `json:"admin" validate:"required"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Account is a custody balance held by the ledger on behalf of an address
type Account struct {
	Address   string          `json:"address" gorm:"primaryKey" validate:"required"`
	Balance   decimal.Decimal `json:"balance" gorm:"type:decimal(38,0);not null"`
	Frozen    bool            `json:"frozen"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// EventType identifies a ledger event in the audit log
type EventType string

const (
	EventListingCreated      EventType = "listing.created"
	EventListingPurchased    EventType = "listing.purchased"
	EventListingDeactivated  EventType = "listing.deactivated"
	EventFeeRateUpdated      EventType = "fee.rate_updated"
	EventFeeRecipientUpdated EventType = "fee.recipient_updated"
	EventAdminTransferred    EventType = "admin.transferred"
	EventAccountDeposited    EventType = "account.deposited"
	EventAccountWithdrawn    EventType = "account.withdrawn"
	EventAccountFrozen       EventType = "account.frozen"
	EventAccountUnfrozen     EventType = "account.unfrozen"
)

// LedgerEvent is one record of the append-only audit log. An event row exists
// iff the state transition it describes committed; it is never updated or deleted.
type LedgerEvent struct {
	Seq       uint64    `json:"seq" gorm:"primaryKey;autoIncrement"`
	ID        uuid.UUID `json:"id" gorm:"type:uuid;uniqueIndex"`
	Type      EventType `json:"type" gorm:"index;not null"`
	ListingID *uint64   `json:"listing_id,omitempty" gorm:"index"`
	Actor     string    `json:"actor" gorm:"index"`
	Payload   []byte    `json:"payload" gorm:"type:jsonb"`
	CreatedAt time.Time `json:"created_at"`
}
