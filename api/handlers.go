package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/prjktcode/poly-grid-ai/internal/ledger"
	"github.com/prjktcode/poly-grid-ai/pkg/errors"
	"github.com/prjktcode/poly-grid-ai/pkg/models"
)

type createListingRequest struct {
	ContentLocator string `json:"content_locator" validate:"required"`
	Price          string `json:"price" validate:"required"`
	Kind           string `json:"kind" validate:"required"`
}

type purchaseRequest struct {
	Payment string `json:"payment" validate:"required"`
}

type feeRateRequest struct {
	RateBps int64 `json:"rate_bps"`
}

type feeRecipientRequest struct {
	Recipient string `json:"recipient" validate:"required"`
}

type transferAdminRequest struct {
	NewAdmin string `json:"new_admin" validate:"required"`
}

type accountAmountRequest struct {
	Amount string `json:"amount" validate:"required"`
}

func (s *Server) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		s.problem(c, errors.InvalidInput.Explain("malformed request body").Wrap(err))
		return false
	}
	if err := s.validator.Struct(req); err != nil {
		s.problem(c, errors.InvalidInput.Explain("invalid request body").Wrap(err))
		return false
	}
	return true
}

func parseAmount(field, raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.InvalidInput.Explain("%s is not a number: %q", field, raw)
	}
	return amount, nil
}

func parseListingID(c *gin.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return 0, errors.ErrInvalidListingID.Explain("listing id must be a positive integer, got %q", c.Param("id"))
	}
	return id, nil
}

// createListing handles POST /listings
func (s *Server) createListing(c *gin.Context) {
	var req createListingRequest
	if !s.bind(c, &req) {
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		s.problem(c, err)
		return
	}
	kind, ok := models.ParseItemKind(req.Kind)
	if !ok {
		s.problem(c, errors.ErrInvalidItemKind.Explain("kind must be model (0) or dataset (1), got %q", req.Kind))
		return
	}

	id, err := s.ledger.ListItem(c.Request.Context(), actor(c), req.ContentLocator, price, kind)
	if err != nil {
		s.problem(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// purchaseListing handles POST /listings/:id/purchase
func (s *Server) purchaseListing(c *gin.Context) {
	id, err := parseListingID(c)
	if err != nil {
		s.problem(c, err)
		return
	}
	var req purchaseRequest
	if !s.bind(c, &req) {
		return
	}
	payment, err := parseAmount("payment", req.Payment)
	if err != nil {
		s.problem(c, err)
		return
	}

	receipt, err := s.ledger.BuyItem(c.Request.Context(), actor(c), id, payment)
	if err != nil {
		s.problem(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// deactivateListing handles POST /listings/:id/deactivate
func (s *Server) deactivateListing(c *gin.Context) {
	id, err := parseListingID(c)
	if err != nil {
		s.problem(c, err)
		return
	}
	if err := s.ledger.DeactivateListing(c.Request.Context(), actor(c), id); err != nil {
		s.problem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "active": false})
}

// getListing handles GET /listings/:id. Terminal records are immutable and
// served through the cache.
func (s *Server) getListing(c *gin.Context) {
	id, err := parseListingID(c)
	if err != nil {
		s.problem(c, err)
		return
	}
	if listing, ok := s.cache.Get(c.Request.Context(), id); ok {
		c.JSON(http.StatusOK, listing)
		return
	}
	listing, err := s.ledger.GetListing(c.Request.Context(), id)
	if err != nil {
		s.problem(c, err)
		return
	}
	if !listing.Active {
		s.cache.Set(c.Request.Context(), listing)
	}
	c.JSON(http.StatusOK, listing)
}

// getActiveListings handles GET /listings
func (s *Server) getActiveListings(c *gin.Context) {
	filter := ledger.ListingFilter{
		Seller: c.Query("seller"),
	}
	if kind := c.Query("kind"); kind != "" {
		parsed, ok := models.ParseItemKind(kind)
		if !ok {
			s.problem(c, errors.ErrInvalidItemKind.Explain("unrecognized item kind %q", kind))
			return
		}
		filter.Kind = parsed
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PerPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "50"))

	listings, err := s.ledger.ActiveListings(c.Request.Context(), filter)
	if err != nil {
		s.problem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings, "page": filter.Page, "per_page": filter.PerPage})
}

// getListingCounts handles GET /listings/count
func (s *Server) getListingCounts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"listing_count": s.ledger.ListingCount(c.Request.Context()),
		"active_count":  s.ledger.ActiveListingsCount(c.Request.Context()),
	})
}

// getSellerListings handles GET /sellers/:address/listings
func (s *Server) getSellerListings(c *gin.Context) {
	listings, err := s.ledger.ListingsBySeller(c.Request.Context(), c.Param("address"))
	if err != nil {
		s.problem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings})
}

// getListingEvents handles GET /listings/:id/events
func (s *Server) getListingEvents(c *gin.Context) {
	id, err := parseListingID(c)
	if err != nil {
		s.problem(c, err)
		return
	}
	events, err := s.events.ListByListing(c.Request.Context(), id)
	if err != nil {
		s.problem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// getEvents handles GET /events, the indexer pull endpoint
func (s *Server) getEvents(c *gin.Context) {
	after, _ := strconv.ParseUint(c.DefaultQuery("after", "0"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := s.events.List(c.Request.Context(), after, limit)
	if err != nil {
		s.problem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// getFeeSchedule handles GET /fees
func (s *Server) getFeeSchedule(c *gin.Context) {
	schedule := s.ledger.FeeSchedule(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"fee_rate_bps":  schedule.FeeRateBps,
		"fee_recipient": schedule.FeeRecipient,
		"admin":         schedule.Admin,
	})
}

// updateFeeRate handles PUT /admin/fees/rate
func (s *Server) updateFeeRate(c *gin.Context) {
	var req feeRateRequest
	if !s.bind(c, &req) {
		return
	}
	if err := s.ledger.UpdateFeeRate(c.Request.Context(), actor(c), req.RateBps); err != nil {
		s.problem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fee_rate_bps": req.RateBps})
}

// updateFeeRecipient handles PUT /admin/fees/recipient
func (s *Server) updateFeeRecipient(c *gin.Context) {
	var req feeRecipientRequest
	if !s.bind(c, &req) {
		return
	}
	if err := s.ledger.UpdateFeeRecipient(c.Request.Context(), actor(c), req.Recipient); err != nil {
		s.problem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fee_recipient": req.Recipient})
}

// transferAdmin handles POST /admin/transfer
func (s *Server) transferAdmin(c *gin.Context) {
	var req transferAdminRequest
	if !s.bind(c, &req) {
		return
	}
	if err := s.ledger.TransferAdmin(c.Request.Context(), actor(c), req.NewAdmin); err != nil {
		s.problem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"admin": req.NewAdmin})
}

// getAccount handles GET /accounts/:address
func (s *Server) getAccount(c *gin.Context) {
	account, err := s.accounts.Get(c.Request.Context(), c.Param("address"))
	if err != nil {
		s.problem(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// depositAccount handles POST /admin/accounts/:address/deposit
func (s *Server) depositAccount(c *gin.Context) {
	s.accountMovement(c, true)
}

// withdrawAccount handles POST /admin/accounts/:address/withdraw
func (s *Server) withdrawAccount(c *gin.Context) {
	s.accountMovement(c, false)
}

func (s *Server) accountMovement(c *gin.Context, deposit bool) {
	if err := s.ledger.RequireAdmin(c.Request.Context(), actor(c)); err != nil {
		s.problem(c, err)
		return
	}
	var req accountAmountRequest
	if !s.bind(c, &req) {
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.problem(c, err)
		return
	}

	var account *models.Account
	if deposit {
		account, err = s.accounts.Deposit(c.Request.Context(), c.Param("address"), amount)
	} else {
		account, err = s.accounts.Withdraw(c.Request.Context(), c.Param("address"), amount)
	}
	if err != nil {
		s.problem(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// freezeAccount handles POST /admin/accounts/:address/freeze
func (s *Server) freezeAccount(c *gin.Context) {
	s.accountFreeze(c, true)
}

// unfreezeAccount handles POST /admin/accounts/:address/unfreeze
func (s *Server) unfreezeAccount(c *gin.Context) {
	s.accountFreeze(c, false)
}

func (s *Server) accountFreeze(c *gin.Context, freeze bool) {
	if err := s.ledger.RequireAdmin(c.Request.Context(), actor(c)); err != nil {
		s.problem(c, err)
		return
	}
	var err error
	if freeze {
		err = s.accounts.Freeze(c.Request.Context(), actor(c), c.Param("address"))
	} else {
		err = s.accounts.Unfreeze(c.Request.Context(), actor(c), c.Param("address"))
	}
	if err != nil {
		s.problem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": c.Param("address"), "frozen": freeze})
}
