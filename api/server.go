// Package api exposes the ledger to its external collaborators (frontend,
// indexers) over HTTP/JSON. The API is a thin boundary: actor identity and
// request shape are established here, every invariant lives in the ledger.
package api

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	limiter "github.com/ulule/limiter/v3"
	ginlimiter "github.com/ulule/limiter/v3/drivers/middleware/gin"
	memory "github.com/ulule/limiter/v3/drivers/store/memory"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/prjktcode/poly-grid-ai/internal/cache"
	"github.com/prjktcode/poly-grid-ai/internal/ledger"
	"github.com/prjktcode/poly-grid-ai/pkg/models"
)

// Ledger is the surface of the ledger service the API consumes
type Ledger interface {
	ListItem(ctx context.Context, seller, contentLocator string, price decimal.Decimal, kind models.ItemKind) (uint64, error)
	BuyItem(ctx context.Context, buyer string, id uint64, payment decimal.Decimal) (*ledger.Receipt, error)
	DeactivateListing(ctx context.Context, caller string, id uint64) error
	UpdateFeeRate(ctx context.Context, caller string, newRateBps int64) error
	UpdateFeeRecipient(ctx context.Context, caller, newRecipient string) error
	TransferAdmin(ctx context.Context, caller, newAdmin string) error
	RequireAdmin(ctx context.Context, caller string) error
	GetListing(ctx context.Context, id uint64) (*models.Listing, error)
	ListingCount(ctx context.Context) uint64
	ActiveListingsCount(ctx context.Context) int
	ActiveListings(ctx context.Context, filter ledger.ListingFilter) ([]*models.Listing, error)
	ListingsBySeller(ctx context.Context, seller string) ([]*models.Listing, error)
	FeeSchedule(ctx context.Context) models.FeeSchedule
}

// Accounts is the surface of the custody service the API consumes
type Accounts interface {
	Get(ctx context.Context, address string) (*models.Account, error)
	GetOrCreate(ctx context.Context, address string) (*models.Account, error)
	Deposit(ctx context.Context, address string, amount decimal.Decimal) (*models.Account, error)
	Withdraw(ctx context.Context, address string, amount decimal.Decimal) (*models.Account, error)
	Freeze(ctx context.Context, admin, address string) error
	Unfreeze(ctx context.Context, admin, address string) error
}

// Events is the query surface of the event log
type Events interface {
	List(ctx context.Context, afterSeq uint64, limit int) ([]*models.LedgerEvent, error)
	ListByListing(ctx context.Context, listingID uint64) ([]*models.LedgerEvent, error)
}

// Config holds API-level settings
type Config struct {
	// AuthMode is "header" (trusted gateway header) or "signature" (ECDSA recovery)
	AuthMode       string
	RateLimit      string
	AllowedOrigins []string
}

// Server represents the API server
type Server struct {
	router      *gin.Engine
	logger      *zap.Logger
	ledger      Ledger
	accounts    Accounts
	events      Events
	cache       cache.ListingCache
	validator   *validator.Validate
	rateLimiter gin.HandlerFunc
	cfg         Config
}

// NewServer creates a new API server with injected service interfaces
func NewServer(logger *zap.Logger, ledgerSvc Ledger, accountsSvc Accounts, eventsSvc Events, listingCache cache.ListingCache, cfg Config) *Server {
	if listingCache == nil {
		listingCache = cache.NopCache{}
	}
	if cfg.AuthMode == "" {
		cfg.AuthMode = "header"
	}
	if cfg.RateLimit == "" {
		cfg.RateLimit = "100-M"
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	server := &Server{
		logger:   logger,
		ledger:   ledgerSvc,
		accounts: accountsSvc,
		events:   eventsSvc,
		cache:    listingCache,
		cfg:      cfg,
	}

	// Create router
	router := gin.New()

	// Add middleware
	router.Use(requestID())
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(otelgin.Middleware("polygrid-api"))

	// Configure CORS
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Actor-Address", "X-Actor-Signature"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Rate limiter
	store := memory.NewStore()
	rate, _ := limiter.NewRateFromFormatted(cfg.RateLimit)
	server.rateLimiter = ginlimiter.NewMiddleware(limiter.New(store, rate))
	server.validator = validator.New()
	server.router = router
	server.registerRoutes()
	return server
}

// Start starts the API server
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Router returns the internal Gin engine for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// registerRoutes registers all API routes
func (s *Server) registerRoutes() {
	v1 := s.router.Group("/api/v1")
	v1.Use(s.rateLimiter)

	// Observability
	v1.GET("/metrics", gin.WrapH(promhttp.Handler()))
	v1.GET("/health", s.healthCheck)

	// Read-only views need no actor identity
	v1.GET("/listings", s.getActiveListings)
	v1.GET("/listings/count", s.getListingCounts)
	v1.GET("/listings/:id", s.getListing)
	v1.GET("/listings/:id/events", s.getListingEvents)
	v1.GET("/sellers/:address/listings", s.getSellerListings)
	v1.GET("/fees", s.getFeeSchedule)
	v1.GET("/accounts/:address", s.getAccount)
	v1.GET("/events", s.getEvents)

	// State-changing operations carry the calling actor's identity
	acting := v1.Group("")
	acting.Use(s.actorIdentity())
	{
		acting.POST("/listings", s.createListing)
		acting.POST("/listings/:id/purchase", s.purchaseListing)
		acting.POST("/listings/:id/deactivate", s.deactivateListing)

		admin := acting.Group("/admin")
		{
			admin.PUT("/fees/rate", s.updateFeeRate)
			admin.PUT("/fees/recipient", s.updateFeeRecipient)
			admin.POST("/transfer", s.transferAdmin)
			admin.POST("/accounts/:address/deposit", s.depositAccount)
			admin.POST("/accounts/:address/withdraw", s.withdrawAccount)
			admin.POST("/accounts/:address/freeze", s.freezeAccount)
			admin.POST("/accounts/:address/unfreeze", s.unfreezeAccount)
		}
	}
}

// healthCheck handles the health check endpoint
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}
