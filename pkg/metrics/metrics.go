package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ListingsCreated counts listings created, by item kind (model/dataset)
var ListingsCreated = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "polygrid_listings_created_total",
		Help: "Total number of listings created on the ledger",
	},
	[]string{"kind"},
)

// PurchasesSettled counts successfully settled purchases
var PurchasesSettled = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "polygrid_purchases_settled_total",
		Help: "Total number of purchases settled by the ledger",
	},
)

// SettlementFailures counts failed state-changing calls by failure code
var SettlementFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "polygrid_settlement_failures_total",
		Help: "Total number of rejected or rolled-back ledger operations",
	},
	[]string{"code"},
)

// ActiveListings tracks the number of currently active listings
var ActiveListings = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "polygrid_active_listings",
		Help: "Number of listings currently active",
	},
)

// SettlementLatency records latency distribution for purchase settlement
var SettlementLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "polygrid_settlement_latency_seconds",
		Help:    "Latency in seconds to settle individual purchases",
		Buckets: prometheus.DefBuckets,
	},
)

// EventPublishFailures counts events that could not be fanned out to Kafka
var EventPublishFailures = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "polygrid_event_publish_failures_total",
		Help: "Total number of committed ledger events that failed to publish",
	},
)

// Database connection pool metrics
var (
	DBOpenConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "polygrid_db_open_connections",
			Help: "Number of open connections in the DB pool",
		},
		[]string{"db"},
	)

	DBIdleConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "polygrid_db_idle_connections",
			Help: "Number of idle connections in the DB pool",
		},
		[]string{"db"},
	)

	DBInUseConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "polygrid_db_in_use_connections",
			Help: "Number of in-use connections in the DB pool",
		},
		[]string{"db"},
	)
)

func init() {
	prometheus.MustRegister(ListingsCreated, PurchasesSettled, SettlementFailures, ActiveListings, SettlementLatency, EventPublishFailures)
	prometheus.MustRegister(DBOpenConns, DBIdleConns, DBInUseConns)
}
