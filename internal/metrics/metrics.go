package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Bid admission
	BidsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_bids_total",
			Help: "Bid submissions by outcome",
		},
		[]string{"outcome"}, // "leading", "outbid", "buy_now", "rejected_too_low", ...
	)

	BidLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "auction_bid_admission_seconds",
			Help:    "Time spent admitting a bid, lock wait included",
			Buckets: prometheus.DefBuckets,
		},
	)

	LedgerEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_ledger_entries_total",
			Help: "Ledger entries appended by kind",
		},
		[]string{"kind"},
	)

	LockTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_lock_timeouts_total",
			Help: "Exclusive section waits that ran out of time",
		},
		[]string{"operation"},
	)

	AuctionExtensions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auction_auto_extensions_total",
			Help: "End time extensions granted by the anti-sniping policy",
		},
	)

	// Closer
	Finalizations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_finalizations_total",
			Help: "Closer finalization attempts by result",
		},
		[]string{"result"}, // "sold", "ended", "skipped", "error"
	)

	CloserCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "auction_closer_cycle_seconds",
			Help:    "Duration of one closer scan",
			Buckets: prometheus.DefBuckets,
		},
	)

	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_order_notifications_total",
			Help: "Sold-auction notifications handed to the order initiator by result",
		},
		[]string{"result"},
	)

	IdempotentReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auction_idempotent_replays_total",
			Help: "Bid requests answered from the idempotency cache",
		},
	)
)

// ObserveBid records one bid admission
func ObserveBid(outcome string, start time.Time) {
	BidsTotal.WithLabelValues(outcome).Inc()
	BidLatency.Observe(time.Since(start).Seconds())
}
