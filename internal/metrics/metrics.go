// Package metrics exposes this node's Prometheus gauges and counters,
// grounded on the teacher's metrics.go (package-level prometheus vars
// registered in init(), Handler() wrapping promhttp, "p2pool" namespace),
// rewritten to the share-chain core's actual observable state rather than
// stratum/hashrate figures this core no longer produces.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SharechainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "p2pool",
		Name:      "sharechain_height",
		Help:      "Height of the main share-chain tip.",
	})

	SharechainDifficulty = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "p2pool",
		Name:      "sharechain_total_difficulty",
		Help:      "Cumulative difficulty of the main share-chain.",
	})

	UncleCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "p2pool",
		Name:      "sharechain_uncle_count",
		Help:      "Number of tips not on the main chain (uncles) right now.",
	})

	TipChanges = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "p2pool",
		Name:      "sharechain_tip_changes_total",
		Help:      "Total number of times the main-chain tip changed.",
	})

	Reorgs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "p2pool",
		Name:      "sharechain_reorgs_total",
		Help:      "Total number of reorgs applied to the main chain.",
	})

	ReorgDepth = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "p2pool",
		Name:      "sharechain_reorg_depth",
		Help:      "Depth (number of shares) of applied reorgs.",
		Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
	})

	StoreErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "p2pool",
		Name:      "sharechain_store_errors_total",
		Help:      "Total store errors by error kind.",
	}, []string{"kind"})

	SharesAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "p2pool",
		Name:      "shares_accepted_total",
		Help:      "Total shares accepted onto the share-chain.",
	})

	SharesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "p2pool",
		Name:      "shares_rejected_total",
		Help:      "Total shares rejected by the validator, by rejection kind.",
	}, []string{"kind"})

	BlocksFound = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "p2pool",
		Name:      "blocks_found_total",
		Help:      "Total Bitcoin blocks found via an accepted share.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "p2pool",
		Name:      "peers_connected",
		Help:      "Number of connected P2P peers.",
	})

	SyncRoundsInserted = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "p2pool",
		Name:      "sync_round_inserted_shares",
		Help:      "Shares inserted per completed sync round.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
)

func init() {
	prometheus.MustRegister(
		SharechainHeight,
		SharechainDifficulty,
		UncleCount,
		TipChanges,
		Reorgs,
		ReorgDepth,
		StoreErrors,
		SharesAccepted,
		SharesRejected,
		BlocksFound,
		PeersConnected,
		SyncRoundsInserted,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
