// Package metrics holds the prometheus collectors for the consensus engine.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusBlocksApplied  prometheus.Counter
	prometheusBlocksRejected *prometheus.CounterVec
	prometheusBlockApply     prometheus.Histogram
	prometheusChainHeight    prometheus.Gauge
	prometheusTxAdmitted     prometheus.Counter
	prometheusTxRejected     *prometheus.CounterVec
	prometheusMempoolTxs     prometheus.Gauge
	prometheusMempoolBytes   prometheus.Gauge
	prometheusMiningRounds   *prometheus.CounterVec
	prometheusStorageFaults  prometheus.Counter

	// only init the metrics once
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusBlocksApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "consensus",
			Name:      "blocks_applied",
			Help:      "Number of blocks applied to the ledger",
		},
	)
	prometheusBlocksRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "consensus",
			Name:      "blocks_rejected",
			Help:      "Number of blocks rejected by the validator",
		},
		[]string{
			"code", // rejection code
		},
	)
	prometheusBlockApply = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "consensus",
			Name:      "block_apply_seconds",
			Help:      "Time taken to validate and apply a block",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)
	prometheusChainHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "consensus",
			Name:      "chain_height",
			Help:      "Height of the chain tip",
		},
	)
	prometheusTxAdmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "consensus",
			Name:      "mempool_tx_admitted",
			Help:      "Number of transactions admitted to the mempool",
		},
	)
	prometheusTxRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "consensus",
			Name:      "mempool_tx_rejected",
			Help:      "Number of transactions turned away by the mempool",
		},
		[]string{
			"reason", // rejection code or admission rule
		},
	)
	prometheusMempoolTxs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "consensus",
			Name:      "mempool_txs",
			Help:      "Number of transactions in the mempool",
		},
	)
	prometheusMempoolBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "consensus",
			Name:      "mempool_bytes",
			Help:      "Encoded size of the transactions in the mempool",
		},
	)
	prometheusMiningRounds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "consensus",
			Name:      "mining_rounds",
			Help:      "Number of mining rounds by outcome",
		},
		[]string{
			"outcome", // mined, exhausted, cancelled, failed
		},
	)
	prometheusStorageFaults = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "consensus",
			Name:      "storage_faults",
			Help:      "Number of operations that failed on a storage fault",
		},
	)
}

// =============================================================================

// BlockApplied records an accepted block.
func BlockApplied(height uint32, took time.Duration) {
	initPrometheusMetrics()
	prometheusBlocksApplied.Inc()
	prometheusBlockApply.Observe(took.Seconds())
	prometheusChainHeight.Set(float64(height))
}

// BlockRejected records a rejected block by its rejection code.
func BlockRejected(code string) {
	initPrometheusMetrics()
	prometheusBlocksRejected.WithLabelValues(code).Inc()
}

// ChainHeight sets the height of the tip.
func ChainHeight(height uint32) {
	initPrometheusMetrics()
	prometheusChainHeight.Set(float64(height))
}

// TxAdmitted records a transaction entering the mempool.
func TxAdmitted() {
	initPrometheusMetrics()
	prometheusTxAdmitted.Inc()
}

// TxRejected records a transaction turned away by the mempool.
func TxRejected(reason string) {
	initPrometheusMetrics()
	prometheusTxRejected.WithLabelValues(reason).Inc()
}

// Mempool sets the mempool gauges.
func Mempool(count int, bytes int) {
	initPrometheusMetrics()
	prometheusMempoolTxs.Set(float64(count))
	prometheusMempoolBytes.Set(float64(bytes))
}

// MiningRound records the outcome of a mining round.
func MiningRound(outcome string) {
	initPrometheusMetrics()
	prometheusMiningRounds.WithLabelValues(outcome).Inc()
}

// StorageFault records an operation that failed because storage did.
func StorageFault() {
	initPrometheusMetrics()
	prometheusStorageFaults.Inc()
}
