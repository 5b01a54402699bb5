// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "solana_curve_indexer"

// States reported by the ingestion state gauge.
var ingestionStates = []string{"idle", "backfilling", "live", "stopped"}

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Chain client metrics
	RPCCallLatency *prometheus.HistogramVec
	RPCCallErrors  *prometheus.CounterVec

	// Fetch metrics
	BlocksFetched *prometheus.CounterVec

	// Decode metrics
	InstructionsDecoded *prometheus.CounterVec
	DecodeErrors        *prometheus.CounterVec

	// Commit metrics
	BlocksCommitted  prometheus.Counter
	CommitFailures   prometheus.Counter
	CommitLatency    prometheus.Histogram
	CurveUpserts     *prometheus.CounterVec
	CommitHookErrors *prometheus.CounterVec

	// Progress metrics
	CheckpointSlot prometheus.Gauge
	ChainTipSlot   prometheus.Gauge
	IngestionState *prometheus.GaugeVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulIngestion prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered on reg.
// A nil reg falls back to the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_errors_total",
			Help:      "Total number of failed Solana RPC calls",
		}, []string{"method"}),

		BlocksFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "blocks_fetched_total",
			Help:      "Total number of block fetches by outcome",
		}, []string{"outcome"}),

		InstructionsDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "instructions_decoded_total",
			Help:      "Total number of decoded domain instructions",
		}, []string{"venue", "kind"}),
		DecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "decode_errors_total",
			Help:      "Total number of instructions that failed to decode",
		}, []string{"venue"}),

		BlocksCommitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "blocks_committed_total",
			Help:      "Total number of blocks committed with their checkpoint",
		}),
		CommitFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "commit_failures_total",
			Help:      "Total number of rolled back block commits",
		}),
		CommitLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "commit_latency_seconds",
			Help:      "Decode and commit latency per block in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		CurveUpserts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "curve",
			Name:      "upserts_total",
			Help:      "Total number of curve state upserts by result",
		}, []string{"result"}),
		CommitHookErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "commit_hook_errors_total",
			Help:      "Total number of failed post-commit hooks",
		}, []string{"hook"}),

		CheckpointSlot: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "checkpoint_slot",
			Help:      "Last committed slot",
		}),
		ChainTipSlot: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "chain_tip_slot",
			Help:      "Latest chain tip slot observed",
		}),
		IngestionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "state",
			Help:      "Current orchestrator state (1 for the active state)",
		}, []string{"state"}),

		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		LastSuccessfulIngestion: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_ingestion_timestamp",
			Help:      "Unix timestamp of last committed block",
		}),
	}
}

// RecordRPC records a chain client call.
func (m *Metrics) RecordRPC(method string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.RPCCallLatency.WithLabelValues(method).Observe(elapsed.Seconds())
	if err != nil {
		m.RPCCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordFetch records a block fetch outcome: "ok", "skipped" or "error".
func (m *Metrics) RecordFetch(outcome string) {
	if m == nil {
		return
	}
	m.BlocksFetched.WithLabelValues(outcome).Inc()
}

// RecordDecoded records n decoded instructions of a venue and kind.
func (m *Metrics) RecordDecoded(venue, kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.InstructionsDecoded.WithLabelValues(venue, kind).Add(float64(n))
}

// RecordDecodeError records an instruction that failed to decode.
func (m *Metrics) RecordDecodeError(venue string) {
	if m == nil {
		return
	}
	m.DecodeErrors.WithLabelValues(venue).Inc()
}

// RecordCommit records a committed block.
func (m *Metrics) RecordCommit(slot uint64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.BlocksCommitted.Inc()
	m.CommitLatency.Observe(elapsed.Seconds())
	m.CheckpointSlot.Set(float64(slot))
	m.LastSuccessfulIngestion.SetToCurrentTime()
}

// RecordCommitFailure records a rolled back block.
func (m *Metrics) RecordCommitFailure() {
	if m == nil {
		return
	}
	m.CommitFailures.Inc()
}

// RecordCurveUpsert records whether a curve update was applied or discarded.
func (m *Metrics) RecordCurveUpsert(applied bool) {
	if m == nil {
		return
	}
	if applied {
		m.CurveUpserts.WithLabelValues("applied").Inc()
		return
	}
	m.CurveUpserts.WithLabelValues("stale").Inc()
}

// RecordHookError records a failed post-commit hook.
func (m *Metrics) RecordHookError(hook string) {
	if m == nil {
		return
	}
	m.CommitHookErrors.WithLabelValues(hook).Inc()
}

// SetTip updates the chain tip gauge.
func (m *Metrics) SetTip(slot uint64) {
	if m == nil {
		return
	}
	m.ChainTipSlot.Set(float64(slot))
}

// SetState marks state as the active orchestrator state.
func (m *Metrics) SetState(state string) {
	if m == nil {
		return
	}
	for _, s := range ingestionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.IngestionState.WithLabelValues(s).Set(v)
	}
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(elapsed.Seconds())
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
