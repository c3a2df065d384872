package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Projector counters and histograms, partitioned by event kind.

var (
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nota_indexer",
		Subsystem: "projector",
		Name:      "events_processed_total",
		Help:      "Total ledger events applied",
	}, []string{"kind"})

	EventErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nota_indexer",
		Subsystem: "projector",
		Name:      "errors_total",
		Help:      "Total event applications that failed with a storage error",
	}, []string{"kind"})

	ApplyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nota_indexer",
		Subsystem: "projector",
		Name:      "apply_duration_seconds",
		Help:      "Per-event application duration",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"kind"})

	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nota_indexer",
		Subsystem: "decoder",
		Name:      "errors_total",
		Help:      "Total raw records dropped as undecodable",
	})

	// Recorded anomalies: re-delivered Writes, Cash/Void for unknown
	// notas, Transfers preceding their Write, clamped decrements.
	DuplicateWrites = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nota_indexer",
		Subsystem: "projector",
		Name:      "duplicate_writes_total",
		Help:      "Total Write events ignored because the nota id already existed",
	})

	DuplicateTransfers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nota_indexer",
		Subsystem: "projector",
		Name:      "duplicate_transfers_total",
		Help:      "Total Transfer events ignored because the nota already had the target owner",
	})

	UnknownNotaEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nota_indexer",
		Subsystem: "projector",
		Name:      "unknown_nota_events_total",
		Help:      "Total Cash/Void events referencing a nota that does not exist",
	}, []string{"kind"})

	OrderingAnomalies = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nota_indexer",
		Subsystem: "projector",
		Name:      "ordering_anomalies_total",
		Help:      "Total Transfer events that preceded their Write (placeholder created)",
	})

	ClampedDecrements = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nota_indexer",
		Subsystem: "projector",
		Name:      "clamped_decrements_total",
		Help:      "Total owned-counter decrements clamped at zero",
	})

	HandshakesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nota_indexer",
		Subsystem: "projector",
		Name:      "handshakes_completed_total",
		Help:      "Total handshakes derived from matching request pairs",
	})

	// Invariant checker
	InvariantRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nota_indexer",
		Subsystem: "invariant",
		Name:      "runs_total",
		Help:      "Total invariant checker passes",
	})

	InvariantViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nota_indexer",
		Subsystem: "invariant",
		Name:      "violations_total",
		Help:      "Total invariant violations detected",
	}, []string{"check"})

	// Source
	SourceRecordsRead = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nota_indexer",
		Subsystem: "source",
		Name:      "records_read_total",
		Help:      "Total raw records read from the event stream",
	})

	SourceReadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nota_indexer",
		Subsystem: "source",
		Name:      "read_errors_total",
		Help:      "Total event stream read failures",
	})

	SourceMalformedValues = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nota_indexer",
		Subsystem: "source",
		Name:      "malformed_values_total",
		Help:      "Total stream entry values that were not strings",
	})

	SourceBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nota_indexer",
		Subsystem: "source",
		Name:      "breaker_state",
		Help:      "Read breaker state (0 closed, 1 open, 2 half-open)",
	})

	// Query-side cache over frozen rows
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nota_indexer",
		Subsystem: "query",
		Name:      "cache_hits_total",
		Help:      "Total cache hits per cache",
	}, []string{"cache"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nota_indexer",
		Subsystem: "query",
		Name:      "cache_misses_total",
		Help:      "Total cache misses per cache, expirations included",
	}, []string{"cache"})

	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nota_indexer",
		Subsystem: "query",
		Name:      "cache_evictions_total",
		Help:      "Total capacity evictions per cache",
	}, []string{"cache"})

	// Alerting
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nota_indexer",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts sent per channel and type",
	}, []string{"channel", "type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nota_indexer",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts suppressed by the cooldown window",
	}, []string{"channel", "type"})

	// Database connection pool
	DBPoolOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nota_indexer",
		Subsystem: "db_pool",
		Name:      "open_connections",
		Help:      "Open database connections",
	})

	DBPoolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nota_indexer",
		Subsystem: "db_pool",
		Name:      "in_use_connections",
		Help:      "Database connections currently in use",
	})

	DBPoolIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nota_indexer",
		Subsystem: "db_pool",
		Name:      "idle_connections",
		Help:      "Idle database connections",
	})

	DBPoolWaitCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nota_indexer",
		Subsystem: "db_pool",
		Name:      "wait_count_total",
		Help:      "Cumulative connections waited for",
	})

	DBPoolWaitDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nota_indexer",
		Subsystem: "db_pool",
		Name:      "wait_duration_seconds",
		Help:      "Cumulative time blocked waiting for a connection",
	})

	// Admin API
	AdminRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nota_indexer",
		Subsystem: "admin",
		Name:      "rate_limited_total",
		Help:      "Total admin API requests rejected by rate limiting",
	}, []string{"endpoint"})
)
