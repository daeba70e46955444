package observability

import "github.com/prometheus/client_golang/prometheus"

// Resolution paths reported by the identity resolver.
const (
	PathFast    = "fast"
	PathRecheck = "recheck"
	PathCreated = "created"
)

var (
	identityResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athena_identity_resolutions_total",
			Help: "Identity resolutions by path and outcome.",
		},
		[]string{"path", "outcome"},
	)

	txRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athena_store_tx_retries_total",
			Help: "Transaction attempts retried after contention, by operation.",
		},
		[]string{"op"},
	)

	ledgerAppends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athena_ledger_appends_total",
			Help: "Ledger appends by platform and outcome.",
		},
		[]string{"platform", "outcome"},
	)

	generations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athena_generations_total",
			Help: "Generative model calls by outcome.",
		},
		[]string{"outcome"},
	)

	generationLat = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "athena_generation_duration_seconds",
			Help:    "Duration of generative model calls in seconds.",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30},
		},
	)

	backfillRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athena_backfill_records_total",
			Help: "Backfill records by result (updated, skipped, already_migrated, failed).",
		},
		[]string{"result"},
	)

	eventsIgnored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athena_events_ignored_total",
			Help: "Inbound chat events dropped before generation, by reason.",
		},
		[]string{"reason"},
	)

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "athena_scheduled_job_runs_total",
			Help: "Scheduled job runs by job and outcome.",
		},
		[]string{"job", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(identityResolutions, txRetries, ledgerAppends,
		generations, generationLat, backfillRecords, eventsIgnored, jobRuns)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveResolution counts one identity resolution.
func ObserveResolution(path string, err error) {
	if path == "" {
		path = "none"
	}
	identityResolutions.WithLabelValues(path, outcome(err)).Inc()
}

// ObserveTxRetry counts one retried transaction attempt for op.
func ObserveTxRetry(op string) { txRetries.WithLabelValues(op).Inc() }

// ObserveLedgerAppend counts one ledger append.
func ObserveLedgerAppend(platform string, err error) {
	ledgerAppends.WithLabelValues(platform, outcome(err)).Inc()
}

// ObserveGeneration records a model call and its latency.
func ObserveGeneration(seconds float64, err error) {
	generations.WithLabelValues(outcome(err)).Inc()
	generationLat.Observe(seconds)
}

// ObserveBackfill adds n records with the given result.
func ObserveBackfill(result string, n int) {
	if n > 0 {
		backfillRecords.WithLabelValues(result).Add(float64(n))
	}
}

// ObserveIgnored counts one dropped inbound event.
func ObserveIgnored(reason string) { eventsIgnored.WithLabelValues(reason).Inc() }

// ObserveJobRun counts one scheduled job run.
func ObserveJobRun(job string, err error) { jobRuns.WithLabelValues(job, outcome(err)).Inc() }
