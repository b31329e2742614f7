package policy

import (
	"crypto/sha1"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fleetcore-ai/compass/internal/util"
)

var (
	policyEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_policy_evaluations_total",
			Help: "Admission policy evaluations by outcome",
		},
		[]string{"decision", "mode"},
	)

	policyEvaluationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compass_policy_evaluation_duration_seconds",
			Help:    "Time spent evaluating admission policies",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
		},
		[]string{"mode"},
	)

	policyErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_policy_errors_total",
			Help: "Admission policy evaluation errors",
		},
		[]string{"error_type", "mode"},
	)

	policyDryRunDivergence = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_policy_dry_run_divergence_total",
			Help: "Dry-run evaluations whose outcome differed from allow",
		},
		[]string{"divergence_type"},
	)

	policyFilesLoaded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "compass_policy_files_loaded",
			Help: "Number of policy files currently loaded",
		},
		[]string{"policy_path"},
	)

	policyVersionInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "compass_policy_version_info",
			Help: "Loaded policy bundle version (value always 1)",
		},
		[]string{"policy_path", "version_hash"},
	)

	policyCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_policy_cache_hits_total",
			Help: "Admission decision cache hits",
		},
		[]string{"mode"},
	)

	policyCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_policy_cache_misses_total",
			Help: "Admission decision cache misses",
		},
		[]string{"mode"},
	)

	policyCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "compass_policy_cache_entries",
			Help: "Current number of cached admission decisions",
		},
	)

	policyDenyReasons = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_policy_deny_reasons_total",
			Help: "Admission denials by reason",
		},
		[]string{"reason_hash", "mode", "truncated_reason"},
	)

	policyIterationCaps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_policy_iteration_caps_total",
			Help: "Admissions that carried a policy iteration ceiling",
		},
		[]string{"mode"},
	)
)

func recordEvaluation(decision, mode string) {
	policyEvaluations.WithLabelValues(decision, mode).Inc()
}

func recordEvaluationDuration(mode string, seconds float64) {
	policyEvaluationDuration.WithLabelValues(mode).Observe(seconds)
}

func recordError(errorType, mode string) {
	policyErrors.WithLabelValues(errorType, mode).Inc()
}

func recordDryRunDivergence(divergenceType string) {
	policyDryRunDivergence.WithLabelValues(divergenceType).Inc()
}

func recordPolicyLoad(policyPath string, count int, versionHash string) {
	policyFilesLoaded.WithLabelValues(policyPath).Set(float64(count))
	policyVersionInfo.WithLabelValues(policyPath, versionHash).Set(1)
}

func recordCacheHit(mode string) {
	policyCacheHits.WithLabelValues(mode).Inc()
}

func recordCacheMiss(mode string) {
	policyCacheMisses.WithLabelValues(mode).Inc()
}

func recordCacheSize(size int) {
	policyCacheEntries.Set(float64(size))
}

// recordDenyReason hashes the reason to bound label cardinality while a
// truncated copy keeps dashboards readable.
func recordDenyReason(reason, mode string) {
	h := sha1.Sum([]byte(reason))
	truncated := util.TruncateString(reason, 50, false)
	policyDenyReasons.WithLabelValues(fmt.Sprintf("%x", h[:4]), mode, truncated).Inc()
}

func recordIterationCap(mode string) {
	policyIterationCaps.WithLabelValues(mode).Inc()
}
