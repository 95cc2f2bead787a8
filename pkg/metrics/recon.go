package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 对账业务指标
var (
	DepositTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recon",
		Name:      "deposit_transitions_total",
		Help:      "Deposit status transitions by target status.",
	}, []string{"to"})

	LedgerIngest = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recon",
		Name:      "ledger_ingest_total",
		Help:      "Ledger records seen by ingest, by result (stored/duplicate/dropped/error).",
	}, []string{"result"})

	MatchVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recon",
		Name:      "match_verdicts_total",
		Help:      "Verdicts emitted by the matcher.",
	}, []string{"verdict"})

	Credits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "recon",
		Name:      "credits_total",
		Help:      "Principal balance credits written.",
	})

	GatewayCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recon",
		Name:      "gateway_calls_total",
		Help:      "Calls to the external payment gateway.",
	}, []string{"op", "result"})

	LockConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recon",
		Name:      "lock_conflicts_total",
		Help:      "Lock acquisitions that gave up after retries.",
	}, []string{"scope"})

	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "recon",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of periodic sweep jobs.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"job"})
)
