package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics
var (
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atm_login_attempts_total",
			Help: "Total number of PIN login attempts by outcome",
		},
		[]string{"result"},
	)

	CardLockouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "atm_card_lockouts_total",
			Help: "Total number of cards locked after repeated PIN failures",
		},
	)

	LedgerMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atm_ledger_mutations_total",
			Help: "Total number of deposit and withdrawal requests by outcome",
		},
		[]string{"type", "outcome"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atm_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"route", "method", "status"},
	)
)

// Login outcomes
const (
	LoginOK        = "ok"
	LoginDenied    = "denied"
	LoginThrottled = "throttled"
	LoginError     = "error"
)

// Ledger outcomes
const (
	OutcomeApplied  = "applied"
	OutcomeReplayed = "replayed"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)
