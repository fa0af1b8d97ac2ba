package metrics

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ruslanbekov/magic-auth/internal/health"
)

var (
	// Auth flow metrics

	MagicLinkRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "magic_link_requests_total",
		Help:      "Magic link requests, by outcome.",
	}, []string{"outcome"})

	MagicLinkVerificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "magic_link_verifications_total",
		Help:      "Magic link verification attempts, by outcome.",
	}, []string{"outcome"})

	RateLimitHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "rate_limit_hits_total",
		Help:      "Requests rejected by a limiter, by limiter kind.",
	}, []string{"limiter"})

	SessionValidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "session_validations_total",
		Help:      "Session validations in the auth middleware, by outcome.",
	}, []string{"outcome"})

	// Maintenance metrics

	TokensSweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "tokens_swept_total",
		Help:      "Expired magic link tokens removed by the sweeper.",
	})

	EventsRotatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "security_events_rotated_total",
		Help:      "Security events archived to cold storage and deleted.",
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "auth",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		MagicLinkRequestsTotal,
		MagicLinkVerificationsTotal,
		RateLimitHitsTotal,
		SessionValidationsTotal,
		TokensSweptTotal,
		EventsRotatedTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// healthChecker is satisfied by *health.Checker.
type healthChecker interface {
	Liveness(ctx context.Context) health.HealthResult
	Readiness(ctx context.Context) health.HealthResult
}

// NewServer serves /metrics plus the liveness/readiness endpoints on the
// internal port.
func NewServer(addr string, checker healthChecker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		result := checker.Readiness(r.Context())
		status := http.StatusOK
		if result.Status != "up" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, result)
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
