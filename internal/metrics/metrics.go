package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AdmissionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "briefcast_admission_outcomes_total",
		Help: "Admission decisions per job type.",
	}, []string{"type", "outcome"}) // outcome: enqueued, skipped, error

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "briefcast_job_transitions_total",
		Help: "Successful job status transitions.",
	}, []string{"from", "to"})

	TransitionConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "briefcast_job_transition_conflicts_total",
		Help: "Conditional updates that lost a race or found a stale status.",
	}, []string{"from", "to"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "briefcast_stage_duration_seconds",
		Help:    "Duration of one stage handler invocation.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"stage", "result"})

	ExternalCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "briefcast_external_calls_total",
		Help: "Calls to generation capabilities and content sources.",
	}, []string{"capability", "result"})

	WatchdogFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "briefcast_watchdog_failures_total",
		Help: "Jobs failed by the watchdog sweep.",
	}, []string{"status"})

	ReconcileActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "briefcast_reconcile_actions_total",
		Help: "Orphaned storage objects handled by the reconciler.",
	}, []string{"prefix", "action"}) // action: relinked, deleted, error
)

// ObserveStage records how long a stage took, labelled by outcome.
func ObserveStage(stage string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	StageDuration.WithLabelValues(stage, result).Observe(time.Since(start).Seconds())
}

// ObserveCall counts one external call.
func ObserveCall(capability string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ExternalCalls.WithLabelValues(capability, result).Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve runs a metrics listener until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("Metrics server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", slog.String("error", err.Error()))
		}
	}()
}
