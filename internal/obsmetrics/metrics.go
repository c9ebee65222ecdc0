// Package obsmetrics defines the Prometheus metric descriptors for the
// Process Triage pipeline, registered on a dedicated registry so that
// embedding this module in a larger process never collides with its
// metrics.
//
// Metric naming convention: proctriage_<subsystem>_<name>_<unit>.
// PID is never used as a label (unbounded cardinality); per-candidate
// detail belongs in session artifacts, not metrics.
package obsmetrics

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// Metrics holds every metric descriptor emitted by the pipeline.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Collector ───────────────────────────────────────────────────────────
	ScanDuration      *prometheus.HistogramVec // labels: scan_depth (quick, deep)
	ScanProcessCount  prometheus.Gauge
	ProbeTimeoutsTotal *prometheus.CounterVec // labels: probe

	// ─── Inference ───────────────────────────────────────────────────────────
	PosteriorClassTotal *prometheus.CounterVec // labels: class
	BayesFactorBucket   *prometheus.CounterVec // labels: bucket
	ChangePointsTotal   prometheus.Counter

	// ─── Decision ────────────────────────────────────────────────────────────
	GateBlockedTotal   *prometheus.CounterVec // labels: gate
	ActionsPlannedTotal *prometheus.CounterVec // labels: action
	FDRWealth          prometheus.Gauge

	// ─── Executor ────────────────────────────────────────────────────────────
	ExecStepsTotal    *prometheus.CounterVec // labels: step, outcome
	IdentityMismatchTotal prometheus.Counter

	// ─── Session ─────────────────────────────────────────────────────────────
	SessionWriteLatency prometheus.Histogram
	SessionsActive      prometheus.Gauge

	startTime time.Time
}

// New creates and registers every Process Triage metric on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		ScanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "proctriage",
			Subsystem: "collector",
			Name:      "scan_duration_seconds",
			Help:      "Wall-clock duration of a quick or deep collection scan.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"scan_depth"}),

		ScanProcessCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "proctriage",
			Subsystem: "collector",
			Name:      "scan_process_count",
			Help:      "Number of processes observed in the most recent scan.",
		}),

		ProbeTimeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proctriage",
			Subsystem: "collector",
			Name:      "probe_timeouts_total",
			Help:      "Total probe invocations that exceeded their deadline.",
		}, []string{"probe"}),

		PosteriorClassTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proctriage",
			Subsystem: "inference",
			Name:      "posterior_class_total",
			Help:      "Total candidates assigned to each posterior class.",
		}, []string{"class"}),

		BayesFactorBucket: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proctriage",
			Subsystem: "inference",
			Name:      "bayes_factor_bucket_total",
			Help:      "Total ledger entries falling in each Jeffreys Bayes-factor bucket.",
		}, []string{"bucket"}),

		ChangePointsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "proctriage",
			Subsystem: "inference",
			Name:      "change_points_total",
			Help:      "Total CPU-tick change points detected by the BOCPD detector.",
		}),

		GateBlockedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proctriage",
			Subsystem: "decision",
			Name:      "gate_blocked_total",
			Help:      "Total candidates blocked at each safety gate.",
		}, []string{"gate"}),

		ActionsPlannedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proctriage",
			Subsystem: "decision",
			Name:      "actions_planned_total",
			Help:      "Total staged actions planned, by action kind.",
		}, []string{"action"}),

		FDRWealth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "proctriage",
			Subsystem: "decision",
			Name:      "fdr_wealth",
			Help:      "Current alpha-investing wealth for the active (user, host) key.",
		}),

		ExecStepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proctriage",
			Subsystem: "executor",
			Name:      "steps_total",
			Help:      "Total executor steps performed, by step kind and outcome.",
		}, []string{"step", "outcome"}),

		IdentityMismatchTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "proctriage",
			Subsystem: "executor",
			Name:      "identity_mismatch_total",
			Help:      "Total dispatches aborted by pre-dispatch identity revalidation.",
		}),

		SessionWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "proctriage",
			Subsystem: "session",
			Name:      "write_latency_seconds",
			Help:      "Latency of atomic session artifact writes.",
			Buckets:   prometheus.DefBuckets,
		}),

		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "proctriage",
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of sessions not yet archived.",
		}),
	}

	reg.MustRegister(
		m.ScanDuration, m.ScanProcessCount, m.ProbeTimeoutsTotal,
		m.PosteriorClassTotal, m.BayesFactorBucket, m.ChangePointsTotal,
		m.GateBlockedTotal, m.ActionsPlannedTotal, m.FDRWealth,
		m.ExecStepsTotal, m.IdentityMismatchTotal,
		m.SessionWriteLatency, m.SessionsActive,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// WriteTextfile gathers every registered metric and writes it in
// Prometheus text exposition format to path (atomically, via a temp file
// and rename). Process Triage's pipeline commands are one-shot, not a
// resident daemon (spec §1), so this is how a cron-driven invocation
// hands its run's metrics to a node_exporter textfile collector instead
// of requiring something to be alive to scrape Serve's /metrics.
func (m *Metrics) WriteTextfile(path string) error {
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("obsmetrics.WriteTextfile: gather: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("obsmetrics.WriteTextfile: open: %w", err)
	}
	enc := expfmt.NewEncoder(f, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return fmt.Errorf("obsmetrics.WriteTextfile: encode %s: %w", mf.GetName(), err)
		}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("obsmetrics.WriteTextfile: close: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("obsmetrics.WriteTextfile: rename: %w", err)
	}
	return nil
}

// Serve starts the Prometheus HTTP metrics server on addr, blocking until
// ctx is cancelled or the server fails to start.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("obsmetrics.Serve: %s: %w", addr, err)
	}
	return nil
}
