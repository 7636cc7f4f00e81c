/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: metrics.go
Description: Prometheus metrics for a fuzzing session. Each reporter owns its own registry
so sessions and tests never collide on the default registry. Exposes execution outcomes,
findings, coverage, corpus size and execution latency, and serves them over HTTP.
*/

package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/kleascm/akaylee-greybox/pkg/analysis"
	"github.com/kleascm/akaylee-greybox/pkg/execution"
	"github.com/kleascm/akaylee-greybox/pkg/interfaces"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "akaylee_greybox"

// PrometheusReporter exports session events as Prometheus metrics
type PrometheusReporter struct {
	registry *prometheus.Registry

	executions  *prometheus.CounterVec
	findings    *prometheus.CounterVec
	newCoverage prometheus.Counter
	coverage    prometheus.Gauge
	corpusSize  prometheus.Gauge
	iteration   prometheus.Gauge
	latency     prometheus.Histogram
}

// NewPrometheusReporter creates a reporter with a fresh registry
func NewPrometheusReporter(sessionID string) *PrometheusReporter {
	labels := prometheus.Labels{"session": sessionID}
	r := &PrometheusReporter{
		registry: prometheus.NewRegistry(),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "executions_total",
			Help:        "Target executions by outcome.",
			ConstLabels: labels,
		}, []string{"kind"}),
		findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "findings_total",
			Help:        "Persisted findings by crash type.",
			ConstLabels: labels,
		}, []string{"type"}),
		newCoverage: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "new_coverage_total",
			Help:        "Inputs that reached previously unseen edges.",
			ConstLabels: labels,
		}),
		coverage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "covered_edges",
			Help:        "Edges seen in the global coverage map.",
			ConstLabels: labels,
		}),
		corpusSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "corpus_size",
			Help:        "Entries in the corpus.",
			ConstLabels: labels,
		}),
		iteration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "iteration",
			Help:        "Last recorded iteration.",
			ConstLabels: labels,
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "execution_duration_seconds",
			Help:        "Wall time of one target execution.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
	}

	r.registry.MustRegister(
		r.executions,
		r.findings,
		r.newCoverage,
		r.coverage,
		r.corpusSize,
		r.iteration,
		r.latency,
	)
	return r
}

// OnExecution counts the outcome and records latency
func (r *PrometheusReporter) OnExecution(iteration int, result *execution.Result) {
	r.executions.WithLabelValues(result.Kind.String()).Inc()
	r.latency.Observe(result.Duration.Seconds())
}

// OnNewCoverage counts novelty and updates the edge gauge
func (r *PrometheusReporter) OnNewCoverage(input int32, newEdges, totalEdges int) {
	r.newCoverage.Inc()
	r.coverage.Set(float64(totalEdges))
}

// OnFinding counts persisted findings by type
func (r *PrometheusReporter) OnFinding(finding *analysis.Finding) {
	if finding == nil || finding.Triage == nil {
		return
	}
	r.findings.WithLabelValues(string(finding.Triage.CrashType)).Inc()
}

// OnProgress updates the session gauges
func (r *PrometheusReporter) OnProgress(p interfaces.Progress) {
	r.coverage.Set(float64(p.Coverage))
	r.corpusSize.Set(float64(p.CorpusSize))
	r.iteration.Set(float64(p.Iteration))
}

// Registry returns the reporter's registry
func (r *PrometheusReporter) Registry() *prometheus.Registry {
	return r.registry
}

// Handler returns an HTTP handler exposing the registry
func (r *PrometheusReporter) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled
func (r *PrometheusReporter) Serve(ctx context.Context, addr string, logger *logrus.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if logger != nil {
		logger.WithField("addr", ln.Addr().String()).Info("Serving metrics")
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}

var _ interfaces.Reporter = (*PrometheusReporter)(nil)
