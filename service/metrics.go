package service

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "relayer"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Finished lifecycle transitions, by op and outcome.
	Transitions metrics.Counter
	// Failed transitions, by op and error kind.
	Failures metrics.Counter
	// 1 while a submission awaits confirmation.
	InFlight metrics.Gauge
	// Callers that stopped waiting before confirmation.
	Detached metrics.Counter
	// Seconds from submission to confirmation, by op.
	ConfirmationSeconds metrics.Histogram
	// Relayers in the last snapshot a transition read.
	SnapshotSize metrics.Gauge
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		Transitions: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "transitions",
			Help:      "Finished lifecycle transitions.",
		}, withLabels(labels, "op", "outcome")).With(labelsAndValues...),
		Failures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "failures",
			Help:      "Failed lifecycle transitions by error kind.",
		}, withLabels(labels, "op", "kind")).With(labelsAndValues...),
		InFlight: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "in_flight",
			Help:      "1 while a submission awaits confirmation.",
		}, labels).With(labelsAndValues...),
		Detached: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "detached",
			Help:      "Callers that stopped waiting before confirmation.",
		}, labels).With(labelsAndValues...),
		ConfirmationSeconds: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "confirmation_seconds",
			Help:      "Time from submission to confirmation.",
			Buckets:   stdprometheus.ExponentialBuckets(1, 2, 10),
		}, withLabels(labels, "op")).With(labelsAndValues...),
		SnapshotSize: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "snapshot_size",
			Help:      "Relayers in the last order book read.",
		}, labels).With(labelsAndValues...),
	}
}

func withLabels(labels []string, extra ...string) []string {
	return append(append(make([]string, 0, len(labels)+len(extra)), labels...), extra...)
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Transitions:         discard.NewCounter(),
		Failures:            discard.NewCounter(),
		InFlight:            discard.NewGauge(),
		Detached:            discard.NewCounter(),
		ConfirmationSeconds: discard.NewHistogram(),
		SnapshotSize:        discard.NewGauge(),
	}
}
