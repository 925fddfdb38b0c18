// Package observability exposes Prometheus collectors and the OpenTelemetry
// tracer used by the recording pipeline.
package observability

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"runthru/internal/domain"
	"runthru/internal/events"
)

const namespace = "runthru"

// StatsSource reports broadcaster counters.
type StatsSource interface {
	Stats() events.Stats
}

// Metrics records recording, stage and step activity.
type Metrics struct {
	recordingsActive   prometheus.Gauge
	recordingsFinished *prometheus.CounterVec
	recordingDuration  *prometheus.HistogramVec
	stageDuration      *prometheus.HistogramVec
	stageFailures      *prometheus.CounterVec
	steps              *prometheus.CounterVec
	stepDuration       *prometheus.HistogramVec
}

// NewMetrics registers the pipeline collectors with reg. A nil registerer
// uses the process default.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		recordingsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "recordings_active",
			Help:      "Recordings currently executing.",
		}),
		recordingsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "recordings_finished_total",
			Help:      "Recordings that reached a terminal state.",
		}, []string{"status"}),
		recordingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "recording_duration_seconds",
			Help:      "Wall time from start to terminal state.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"status"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration spent in each pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage", "status"}),
		stageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_failures_total",
			Help:      "Stages that ended the recording.",
		}, []string{"stage"}),
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "steps_total",
			Help:      "Executed steps by action kind and outcome.",
		}, []string{"action", "success"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "step_duration_seconds",
			Help:      "Duration of a single step including its screenshot.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"action"}),
	}
}

func (m *Metrics) RecordingStarted() {
	if m == nil {
		return
	}
	m.recordingsActive.Inc()
}

func (m *Metrics) RecordingFinished(status domain.Status, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.recordingsActive.Dec()
	m.recordingsFinished.WithLabelValues(string(status)).Inc()
	m.recordingDuration.WithLabelValues(string(status)).Observe(elapsed.Seconds())
}

func (m *Metrics) StageFinished(stage string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		m.stageFailures.WithLabelValues(stage).Inc()
	}
	m.stageDuration.WithLabelValues(stage, status).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveStep(kind domain.ActionKind, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "false"
	if success {
		outcome = "true"
	}
	m.steps.WithLabelValues(string(kind), outcome).Inc()
	m.stepDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

// RegisterBroadcaster exports the broadcaster counters as functions read at
// scrape time.
func RegisterBroadcaster(reg prometheus.Registerer, src StatsSource) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "sent_total",
			Help: "Events delivered to subscribers.",
		}, func() float64 { return float64(src.Stats().Sent) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "dropped_total",
			Help: "Events dropped because a subscriber buffer was full.",
		}, func() float64 { return float64(src.Stats().Dropped) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "subscriptions_total",
			Help: "Subscriptions ever opened.",
		}, func() float64 { return float64(src.Stats().TotalSubscribers) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "events", Name: "subscribers",
			Help: "Currently open subscriptions.",
		}, func() float64 { return float64(src.Stats().ActiveSubscribers) }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// RegisterBrowsers exports the number of live browser sessions.
func RegisterBrowsers(reg prometheus.Registerer, live func() int) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	err := reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "browser", Name: "sessions_live",
		Help: "Browser sessions acquired and not yet released.",
	}, func() float64 { return float64(live()) }))
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return nil
	}
	return err
}
