package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"runthru/internal/domain"
	"runthru/internal/events"
)

type staticStats events.Stats

func (s staticStats) Stats() events.Stats { return events.Stats(s) }

func TestMetricsRecordLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordingStarted()
	m.RecordingStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.recordingsActive))

	m.StageFinished("steps", 3*time.Second, nil)
	m.StageFinished("composition", time.Second, errors.New("ffmpeg"))
	m.RecordingFinished(domain.StatusCompleted, time.Minute)
	m.RecordingFinished(domain.StatusFailed, time.Minute)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.recordingsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordingsFinished.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stageFailures.WithLabelValues("composition")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.stageDuration))

	m.ObserveStep(domain.ActionClick, false, 200*time.Millisecond)
	m.ObserveStep(domain.ActionClick, true, 100*time.Millisecond)
	m.ObserveStep(domain.ActionClick, true, 100*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.steps.WithLabelValues("click", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.steps.WithLabelValues("click", "false")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordingStarted()
	m.RecordingFinished(domain.StatusFailed, 0)
	m.StageFinished("setup", 0, nil)
	m.ObserveStep(domain.ActionWait, true, 0)
}

func TestRegisterBroadcasterReadsAtScrape(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterBroadcaster(reg, staticStats{Sent: 7, Dropped: 2, TotalSubscribers: 3, ActiveSubscribers: 1}))
	require.NoError(t, RegisterBroadcaster(reg, staticStats{}), "double registration is tolerated")
	require.NoError(t, RegisterBrowsers(reg, func() int { return 4 }))

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				values[f.GetName()] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[f.GetName()] = metric.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, 7.0, values["runthru_events_sent_total"])
	assert.Equal(t, 2.0, values["runthru_events_dropped_total"])
	assert.Equal(t, 1.0, values["runthru_events_subscribers"])
	assert.Equal(t, 4.0, values["runthru_browser_sessions_live"])
}

func TestDisabledTracerIsNoop(t *testing.T) {
	tp, err := NewTracerProvider(TracingConfig{})
	require.NoError(t, err)
	_, span := tp.Tracer().Start(context.Background(), "recording.execute")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, tp.Shutdown(context.Background()))
}
