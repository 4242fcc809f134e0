package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/italolelis/downloadables/internal/downloadables"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestTelemetry(t *testing.T) (*Telemetry, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()

	tel, err := newTelemetry(Config{ServiceName: "test", ServiceVersion: "dev"}, reader)
	require.NoError(t, err)

	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	return tel, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}

	return out
}

func sumInt64(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}

	return total
}

func TestTelemetry_Notify(t *testing.T) {
	tel, reader := newTestTelemetry(t)

	tel.Notify(downloadables.Event{Kind: downloadables.EventStarted, GroupID: "alpha"})
	tel.Notify(downloadables.Event{
		Kind:     downloadables.EventCompleted,
		GroupID:  "alpha",
		Total:    1024,
		Duration: 2 * time.Second,
	})
	tel.Notify(downloadables.Event{
		Kind:      downloadables.EventFailed,
		GroupID:   "beta",
		ErrorType: downloadables.ErrorServer,
	})

	metrics := collect(t, reader)

	require.Contains(t, metrics, "group_events_total")
	assert.Equal(t, int64(3), sumInt64(t, metrics["group_events_total"]))

	require.Contains(t, metrics, "group_bytes_completed_total")
	assert.Equal(t, int64(1024), sumInt64(t, metrics["group_bytes_completed_total"]))

	require.Contains(t, metrics, "group_download_duration_seconds")
	hist, ok := metrics["group_download_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.InDelta(t, 2.0, hist.DataPoints[0].Sum, 1e-9)
}

func TestTelemetry_RecordSchedulerState(t *testing.T) {
	tel, reader := newTestTelemetry(t)

	tel.RecordSchedulerState(2, 5)
	tel.RecordSchedulerState(1, 3)

	metrics := collect(t, reader)

	gauge, ok := metrics["groups_downloading"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(1), gauge.DataPoints[0].Value)

	gauge, ok = metrics["groups_queued"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(3), gauge.DataPoints[0].Value)
}

func TestTelemetry_InstrumentJournalOperation(t *testing.T) {
	tel, reader := newTestTelemetry(t)

	boom := errors.New("boom")

	require.NoError(t, tel.InstrumentJournalOperation(context.Background(), "append", func(context.Context) error {
		return nil
	}))

	err := tel.InstrumentJournalOperation(context.Background(), "append", func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	metrics := collect(t, reader)
	assert.Equal(t, int64(2), sumInt64(t, metrics["journal_operations_total"]))
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotPanics(t, func() {
		tel.Notify(downloadables.Event{Kind: downloadables.EventCompleted})
		tel.RecordSchedulerState(1, 1)
		tel.RecordHTTPRequest("GET", "/groups", "2xx", time.Millisecond)
		tel.RecordTransportRequest("get", "success", time.Millisecond)
		tel.RecordJournalOperation("append", "success", time.Millisecond)
		tel.RecordContentDirSize(10)
		tel.RecordSystemError("host", "tick")
		tel.IncrementHTTPInFlight()
		tel.DecrementHTTPInFlight()
	})

	called := false
	err := tel.InstrumentTransportRequest(context.Background(), "get", func(context.Context) error {
		called = true

		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		tel.Notify(downloadables.Event{Kind: downloadables.EventStarted})
	})
	assert.NotNil(t, tel.Tracer())
}
