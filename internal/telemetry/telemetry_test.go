package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/book-expert/vocu-service/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()

	var resourceMetrics metricdata.ResourceMetrics

	require.NoError(t, reader.Collect(context.Background(), &resourceMetrics))

	sums := make(map[string]int64)

	for _, scope := range resourceMetrics.ScopeMetrics {
		for _, m := range scope.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}

			for _, point := range sum.DataPoints {
				sums[m.Name] += point.Value
			}
		}
	}

	return sums
}

func TestRecorder_CountsEvents(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	recorder, err := telemetry.NewRecorder(provider.Meter(telemetry.InstrumentationName))
	require.NoError(t, err)

	ctx := context.Background()
	recorder.Request(ctx, "list_roles", telemetry.OutcomeSuccess)
	recorder.Request(ctx, "list_roles", telemetry.OutcomeError)
	recorder.Generation(ctx, "async", telemetry.OutcomeSuccess)
	recorder.Download(ctx, telemetry.OutcomeSuccess, 2048)
	recorder.Download(ctx, telemetry.OutcomeCacheHit, 0)

	sums := collectSums(t, reader)

	assert.Equal(t, int64(2), sums["vocu_requests"])
	assert.Equal(t, int64(1), sums["vocu_generations"])
	assert.Equal(t, int64(2), sums["vocu_downloads"])
	assert.Equal(t, int64(2048), sums["vocu_download_bytes"])
}

func TestRecorder_NilIsNoop(t *testing.T) {
	t.Parallel()

	var recorder *telemetry.Recorder

	assert.NotPanics(t, func() {
		recorder.Request(context.Background(), "x", telemetry.OutcomeSuccess)
		recorder.Generation(context.Background(), "sync", telemetry.OutcomeError)
		recorder.Download(context.Background(), telemetry.OutcomeError, 10)
	})
}

func TestOutcome(t *testing.T) {
	t.Parallel()

	assert.Equal(t, telemetry.OutcomeSuccess, telemetry.Outcome(nil))
	assert.Equal(t, telemetry.OutcomeError, telemetry.Outcome(errors.New("boom")))
}
