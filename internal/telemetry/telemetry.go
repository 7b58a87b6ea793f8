// Package telemetry wires OpenTelemetry metrics and tracing for the
// vocu-service. Metrics are exposed through a Prometheus scrape handler.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

// InstrumentationName is the meter name used by every recorder.
const InstrumentationName = "github.com/book-expert/vocu-service"

// Outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeCacheHit = "cache_hit"
)

// Instrument names.
const (
	metricRequests      = "vocu_requests"
	metricGenerations   = "vocu_generations"
	metricDownloads     = "vocu_downloads"
	metricDownloadBytes = "vocu_download_bytes"
)

// Attribute keys.
const (
	attrEndpoint = "endpoint"
	attrOutcome  = "outcome"
	attrMode     = "mode"
)

// Setup installs a global meter provider backed by a Prometheus exporter. The
// returned shutdown func flushes the provider, the handler serves /metrics.
func Setup(serviceName string) (func(context.Context) error, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(newResource(serviceName)),
	)
	otel.SetMeterProvider(provider)

	return provider.Shutdown, promhttp.Handler(), nil
}

func newResource(serviceName string) *resource.Resource {
	return resource.NewSchemaless(semconv.ServiceName(serviceName))
}

// Recorder holds the counters shared by the client and the downloader.
// A nil *Recorder records nothing.
type Recorder struct {
	requests      metric.Int64Counter
	generations   metric.Int64Counter
	downloads     metric.Int64Counter
	downloadBytes metric.Int64Counter
}

// NewRecorder creates the counters on meter.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	requests, err := meter.Int64Counter(metricRequests,
		metric.WithDescription("Remote API calls by endpoint and outcome."))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s counter: %w", metricRequests, err)
	}

	generations, err := meter.Int64Counter(metricGenerations,
		metric.WithDescription("Speech generations by mode and outcome."))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s counter: %w", metricGenerations, err)
	}

	downloads, err := meter.Int64Counter(metricDownloads,
		metric.WithDescription("Media downloads by outcome, including cache hits."))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s counter: %w", metricDownloads, err)
	}

	downloadBytes, err := meter.Int64Counter(metricDownloadBytes,
		metric.WithDescription("Bytes written to the media cache."),
		metric.WithUnit("By"))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s counter: %w", metricDownloadBytes, err)
	}

	return &Recorder{
		requests:      requests,
		generations:   generations,
		downloads:     downloads,
		downloadBytes: downloadBytes,
	}, nil
}

// DefaultRecorder builds a recorder on the global meter provider. It falls
// back to a nil recorder if the instruments cannot be created.
func DefaultRecorder() *Recorder {
	recorder, err := NewRecorder(otel.Meter(InstrumentationName))
	if err != nil {
		return nil
	}

	return recorder
}

// Outcome maps an error to its outcome label.
func Outcome(err error) string {
	if err != nil {
		return OutcomeError
	}

	return OutcomeSuccess
}

// Request counts one API call.
func (r *Recorder) Request(ctx context.Context, endpoint, outcome string) {
	if r == nil {
		return
	}

	r.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrEndpoint, endpoint),
		attribute.String(attrOutcome, outcome),
	))
}

// Generation counts one generate call.
func (r *Recorder) Generation(ctx context.Context, mode, outcome string) {
	if r == nil {
		return
	}

	r.generations.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrMode, mode),
		attribute.String(attrOutcome, outcome),
	))
}

// Download counts one download attempt and the bytes it wrote.
func (r *Recorder) Download(ctx context.Context, outcome string, written int64) {
	if r == nil {
		return
	}

	r.downloads.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, outcome)))

	if written > 0 {
		r.downloadBytes.Add(ctx, written)
	}
}
