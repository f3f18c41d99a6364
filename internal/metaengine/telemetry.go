package metaengine

import (
	"context"
	"encoding/json"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/MaZderMind/bwmeta/internal/engineconfig"
)

// SetupTelemetry installs stdout-exporting trace and metric providers as
// the process-global OTel providers when cfg enables tracing, so the
// engine's spans and counters (see otel.go) become visible instead of
// hitting the default no-op providers. The returned shutdown func flushes
// and stops both providers.
//
// With tracing disabled this is a no-op and the returned shutdown does
// nothing; the engine's instrumentation stays on the no-op path.
func SetupTelemetry(cfg *engineconfig.Config, w io.Writer) (func(context.Context) error, error) {
	if !cfg.TraceEnabled {
		return func(context.Context) error { return nil }, nil
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}
	metricExporter, err := stdoutmetric.New(stdoutmetric.WithEncoder(json.NewEncoder(w)))
	if err != nil {
		return nil, err
	}

	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(traceExporter))
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
	)

	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)

	return func(ctx context.Context) error {
		traceErr := tracerProvider.Shutdown(ctx)
		if metricErr := meterProvider.Shutdown(ctx); metricErr != nil {
			return metricErr
		}
		return traceErr
	}, nil
}
