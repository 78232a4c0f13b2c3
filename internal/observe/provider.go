package observe

import (
	"cmp"
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig names the service in exported telemetry.
type ProviderConfig struct {
	ServiceName    string // default "fxrecorder"
	ServiceVersion string
}

// InitProvider installs the global meter and tracer providers. Metrics land in
// the default Prometheus registry served at /metrics; spans are not exported
// and only feed trace ids into logs.
func InitProvider(cfg ProviderConfig) (func(context.Context) error, error) {
	res := resource.NewSchemaless(
		semconv.ServiceName(cmp.Or(cfg.ServiceName, "fxrecorder")),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)

	exporter, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exporter))
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
