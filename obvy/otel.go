package quakepulse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/honeycombio/otel-config-go/otelconfig"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// InitOTel picks the exporter by mode and returns its shutdown.
// "none" and unknown modes leave the global no-op provider in place.
func InitOTel(mode string) (func(), error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "honeycomb", "hny":
		return InitOTelHNY()
	case "grafana", "grf":
		tp, err := InitOTelGRF()
		if err != nil {
			return nil, err
		}
		return func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				slog.Error("Could not shut down tracer provider", slog.Any("Error", err))
			}
		}, nil
	case "none", "":
		return func() {}, nil
	default:
		slog.Warn("Unknown OTel mode, tracing disabled", slog.String("mode", mode))
		return func() {}, nil
	}
}

// InitOTelHNY uses the Honeycomb library to interface with OTel
func InitOTelHNY() (func(), error) {
	otelShutdown, err := otelconfig.ConfigureOpenTelemetry()
	if err != nil {
		return nil, fmt.Errorf("failed to configure OpenTelemetry: %w", err)
	}
	return func() { otelShutdown() }, nil
}

// InitOTelGRF uses the Grafana recommended configuration including Baggage for propagation
func InitOTelGRF() (*sdktrace.TracerProvider, error) {
	exporter, err := otlptrace.New(context.Background(), otlptracehttp.NewClient())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	return tp, nil
}
