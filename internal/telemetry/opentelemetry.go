// Package telemetry sets up OpenTelemetry tracing and metrics for the bridge process.
package telemetry

import (
	"context"
	"fmt"
	"io"

	"github.com/pilab-dev/bridge-hds/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	prometheusexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

// Trace exporters accepted by telemetry.exporter.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// InitTracer installs a global tracer provider and the W3C trace context
// propagator. With ExporterStdout finished spans are written to out as
// JSON; with ExporterNone they are only sampled, so their ids still reach
// the logs and the traceparent header sent to the partner.
func InitTracer(serviceName, exporter string, out io.Writer, logger log.Logger) (*trace.TracerProvider, error) {
	opts := []trace.TracerProviderOption{
		trace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
		trace.WithSampler(trace.AlwaysSample()),
	}
	switch exporter {
	case ExporterNone, "":
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		opts = append(opts, trace.WithBatcher(exp))
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", exporter)
	}

	tp := trace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	logger.Info(context.Background(), "OpenTelemetry TracerProvider initialized", log.Fields{"service": serviceName, "exporter": exporter})
	return tp, nil
}

// InitMeterProvider installs a global meter provider exporting through reg,
// so OpenTelemetry instruments show up on the same /metrics page as the
// prometheus counters.
func InitMeterProvider(reg prometheus.Registerer, logger log.Logger) (*metric.MeterProvider, error) {
	exporter, err := prometheusexporter.New(prometheusexporter.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}

	mp := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(mp)
	logger.Info(context.Background(), "OpenTelemetry MeterProvider initialized with Prometheus exporter")
	return mp, nil
}

// Shutdown flushes and stops the tracer and meter providers. Either may be nil.
func Shutdown(ctx context.Context, tp *trace.TracerProvider, mp *metric.MeterProvider, logger log.Logger) {
	if tp != nil {
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error(ctx, "Error shutting down OpenTelemetry TracerProvider", err)
		} else {
			logger.Info(ctx, "OpenTelemetry TracerProvider shut down successfully")
		}
	}
	if mp != nil {
		if err := mp.Shutdown(ctx); err != nil {
			logger.Error(ctx, "Error shutting down OpenTelemetry MeterProvider", err)
		} else {
			logger.Info(ctx, "OpenTelemetry MeterProvider shut down successfully")
		}
	}
}
