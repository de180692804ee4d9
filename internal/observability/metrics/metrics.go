// Package metrics exposes application metrics: OTel instruments for
// domain events and prometheus collectors for job health.
package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	processesCreated metric.Int64Counter
	stepsExecuted    metric.Int64Counter
	alertsSent       metric.Int64Counter
	invoiceWriteOffs metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "collecta"
	}
	meter := provider.Meter(name)

	processesCreated, err := meter.Int64Counter("collecta_dunning_processes_created_total")
	if err != nil {
		return nil, err
	}
	stepsExecuted, err := meter.Int64Counter("collecta_dunning_steps_executed_total")
	if err != nil {
		return nil, err
	}
	alertsSent, err := meter.Int64Counter("collecta_alerts_sent_total")
	if err != nil {
		return nil, err
	}
	invoiceWriteOffs, err := meter.Int64Counter("collecta_invoice_write_offs_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		processesCreated: processesCreated,
		stepsExecuted:    stepsExecuted,
		alertsSent:       alertsSent,
		invoiceWriteOffs: invoiceWriteOffs,
	}, nil
}

// RecordProcessCreated increments process creation counts.
func (m *Metrics) RecordProcessCreated(ctx context.Context, source string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("source", strings.TrimSpace(source)))
	m.processesCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordStepExecuted increments step execution counts by action and outcome.
func (m *Metrics) RecordStepExecuted(ctx context.Context, stepType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("step_type", strings.TrimSpace(stepType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.stepsExecuted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAlertSent increments alert delivery counts.
func (m *Metrics) RecordAlertSent(ctx context.Context, alertType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("alert_type", strings.TrimSpace(alertType)))
	m.alertsSent.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordInvoiceWriteOff increments invoice write-off counts.
func (m *Metrics) RecordInvoiceWriteOff(ctx context.Context, orgID, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("org_id", strings.TrimSpace(orgID)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.invoiceWriteOffs.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"org_id":      {},
	"endpoint":    {},
	"status_code": {},
	"source":      {},
	"step_type":   {},
	"outcome":     {},
	"alert_type":  {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
