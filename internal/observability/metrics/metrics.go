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
	processorRequests metric.Int64Counter
	processorErrors   metric.Int64Counter
	reconcileOps      metric.Int64Counter
	creditPurchases   metric.Int64Counter
	usageFallbacks    metric.Int64Counter
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
		name = "billingd"
	}
	meter := provider.Meter(name)

	processorRequests, err := meter.Int64Counter("billingd_processor_requests_total")
	if err != nil {
		return nil, err
	}
	processorErrors, err := meter.Int64Counter("billingd_processor_errors_total")
	if err != nil {
		return nil, err
	}
	reconcileOps, err := meter.Int64Counter("billingd_reconcile_ops_total")
	if err != nil {
		return nil, err
	}
	creditPurchases, err := meter.Int64Counter("billingd_credit_purchases_total")
	if err != nil {
		return nil, err
	}
	usageFallbacks, err := meter.Int64Counter("billingd_usage_fallbacks_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		processorRequests: processorRequests,
		processorErrors:   processorErrors,
		reconcileOps:      reconcileOps,
		creditPurchases:   creditPurchases,
		usageFallbacks:    usageFallbacks,
	}, nil
}

// RecordProcessorRequest increments processor call counts.
func (m *Metrics) RecordProcessorRequest(ctx context.Context, op string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("op", strings.TrimSpace(op)))
	m.processorRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordProcessorError increments processor failure counts by error kind.
func (m *Metrics) RecordProcessorError(ctx context.Context, op, kind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("op", strings.TrimSpace(op)),
		attribute.String("kind", strings.TrimSpace(kind)),
	)
	m.processorErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReconcileOp increments orchestrator operation counts.
func (m *Metrics) RecordReconcileOp(ctx context.Context, op string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("op", strings.TrimSpace(op)))
	m.reconcileOps.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCreditPurchase increments applied credit purchase counts.
func (m *Metrics) RecordCreditPurchase(ctx context.Context, orgID string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("org_id", strings.TrimSpace(orgID)))
	m.creditPurchases.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordUsageFallback increments counts of usage reads served locally.
func (m *Metrics) RecordUsageFallback(ctx context.Context, orgID string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("org_id", strings.TrimSpace(orgID)))
	m.usageFallbacks.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"op":          {},
	"kind":        {},
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
