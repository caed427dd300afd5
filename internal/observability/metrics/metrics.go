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
}

// Metrics exposes application-level instruments.
type Metrics struct {
	transitions     metric.Int64Counter
	payoutsRecorded metric.Int64Counter
	ledgerTransfers metric.Int64Counter
	replays         metric.Int64Counter
	reconcileRuns   metric.Int64Counter
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

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "wellflow"
	}
	meter := provider.Meter(name)

	transitions, err := meter.Int64Counter("wellflow_settlement_transitions_total")
	if err != nil {
		return nil, err
	}
	payoutsRecorded, err := meter.Int64Counter("wellflow_payouts_recorded_total")
	if err != nil {
		return nil, err
	}
	ledgerTransfers, err := meter.Int64Counter("wellflow_ledger_transfers_total")
	if err != nil {
		return nil, err
	}
	replays, err := meter.Int64Counter("wellflow_idempotent_replays_total")
	if err != nil {
		return nil, err
	}
	reconcileRuns, err := meter.Int64Counter("wellflow_reconcile_runs_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		transitions:     transitions,
		payoutsRecorded: payoutsRecorded,
		ledgerTransfers: ledgerTransfers,
		replays:         replays,
		reconcileRuns:   reconcileRuns,
	}, nil
}

// RecordTransition increments settlement state-transition counts.
func (m *Metrics) RecordTransition(ctx context.Context, operation, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.transitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPayouts increments the recorded payout row count.
func (m *Metrics) RecordPayouts(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.payoutsRecorded.Add(ctx, int64(count))
}

// RecordLedgerTransfer increments ledger transfer attempts by result.
func (m *Metrics) RecordLedgerTransfer(ctx context.Context, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("result", strings.TrimSpace(result)))
	m.ledgerTransfers.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReplay increments idempotent replay counts.
func (m *Metrics) RecordReplay(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("operation", strings.TrimSpace(operation)))
	m.replays.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReconcileRun increments reconciliation run counts by result.
func (m *Metrics) RecordReconcileRun(ctx context.Context, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("result", strings.TrimSpace(result)))
	m.reconcileRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"operation": {},
	"status":    {},
	"result":    {},
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
