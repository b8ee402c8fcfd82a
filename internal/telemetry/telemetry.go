// Package telemetry exports processor metrics over OTLP.
//
// Instruments follow the RED pattern per ensemble member (calls, failures,
// latency) plus counters for routing outcomes, review actions and handoff
// transitions. A disabled provider hands out no-op instruments so callers
// never branch on configuration.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"

	"github.com/ambrosia-alliance/processor/internal/model"
)

const meterName = "github.com/ambrosia-alliance/processor"

// Provider owns the meter provider and the processor instruments
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	logger        *slog.Logger

	memberCalls    metric.Int64Counter
	memberDuration metric.Float64Histogram
	units          metric.Int64Counter
	entropy        metric.Float64Histogram
	reviews        metric.Int64Counter
	transitions    metric.Int64Counter
}

// New creates a provider. A disabled config yields no-op instruments.
func New(ctx context.Context, cfg model.TelemetryConfig) (*Provider, error) {
	logger := slog.Default().With("component", "telemetry")
	if !cfg.Enabled {
		logger.DebugContext(ctx, "telemetry disabled")
		return newProvider(nil, noop.NewMeterProvider().Meter(meterName), logger)
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	p, err := NewWithReader(cfg.ServiceName, sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval)))
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "telemetry initialized",
		"service", cfg.ServiceName, "endpoint", cfg.OTLPEndpoint, "interval", interval, "insecure", cfg.Insecure)
	return p, nil
}

// NewWithReader builds a provider around an explicit reader, such as a manual reader in tests
func NewWithReader(serviceName string, reader sdkmetric.Reader) (*Provider, error) {
	if serviceName == "" {
		serviceName = "processor"
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
	return newProvider(mp, mp.Meter(meterName), slog.Default().With("component", "telemetry"))
}

func newProvider(mp *sdkmetric.MeterProvider, meter metric.Meter, logger *slog.Logger) (*Provider, error) {
	p := &Provider{meterProvider: mp, meter: meter, logger: logger}
	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("failed to init instruments: %w", err)
	}
	return p, nil
}

func (p *Provider) initInstruments() error {
	var err error

	p.memberCalls, err = p.meter.Int64Counter("processor.member.calls",
		metric.WithDescription("Ensemble member scoring calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return err
	}

	p.memberDuration, err = p.meter.Float64Histogram("processor.member.duration",
		metric.WithDescription("Ensemble member scoring latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return err
	}

	p.units, err = p.meter.Int64Counter("processor.units.decided",
		metric.WithDescription("Text units decided by the ensemble"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return err
	}

	p.entropy, err = p.meter.Float64Histogram("processor.units.entropy",
		metric.WithDescription("Vote entropy per decided unit"),
		metric.WithUnit("bit"),
		metric.WithExplicitBucketBoundaries(0, 0.5, 1, 1.5, 2, 2.5, 3),
	)
	if err != nil {
		return err
	}

	p.reviews, err = p.meter.Int64Counter("processor.reviews",
		metric.WithDescription("Human review actions"),
		metric.WithUnit("{review}"),
	)
	if err != nil {
		return err
	}

	p.transitions, err = p.meter.Int64Counter("processor.handoff.transitions",
		metric.WithDescription("Category review flag transitions"),
		metric.WithUnit("{transition}"),
	)
	return err
}

// MemberScored records one member call
func (p *Provider) MemberScored(ctx context.Context, member string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(attribute.String("member", member), attribute.String("outcome", outcome))
	p.memberCalls.Add(ctx, 1, attrs)
	p.memberDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("member", member)))
}

// UnitDecided records a routing outcome
func (p *Provider) UnitDecided(ctx context.Context, result *model.EnsembleResult) {
	if result == nil {
		return
	}
	p.units.Add(ctx, 1, metric.WithAttributes(attribute.Bool("needs_review", result.NeedsReview)))
	p.entropy.Record(ctx, result.Entropy)
}

// ReviewRecorded records a confirm or skip
func (p *Provider) ReviewRecorded(ctx context.Context, action string) {
	p.reviews.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

// HandoffTransition records a promotion or revert
func (p *Provider) HandoffTransition(ctx context.Context, category model.Category, reviewEnabled bool) {
	direction := "promote"
	if reviewEnabled {
		direction = "revert"
	}
	p.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", string(category)),
		attribute.String("direction", direction),
	))
}

// Shutdown flushes and stops the exporter
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		return err
	}
	return nil
}
