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
	otpIssued       metric.Int64Counter
	signupCompleted metric.Int64Counter
	sagaCompensated metric.Int64Counter
	invitesAccepted metric.Int64Counter
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
		name = "reservio"
	}
	meter := provider.Meter(name)

	otpIssued, err := meter.Int64Counter("reservio_otp_issued_total")
	if err != nil {
		return nil, err
	}
	signupCompleted, err := meter.Int64Counter("reservio_signup_completed_total")
	if err != nil {
		return nil, err
	}
	sagaCompensated, err := meter.Int64Counter("reservio_saga_compensations_total")
	if err != nil {
		return nil, err
	}
	invitesAccepted, err := meter.Int64Counter("reservio_invites_accepted_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		otpIssued:       otpIssued,
		signupCompleted: signupCompleted,
		sagaCompensated: sagaCompensated,
		invitesAccepted: invitesAccepted,
	}, nil
}

// RecordOTPIssued increments OTP issuance counts.
func (m *Metrics) RecordOTPIssued(ctx context.Context, purpose string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("purpose", strings.TrimSpace(purpose)))
	m.otpIssued.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSignupCompleted increments completed provisioning counts.
func (m *Metrics) RecordSignupCompleted(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("provider", strings.TrimSpace(provider)))
	m.signupCompleted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSagaCompensation increments compensation pass counts.
func (m *Metrics) RecordSagaCompensation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.sagaCompensated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordInviteAccepted increments invite acceptance counts.
func (m *Metrics) RecordInviteAccepted(ctx context.Context) {
	if m == nil {
		return
	}
	m.invitesAccepted.Add(ctx, 1)
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
	"purpose":  {},
	"provider": {},
	"outcome":  {},
	"endpoint": {},
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
