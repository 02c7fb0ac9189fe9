// Package metrics records control plane metrics with OpenTelemetry and
// exposes them in the Prometheus text format.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/fiam/ec2core"

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry

	apiRequests   metric.Int64Counter
	apiDuration   metric.Float64Histogram
	transitions   metric.Int64Counter
	liveInstances metric.Int64UpDownCounter
	replays       metric.Int64Counter
}

// New returns metrics exported to a dedicated Prometheus registry
func New() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	m, err := NewWithReader(exporter)
	if err != nil {
		return nil, err
	}
	m.registry = registry
	return m, nil
}

// NewWithReader returns metrics collected by reader
func NewWithReader(reader sdkmetric.Reader) (*Metrics, error) {
	m := &Metrics{
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
	if err := m.init(m.provider.Meter(meterName)); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) init(meter metric.Meter) error {
	var err error
	m.apiRequests, err = meter.Int64Counter(
		"ec2core_api_requests",
		metric.WithDescription("API requests by action and error code"),
	)
	if err != nil {
		return fmt.Errorf("create api_requests: %w", err)
	}
	m.apiDuration, err = meter.Float64Histogram(
		"ec2core_api_request_duration_seconds",
		metric.WithDescription("Duration of API requests"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create api_request_duration: %w", err)
	}
	m.transitions, err = meter.Int64Counter(
		"ec2core_instance_transitions",
		metric.WithDescription("Instance state transitions"),
	)
	if err != nil {
		return fmt.Errorf("create instance_transitions: %w", err)
	}
	m.liveInstances, err = meter.Int64UpDownCounter(
		"ec2core_instances",
		metric.WithDescription("Instances not yet terminated"),
	)
	if err != nil {
		return fmt.Errorf("create instances: %w", err)
	}
	m.replays, err = meter.Int64Counter(
		"ec2core_idempotent_replays",
		metric.WithDescription("Create requests answered from a previous request with the same client token"),
	)
	if err != nil {
		return fmt.Errorf("create idempotent_replays: %w", err)
	}
	return nil
}

// APIRequest records a finished request. code is empty on success.
func (m *Metrics) APIRequest(ctx context.Context, action string, code string, d time.Duration) {
	if m == nil {
		return
	}
	if code == "" {
		code = "OK"
	}
	attrs := metric.WithAttributes(attribute.String("action", action), attribute.String("code", code))
	m.apiRequests.Add(ctx, 1, attrs)
	m.apiDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("action", action)))
}

func (m *Metrics) Transition(ctx context.Context, from string, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("from", from), attribute.String("to", to)))
}

// InstancesChanged adjusts the live instance count by delta
func (m *Metrics) InstancesChanged(ctx context.Context, delta int64) {
	if m == nil || delta == 0 {
		return
	}
	m.liveInstances.Add(ctx, delta)
}

func (m *Metrics) IdempotentReplay(ctx context.Context) {
	if m == nil {
		return
	}
	m.replays.Add(ctx, 1)
}

// Handler serves the Prometheus registry, or 404 when metrics are not
// exported to Prometheus
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
