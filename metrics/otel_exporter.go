package metrics

import (
	"context"
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OTelExporter provides OpenTelemetry metrics export following OTel standards
type OTelExporter struct {
	meterProvider *sdkmetric.MeterProvider
	registry      *promclient.Registry
	collector     Collector

	meter            metric.Meter
	requestsGauge    metric.Int64ObservableGauge
	successRateGauge metric.Float64ObservableGauge
	latencyGauge     metric.Float64ObservableGauge
	errorsGauge      metric.Int64ObservableGauge
	channelsGauge    metric.Int64ObservableGauge
	subscribersGauge metric.Int64ObservableGauge
	alertsGauge      metric.Int64ObservableGauge
}

// NewOTelExporter creates a new OpenTelemetry metrics exporter with Prometheus format.
// Each exporter owns its registry so several can coexist in one process.
func NewOTelExporter(collector Collector) (*OTelExporter, error) {
	registry := promclient.NewRegistry()

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	meter := meterProvider.Meter(
		"webhook-guard",
		metric.WithInstrumentationVersion("1.0.0"),
	)

	oe := &OTelExporter{
		meterProvider: meterProvider,
		registry:      registry,
		collector:     collector,
		meter:         meter,
	}

	if err := oe.registerInstruments(); err != nil {
		return nil, fmt.Errorf("registering instruments: %w", err)
	}

	return oe, nil
}

// registerInstruments creates and registers all OpenTelemetry metric instruments
func (oe *OTelExporter) registerInstruments() error {
	var err error

	oe.requestsGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.delivery.requests",
		metric.WithDescription("Logical sends completed per time window"),
		metric.WithUnit("{requests}"),
		metric.WithInt64Callback(oe.observeRequests),
	)
	if err != nil {
		return fmt.Errorf("creating requests gauge: %w", err)
	}

	oe.successRateGauge, err = oe.meter.Float64ObservableGauge(
		"webhook.delivery.success_rate",
		metric.WithDescription("Share of logical sends that succeeded per time window"),
		metric.WithFloat64Callback(oe.observeSuccessRate),
	)
	if err != nil {
		return fmt.Errorf("creating success rate gauge: %w", err)
	}

	oe.latencyGauge, err = oe.meter.Float64ObservableGauge(
		"webhook.delivery.latency",
		metric.WithDescription("Average attempt duration per time window"),
		metric.WithUnit("ms"),
		metric.WithFloat64Callback(oe.observeLatency),
	)
	if err != nil {
		return fmt.Errorf("creating latency gauge: %w", err)
	}

	oe.errorsGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.delivery.errors",
		metric.WithDescription("Failed attempts by error kind"),
		metric.WithUnit("{attempts}"),
		metric.WithInt64Callback(oe.observeErrors),
	)
	if err != nil {
		return fmt.Errorf("creating errors gauge: %w", err)
	}

	oe.channelsGauge, err = oe.meter.Int64ObservableGauge(
		"realtime.channels",
		metric.WithDescription("Open shared realtime channels"),
		metric.WithUnit("{channels}"),
		metric.WithInt64Callback(oe.observeChannels),
	)
	if err != nil {
		return fmt.Errorf("creating channels gauge: %w", err)
	}

	oe.subscribersGauge, err = oe.meter.Int64ObservableGauge(
		"realtime.subscribers",
		metric.WithDescription("Subscribers attached to shared realtime channels"),
		metric.WithUnit("{subscribers}"),
		metric.WithInt64Callback(oe.observeSubscribers),
	)
	if err != nil {
		return fmt.Errorf("creating subscribers gauge: %w", err)
	}

	oe.alertsGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.alerts.open",
		metric.WithDescription("Unacknowledged alerts by severity"),
		metric.WithUnit("{alerts}"),
		metric.WithInt64Callback(oe.observeAlerts),
	)
	if err != nil {
		return fmt.Errorf("creating alerts gauge: %w", err)
	}

	return nil
}

func (oe *OTelExporter) observeRequests(ctx context.Context, observer metric.Int64Observer) error {
	delivery, err := oe.collector.GetDelivery(ctx)
	if err != nil {
		return err
	}
	for window, d := range delivery {
		observer.Observe(d.Requests, metric.WithAttributes(attribute.String("time.window", window)))
	}
	return nil
}

func (oe *OTelExporter) observeSuccessRate(ctx context.Context, observer metric.Float64Observer) error {
	delivery, err := oe.collector.GetDelivery(ctx)
	if err != nil {
		return err
	}
	for window, d := range delivery {
		observer.Observe(d.SuccessRate, metric.WithAttributes(attribute.String("time.window", window)))
	}
	return nil
}

func (oe *OTelExporter) observeLatency(ctx context.Context, observer metric.Float64Observer) error {
	delivery, err := oe.collector.GetDelivery(ctx)
	if err != nil {
		return err
	}
	for window, d := range delivery {
		observer.Observe(d.AverageResponseMs, metric.WithAttributes(attribute.String("time.window", window)))
	}
	return nil
}

func (oe *OTelExporter) observeErrors(ctx context.Context, observer metric.Int64Observer) error {
	counts, err := oe.collector.GetErrorCounts(ctx)
	if err != nil {
		return err
	}
	for kind, n := range counts {
		observer.Observe(n, metric.WithAttributes(attribute.String("error.kind", kind)))
	}
	return nil
}

func (oe *OTelExporter) observeChannels(ctx context.Context, observer metric.Int64Observer) error {
	subs, err := oe.collector.GetSubscriptions(ctx)
	if err != nil {
		return err
	}
	observer.Observe(subs.Channels)
	return nil
}

func (oe *OTelExporter) observeSubscribers(ctx context.Context, observer metric.Int64Observer) error {
	subs, err := oe.collector.GetSubscriptions(ctx)
	if err != nil {
		return err
	}
	observer.Observe(subs.Subscribers)
	return nil
}

func (oe *OTelExporter) observeAlerts(ctx context.Context, observer metric.Int64Observer) error {
	counts, err := oe.collector.GetAlertCounts(ctx)
	if err != nil {
		return err
	}
	for severity, n := range counts {
		observer.Observe(n, metric.WithAttributes(attribute.String("alert.severity", severity)))
	}
	return nil
}

// ServeHTTP serves Prometheus-formatted metrics from the exporter registry
func (oe *OTelExporter) ServeHTTP() http.Handler {
	return promhttp.HandlerFor(oe.registry, promhttp.HandlerOpts{})
}

// Shutdown gracefully shuts down the meter provider
func (oe *OTelExporter) Shutdown(ctx context.Context) error {
	if oe.meterProvider != nil {
		return oe.meterProvider.Shutdown(ctx)
	}
	return nil
}
