package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/testdash"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Session metrics
	SessionWarningsTotal         metric.Int64Counter
	SessionExpirationsTotal      metric.Int64Counter
	SessionExtensionsTotal       metric.Int64Counter
	SessionSignOutFailuresTotal  metric.Int64Counter
	SessionActivityRecordedTotal metric.Int64Counter

	// Organization metrics
	OrgSwitchesTotal    metric.Int64Counter
	OrgFetchErrorsTotal metric.Int64Counter
	OrgFetchDuration    metric.Float64Histogram

	// Proxy metrics
	ProxyRequestsTotal metric.Int64Counter
	ProxyErrorsTotal   metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	// Session metrics
	m.SessionWarningsTotal, _ = meter.Int64Counter(
		"testdash.session.warnings.total",
		metric.WithDescription("Total number of idle session warnings shown"),
		metric.WithUnit("{warning}"),
	)

	m.SessionExpirationsTotal, _ = meter.Int64Counter(
		"testdash.session.expirations.total",
		metric.WithDescription("Total number of sessions signed out after the idle timeout"),
		metric.WithUnit("{session}"),
	)

	m.SessionExtensionsTotal, _ = meter.Int64Counter(
		"testdash.session.extensions.total",
		metric.WithDescription("Total number of explicit session extensions"),
		metric.WithUnit("{extension}"),
	)

	m.SessionSignOutFailuresTotal, _ = meter.Int64Counter(
		"testdash.session.signout_failures.total",
		metric.WithDescription("Total number of failed sign-outs that fell back to hard navigation"),
		metric.WithUnit("{error}"),
	)

	m.SessionActivityRecordedTotal, _ = meter.Int64Counter(
		"testdash.session.activity.total",
		metric.WithDescription("Total number of activity ticks recorded after throttling"),
		metric.WithUnit("{tick}"),
	)

	// Organization metrics
	m.OrgSwitchesTotal, _ = meter.Int64Counter(
		"testdash.orgs.switches.total",
		metric.WithDescription("Total number of current organization switches"),
		metric.WithUnit("{switch}"),
	)

	m.OrgFetchErrorsTotal, _ = meter.Int64Counter(
		"testdash.orgs.fetch.errors.total",
		metric.WithDescription("Total number of failed organization list fetches"),
		metric.WithUnit("{error}"),
	)

	m.OrgFetchDuration, _ = meter.Float64Histogram(
		"testdash.orgs.fetch.duration",
		metric.WithDescription("Duration of organization list fetches"),
		metric.WithUnit("ms"),
	)

	// Proxy metrics
	m.ProxyRequestsTotal, _ = meter.Int64Counter(
		"testdash.proxy.requests.total",
		metric.WithDescription("Total number of requests forwarded to the backend"),
		metric.WithUnit("{request}"),
	)

	m.ProxyErrorsTotal, _ = meter.Int64Counter(
		"testdash.proxy.errors.total",
		metric.WithDescription("Total number of requests that failed to reach the backend"),
		metric.WithUnit("{error}"),
	)

	return m
}
