// Package telemetry provides OpenTelemetry tracing and metrics for the contact directory server.
package telemetry

import (
	"errors"
	"fmt"
	"slices"
)

const (
	// DefaultServiceName is the service name reported with telemetry
	DefaultServiceName = "contactdir-server"

	// DefaultEndpoint is the default OTLP HTTP endpoint
	DefaultEndpoint = "localhost:4318"

	// DefaultSampling is the trace sampling ratio used when none is configured
	DefaultSampling = 0.05
)

// Metric exporters
const (
	ExporterOTLP       = "otlp"
	ExporterPrometheus = "prometheus"
)

// Config is the telemetry section of the server configuration
type Config struct {
	// Enabled turns all telemetry on or off
	Enabled bool `yaml:"enabled"`

	ServiceName    string `yaml:"serviceName,omitempty"`
	ServiceVersion string `yaml:"serviceVersion,omitempty"`

	// Endpoint is the OTLP collector as host:port
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure sends OTLP data over plain HTTP
	Insecure bool `yaml:"insecure,omitempty"`

	Tracing *TracingConfig `yaml:"tracing,omitempty"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig configures tracing
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Sampling is the ratio of traces kept, 0 meaning DefaultSampling
	Sampling float64 `yaml:"sampling,omitempty"`
}

// MetricsConfig configures metrics
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Exporters lists otlp and/or prometheus. Defaults to otlp.
	// The prometheus exporter is served on /metrics.
	Exporters []string `yaml:"exporters,omitempty"`
}

// GetServiceName returns the service name, using default if not specified
func (c *Config) GetServiceName() string {
	if c.ServiceName == "" {
		return DefaultServiceName
	}
	return c.ServiceName
}

// GetServiceVersion returns the service version, using "unknown" if not specified
func (c *Config) GetServiceVersion() string {
	if c.ServiceVersion == "" {
		return "unknown"
	}
	return c.ServiceVersion
}

// GetEndpoint returns the endpoint, using default if not specified
func (c *Config) GetEndpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

// GetSampling returns the sampling ratio
func (c *TracingConfig) GetSampling() float64 {
	if c.Sampling == 0.0 {
		return DefaultSampling
	}
	return c.Sampling
}

// GetExporters returns the configured metric exporters
func (c *MetricsConfig) GetExporters() []string {
	if c == nil || len(c.Exporters) == 0 {
		return []string{ExporterOTLP}
	}
	return c.Exporters
}

// HasExporter reports whether the named exporter is enabled
func (c *MetricsConfig) HasExporter(name string) bool {
	return c != nil && c.Enabled && slices.Contains(c.GetExporters(), name)
}

// PrometheusEnabled reports whether /metrics should be served
func (c *Config) PrometheusEnabled() bool {
	return c != nil && c.Enabled && c.Metrics.HasExporter(ExporterPrometheus)
}

// Validate validates the telemetry configuration
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	var errs []error
	if t := c.Tracing; t != nil && t.Enabled {
		if t.Sampling < 0 || t.Sampling > 1.0 {
			errs = append(errs, fmt.Errorf("tracing: sampling must be between 0.0 and 1.0, got %f", t.Sampling))
		}
	}
	if m := c.Metrics; m != nil && m.Enabled {
		for _, e := range m.Exporters {
			if e != ExporterOTLP && e != ExporterPrometheus {
				errs = append(errs, fmt.Errorf("metrics: unknown exporter %q", e))
			}
		}
	}
	return errors.Join(errs...)
}
