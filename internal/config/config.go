// Package config loads procmeterd settings from flags, PROCMETER_ environment
// variables and an optional YAML file, in decreasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/bc-dunia/procmeter/internal/logging"
	"github.com/bc-dunia/procmeter/internal/otel"
	"github.com/bc-dunia/procmeter/internal/procmetrics"
)

// EnvPrefix prefixes every environment variable, e.g. PROCMETER_METRICS_EXPORTER.
const EnvPrefix = "PROCMETER"

// Config holds every configurable value of the daemon.
type Config struct {
	Listen          string         `mapstructure:"listen"`
	ServiceName     string         `mapstructure:"service_name"`
	ServiceVersion  string         `mapstructure:"service_version"`
	ShutdownTimeout time.Duration  `mapstructure:"shutdown_timeout"`
	Log             logging.Config `mapstructure:"log"`
	Metrics         MetricsConfig  `mapstructure:"metrics"`
	Tracing         TracingConfig  `mapstructure:"tracing"`
	Process         ProcessConfig  `mapstructure:"process"`
	RuntimeMetrics  bool           `mapstructure:"runtime_metrics"`
}

// MetricsConfig selects the metric exporter.
type MetricsConfig struct {
	Exporter   string            `mapstructure:"exporter"`
	Endpoint   string            `mapstructure:"endpoint"`
	Insecure   bool              `mapstructure:"insecure"`
	Interval   time.Duration     `mapstructure:"interval"`
	Attributes map[string]string `mapstructure:"attributes"`
}

// TracingConfig selects the span exporter.
type TracingConfig struct {
	Exporter   string  `mapstructure:"exporter"`
	Endpoint   string  `mapstructure:"endpoint"`
	Insecure   bool    `mapstructure:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// ProcessConfig overrides where the optional process facilities are probed.
type ProcessConfig struct {
	FDDir      string `mapstructure:"fd_dir"`
	StatusFile string `mapstructure:"status_file"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	paths := procmetrics.DefaultProbePaths()
	return &Config{
		Listen:          DefaultListen,
		ServiceName:     DefaultServiceName,
		ShutdownTimeout: DefaultShutdownTimeout,
		Log:             logging.DefaultConfig(),
		Metrics: MetricsConfig{
			Exporter: string(otel.ExporterNone),
			Interval: DefaultExportInterval,
		},
		Tracing: TracingConfig{
			Exporter:   string(otel.ExporterNone),
			SampleRate: DefaultSampleRate,
		},
		Process: ProcessConfig{
			FDDir:      paths.FDDir,
			StatusFile: paths.StatusFile,
		},
	}
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"listen":           "listen",
	"service-name":     "service_name",
	"service-version":  "service_version",
	"shutdown-timeout": "shutdown_timeout",
	"log-level":        "log.level",
	"log-format":       "log.format",
	"metrics-exporter": "metrics.exporter",
	"metrics-endpoint": "metrics.endpoint",
	"metrics-insecure": "metrics.insecure",
	"metrics-interval": "metrics.interval",
	"tracing-exporter": "tracing.exporter",
	"tracing-endpoint": "tracing.endpoint",
	"tracing-insecure": "tracing.insecure",
	"tracing-sample":   "tracing.sample_rate",
	"runtime-metrics":  "runtime_metrics",
}

// RegisterFlags defines the daemon flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "path to a YAML configuration file")
	fs.String("listen", d.Listen, "HTTP listen address")
	fs.String("service-name", d.ServiceName, "service name reported on telemetry")
	fs.String("service-version", d.ServiceVersion, "service version reported on telemetry")
	fs.Duration("shutdown-timeout", d.ShutdownTimeout, "graceful shutdown timeout")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("log-format", d.Log.Format, "log format (json, console)")
	fs.String("metrics-exporter", d.Metrics.Exporter, "metric exporter (none, stdout, otlp-grpc, otlp-http, prometheus)")
	fs.String("metrics-endpoint", d.Metrics.Endpoint, "OTLP metrics endpoint")
	fs.Bool("metrics-insecure", d.Metrics.Insecure, "disable TLS for OTLP metrics")
	fs.Duration("metrics-interval", d.Metrics.Interval, "metric export interval")
	fs.String("tracing-exporter", d.Tracing.Exporter, "span exporter (none, stdout, otlp-grpc, otlp-http)")
	fs.String("tracing-endpoint", d.Tracing.Endpoint, "OTLP traces endpoint")
	fs.Bool("tracing-insecure", d.Tracing.Insecure, "disable TLS for OTLP traces")
	fs.Float64("tracing-sample", d.Tracing.SampleRate, "trace sampling ratio (0.0 to 1.0)")
	fs.Bool("runtime-metrics", d.RuntimeMetrics, "report Go runtime metrics")
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("listen", d.Listen)
	v.SetDefault("service_name", d.ServiceName)
	v.SetDefault("service_version", d.ServiceVersion)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("metrics.exporter", d.Metrics.Exporter)
	v.SetDefault("metrics.endpoint", d.Metrics.Endpoint)
	v.SetDefault("metrics.insecure", d.Metrics.Insecure)
	v.SetDefault("metrics.interval", d.Metrics.Interval)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("process.fd_dir", d.Process.FDDir)
	v.SetDefault("process.status_file", d.Process.StatusFile)
	v.SetDefault("runtime_metrics", d.RuntimeMetrics)
}

// Load reads the configuration. path names an optional YAML file; flags may
// be nil. The result is validated.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var err error
	if c.Listen == "" {
		err = multierr.Append(err, errors.New("listen address must not be empty"))
	}
	if c.ServiceName == "" {
		err = multierr.Append(err, errors.New("service name must not be empty"))
	}
	if c.ShutdownTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("shutdown timeout must be positive, got %s", c.ShutdownTimeout))
	}
	if _, lerr := logging.ParseLevel(c.Log.Level); lerr != nil {
		err = multierr.Append(err, lerr)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		err = multierr.Append(err, fmt.Errorf("invalid log format %q", c.Log.Format))
	}
	if _, perr := otel.ParseExporterType(c.Metrics.Exporter); perr != nil {
		err = multierr.Append(err, fmt.Errorf("metrics: %w", perr))
	}
	if c.Metrics.Interval < MinExportInterval {
		err = multierr.Append(err, fmt.Errorf("metrics interval must be at least %s, got %s", MinExportInterval, c.Metrics.Interval))
	}
	if exp, perr := otel.ParseExporterType(c.Tracing.Exporter); perr != nil {
		err = multierr.Append(err, fmt.Errorf("tracing: %w", perr))
	} else if exp == otel.ExporterPrometheus {
		err = multierr.Append(err, fmt.Errorf("tracing: exporter %q only serves metrics", exp))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		err = multierr.Append(err, fmt.Errorf("tracing sample rate must be within [0, 1], got %v", c.Tracing.SampleRate))
	}
	return err
}

// OTelMetrics converts the metric settings for otel.NewMetrics.
func (c *Config) OTelMetrics() *otel.MetricsConfig {
	exporter, _ := otel.ParseExporterType(c.Metrics.Exporter)
	return &otel.MetricsConfig{
		Enabled:        exporter != otel.ExporterNone,
		ServiceName:    c.ServiceName,
		ServiceVersion: c.ServiceVersion,
		ExporterType:   exporter,
		OTLPEndpoint:   c.Metrics.Endpoint,
		OTLPInsecure:   c.Metrics.Insecure,
		ExportInterval: c.Metrics.Interval,
		RuntimeMetrics: c.RuntimeMetrics,
		Attributes:     c.Metrics.Attributes,
	}
}

// OTelTracing converts the tracing settings for otel.NewTracer.
func (c *Config) OTelTracing() *otel.Config {
	exporter, _ := otel.ParseExporterType(c.Tracing.Exporter)
	return &otel.Config{
		Enabled:        exporter != otel.ExporterNone,
		ServiceName:    c.ServiceName,
		ServiceVersion: c.ServiceVersion,
		ExporterType:   exporter,
		OTLPEndpoint:   c.Tracing.Endpoint,
		OTLPInsecure:   c.Tracing.Insecure,
		SampleRate:     c.Tracing.SampleRate,
		Attributes:     c.Metrics.Attributes,
	}
}

// ProbePaths returns the locations probed for process capabilities.
func (c *Config) ProbePaths() procmetrics.ProbePaths {
	return procmetrics.ProbePaths{
		FDDir:      c.Process.FDDir,
		StatusFile: c.Process.StatusFile,
	}
}
