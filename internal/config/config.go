// Package config loads rttsense settings from file, environment and flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/planbiir/rttsense/internal/analyze"
	"github.com/planbiir/rttsense/internal/session"
	"github.com/planbiir/rttsense/internal/transport"
)

// EnvPrefix is prepended to every environment override, e.g. RTTSENSE_SERVER_ADDR
const EnvPrefix = "RTTSENSE"

type Config struct {
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`

	Sidecar struct {
		URL     string        `mapstructure:"url"`
		Timeout time.Duration `mapstructure:"timeout"`
		TLS     struct {
			Cert string `mapstructure:"cert"`
			Key  string `mapstructure:"key"`
			CA   string `mapstructure:"ca"`
		} `mapstructure:"tls"`
	} `mapstructure:"sidecar"`

	Log LogConfig `mapstructure:"log"`

	Export struct {
		Dir    string `mapstructure:"dir"`
		Format string `mapstructure:"format"`
	} `mapstructure:"export"`

	Analyzer AnalyzerConfig `mapstructure:"analyzer"`
}

// LogConfig selects the logrus level and formatter
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AnalyzerConfig holds the engine tunables exposed to operators. Zero values
// fall back to analyze.DefaultConfig.
type AnalyzerConfig struct {
	ProbeTimeout       time.Duration `mapstructure:"probe_timeout"`
	WarmupSamples      int           `mapstructure:"warmup_samples"`
	FastCeilingMs      float64       `mapstructure:"fast_ceiling_ms"`
	MinFastSamples     int           `mapstructure:"min_fast_samples"`
	BaselinePercentile float64       `mapstructure:"baseline_percentile"`
	ForegroundFactor   float64       `mapstructure:"foreground_factor"`
	ScreenOnFactor     float64       `mapstructure:"screen_on_factor"`
	ScreenOffFactor    float64       `mapstructure:"screen_off_factor"`
	BatchSize          int           `mapstructure:"batch_size"`
	PresenceMaxAge     time.Duration `mapstructure:"presence_max_age"`
	ProfileEvery       int           `mapstructure:"profile_every"`
}

// Load reads the config file (rttsense.yaml in the working directory unless
// file is set), then applies RTTSENSE_* environment variables and any flags
// already bound to v. A missing default file is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("rttsense")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := analyze.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("sidecar.url", "http://127.0.0.1:3000")
	v.SetDefault("sidecar.timeout", 15*time.Second)
	v.SetDefault("sidecar.tls.cert", "")
	v.SetDefault("sidecar.tls.key", "")
	v.SetDefault("sidecar.tls.ca", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("export.dir", ".")
	v.SetDefault("export.format", string(session.FormatJSON))

	v.SetDefault("analyzer.probe_timeout", d.ProbeTimeout)
	v.SetDefault("analyzer.warmup_samples", d.WarmupSamples)
	v.SetDefault("analyzer.fast_ceiling_ms", d.FastCeilingMs)
	v.SetDefault("analyzer.min_fast_samples", d.MinFastSamples)
	v.SetDefault("analyzer.baseline_percentile", d.BaselinePercentile)
	v.SetDefault("analyzer.foreground_factor", d.ForegroundFactor)
	v.SetDefault("analyzer.screen_on_factor", d.ScreenOnFactor)
	v.SetDefault("analyzer.screen_off_factor", d.ScreenOffFactor)
	v.SetDefault("analyzer.batch_size", d.BatchSize)
	v.SetDefault("analyzer.presence_max_age", d.PresenceMaxAge)
	v.SetDefault("analyzer.profile_every", d.ProfileEvery)
}

// Validate checks enumerated settings
func (c *Config) Validate() error {
	switch session.Format(c.Export.Format) {
	case session.FormatJSON, session.FormatYAML:
	default:
		return fmt.Errorf("export.format must be json or yaml, got %q", c.Export.Format)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Analyzer.BaselinePercentile < 0 || c.Analyzer.BaselinePercentile > 100 {
		return fmt.Errorf("analyzer.baseline_percentile must be within 0-100, got %g", c.Analyzer.BaselinePercentile)
	}
	return nil
}

// AnalyzeConfig maps the operator tunables onto the engine configuration
func (c *Config) AnalyzeConfig() analyze.Config {
	cfg := analyze.DefaultConfig()
	a := c.Analyzer
	if a.ProbeTimeout > 0 {
		cfg.ProbeTimeout = a.ProbeTimeout
	}
	if a.WarmupSamples != 0 {
		cfg.WarmupSamples = a.WarmupSamples
	}
	if a.FastCeilingMs > 0 {
		cfg.FastCeilingMs = a.FastCeilingMs
	}
	if a.MinFastSamples > 0 {
		cfg.MinFastSamples = a.MinFastSamples
	}
	if a.BaselinePercentile > 0 {
		cfg.BaselinePercentile = a.BaselinePercentile
	}
	if a.ForegroundFactor > 0 {
		cfg.ForegroundFactor = a.ForegroundFactor
	}
	if a.ScreenOnFactor > 0 {
		cfg.ScreenOnFactor = a.ScreenOnFactor
	}
	if a.ScreenOffFactor > 0 {
		cfg.ScreenOffFactor = a.ScreenOffFactor
	}
	if a.BatchSize > 0 {
		cfg.BatchSize = a.BatchSize
	}
	if a.PresenceMaxAge > 0 {
		cfg.PresenceMaxAge = a.PresenceMaxAge
	}
	if a.ProfileEvery > 0 {
		cfg.ProfileEvery = a.ProfileEvery
	}
	return cfg
}

// TLS returns the sidecar client TLS material
func (c *Config) TLS() transport.TLSConfig {
	return transport.TLSConfig{
		CertPath: c.Sidecar.TLS.Cert,
		KeyPath:  c.Sidecar.TLS.Key,
		CAPath:   c.Sidecar.TLS.CA,
	}
}

// Apply configures logger level and formatter
func (c LogConfig) Apply(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)
	if c.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
