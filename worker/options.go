package worker

import (
	"github.com/caarlos0/env/v11"

	"github.com/corverroos/loom/converter"
)

// Config holds worker tuning knobs, loadable from the environment.
type Config struct {
	DecisionPollers         int `env:"LOOM_DECISION_POLLERS" envDefault:"2"`
	ActivityPollers         int `env:"LOOM_ACTIVITY_POLLERS" envDefault:"2"`
	MaxConcurrentActivities int `env:"LOOM_MAX_CONCURRENT_ACTIVITIES" envDefault:"10"`
	DecisionShards          int `env:"LOOM_DECISION_SHARDS" envDefault:"4"`
	StickyCacheSize         int `env:"LOOM_STICKY_CACHE_SIZE" envDefault:"64"`
}

// ConfigFromEnv loads Config from LOOM_* environment variables.
func ConfigFromEnv() (Config, error) {
	return env.ParseAs[Config]()
}

func defaultConfig() Config {
	return Config{
		DecisionPollers:         2,
		ActivityPollers:         2,
		MaxConcurrentActivities: 10,
		DecisionShards:          4,
		StickyCacheSize:         64,
	}
}

type options struct {
	config   Config
	dc       converter.DataConverter
	identity string
	metrics  Metrics
}

type Option func(*options)

// WithConfig overrides the default worker config.
func WithConfig(c Config) Option {
	return func(o *options) {
		o.config = c
	}
}

// WithDataConverter overrides the default JSON data converter. It must match
// the converter used by the client starting the workflows.
func WithDataConverter(dc converter.DataConverter) Option {
	return func(o *options) {
		o.dc = dc
	}
}

// WithIdentity overrides the generated worker identity.
func WithIdentity(identity string) Option {
	return func(o *options) {
		o.identity = identity
	}
}

// WithMetrics overrides the default prometheus metrics.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}
