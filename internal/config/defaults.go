package config

import "time"

// Default configuration values.
const (
	// Database defaults.
	DefaultDBPath       = "loom.db"
	DefaultCacheSize    = -64000 // 64MB
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 1 // SQLite works best with single writer
	DefaultMaxIdleConns = 1

	// Scheduler defaults.
	DefaultPollInterval = time.Minute
	DefaultCatchupLimit = 100

	// Engine defaults.
	DefaultMaxRetries         = 2
	DefaultRetryDelay         = 5 * time.Second
	DefaultNodeTimeout        = 5 * time.Minute
	DefaultMaxConcurrency     = 1
	DefaultCheckpointInterval = 30 * time.Second
	DefaultMaxCheckpoints     = 10
	DefaultStateRetention     = 7 * 24 * time.Hour

	// Templates defaults.
	DefaultTemplatesPath = "templates"

	// Generator defaults.
	DefaultGeneratorTimeout = 5 * time.Minute

	// Metrics defaults.
	DefaultMetricsAddr = "localhost:9180"

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            DefaultDBPath,
			WALMode:         true,
			CacheSize:       DefaultCacheSize,
			BusyTimeout:     DefaultBusyTimeout,
			ForeignKeys:     true,
			MaxOpenConns:    DefaultMaxOpenConns,
			MaxIdleConns:    DefaultMaxIdleConns,
			ConnMaxLifetime: 0, // No limit
		},
		Scheduler: SchedulerConfig{
			PollInterval: DefaultPollInterval,
			Catchup:      false,
			CatchupLimit: DefaultCatchupLimit,
		},
		Engine: EngineConfig{
			MaxRetries:         DefaultMaxRetries,
			RetryDelay:         DefaultRetryDelay,
			NodeTimeout:        DefaultNodeTimeout,
			MaxConcurrency:     DefaultMaxConcurrency,
			CheckpointInterval: DefaultCheckpointInterval,
			MaxCheckpoints:     DefaultMaxCheckpoints,
			StateRetention:     DefaultStateRetention,
		},
		Templates: TemplatesConfig{
			Path:  DefaultTemplatesPath,
			Watch: true,
		},
		Generator: GeneratorConfig{
			Timeout: DefaultGeneratorTimeout,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    DefaultMetricsAddr,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
