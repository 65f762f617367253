// Package config provides configuration management for Loom.
package config

import (
	"time"
)

// Config is the root configuration structure for Loom.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Templates TemplatesConfig `mapstructure:"templates"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string `mapstructure:"path"`

	// Enable WAL mode (recommended)
	WALMode bool `mapstructure:"wal_mode"`

	// Cache size in KB (negative for KB, positive for pages)
	CacheSize int `mapstructure:"cache_size"`

	// Busy timeout in milliseconds
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	// Enable foreign keys
	ForeignKeys bool `mapstructure:"foreign_keys"`

	// Maximum open connections
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// Maximum idle connections
	MaxIdleConns int `mapstructure:"max_idle_conns"`

	// Connection max lifetime (0 = no limit)
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig holds scheduler settings.
type SchedulerConfig struct {
	// How often the poll loop scans for due schedules
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// Fire missed executions detected at startup instead of skipping them
	Catchup bool `mapstructure:"catchup"`

	// Upper bound on catch-up firings per schedule
	CatchupLimit int `mapstructure:"catchup_limit"`
}

// EngineConfig holds workflow execution settings.
type EngineConfig struct {
	// Default retry attempts per node
	MaxRetries int `mapstructure:"max_retries"`

	// Delay between retry attempts
	RetryDelay time.Duration `mapstructure:"retry_delay"`

	// Per-node execution timeout (0 = none)
	NodeTimeout time.Duration `mapstructure:"node_timeout"`

	// Maximum nodes executed concurrently within a ready set
	MaxConcurrency int `mapstructure:"max_concurrency"`

	// How often to write timer-driven checkpoints
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval"`

	// Checkpoints kept per execution (oldest evicted first)
	MaxCheckpoints int `mapstructure:"max_checkpoints"`

	// Terminal execution state retention before expiry
	StateRetention time.Duration `mapstructure:"state_retention"`
}

// TemplatesConfig holds workflow template loader settings.
type TemplatesConfig struct {
	// Directory containing workflow template YAML files
	Path string `mapstructure:"path"`

	// Watch the directory and invalidate the cache on changes
	Watch bool `mapstructure:"watch"`
}

// GeneratorConfig holds content generator settings.
type GeneratorConfig struct {
	// HTTP endpoint the daemon posts node inputs to
	Endpoint string `mapstructure:"endpoint"`

	// HTTP request timeout
	Timeout time.Duration `mapstructure:"timeout"`
}

// MetricsConfig holds metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level: debug, info, warn, error
	Level string `mapstructure:"level"`

	// Format: console or json
	Format string `mapstructure:"format"`
}
