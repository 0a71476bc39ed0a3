// Package config provides configuration loading and validation for chronobot.
// It supports TOML configuration files with environment variable expansion,
// default values, and validation that reports every problem at once.
//
// Configuration structure:
//   - [telegram]: Bot API token, call timeout, outbound rate cap, update polling
//   - [logging]: Logging level, format, and output
//   - [storage]: SQLite database file
//   - [counter]: Message-volume counter backend (sqlite or valkey)
//   - [scheduler]: Tick interval, worker pool, per-dispatch timeout
//   - [expiry]: Deletion retry policy and retention of finished entries
//   - [tenants]: Directory of YAML tenant documents and hot reload
//   - [metrics]: Prometheus endpoint
//
// Environment variables:
// Environment variables can be referenced using ${VAR} or ${VAR:default} syntax.
// For example: token = "${TELEGRAM_BOT_TOKEN}"
package config

import "time"

// Config represents the main application configuration.
type Config struct {
	Telegram  TelegramConfig  `toml:"telegram"`
	Logging   LoggingConfig   `toml:"logging"`
	Storage   StorageConfig   `toml:"storage"`
	Counter   CounterConfig   `toml:"counter"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Expiry    ExpiryConfig    `toml:"expiry"`
	Tenants   TenantsConfig   `toml:"tenants"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// TelegramConfig представляет конфигурацию Telegram
type TelegramConfig struct {
	Token              string  `toml:"token"`
	SendTimeoutSeconds int     `toml:"send_timeout_seconds"`
	RatePerSecond      float64 `toml:"rate_per_second"`
	Burst              int     `toml:"burst"`
	PollUpdates        bool    `toml:"poll_updates"`
	PollTimeoutSeconds int     `toml:"poll_timeout_seconds"`
}

// SendTimeout returns the per-call timeout.
func (c TelegramConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// PollTimeout returns the long polling timeout.
func (c TelegramConfig) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutSeconds) * time.Second
}

// LoggingConfig представляет конфигурацию логирования
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
}

// StorageConfig представляет конфигурацию SQLite
type StorageConfig struct {
	Path          string `toml:"path"`
	BusyTimeoutMs int    `toml:"busy_timeout_ms"`
}

// BusyTimeout returns the SQLite busy timeout.
func (c StorageConfig) BusyTimeout() time.Duration {
	return time.Duration(c.BusyTimeoutMs) * time.Millisecond
}

// CounterConfig представляет конфигурацию счётчика сообщений
type CounterConfig struct {
	Driver string       `toml:"driver"`
	Valkey ValkeyConfig `toml:"valkey"`
}

// ValkeyConfig представляет подключение к Valkey
type ValkeyConfig struct {
	Address   string `toml:"address"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
}

// SchedulerConfig представляет конфигурацию цикла планировщика
type SchedulerConfig struct {
	TickSeconds            int `toml:"tick_seconds"`
	Workers                int `toml:"workers"`
	DispatchTimeoutSeconds int `toml:"dispatch_timeout_seconds"`
	ExpiryBatchSize        int `toml:"expiry_batch_size"`
}

// Interval returns the tick interval.
func (c SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.TickSeconds) * time.Second
}

// DispatchTimeout returns the per work unit timeout.
func (c SchedulerConfig) DispatchTimeout() time.Duration {
	return time.Duration(c.DispatchTimeoutSeconds) * time.Second
}

// ExpiryConfig представляет политику повторов удаления
type ExpiryConfig struct {
	MaxAttempts           int    `toml:"max_attempts"`
	InitialBackoffSeconds int    `toml:"initial_backoff_seconds"`
	MaxBackoffSeconds     int    `toml:"max_backoff_seconds"`
	RetentionHours        int    `toml:"retention_hours"`
	PurgeSchedule         string `toml:"purge_schedule"`
}

// InitialBackoff returns the first retry delay.
func (c ExpiryConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffSeconds) * time.Second
}

// MaxBackoff returns the retry delay cap.
func (c ExpiryConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffSeconds) * time.Second
}

// Retention returns how long finished entries are kept.
func (c ExpiryConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// TenantsConfig представляет каталог документов тенантов
type TenantsConfig struct {
	Dir   string `toml:"dir"`
	Watch bool   `toml:"watch"`
}

// MetricsConfig представляет конфигурацию Prometheus
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Listen    string `toml:"listen"`
	Namespace string `toml:"namespace"`
}
