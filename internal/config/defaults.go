package config

const (
	DefaultDataDir = "~/.chronobot"

	DefaultSendTimeoutSeconds = 10
	DefaultRatePerSecond      = 25
	DefaultBurst              = 5
	DefaultPollTimeoutSeconds = 30

	DefaultStoragePath   = DefaultDataDir + "/chronobot.db"
	DefaultBusyTimeoutMs = 5000

	DefaultCounterDriver   = "sqlite"
	DefaultValkeyKeyPrefix = "chronobot:counter:"

	DefaultTickSeconds            = 60
	DefaultWorkers                = 8
	DefaultDispatchTimeoutSeconds = 30
	DefaultExpiryBatchSize        = 500

	DefaultMaxAttempts           = 5
	DefaultInitialBackoffSeconds = 30
	DefaultMaxBackoffSeconds     = 1800
	DefaultRetentionHours        = 24 * 7
	DefaultPurgeSchedule         = "@daily"

	DefaultMetricsListen    = "127.0.0.1:9108"
	DefaultMetricsNamespace = "chronobot"
)

// ApplyDefaults fills every unset field of c.
func ApplyDefaults(c *Config) {
	applyDefaults(c)
}

// applyDefaults применяет значения по умолчанию
func applyDefaults(c *Config) {
	if c.Telegram.SendTimeoutSeconds == 0 {
		c.Telegram.SendTimeoutSeconds = DefaultSendTimeoutSeconds
	}
	if c.Telegram.RatePerSecond == 0 {
		c.Telegram.RatePerSecond = DefaultRatePerSecond
	}
	if c.Telegram.Burst == 0 {
		c.Telegram.Burst = DefaultBurst
	}
	if c.Telegram.PollTimeoutSeconds == 0 {
		c.Telegram.PollTimeoutSeconds = DefaultPollTimeoutSeconds
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Storage.Path == "" {
		c.Storage.Path = DefaultStoragePath
	}
	if c.Storage.BusyTimeoutMs == 0 {
		c.Storage.BusyTimeoutMs = DefaultBusyTimeoutMs
	}

	if c.Counter.Driver == "" {
		c.Counter.Driver = DefaultCounterDriver
	}
	if c.Counter.Valkey.KeyPrefix == "" {
		c.Counter.Valkey.KeyPrefix = DefaultValkeyKeyPrefix
	}

	if c.Scheduler.TickSeconds == 0 {
		c.Scheduler.TickSeconds = DefaultTickSeconds
	}
	if c.Scheduler.Workers == 0 {
		c.Scheduler.Workers = DefaultWorkers
	}
	if c.Scheduler.DispatchTimeoutSeconds == 0 {
		c.Scheduler.DispatchTimeoutSeconds = DefaultDispatchTimeoutSeconds
	}
	if c.Scheduler.ExpiryBatchSize == 0 {
		c.Scheduler.ExpiryBatchSize = DefaultExpiryBatchSize
	}

	if c.Expiry.MaxAttempts == 0 {
		c.Expiry.MaxAttempts = DefaultMaxAttempts
	}
	if c.Expiry.InitialBackoffSeconds == 0 {
		c.Expiry.InitialBackoffSeconds = DefaultInitialBackoffSeconds
	}
	if c.Expiry.MaxBackoffSeconds == 0 {
		c.Expiry.MaxBackoffSeconds = DefaultMaxBackoffSeconds
	}
	if c.Expiry.RetentionHours == 0 {
		c.Expiry.RetentionHours = DefaultRetentionHours
	}
	if c.Expiry.PurgeSchedule == "" {
		c.Expiry.PurgeSchedule = DefaultPurgeSchedule
	}

	if c.Metrics.Listen == "" {
		c.Metrics.Listen = DefaultMetricsListen
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultMetricsNamespace
	}
}
