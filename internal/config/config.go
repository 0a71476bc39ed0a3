package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load загружает конфигурацию из TOML файла
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := expandEnvVars(&cfg); err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	return &cfg, nil
}

// Validate проверяет валидность конфигурации и возвращает все найденные ошибки
func (c *Config) Validate() []error {
	var errors []error

	// Telegram
	if c.Telegram.Token == "" {
		errors = append(errors, fmt.Errorf("telegram.token is required"))
	} else if err := validateTelegramToken(c.Telegram.Token); err != nil {
		errors = append(errors, err)
	}
	if c.Telegram.SendTimeoutSeconds < 1 {
		errors = append(errors, fmt.Errorf("telegram.send_timeout_seconds must be >= 1"))
	}
	if c.Telegram.RatePerSecond <= 0 || c.Telegram.RatePerSecond > 30 {
		errors = append(errors, fmt.Errorf("telegram.rate_per_second must be in (0, 30] (got %v)", c.Telegram.RatePerSecond))
	}
	if c.Telegram.Burst < 1 {
		errors = append(errors, fmt.Errorf("telegram.burst must be >= 1"))
	}
	if c.Telegram.PollUpdates && c.Telegram.PollTimeoutSeconds < 1 {
		errors = append(errors, fmt.Errorf("telegram.poll_timeout_seconds must be >= 1"))
	}

	// Logging
	if c.Logging.Level == "" {
		errors = append(errors, fmt.Errorf("logging.level is required"))
	} else {
		validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
		if !validLevels[strings.ToLower(c.Logging.Level)] {
			errors = append(errors, fmt.Errorf("invalid logging.level: %s (expected: debug, info, warn, error)", c.Logging.Level))
		}
	}
	if c.Logging.Format == "" {
		errors = append(errors, fmt.Errorf("logging.format is required"))
	} else {
		validFormats := map[string]bool{"json": true, "text": true}
		if !validFormats[strings.ToLower(c.Logging.Format)] {
			errors = append(errors, fmt.Errorf("invalid logging.format: %s (expected: json, text)", c.Logging.Format))
		}
	}
	if c.Logging.Output == "" {
		errors = append(errors, fmt.Errorf("logging.output is required"))
	}

	// Storage
	if err := validatePath(c.Storage.Path, "storage.path"); err != nil {
		errors = append(errors, err)
	}
	if c.Storage.BusyTimeoutMs < 0 {
		errors = append(errors, fmt.Errorf("storage.busy_timeout_ms must be >= 0"))
	}

	// Counter
	switch strings.ToLower(c.Counter.Driver) {
	case "sqlite":
	case "valkey":
		if c.Counter.Valkey.Address == "" {
			errors = append(errors, fmt.Errorf("counter.valkey.address is required when counter.driver is 'valkey'"))
		}
		if c.Counter.Valkey.DB < 0 {
			errors = append(errors, fmt.Errorf("counter.valkey.db must be >= 0"))
		}
	default:
		errors = append(errors, fmt.Errorf("invalid counter.driver: %s (expected: sqlite, valkey)", c.Counter.Driver))
	}

	errors = append(errors, c.Scheduler.validate()...)
	errors = append(errors, c.Expiry.validate()...)
	// вызов к Telegram должен успеть завершиться до таймаута задачи
	if c.Telegram.SendTimeoutSeconds > 0 && c.Scheduler.DispatchTimeoutSeconds > 0 &&
		c.Telegram.SendTimeoutSeconds >= c.Scheduler.DispatchTimeoutSeconds {
		errors = append(errors, fmt.Errorf("telegram.send_timeout_seconds (%d) must be below scheduler.dispatch_timeout_seconds (%d)",
			c.Telegram.SendTimeoutSeconds, c.Scheduler.DispatchTimeoutSeconds))
	}

	// Tenants
	if c.Tenants.Watch && c.Tenants.Dir == "" {
		errors = append(errors, fmt.Errorf("tenants.dir is required when tenants.watch is enabled"))
	}
	if c.Tenants.Dir != "" {
		if err := validatePath(c.Tenants.Dir, "tenants.dir"); err != nil {
			errors = append(errors, err)
		}
	}

	// Metrics
	if c.Metrics.Enabled {
		if err := validateListen(c.Metrics.Listen, "metrics.listen"); err != nil {
			errors = append(errors, err)
		}
	}

	return errors
}

// expandEnvVars расширяет переменные окружения в конфигурации
func expandEnvVars(c *Config) error {
	for _, s := range []*string{
		&c.Telegram.Token,
		&c.Storage.Path,
		&c.Counter.Valkey.Address,
		&c.Counter.Valkey.Password,
		&c.Tenants.Dir,
		&c.Logging.Output,
	} {
		if strings.HasPrefix(*s, "${") {
			*s = expandEnv(*s)
		}
	}

	c.Storage.Path = expandHome(c.Storage.Path)
	c.Tenants.Dir = expandHome(c.Tenants.Dir)

	return nil
}

// expandEnv расширяет переменную окружения формата ${VAR:default}
func expandEnv(s string) string {
	if !strings.HasPrefix(s, "${") {
		return s
	}

	end := strings.Index(s, "}")
	if end == -1 {
		return s
	}

	content := s[2:end]
	if parts := strings.SplitN(content, ":", 2); len(parts) == 2 {
		key := parts[0]
		defaultVal := parts[1]
		if val := os.Getenv(key); val != "" {
			return val
		}
		return defaultVal
	}

	// Без значения по умолчанию
	return os.Getenv(content)
}

// expandHome расширяет ~ в пути
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
