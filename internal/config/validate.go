package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

func (c SchedulerConfig) validate() []error {
	var errs []error
	if c.TickSeconds < 1 {
		errs = append(errs, fmt.Errorf("scheduler.tick_seconds must be >= 1"))
	}
	if c.Workers < 1 || c.Workers > 256 {
		errs = append(errs, fmt.Errorf("scheduler.workers must be between 1 and 256 (got %d)", c.Workers))
	}
	if c.DispatchTimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("scheduler.dispatch_timeout_seconds must be >= 1"))
	} else if c.TickSeconds >= 1 && c.DispatchTimeoutSeconds > c.TickSeconds*10 {
		errs = append(errs, fmt.Errorf("scheduler.dispatch_timeout_seconds (%d) is far above tick_seconds (%d)", c.DispatchTimeoutSeconds, c.TickSeconds))
	}
	if c.ExpiryBatchSize < 1 {
		errs = append(errs, fmt.Errorf("scheduler.expiry_batch_size must be >= 1"))
	}
	return errs
}

func (c ExpiryConfig) validate() []error {
	var errs []error
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("expiry.max_attempts must be >= 1"))
	}
	if c.InitialBackoffSeconds < 1 {
		errs = append(errs, fmt.Errorf("expiry.initial_backoff_seconds must be >= 1"))
	}
	if c.MaxBackoffSeconds < c.InitialBackoffSeconds {
		errs = append(errs, fmt.Errorf("expiry.max_backoff_seconds must be >= initial_backoff_seconds"))
	}
	if c.RetentionHours < 1 {
		errs = append(errs, fmt.Errorf("expiry.retention_hours must be >= 1"))
	}
	if c.PurgeSchedule != "" {
		if _, err := cron.ParseStandard(c.PurgeSchedule); err != nil {
			errs = append(errs, fmt.Errorf("expiry.purge_schedule %q: %w", c.PurgeSchedule, err))
		}
	}
	return errs
}

func validateTelegramToken(token string) error {
	if token == "" {
		return fmt.Errorf("telegram token cannot be empty")
	}

	parts := strings.Split(token, ":")
	if len(parts) != 2 {
		return formatValidationError("telegram.token", "invalid format (expected <bot_id>:<token>)", maskSecret(token))
	}

	botID := parts[0]
	botToken := parts[1]

	if len(botID) < 3 || len(botID) > 15 {
		return fmt.Errorf("telegram token has invalid bot ID length (expected 3-15 digits, got %d digits)", len(botID))
	}

	for _, r := range botID {
		if r < '0' || r > '9' {
			return fmt.Errorf("telegram token has invalid bot ID (expected digits only, got: %s)", botID)
		}
	}

	if len(botToken) < 10 || len(botToken) > 50 {
		return formatValidationError("telegram.token",
			fmt.Sprintf("invalid token length (expected 10-50 characters, got %d)", len(botToken)),
			maskTelegramToken(token))
	}

	return nil
}

func validatePath(path, fieldName string) error {
	if path == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}

	if strings.HasPrefix(path, "~") {
		return nil
	}

	if strings.Contains(path, "..") {
		return fmt.Errorf("%s contains potentially dangerous path traversal sequence", fieldName)
	}

	return nil
}

func validateListen(addr, fieldName string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%s: %w", fieldName, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("%s: invalid port %q", fieldName, port)
	}
	return nil
}
