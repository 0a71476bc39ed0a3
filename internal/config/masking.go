package config

import (
	"strings"
)

// maskSecret маскирует секрет, оставляя только первые 4 и последние 4 символа
func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}

	// Если секрет слишком короткий, маскируем полностью
	if len(secret) < 8 {
		return "***"
	}

	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}

// maskTelegramToken оставляет bot_id видимым для диагностики
func maskTelegramToken(token string) string {
	if token == "" {
		return ""
	}

	botID, secret, ok := strings.Cut(token, ":")
	if !ok {
		return maskSecret(token)
	}
	return botID + ":" + maskSecret(secret)
}

// MaskedToken returns the Telegram token safe for logs.
func (c *Config) MaskedToken() string {
	return maskTelegramToken(c.Telegram.Token)
}

// formatValidationError форматирует ошибку валидации с маскированным значением.
// masked must already be safe to print.
func formatValidationError(field, message, masked string) error {
	errorMsg := field + ": " + message
	if masked != "" {
		errorMsg += " (value: " + masked + ")"
	}
	return &ValidationError{Field: field, Message: errorMsg}
}

// ValidationError представляет ошибку валидации с дополнительной информацией
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
