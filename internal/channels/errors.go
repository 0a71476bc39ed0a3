// Package channels holds what the engine knows about the messaging
// boundary independent of a concrete transport: the operations it
// consumes and the failure taxonomy every transport maps into.
package channels

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aatumaykin/chronobot/internal/logger"
)

// ErrorKind classifies a failed outbound call.
type ErrorKind string

const (
	// KindTransient - сетевые ошибки и 5xx, повторяются.
	KindTransient ErrorKind = "transient"
	// KindRateLimited - 429, повторяется после RetryAfter.
	KindRateLimited ErrorKind = "rate_limited"
	// KindNotFound - сообщение уже удалено или не существует.
	KindNotFound ErrorKind = "not_found"
	// KindPermanent - нет прав, чат не существует, бот исключён.
	KindPermanent ErrorKind = "permanent"
	// KindTimeout - истёк таймаут вызова; никогда не считается успехом.
	KindTimeout ErrorKind = "timeout"
)

// Sentinels matched with errors.Is against a *DeliveryError.
var (
	ErrTransient       = errors.New("delivery: transient failure")
	ErrRateLimited     = errors.New("delivery: rate limited")
	ErrMessageNotFound = errors.New("delivery: message not found")
	ErrPermanent       = errors.New("delivery: permanent failure")
	ErrTimeout         = errors.New("delivery: timeout")
)

// DeliveryError - детализация ошибки внешнего API.
type DeliveryError struct {
	Op          string // send | delete | pin
	ChatID      int64
	MessageID   int
	Code        int    // код ошибки API (400, 403, 429 и т.д.)
	Description string // описание от API
	RetryAfter  time.Duration
	Kind        ErrorKind
	Err         error // исходная ошибка
}

// Error возвращает текстовое описание ошибки
func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("%s chat %d", e.Op, e.ChatID)
	if e.MessageID != 0 {
		msg += fmt.Sprintf(" message %d", e.MessageID)
	}
	msg += fmt.Sprintf(": %s", e.Kind)
	if e.Code != 0 {
		msg += fmt.Sprintf(" (%d)", e.Code)
	}
	if e.Description != "" {
		msg += ": " + e.Description
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the transport error.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Is maps the kind onto the package sentinels.
func (e *DeliveryError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrMessageNotFound:
		return e.Kind == KindNotFound
	case ErrPermanent:
		return e.Kind == KindPermanent
	case ErrTimeout:
		return e.Kind == KindTimeout
	}
	return false
}

// IsRetryable проверяет, можно ли повторить вызов
func (e *DeliveryError) IsRetryable() bool {
	switch e.Kind {
	case KindTransient, KindRateLimited, KindTimeout:
		return true
	}
	return false
}

// LogFields возвращает поля для структурированного логирования
func (e *DeliveryError) LogFields() []logger.Field {
	fields := []logger.Field{
		{Key: "op", Value: e.Op},
		{Key: "error_kind", Value: string(e.Kind)},
		{Key: "chat_id", Value: e.ChatID},
	}
	if e.MessageID != 0 {
		fields = append(fields, logger.Field{Key: "message_id", Value: e.MessageID})
	}
	if e.Code != 0 {
		fields = append(fields, logger.Field{Key: "error_code", Value: e.Code})
	}
	if e.RetryAfter > 0 {
		fields = append(fields, logger.Field{Key: "retry_after", Value: e.RetryAfter.String()})
	}
	return fields
}

// KindOf returns the kind of err. Context deadlines count as timeouts,
// unknown errors as transient.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindTransient
}

// LogFieldsOf returns DeliveryError fields when err carries one.
func LogFieldsOf(err error) []logger.Field {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.LogFields()
	}
	return nil
}
