package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	telegoapi "github.com/mymmrac/telego/telegoapi"

	"github.com/aatumaykin/chronobot/internal/channels"
)

// errInvalidContent marks content rejected before any request is made.
var errInvalidContent = errors.New("invalid content")

// Описания ошибок 400, означающие что сообщения уже нет.
var notFoundDescriptions = []string{
	"message to delete not found",
	"message to pin not found",
	"message not found",
	"message_id_invalid",
}

// Описания ошибок разбора разметки.
var parseErrorDescriptions = []string{
	"can't parse entities",
	"can't find end of the entity",
	"wrong number of entities",
	"unsupported start tag",
}

// mapError converts a Bot API failure into a *channels.DeliveryError.
// callErr is the error of the bounded call context, if any.
func mapError(op string, ref refInfo, err error, callErr error) *channels.DeliveryError {
	de := &channels.DeliveryError{
		Op:        op,
		ChatID:    ref.chatID,
		MessageID: ref.messageID,
		Err:       err,
	}

	var telErr *telegoapi.Error
	switch {
	case errors.As(err, &telErr):
		de.Code = telErr.ErrorCode
		de.Description = telErr.Description
		if telErr.Parameters != nil && telErr.Parameters.RetryAfter > 0 {
			de.RetryAfter = time.Duration(telErr.Parameters.RetryAfter) * time.Second
		}
		de.Kind = kindForCode(telErr.ErrorCode, telErr.Description)
	case errors.Is(err, errInvalidContent):
		de.Kind = channels.KindPermanent
	case errors.Is(err, context.DeadlineExceeded), errors.Is(callErr, context.DeadlineExceeded):
		de.Kind = channels.KindTimeout
	default:
		de.Kind = channels.KindTransient
	}
	return de
}

func kindForCode(code int, description string) channels.ErrorKind {
	switch {
	case code == 429:
		return channels.KindRateLimited
	case code >= 500:
		return channels.KindTransient
	case code == 400 && containsAny(description, notFoundDescriptions):
		return channels.KindNotFound
	default:
		return channels.KindPermanent
	}
}

// isParseError reports a 400 caused by rejected markup.
func isParseError(err error) bool {
	var telErr *telegoapi.Error
	if !errors.As(err, &telErr) || telErr.ErrorCode != 400 {
		return false
	}
	return containsAny(telErr.Description, parseErrorDescriptions)
}

func containsAny(s string, patterns []string) bool {
	s = strings.ToLower(s)
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

type refInfo struct {
	chatID    int64
	messageID int
}
