// Package telegram is the Telegram side of the messaging boundary: a
// rate-limited Bot API client for send, delete and pin, and a long-polling
// poller feeding observed messages into ingestion.
package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/mymmrac/telego"
	"golang.org/x/time/rate"

	"github.com/aatumaykin/chronobot/internal/channels"
	"github.com/aatumaykin/chronobot/internal/logger"
	"github.com/aatumaykin/chronobot/internal/retry"
	"github.com/aatumaykin/chronobot/internal/tenant"
)

// Config holds client settings.
type Config struct {
	Token         string
	SendTimeout   time.Duration // per Bot API call, including the wait for the limiter
	RatePerSecond float64       // global cap across all chats
	Burst         int
}

// Client implements channels.Messenger over the Bot API.
type Client struct {
	bot     BotInterface
	cfg     Config
	limiter *rate.Limiter
	logger  *logger.Logger
}

var _ channels.Messenger = (*Client)(nil)

// New creates a client with a real telego bot.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telegram bot: %w", err)
	}
	return NewWithBot(NewBotAdapter(bot), cfg, log), nil
}

// NewWithBot creates a client over any BotInterface.
func NewWithBot(bot BotInterface, cfg Config, log *logger.Logger) *Client {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 25
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Client{
		bot:     bot,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		logger:  log,
	}
}

// Bot returns the underlying bot, shared with the poller.
func (c *Client) Bot() BotInterface {
	return c.bot
}

// Verify checks the token with getMe, retrying transient failures.
func (c *Client) Verify(ctx context.Context, rc retry.Config) (*telego.User, error) {
	user, err := retry.Do(ctx, c.logger, rc, func(ctx context.Context) (*telego.User, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
		defer cancel()
		u, err := c.bot.GetMe(callCtx)
		if err != nil {
			return nil, mapError("get_me", refInfo{}, err, callCtx.Err())
		}
		return u, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get bot info: %w", err)
	}
	c.logger.Info("telegram bot verified",
		logger.Field{Key: "bot_id", Value: user.ID},
		logger.Field{Key: "username", Value: user.Username})
	return user, nil
}

// SendMessage sends content and returns the reference of the new message.
// When Telegram rejects the markup the text is resent once as plain text.
func (c *Client) SendMessage(ctx context.Context, chatID int64, content tenant.Content) (tenant.MessageRef, error) {
	rendered := Render(content)
	if rendered.HTML == "" && content.Media == nil {
		return tenant.MessageRef{}, &channels.DeliveryError{
			Op: "send", ChatID: chatID, Kind: channels.KindPermanent, Description: "empty content",
		}
	}

	msg, err := c.send(ctx, chatID, content.Media, rendered.HTML, telego.ModeHTML, rendered.Keyboard)
	if err != nil && isParseError(err) {
		c.logger.WarnCtx(ctx, "markup rejected, sending plain text",
			logger.Field{Key: "chat_id", Value: chatID},
			logger.Field{Key: "error", Value: err.Error()})
		msg, err = c.send(ctx, chatID, content.Media, rendered.Plain, "", rendered.Keyboard)
	}
	if err != nil {
		return tenant.MessageRef{}, err
	}
	if msg == nil {
		return tenant.MessageRef{}, &channels.DeliveryError{
			Op: "send", ChatID: chatID, Kind: channels.KindTransient, Description: "empty response",
		}
	}
	return tenant.MessageRef{ChatID: chatID, MessageID: msg.MessageID}, nil
}

func (c *Client) send(ctx context.Context, chatID int64, media *tenant.Media, text, parseMode string, keyboard *telego.InlineKeyboardMarkup) (*telego.Message, error) {
	var msg *telego.Message
	err := c.call(ctx, "send", refInfo{chatID: chatID}, func(callCtx context.Context) error {
		var err error
		msg, err = c.sendOnce(callCtx, chatID, media, text, parseMode, keyboard)
		return err
	})
	return msg, err
}

func (c *Client) sendOnce(ctx context.Context, chatID int64, media *tenant.Media, text, parseMode string, keyboard *telego.InlineKeyboardMarkup) (*telego.Message, error) {
	target := telego.ChatID{ID: chatID}

	if media == nil {
		params := &telego.SendMessageParams{ChatID: target, Text: text, ParseMode: parseMode}
		if keyboard != nil {
			params.ReplyMarkup = keyboard
		}
		return c.bot.SendMessage(ctx, params)
	}

	file, err := inputFile(media)
	if err != nil {
		return nil, err
	}

	switch media.Kind {
	case tenant.MediaPhoto:
		params := &telego.SendPhotoParams{ChatID: target, Photo: file, Caption: text, ParseMode: parseMode}
		if keyboard != nil {
			params.ReplyMarkup = keyboard
		}
		return c.bot.SendPhoto(ctx, params)
	case tenant.MediaVideo:
		params := &telego.SendVideoParams{ChatID: target, Video: file, Caption: text, ParseMode: parseMode}
		if keyboard != nil {
			params.ReplyMarkup = keyboard
		}
		return c.bot.SendVideo(ctx, params)
	case tenant.MediaAnimation:
		params := &telego.SendAnimationParams{ChatID: target, Animation: file, Caption: text, ParseMode: parseMode}
		if keyboard != nil {
			params.ReplyMarkup = keyboard
		}
		return c.bot.SendAnimation(ctx, params)
	case tenant.MediaDocument:
		params := &telego.SendDocumentParams{ChatID: target, Document: file, Caption: text, ParseMode: parseMode}
		if keyboard != nil {
			params.ReplyMarkup = keyboard
		}
		return c.bot.SendDocument(ctx, params)
	default:
		return nil, fmt.Errorf("%w: unsupported media kind %q", errInvalidContent, media.Kind)
	}
}

// inputFile picks the media source. Priority order: FileID > URL.
func inputFile(media *tenant.Media) (telego.InputFile, error) {
	switch {
	case media.FileID != "":
		return telego.InputFile{FileID: media.FileID}, nil
	case media.URL != "":
		return telego.InputFile{URL: media.URL}, nil
	default:
		return telego.InputFile{}, fmt.Errorf("%w: no valid media source provided (file_id or url)", errInvalidContent)
	}
}

// DeleteMessage deletes a message. A message that is already gone yields
// an error matching channels.ErrMessageNotFound.
func (c *Client) DeleteMessage(ctx context.Context, ref tenant.MessageRef) error {
	return c.call(ctx, "delete", refInfo{chatID: ref.ChatID, messageID: ref.MessageID}, func(callCtx context.Context) error {
		return c.bot.DeleteMessage(callCtx, &telego.DeleteMessageParams{
			ChatID:    telego.ChatID{ID: ref.ChatID},
			MessageID: ref.MessageID,
		})
	})
}

// PinMessage pins a message without notifying members.
func (c *Client) PinMessage(ctx context.Context, ref tenant.MessageRef) error {
	return c.call(ctx, "pin", refInfo{chatID: ref.ChatID, messageID: ref.MessageID}, func(callCtx context.Context) error {
		return c.bot.PinChatMessage(callCtx, &telego.PinChatMessageParams{
			ChatID:              telego.ChatID{ID: ref.ChatID},
			MessageID:           ref.MessageID,
			DisableNotification: true,
		})
	})
}

// call bounds one Bot API call: limiter wait plus request share SendTimeout.
func (c *Client) call(ctx context.Context, op string, ref refInfo, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
	defer cancel()

	if err := c.limiter.Wait(callCtx); err != nil {
		// Wait fails early when the deadline cannot be met
		return &channels.DeliveryError{Op: op, ChatID: ref.chatID, MessageID: ref.messageID, Kind: channels.KindTimeout, Err: err}
	}

	if err := fn(callCtx); err != nil {
		de := mapError(op, ref, err, callCtx.Err())
		c.logger.DebugCtx(ctx, "telegram call failed", de.LogFields()...)
		return de
	}
	return nil
}
