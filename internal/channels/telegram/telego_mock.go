package telegram

import (
	"context"

	"github.com/mymmrac/telego"
)

// BotInterface defines the Telegram bot API methods used by the client and
// the poller. This interface allows creating mock implementations for
// testing without depending on the concrete telego.Bot implementation.
type BotInterface interface {
	// GetMe returns basic information about the bot.
	GetMe(ctx context.Context) (*telego.User, error)

	// SendMessage sends a text message to a chat.
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)

	// SendPhoto sends a photo to a chat.
	SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error)

	// SendVideo sends a video to a chat.
	SendVideo(ctx context.Context, params *telego.SendVideoParams) (*telego.Message, error)

	// SendAnimation sends a GIF or silent video to a chat.
	SendAnimation(ctx context.Context, params *telego.SendAnimationParams) (*telego.Message, error)

	// SendDocument sends a document to a chat.
	SendDocument(ctx context.Context, params *telego.SendDocumentParams) (*telego.Message, error)

	// DeleteMessage deletes a message.
	DeleteMessage(ctx context.Context, params *telego.DeleteMessageParams) error

	// PinChatMessage pins a message in a chat.
	PinChatMessage(ctx context.Context, params *telego.PinChatMessageParams) error

	// UpdatesViaLongPolling starts long polling for Telegram updates.
	// Returns a channel that will receive updates as they arrive.
	UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, opts ...telego.LongPollingOption) (<-chan telego.Update, error)
}

// telegoAdapter wraps telego.Bot to implement BotInterface.
type telegoAdapter struct {
	bot *telego.Bot
}

// NewBotAdapter creates a new BotInterface from a telego.Bot instance.
func NewBotAdapter(bot *telego.Bot) BotInterface {
	return &telegoAdapter{bot: bot}
}

func (a *telegoAdapter) GetMe(ctx context.Context) (*telego.User, error) {
	return a.bot.GetMe(ctx)
}

func (a *telegoAdapter) SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	return a.bot.SendMessage(ctx, params)
}

func (a *telegoAdapter) SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error) {
	return a.bot.SendPhoto(ctx, params)
}

func (a *telegoAdapter) SendVideo(ctx context.Context, params *telego.SendVideoParams) (*telego.Message, error) {
	return a.bot.SendVideo(ctx, params)
}

func (a *telegoAdapter) SendAnimation(ctx context.Context, params *telego.SendAnimationParams) (*telego.Message, error) {
	return a.bot.SendAnimation(ctx, params)
}

func (a *telegoAdapter) SendDocument(ctx context.Context, params *telego.SendDocumentParams) (*telego.Message, error) {
	return a.bot.SendDocument(ctx, params)
}

func (a *telegoAdapter) DeleteMessage(ctx context.Context, params *telego.DeleteMessageParams) error {
	return a.bot.DeleteMessage(ctx, params)
}

func (a *telegoAdapter) PinChatMessage(ctx context.Context, params *telego.PinChatMessageParams) error {
	return a.bot.PinChatMessage(ctx, params)
}

func (a *telegoAdapter) UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, opts ...telego.LongPollingOption) (<-chan telego.Update, error) {
	return a.bot.UpdatesViaLongPolling(ctx, params, opts...)
}
