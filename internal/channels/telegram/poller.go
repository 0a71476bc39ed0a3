package telegram

import (
	"context"
	"time"

	"github.com/mymmrac/telego"

	"github.com/aatumaykin/chronobot/internal/ingest"
	"github.com/aatumaykin/chronobot/internal/logger"
	"github.com/aatumaykin/chronobot/internal/tenant"
)

// Sink receives observed messages.
type Sink interface {
	Observe(ctx context.Context, ev ingest.Event) error
}

// Poller handles long polling for Telegram updates and turns chat
// messages into ingestion events.
type Poller struct {
	bot     BotInterface
	sink    Sink
	timeout int // seconds
	logger  *logger.Logger
}

// NewPoller creates a new poller.
func NewPoller(bot BotInterface, sink Sink, timeout time.Duration, log *logger.Logger) *Poller {
	secs := int(timeout / time.Second)
	if secs <= 0 {
		secs = 30
	}
	return &Poller{bot: bot, sink: sink, timeout: secs, logger: log}
}

// Run polls until ctx is cancelled or the updates channel closes.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("starting long polling for telegram updates",
		logger.Field{Key: "timeout_seconds", Value: p.timeout})

	updates, err := p.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        p.timeout,
		AllowedUpdates: []string{"message", "edited_message", "channel_post", "edited_channel_post"},
	})
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("long polling stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				p.logger.Info("updates channel closed")
				return nil
			}
			ev, ok := EventFromUpdate(update)
			if !ok {
				continue
			}
			if err := p.sink.Observe(ctx, ev); err != nil {
				p.logger.ErrorCtx(ctx, "failed to handle update", err,
					logger.Field{Key: "update_id", Value: update.UpdateID},
					logger.Field{Key: "chat_id", Value: ev.ChatID})
			}
		}
	}
}

// EventFromUpdate categorizes a group or channel message update. Private
// chats and updates without a message are ignored.
func EventFromUpdate(update telego.Update) (ingest.Event, bool) {
	var (
		msg    *telego.Message
		edited bool
	)
	switch {
	case update.Message != nil:
		msg = update.Message
	case update.EditedMessage != nil:
		msg, edited = update.EditedMessage, true
	case update.ChannelPost != nil:
		msg = update.ChannelPost
	case update.EditedChannelPost != nil:
		msg, edited = update.EditedChannelPost, true
	}
	if msg == nil || msg.Chat.Type == telego.ChatTypePrivate {
		return ingest.Event{}, false
	}

	ev := ingest.Event{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Category:  categorize(msg),
		At:        time.Unix(msg.Date, 0).UTC(),
		Counted:   !edited,
	}
	if edited {
		ev.Category = tenant.CategoryEdited
		if msg.EditDate != 0 {
			ev.At = time.Unix(msg.EditDate, 0).UTC()
		}
	}
	return ev, true
}

func categorize(msg *telego.Message) string {
	switch {
	case len(msg.NewChatMembers) > 0:
		return tenant.CategoryServiceJoin
	case msg.LeftChatMember != nil:
		return tenant.CategoryServiceLeave
	case msg.PinnedMessage != nil:
		return tenant.CategoryServicePin
	case msg.NewChatTitle != "":
		return tenant.CategoryServiceTitle
	case len(msg.NewChatPhoto) > 0 || msg.DeleteChatPhoto:
		return tenant.CategoryServicePhoto
	default:
		return tenant.CategoryChat
	}
}
