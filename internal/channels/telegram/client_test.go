package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	telegoapi "github.com/mymmrac/telego/telegoapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/chronobot/internal/channels"
	"github.com/aatumaykin/chronobot/internal/logger"
	"github.com/aatumaykin/chronobot/internal/retry"
	"github.com/aatumaykin/chronobot/internal/tenant"
)

const testChat = int64(-1001234567890)

func newTestClient(bot BotInterface) *Client {
	return NewWithBot(bot, Config{SendTimeout: time.Second, RatePerSecond: 1000, Burst: 10}, logger.Nop())
}

func TestNew_RequiresToken(t *testing.T) {
	_, err := New(Config{}, logger.Nop())
	assert.ErrorContains(t, err, "token is required")
}

func TestClient_SendText(t *testing.T) {
	bot := new(MockBot)
	bot.On("SendMessage", mock.Anything, mock.MatchedBy(func(p *telego.SendMessageParams) bool {
		markup, ok := p.ReplyMarkup.(*telego.InlineKeyboardMarkup)
		return p.ChatID.ID == testChat &&
			p.Text == "<b>Hi</b> there" &&
			p.ParseMode == telego.ModeHTML &&
			ok && markup.InlineKeyboard[0][0].URL == "https://example.org"
	})).Return(&telego.Message{MessageID: 77}, nil).Once()

	c := newTestClient(bot)
	ref, err := c.SendMessage(context.Background(), testChat, tenant.Content{
		Text:    "<b>Hi</b> <font>there</font>",
		Buttons: [][]tenant.URLButton{{{Text: "Site", URL: "https://example.org"}}},
	})

	require.NoError(t, err)
	assert.Equal(t, tenant.MessageRef{ChatID: testChat, MessageID: 77}, ref)
	bot.AssertExpectations(t)
}

func TestClient_SendTextWithoutButtonsHasNoMarkup(t *testing.T) {
	bot := new(MockBot)
	bot.On("SendMessage", mock.Anything, mock.MatchedBy(func(p *telego.SendMessageParams) bool {
		return p.ReplyMarkup == nil
	})).Return(&telego.Message{MessageID: 1}, nil).Once()

	_, err := newTestClient(bot).SendMessage(context.Background(), testChat, tenant.Content{Text: "plain"})
	require.NoError(t, err)
	bot.AssertExpectations(t)
}

func TestClient_SendMedia(t *testing.T) {
	tests := []struct {
		kind   tenant.MediaKind
		method string
	}{
		{tenant.MediaPhoto, "SendPhoto"},
		{tenant.MediaVideo, "SendVideo"},
		{tenant.MediaAnimation, "SendAnimation"},
		{tenant.MediaDocument, "SendDocument"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			bot := new(MockBot)
			bot.On(tt.method, mock.Anything, mock.Anything).Return(&telego.Message{MessageID: 5}, nil).Once()

			ref, err := newTestClient(bot).SendMessage(context.Background(), testChat, tenant.Content{
				Text:  "caption",
				Media: &tenant.Media{Kind: tt.kind, FileID: "AgAD"},
			})
			require.NoError(t, err)
			assert.Equal(t, 5, ref.MessageID)
			bot.AssertExpectations(t)
		})
	}
}

func TestClient_SendPhotoByURL(t *testing.T) {
	bot := new(MockBot)
	bot.On("SendPhoto", mock.Anything, mock.MatchedBy(func(p *telego.SendPhotoParams) bool {
		return p.Photo.URL == "https://example.org/a.png" && p.Caption == "" && p.ParseMode == telego.ModeHTML
	})).Return(&telego.Message{MessageID: 9}, nil).Once()

	_, err := newTestClient(bot).SendMessage(context.Background(), testChat, tenant.Content{
		Media: &tenant.Media{Kind: tenant.MediaPhoto, URL: "https://example.org/a.png"},
	})
	require.NoError(t, err)
	bot.AssertExpectations(t)
}

func TestClient_SendInvalidContentIsPermanent(t *testing.T) {
	bot := new(MockBot)
	c := newTestClient(bot)

	_, err := c.SendMessage(context.Background(), testChat, tenant.Content{Text: "  "})
	assert.ErrorIs(t, err, channels.ErrPermanent)

	_, err = c.SendMessage(context.Background(), testChat, tenant.Content{Media: &tenant.Media{Kind: tenant.MediaPhoto}})
	assert.ErrorIs(t, err, channels.ErrPermanent)

	_, err = c.SendMessage(context.Background(), testChat, tenant.Content{Media: &tenant.Media{Kind: "sticker", FileID: "x"}})
	assert.ErrorIs(t, err, channels.ErrPermanent)

	bot.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
}

func TestClient_ParseErrorFallsBackToPlainText(t *testing.T) {
	bot := new(MockBot)
	parseErr := &telegoapi.Error{ErrorCode: 400, Description: "Bad Request: can't parse entities: unsupported start tag"}
	bot.On("SendMessage", mock.Anything, mock.MatchedBy(func(p *telego.SendMessageParams) bool {
		return p.ParseMode == telego.ModeHTML
	})).Return((*telego.Message)(nil), parseErr).Once()
	bot.On("SendMessage", mock.Anything, mock.MatchedBy(func(p *telego.SendMessageParams) bool {
		return p.ParseMode == "" && p.Text != ""
	})).Return(&telego.Message{MessageID: 3}, nil).Once()

	ref, err := newTestClient(bot).SendMessage(context.Background(), testChat, tenant.Content{Text: "<b>bold</b>"})
	require.NoError(t, err)
	assert.Equal(t, 3, ref.MessageID)
	bot.AssertExpectations(t)
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		code     int
	}{
		{
			name:     "rate limited",
			err:      &telegoapi.Error{ErrorCode: 429, Description: "Too Many Requests: retry after 7", Parameters: &telegoapi.ResponseParameters{RetryAfter: 7}},
			sentinel: channels.ErrRateLimited,
			code:     429,
		},
		{
			name:     "kicked",
			err:      &telegoapi.Error{ErrorCode: 403, Description: "Forbidden: bot was kicked from the supergroup chat"},
			sentinel: channels.ErrPermanent,
			code:     403,
		},
		{
			name:     "chat not found",
			err:      &telegoapi.Error{ErrorCode: 400, Description: "Bad Request: chat not found"},
			sentinel: channels.ErrPermanent,
			code:     400,
		},
		{
			name:     "server error",
			err:      &telegoapi.Error{ErrorCode: 502, Description: "Bad Gateway"},
			sentinel: channels.ErrTransient,
			code:     502,
		},
		{
			name:     "network",
			err:      errors.New("dial tcp: connection refused"),
			sentinel: channels.ErrTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(NewMockBotError(tt.err))
			_, err := c.SendMessage(context.Background(), testChat, tenant.Content{Text: "x"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var de *channels.DeliveryError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, "send", de.Op)
			assert.Equal(t, testChat, de.ChatID)
			assert.Equal(t, tt.code, de.Code)
		})
	}
}

func TestClient_RateLimitCarriesRetryAfter(t *testing.T) {
	c := newTestClient(NewMockBotError(&telegoapi.Error{
		ErrorCode:  429,
		Parameters: &telegoapi.ResponseParameters{RetryAfter: 12},
	}))
	err := c.PinMessage(context.Background(), tenant.MessageRef{ChatID: testChat, MessageID: 4})

	var de *channels.DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 12*time.Second, de.RetryAfter)
	assert.Equal(t, "pin", de.Op)
	assert.Equal(t, 4, de.MessageID)
}

func TestClient_SendTimeout(t *testing.T) {
	bot := new(MockBot)
	bot.On("SendMessage", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return((*telego.Message)(nil), context.DeadlineExceeded)

	c := NewWithBot(bot, Config{SendTimeout: 20 * time.Millisecond, RatePerSecond: 1000}, logger.Nop())
	_, err := c.SendMessage(context.Background(), testChat, tenant.Content{Text: "slow"})

	assert.ErrorIs(t, err, channels.ErrTimeout)
	assert.True(t, retry.IsRetryable(err))
}

func TestClient_DeleteMessage(t *testing.T) {
	ref := tenant.MessageRef{ChatID: testChat, MessageID: 42}

	t.Run("success", func(t *testing.T) {
		bot := new(MockBot)
		bot.On("DeleteMessage", mock.Anything, &telego.DeleteMessageParams{
			ChatID:    telego.ChatID{ID: testChat},
			MessageID: 42,
		}).Return(nil).Once()

		require.NoError(t, newTestClient(bot).DeleteMessage(context.Background(), ref))
		bot.AssertExpectations(t)
	})

	t.Run("already deleted", func(t *testing.T) {
		c := newTestClient(NewMockBotError(&telegoapi.Error{ErrorCode: 400, Description: "Bad Request: message to delete not found"}))
		err := c.DeleteMessage(context.Background(), ref)
		assert.ErrorIs(t, err, channels.ErrMessageNotFound)
		assert.False(t, retry.IsRetryable(err))
	})

	t.Run("too old", func(t *testing.T) {
		c := newTestClient(NewMockBotError(&telegoapi.Error{ErrorCode: 400, Description: "Bad Request: message can't be deleted"}))
		err := c.DeleteMessage(context.Background(), ref)
		assert.ErrorIs(t, err, channels.ErrPermanent)
	})
}

func TestClient_PinMessageIsSilent(t *testing.T) {
	bot := new(MockBot)
	bot.On("PinChatMessage", mock.Anything, mock.MatchedBy(func(p *telego.PinChatMessageParams) bool {
		return p.MessageID == 8 && p.DisableNotification
	})).Return(nil).Once()

	require.NoError(t, newTestClient(bot).PinMessage(context.Background(), tenant.MessageRef{ChatID: testChat, MessageID: 8}))
	bot.AssertExpectations(t)
}

func TestClient_Verify(t *testing.T) {
	rc := retry.Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}

	t.Run("success", func(t *testing.T) {
		user, err := newTestClient(NewMockBotSuccess()).Verify(context.Background(), rc)
		require.NoError(t, err)
		assert.Equal(t, "chrono_test_bot", user.Username)
	})

	t.Run("retries transient", func(t *testing.T) {
		bot := new(MockBot)
		bot.On("GetMe", mock.Anything).Return((*telego.User)(nil), errors.New("connection reset")).Once()
		bot.On("GetMe", mock.Anything).Return(&telego.User{ID: 1, Username: "b"}, nil).Once()

		user, err := newTestClient(bot).Verify(context.Background(), rc)
		require.NoError(t, err)
		assert.Equal(t, int64(1), user.ID)
		bot.AssertExpectations(t)
	})

	t.Run("unauthorized", func(t *testing.T) {
		bot := new(MockBot)
		bot.On("GetMe", mock.Anything).Return((*telego.User)(nil), &telegoapi.Error{ErrorCode: 401, Description: "Unauthorized"}).Once()

		_, err := newTestClient(bot).Verify(context.Background(), rc)
		assert.ErrorIs(t, err, channels.ErrPermanent)
		bot.AssertExpectations(t)
	})
}
