package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/chronobot/internal/ingest"
	"github.com/aatumaykin/chronobot/internal/logger"
	"github.com/aatumaykin/chronobot/internal/tenant"
)

type recordingSink struct {
	mu     sync.Mutex
	events []ingest.Event
	err    error
}

func (s *recordingSink) Observe(_ context.Context, ev ingest.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func groupMessage(id int, date int64) *telego.Message {
	return &telego.Message{
		MessageID: id,
		Date:      date,
		Chat:      telego.Chat{ID: testChat, Type: telego.ChatTypeSupergroup},
	}
}

func TestEventFromUpdate(t *testing.T) {
	join := groupMessage(2, 1700000000)
	join.NewChatMembers = []telego.User{{ID: 5}}

	leave := groupMessage(3, 1700000000)
	leave.LeftChatMember = &telego.User{ID: 5}

	pin := groupMessage(4, 1700000000)
	pin.PinnedMessage = groupMessage(1, 1699999999)

	title := groupMessage(5, 1700000000)
	title.NewChatTitle = "New title"

	photo := groupMessage(6, 1700000000)
	photo.DeleteChatPhoto = true

	tests := []struct {
		name     string
		update   telego.Update
		category string
		counted  bool
	}{
		{"chat", telego.Update{Message: groupMessage(1, 1700000000)}, tenant.CategoryChat, true},
		{"join", telego.Update{Message: join}, tenant.CategoryServiceJoin, true},
		{"leave", telego.Update{Message: leave}, tenant.CategoryServiceLeave, true},
		{"pin", telego.Update{Message: pin}, tenant.CategoryServicePin, true},
		{"title", telego.Update{Message: title}, tenant.CategoryServiceTitle, true},
		{"photo", telego.Update{Message: photo}, tenant.CategoryServicePhoto, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := EventFromUpdate(tt.update)
			require.True(t, ok)
			assert.Equal(t, testChat, ev.ChatID)
			assert.Equal(t, tt.category, ev.Category)
			assert.Equal(t, tt.counted, ev.Counted)
			assert.Equal(t, time.Unix(1700000000, 0).UTC(), ev.At)
		})
	}
}

func TestEventFromUpdate_Edited(t *testing.T) {
	msg := groupMessage(10, 1700000000)
	msg.EditDate = 1700000300

	ev, ok := EventFromUpdate(telego.Update{EditedMessage: msg})
	require.True(t, ok)
	assert.Equal(t, tenant.CategoryEdited, ev.Category)
	assert.False(t, ev.Counted)
	assert.Equal(t, 10, ev.MessageID)
	assert.Equal(t, time.Unix(1700000300, 0).UTC(), ev.At)
}

func channelPost(id int, date int64) *telego.Message {
	return &telego.Message{
		MessageID: id,
		Date:      date,
		Chat:      telego.Chat{ID: testChat, Type: telego.ChatTypeChannel},
	}
}

func TestEventFromUpdate_Channel(t *testing.T) {
	ev, ok := EventFromUpdate(telego.Update{ChannelPost: channelPost(20, 1700000000)})
	require.True(t, ok)
	assert.Equal(t, testChat, ev.ChatID)
	assert.Equal(t, 20, ev.MessageID)
	assert.Equal(t, tenant.CategoryChat, ev.Category)
	assert.True(t, ev.Counted, "channel posts move the counter")

	edited := channelPost(20, 1700000000)
	edited.EditDate = 1700000600
	ev, ok = EventFromUpdate(telego.Update{EditedChannelPost: edited})
	require.True(t, ok)
	assert.Equal(t, tenant.CategoryEdited, ev.Category)
	assert.False(t, ev.Counted)
	assert.Equal(t, time.Unix(1700000600, 0).UTC(), ev.At)
}

func TestEventFromUpdate_Ignored(t *testing.T) {
	private := groupMessage(1, 1700000000)
	private.Chat.Type = telego.ChatTypePrivate

	_, ok := EventFromUpdate(telego.Update{Message: private})
	assert.False(t, ok)

	_, ok = EventFromUpdate(telego.Update{UpdateID: 9})
	assert.False(t, ok)
}

func TestPoller_Run(t *testing.T) {
	private := groupMessage(3, 1700000000)
	private.Chat.Type = telego.ChatTypePrivate

	bot, _ := NewMockBotWithUpdates(
		telego.Update{UpdateID: 1, Message: groupMessage(1, 1700000000)},
		telego.Update{UpdateID: 2, Message: private},
		telego.Update{UpdateID: 3, EditedMessage: groupMessage(2, 1700000000)},
		telego.Update{UpdateID: 4, ChannelPost: channelPost(4, 1700000000)},
	)
	sink := &recordingSink{err: errors.New("store unavailable")}

	p := NewPoller(bot, sink, 0, logger.Nop())
	require.NoError(t, p.Run(context.Background()))

	require.Len(t, sink.events, 3, "sink errors must not stop polling")
	assert.Equal(t, 1, sink.events[0].MessageID)
	assert.Equal(t, tenant.CategoryEdited, sink.events[1].Category)
	assert.Equal(t, 4, sink.events[2].MessageID)

	bot.AssertCalled(t, "UpdatesViaLongPolling", mock.Anything, mock.MatchedBy(func(p *telego.GetUpdatesParams) bool {
		return p.Timeout == 30 && assert.ObjectsAreEqual(
			[]string{"message", "edited_message", "channel_post", "edited_channel_post"}, p.AllowedUpdates)
	}), mock.Anything)
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	bot := NewMockBotSuccess()
	updates := make(chan telego.Update)
	bot.On("UpdatesViaLongPolling", mock.Anything, mock.Anything, mock.Anything).Return(updates, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewPoller(bot, &recordingSink{}, 10*time.Second, logger.Nop()).Run(ctx)
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPoller_RunStartError(t *testing.T) {
	bot := new(MockBot)
	bot.On("UpdatesViaLongPolling", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("conflict"))

	err := NewPoller(bot, &recordingSink{}, time.Second, logger.Nop()).Run(context.Background())
	assert.EqualError(t, err, "conflict")
}
