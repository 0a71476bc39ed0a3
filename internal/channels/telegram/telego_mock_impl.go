package telegram

import (
	"context"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/mock"
)

// MockBot is a mock implementation of BotInterface for testing.
// It uses testify/mock to record and verify method calls.
type MockBot struct {
	mock.Mock
}

func (m *MockBot) message(args mock.Arguments) (*telego.Message, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*telego.Message), args.Error(1)
}

// GetMe returns basic information about the bot.
func (m *MockBot) GetMe(ctx context.Context) (*telego.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*telego.User), args.Error(1)
}

func (m *MockBot) SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	return m.message(m.Called(ctx, params))
}

func (m *MockBot) SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error) {
	return m.message(m.Called(ctx, params))
}

func (m *MockBot) SendVideo(ctx context.Context, params *telego.SendVideoParams) (*telego.Message, error) {
	return m.message(m.Called(ctx, params))
}

func (m *MockBot) SendAnimation(ctx context.Context, params *telego.SendAnimationParams) (*telego.Message, error) {
	return m.message(m.Called(ctx, params))
}

func (m *MockBot) SendDocument(ctx context.Context, params *telego.SendDocumentParams) (*telego.Message, error) {
	return m.message(m.Called(ctx, params))
}

func (m *MockBot) DeleteMessage(ctx context.Context, params *telego.DeleteMessageParams) error {
	return m.Called(ctx, params).Error(0)
}

func (m *MockBot) PinChatMessage(ctx context.Context, params *telego.PinChatMessageParams) error {
	return m.Called(ctx, params).Error(0)
}

// UpdatesViaLongPolling returns the channel configured for the mock.
func (m *MockBot) UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, opts ...telego.LongPollingOption) (<-chan telego.Update, error) {
	args := m.Called(ctx, params, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(chan telego.Update), args.Error(1)
}

// NewMockBotSuccess creates a MockBot that returns success for all operations.
// All expectations are optional (.Maybe()), so only called methods are checked.
func NewMockBotSuccess() *MockBot {
	mockBot := new(MockBot)

	mockBot.On("GetMe", mock.Anything).Return(&telego.User{
		ID:        123456789,
		FirstName: "Chrono",
		Username:  "chrono_test_bot",
		IsBot:     true,
	}, nil).Maybe()

	sent := &telego.Message{MessageID: 1}
	mockBot.On("SendMessage", mock.Anything, mock.Anything).Return(sent, nil).Maybe()
	mockBot.On("SendPhoto", mock.Anything, mock.Anything).Return(sent, nil).Maybe()
	mockBot.On("SendVideo", mock.Anything, mock.Anything).Return(sent, nil).Maybe()
	mockBot.On("SendAnimation", mock.Anything, mock.Anything).Return(sent, nil).Maybe()
	mockBot.On("SendDocument", mock.Anything, mock.Anything).Return(sent, nil).Maybe()
	mockBot.On("DeleteMessage", mock.Anything, mock.Anything).Return(nil).Maybe()
	mockBot.On("PinChatMessage", mock.Anything, mock.Anything).Return(nil).Maybe()

	return mockBot
}

// NewMockBotError creates a MockBot that returns the specified error for all operations.
func NewMockBotError(err error) *MockBot {
	mockBot := new(MockBot)

	mockBot.On("GetMe", mock.Anything).Return((*telego.User)(nil), err).Maybe()
	mockBot.On("SendMessage", mock.Anything, mock.Anything).Return((*telego.Message)(nil), err).Maybe()
	mockBot.On("SendPhoto", mock.Anything, mock.Anything).Return((*telego.Message)(nil), err).Maybe()
	mockBot.On("SendVideo", mock.Anything, mock.Anything).Return((*telego.Message)(nil), err).Maybe()
	mockBot.On("SendAnimation", mock.Anything, mock.Anything).Return((*telego.Message)(nil), err).Maybe()
	mockBot.On("SendDocument", mock.Anything, mock.Anything).Return((*telego.Message)(nil), err).Maybe()
	mockBot.On("DeleteMessage", mock.Anything, mock.Anything).Return(err).Maybe()
	mockBot.On("PinChatMessage", mock.Anything, mock.Anything).Return(err).Maybe()

	return mockBot
}

// NewMockBotWithUpdates creates a MockBot whose long polling yields the
// given updates and then closes the channel.
func NewMockBotWithUpdates(updates ...telego.Update) (*MockBot, <-chan telego.Update) {
	mockBot := NewMockBotSuccess()

	updateCh := make(chan telego.Update, len(updates))
	for _, update := range updates {
		updateCh <- update
	}
	close(updateCh)

	mockBot.On("UpdatesViaLongPolling", mock.Anything, mock.Anything, mock.Anything).Return(updateCh, nil)

	return mockBot, updateCh
}
