package builders

import (
	"context"
	"fmt"
	"time"

	"github.com/aatumaykin/chronobot/internal/channels/telegram"
	"github.com/aatumaykin/chronobot/internal/config"
	"github.com/aatumaykin/chronobot/internal/logger"
	"github.com/aatumaykin/chronobot/internal/retry"
)

type TelegramBuilder struct {
	config *config.Config
	logger *logger.Logger
	bot    telegram.BotInterface
}

// NewTelegramBuilder creates the builder. bot overrides the real Bot API
// client when not nil.
func NewTelegramBuilder(cfg *config.Config, log *logger.Logger, bot telegram.BotInterface) *TelegramBuilder {
	return &TelegramBuilder{
		config: cfg,
		logger: log,
		bot:    bot,
	}
}

// Build creates the client and checks the token with getMe.
func (b *TelegramBuilder) Build(ctx context.Context) (*telegram.Client, error) {
	tc := b.config.Telegram
	clientCfg := telegram.Config{
		Token:         tc.Token,
		SendTimeout:   tc.SendTimeout(),
		RatePerSecond: tc.RatePerSecond,
		Burst:         tc.Burst,
	}

	var client *telegram.Client
	if b.bot != nil {
		client = telegram.NewWithBot(b.bot, clientCfg, b.logger)
	} else {
		var err error
		client, err = telegram.New(clientCfg, b.logger)
		if err != nil {
			return nil, err
		}
	}

	if _, err := client.Verify(ctx, retry.Config{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     5 * time.Second,
	}); err != nil {
		return nil, fmt.Errorf("failed to start telegram client: %w", err)
	}
	return client, nil
}
