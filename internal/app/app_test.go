package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	telegoapi "github.com/mymmrac/telego/telegoapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/chronobot/internal/channels/telegram"
	"github.com/aatumaykin/chronobot/internal/config"
	"github.com/aatumaykin/chronobot/internal/expiry"
	"github.com/aatumaykin/chronobot/internal/ingest"
	"github.com/aatumaykin/chronobot/internal/logger"
)

const (
	testChat = int64(-100777)
	document = `
chat_id: -100777
title: Test chat
timezone: Europe/Berlin
broadcasts:
  - text: "<b>Hello</b>"
    every: {hours: 1}
deletion:
  chat: {ttl: 0s}
`
)

// Helper function to create test config
func createTestConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	tenants := filepath.Join(dir, "tenants")
	require.NoError(t, os.Mkdir(tenants, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tenants, "chat.yaml"), []byte(document), 0o644))

	cfg := &config.Config{
		Telegram: config.TelegramConfig{Token: "123456789:AAAbbbCCCdddEEEfffGGG"},
		Storage:  config.StorageConfig{Path: filepath.Join(dir, "chronobot.db")},
		Tenants:  config.TenantsConfig{Dir: tenants},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestApp_InitializeAndTick(t *testing.T) {
	cfg := createTestConfig(t)
	bot := telegram.NewMockBotSuccess()

	a := New(cfg, logger.Nop(), WithBot(bot))
	require.NoError(t, a.Initialize(context.Background()))
	t.Cleanup(func() { _ = a.Shutdown() })

	report := a.Scheduler().Tick(context.Background())
	assert.Equal(t, 1, report.Tenants)
	assert.Equal(t, 1, report.Dispatched)
	assert.False(t, report.Failed())
	bot.AssertNumberOfCalls(t, "SendMessage", 1)

	report = a.Scheduler().Tick(context.Background())
	assert.Zero(t, report.Due, "interval not elapsed")
}

func TestApp_StartRequiresInitialize(t *testing.T) {
	a := New(createTestConfig(t), logger.Nop())
	assert.Error(t, a.Start())
	assert.NoError(t, a.Shutdown())
}

func TestApp_InitializeFailsOnRejectedToken(t *testing.T) {
	bot := telegram.NewMockBotError(&telegoapi.Error{ErrorCode: 401, Description: "Unauthorized"})
	a := New(createTestConfig(t), logger.Nop(), WithBot(bot))

	err := a.Initialize(context.Background())
	assert.ErrorContains(t, err, "telegram")
	assert.NoError(t, a.Shutdown())
}

func TestApp_IngestsUpdates(t *testing.T) {
	cfg := createTestConfig(t)
	cfg.Telegram.PollUpdates = true

	now := time.Now().UTC().Truncate(time.Second)
	bot, _ := telegram.NewMockBotWithUpdates(telego.Update{
		UpdateID: 1,
		Message: &telego.Message{
			MessageID: 42,
			Date:      now.Unix(),
			Chat:      telego.Chat{ID: testChat, Type: telego.ChatTypeSupergroup},
			Text:      "hi",
		},
	})

	a := New(cfg, logger.Nop(), WithBot(bot))
	require.NoError(t, a.Initialize(context.Background()))
	require.NoError(t, a.Start())

	p := a.Persistence()
	require.Eventually(t, func() bool {
		total, err := p.Counter.Total(context.Background(), testChat)
		return err == nil && total == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := p.Queue.Get(context.Background(), testChat, 42)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	entry, err := p.Queue.Get(context.Background(), testChat, 42)
	require.NoError(t, err)
	assert.Equal(t, "chat", entry.Category)
	assert.True(t, entry.DueAt.Equal(now))

	assert.NoError(t, a.Shutdown())
	assert.NoError(t, a.Shutdown(), "second shutdown is a no-op")
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	cfg := createTestConfig(t)
	a := New(cfg, logger.Nop(), WithBot(telegram.NewMockBotSuccess()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type countingRecorder struct{ n int }

func (r *countingRecorder) ObserveMessage() { r.n++ }

func TestCountingSink(t *testing.T) {
	cfg := createTestConfig(t)
	a := New(cfg, logger.Nop(), WithBot(telegram.NewMockBotSuccess()))
	require.NoError(t, a.Initialize(context.Background()))
	t.Cleanup(func() { _ = a.Shutdown() })

	rec := &countingRecorder{}
	sink := countingSink{observer: a.Observer(), recorder: rec}

	ctx := context.Background()
	require.NoError(t, sink.Observe(ctx, ingest.Event{ChatID: testChat, MessageID: 7, Category: "chat", At: time.Now(), Counted: true}))
	require.NoError(t, sink.Observe(ctx, ingest.Event{ChatID: testChat, MessageID: 7, Category: "edited", At: time.Now()}))
	assert.Equal(t, 1, rec.n, "edits are not counted")

	stats, err := a.Persistence().Queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[expiry.StatusPending])
}
