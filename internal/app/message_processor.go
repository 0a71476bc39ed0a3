package app

import (
	"context"

	"github.com/aatumaykin/chronobot/internal/app/builders"
	"github.com/aatumaykin/chronobot/internal/channels/telegram"
	"github.com/aatumaykin/chronobot/internal/ingest"
	"github.com/aatumaykin/chronobot/internal/logger"
)

// messageRecorder counts ingested messages.
type messageRecorder interface {
	ObserveMessage()
}

// countingSink feeds the observer and records every event it accepted.
type countingSink struct {
	observer *ingest.Observer
	recorder messageRecorder
}

func (s countingSink) Observe(ctx context.Context, ev ingest.Event) error {
	if err := s.observer.Observe(ctx, ev); err != nil {
		return err
	}
	if ev.Counted {
		s.recorder.ObserveMessage()
	}
	return nil
}

func newObserver(p *builders.Persistence, log *logger.Logger) *ingest.Observer {
	return ingest.New(p.Counter, p.Store, p.Queue, log)
}

// startIngestion starts long polling. Every group message moves the chat's
// volume counter and may be scheduled for deletion by the chat's policies.
func (a *App) startIngestion(ctx context.Context) {
	sink := countingSink{observer: a.observer, recorder: a.telemetry.Metrics}
	poller := telegram.NewPoller(a.telegram.Bot(), sink, a.config.Telegram.PollTimeout(), a.logger)
	a.goBackground("update polling", poller.Run)
	a.logger.InfoCtx(ctx, "Message ingestion started")
}
