package builders

import (
	"context"
	"fmt"

	"github.com/aatumaykin/chronobot/internal/config"
	"github.com/aatumaykin/chronobot/internal/counter"
	"github.com/aatumaykin/chronobot/internal/expiry"
	"github.com/aatumaykin/chronobot/internal/logger"
	"github.com/aatumaykin/chronobot/internal/storage"
)

// Persistence groups everything backed by the database file (and Valkey,
// when the counter lives there).
type Persistence struct {
	Store   *storage.Store
	Counter counter.Counter
	Queue   *expiry.Queue
}

// Close releases the counter and the database.
func (p *Persistence) Close() error {
	var firstErr error
	if p.Counter != nil {
		if err := p.Counter.Close(); err != nil {
			firstErr = err
		}
	}
	if p.Store != nil {
		if err := p.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type StorageBuilder struct {
	config *config.Config
	logger *logger.Logger
}

func NewStorageBuilder(cfg *config.Config, log *logger.Logger) *StorageBuilder {
	return &StorageBuilder{
		config: cfg,
		logger: log,
	}
}

func (b *StorageBuilder) Build(ctx context.Context) (*Persistence, error) {
	store, err := storage.Open(ctx, storage.Config{
		Path:        b.config.Storage.Path,
		BusyTimeout: b.config.Storage.BusyTimeout(),
	}, b.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	vk := b.config.Counter.Valkey
	c, err := counter.Open(counter.Config{
		Driver: b.config.Counter.Driver,
		Valkey: counter.ValkeyConfig{
			Address:   vk.Address,
			Password:  vk.Password,
			DB:        vk.DB,
			KeyPrefix: vk.KeyPrefix,
		},
	}, store.DB())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open message counter: %w", err)
	}

	b.logger.Info("storage ready",
		logger.Field{Key: "path", Value: b.config.Storage.Path},
		logger.Field{Key: "counter", Value: b.config.Counter.Driver})

	return &Persistence{
		Store:   store,
		Counter: c,
		Queue:   expiry.New(store.DB(), b.logger),
	}, nil
}
