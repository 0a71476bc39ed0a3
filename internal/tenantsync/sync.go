// Package tenantsync keeps the tenant store in line with a directory of
// YAML tenant documents: everything is imported at startup and, when
// watching, files are re-imported on change and their tenant is removed
// when the file goes away.
package tenantsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/aatumaykin/chronobot/internal/logger"
	"github.com/aatumaykin/chronobot/internal/tenant"
)

// DefaultDebounce absorbs the burst of events an editor produces per save.
const DefaultDebounce = 250 * time.Millisecond

// Store receives imported tenants.
type Store interface {
	Import(ctx context.Context, t *tenant.Tenant, counterBaseline int64) error
	DeleteTenant(ctx context.Context, chatID int64) error
}

// CounterReader provides the baseline for newly added items.
type CounterReader interface {
	Total(ctx context.Context, chatID int64) (int64, error)
}

// Syncer imports tenant documents from one directory.
type Syncer struct {
	dir      string
	store    Store
	counter  CounterReader
	logger   *logger.Logger
	debounce time.Duration

	// importMu serializes imports and removals so a chat id is owned by
	// at most one document.
	importMu sync.Mutex
	mu       sync.Mutex
	files    map[string]int64 // path -> chat id imported from it
	timers   map[string]*time.Timer
}

// ErrDuplicateChat rejects a document whose chat is already defined by
// another document.
var ErrDuplicateChat = errors.New("chat is already defined by another document")

// New creates a syncer for dir.
func New(dir string, store Store, counter CounterReader, log *logger.Logger) *Syncer {
	if log == nil {
		log = logger.Nop()
	}
	return &Syncer{
		dir:      dir,
		store:    store,
		counter:  counter,
		logger:   log,
		debounce: DefaultDebounce,
		files:    make(map[string]int64),
		timers:   make(map[string]*time.Timer),
	}
}

// IsDocument reports whether path looks like a tenant document.
func IsDocument(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadFile reads and validates one document. Every validation error is
// reported; a document with any error is rejected as a whole.
func LoadFile(path string) (*tenant.Tenant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenant document: %w", err)
	}
	t, errs := tenant.ParseDocument(data)
	if len(errs) > 0 {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), errors.Join(errs...))
	}
	return t, nil
}

// ImportFile loads path and imports its tenant. New items start counting
// chat messages from the current counter total. A document naming a chat
// that another tracked document already defines is rejected.
func (s *Syncer) ImportFile(ctx context.Context, path string) (*tenant.Tenant, error) {
	t, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	s.importMu.Lock()
	defer s.importMu.Unlock()

	s.mu.Lock()
	prev, known := s.files[path]
	owner := s.ownerOf(t.ChatID, path)
	s.mu.Unlock()
	if owner != "" {
		return nil, fmt.Errorf("%s: chat %d: %w (%s)", filepath.Base(path), t.ChatID, ErrDuplicateChat, filepath.Base(owner))
	}

	baseline, err := s.counter.Total(ctx, t.ChatID)
	if err != nil {
		return nil, fmt.Errorf("read counter baseline for chat %d: %w", t.ChatID, err)
	}
	if err := s.store.Import(ctx, t, baseline); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.files[path] = t.ChatID
	s.mu.Unlock()

	if known && prev != t.ChatID {
		// документ переехал на другой чат
		if err := s.store.DeleteTenant(ctx, prev); err != nil {
			s.logger.Error("failed to remove tenant of changed document", err,
				logger.Field{Key: "file", Value: path},
				logger.Field{Key: "chat_id", Value: prev})
		}
	}
	return t, nil
}

// ownerOf returns the tracked path other than path that defines chatID.
// Caller holds s.mu.
func (s *Syncer) ownerOf(chatID int64, path string) string {
	for p, id := range s.files {
		if id == chatID && p != path {
			return p
		}
	}
	return ""
}

// ImportDir imports every document in the directory. A broken document
// does not stop the others; all failures are returned joined.
func (s *Syncer) ImportDir(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read tenants dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && IsDocument(e.Name()) {
			paths = append(paths, filepath.Join(s.dir, e.Name()))
		}
	}
	sort.Strings(paths)

	imported := 0
	var errs []error
	for _, p := range paths {
		if _, err := s.ImportFile(ctx, p); err != nil {
			errs = append(errs, err)
			continue
		}
		imported++
	}

	s.logger.Info("tenant documents imported",
		logger.Field{Key: "dir", Value: s.dir},
		logger.Field{Key: "imported", Value: imported},
		logger.Field{Key: "failed", Value: len(errs)})
	return imported, errors.Join(errs...)
}

// Watch re-imports documents on change until ctx is cancelled.
func (s *Syncer) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	if err := w.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	s.logger.Info("watching tenant documents", logger.Field{Key: "dir", Value: s.dir})

	defer s.stopTimers()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if !IsDocument(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				s.schedule(ctx, ev.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			s.logger.Warn("tenant watch error", logger.Field{Key: "error", Value: err.Error()})
		}
	}
}

func (s *Syncer) schedule(ctx context.Context, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[path]; ok {
		t.Stop()
	}
	s.timers[path] = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		delete(s.timers, path)
		s.mu.Unlock()
		if ctx.Err() == nil {
			s.reload(ctx, path)
		}
	})
}

func (s *Syncer) stopTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p, t := range s.timers {
		t.Stop()
		delete(s.timers, p)
	}
}

// reload re-imports path, or removes its tenant when the file is gone.
func (s *Syncer) reload(ctx context.Context, path string) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		s.remove(ctx, path)
		return
	}
	t, err := s.ImportFile(ctx, path)
	if err != nil {
		s.logger.Warn("tenant document rejected",
			logger.Field{Key: "file", Value: path},
			logger.Field{Key: "error", Value: err.Error()})
		return
	}
	s.logger.Info("tenant document reloaded",
		logger.Field{Key: "file", Value: path},
		logger.Field{Key: "chat_id", Value: t.ChatID})
}

func (s *Syncer) remove(ctx context.Context, path string) {
	s.importMu.Lock()
	defer s.importMu.Unlock()

	s.mu.Lock()
	chatID, ok := s.files[path]
	delete(s.files, path)
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := s.store.DeleteTenant(ctx, chatID); err != nil {
		s.logger.Error("failed to remove tenant", err,
			logger.Field{Key: "file", Value: path},
			logger.Field{Key: "chat_id", Value: chatID})
		return
	}
	s.logger.Info("tenant removed with its document",
		logger.Field{Key: "file", Value: path},
		logger.Field{Key: "chat_id", Value: chatID})
}
