package tenantsync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/chronobot/internal/counter"
	"github.com/aatumaykin/chronobot/internal/logger"
	"github.com/aatumaykin/chronobot/internal/storage"
	"github.com/aatumaykin/chronobot/internal/tenant"
)

const doc = `
chat_id: -100777
timezone: Europe/Berlin
broadcasts:
  - text: "<b>Rules</b>"
    per_messages: 10
`

type fixture struct {
	dir     string
	store   *storage.Store
	counter counter.Counter
	syncer  *Syncer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{
		Path:        filepath.Join(t.TempDir(), "sync.db"),
		BusyTimeout: time.Second,
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	c, err := counter.Open(counter.Config{Driver: "sqlite"}, st.DB())
	require.NoError(t, err)

	dir := t.TempDir()
	return &fixture{dir: dir, store: st, counter: c, syncer: New(dir, st, c, logger.Nop())}
}

func (f *fixture) write(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestIsDocument(t *testing.T) {
	assert.True(t, IsDocument("a.yaml"))
	assert.True(t, IsDocument("/x/b.YML"))
	assert.False(t, IsDocument("c.yaml.swp"))
	assert.False(t, IsDocument("README.md"))
}

func TestLoadFile_ReportsAllErrors(t *testing.T) {
	f := newFixture(t)
	p := f.write(t, "bad.yaml", `
chat_id: 0
timezone: Mars/Olympus
broadcasts:
  - text: ""
`)
	_, err := LoadFile(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.yaml")

	joined, ok := errors.Unwrap(err).(interface{ Unwrap() []error })
	require.True(t, ok)
	assert.Len(t, joined.Unwrap(), 3)
}

func TestImportFile_AppliesCounterBaseline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 7; i++ {
		_, err := f.counter.Increment(ctx, -100777)
		require.NoError(t, err)
	}

	ten, err := f.syncer.ImportFile(ctx, f.write(t, "chat.yaml", doc))
	require.NoError(t, err)
	assert.Equal(t, int64(-100777), ten.ChatID)

	item, err := f.store.Item(ctx, tenant.Key{ChatID: -100777, Index: 0})
	require.NoError(t, err)
	assert.Equal(t, int64(7), item.Bookkeeping.CounterMark)
	assert.Zero(t, item.Bookkeeping.MessagesSince(7))
}

func TestImportDir(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.write(t, "a.yaml", doc)
	f.write(t, "b.yml", "chat_id: -100888\nbroadcasts:\n  - {text: hi, start_time: \"09:00\"}\n")
	f.write(t, "broken.yaml", "chat_id: [")
	f.write(t, "notes.txt", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(f.dir, "sub.yaml"), 0o755))

	n, err := f.syncer.ImportDir(ctx)
	assert.Equal(t, 2, n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")

	ids, err := f.store.TenantIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{-100777, -100888}, ids)
}

func TestImportDir_MissingDir(t *testing.T) {
	f := newFixture(t)
	s := New(filepath.Join(f.dir, "nope"), f.store, f.counter, nil)
	_, err := s.ImportDir(context.Background())
	assert.ErrorContains(t, err, "read tenants dir")
}

func TestImportFile_ChatChangedRemovesOldTenant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.write(t, "chat.yaml", doc)

	_, err := f.syncer.ImportFile(ctx, p)
	require.NoError(t, err)

	f.write(t, "chat.yaml", "chat_id: -100999\nbroadcasts:\n  - {text: hi, per_messages: 5}\n")
	_, err = f.syncer.ImportFile(ctx, p)
	require.NoError(t, err)

	ids, err := f.store.TenantIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{-100999}, ids)
}

func TestReload_RemovedFileDeletesTenant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.write(t, "chat.yaml", doc)

	_, err := f.syncer.ImportFile(ctx, p)
	require.NoError(t, err)

	require.NoError(t, os.Remove(p))
	f.syncer.reload(ctx, p)

	_, err = f.store.Tenant(ctx, -100777)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// неизвестный файл просто игнорируется
	f.syncer.reload(ctx, filepath.Join(f.dir, "other.yaml"))
}

func TestImportDir_DuplicateChatRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.write(t, "a.yaml", doc)
	dup := f.write(t, "b.yaml", doc)

	n, err := f.syncer.ImportDir(ctx)
	assert.Equal(t, 1, n)
	require.ErrorIs(t, err, ErrDuplicateChat)
	assert.Contains(t, err.Error(), "b.yaml")

	// removing the rejected copy keeps the tenant of the owning document
	require.NoError(t, os.Remove(dup))
	f.syncer.reload(ctx, dup)
	_, err = f.store.Tenant(ctx, -100777)
	require.NoError(t, err)

	require.NoError(t, os.Remove(owner))
	f.syncer.reload(ctx, owner)
	_, err = f.store.Tenant(ctx, -100777)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReload_RejectedDocumentKeepsStoredTenant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.write(t, "chat.yaml", doc)

	_, err := f.syncer.ImportFile(ctx, p)
	require.NoError(t, err)

	f.write(t, "chat.yaml", "chat_id: -100777\ntimezone: Nowhere/Land\n")
	f.syncer.reload(ctx, p)

	ten, err := f.store.Tenant(ctx, -100777)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", ten.TimeZone)
}

func TestWatch_ReimportsAndRemoves(t *testing.T) {
	f := newFixture(t)
	f.syncer.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.syncer.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// дать наблюдателю подписаться
	time.Sleep(100 * time.Millisecond)
	p := f.write(t, "chat.yaml", doc)

	require.Eventually(t, func() bool {
		_, err := f.store.Tenant(context.Background(), -100777)
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(p))
	require.Eventually(t, func() bool {
		ids, err := f.store.TenantIDs(context.Background())
		return err == nil && len(ids) == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatch_MissingDir(t *testing.T) {
	f := newFixture(t)
	s := New(filepath.Join(f.dir, "nope"), f.store, f.counter, nil)
	assert.Error(t, s.Watch(context.Background()))
}
