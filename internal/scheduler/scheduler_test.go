package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/chronobot/internal/channels"
	"github.com/aatumaykin/chronobot/internal/dispatch"
	"github.com/aatumaykin/chronobot/internal/expiry"
	"github.com/aatumaykin/chronobot/internal/logger"
	"github.com/aatumaykin/chronobot/internal/storage"
	"github.com/aatumaykin/chronobot/internal/tenant"
	"github.com/aatumaykin/chronobot/internal/workers"
)

// 09:30 in Tokyo
var t0 = time.Date(2026, 5, 4, 0, 30, 0, 0, time.UTC)

type fakeTenants struct {
	tenants []tenant.Tenant
	err     error
}

func (f *fakeTenants) ActiveTenants(context.Context) ([]tenant.Tenant, error) {
	return f.tenants, f.err
}

type fakeCounter struct {
	totals map[int64]int64
	broken map[int64]bool
}

func (f *fakeCounter) Total(_ context.Context, chatID int64) (int64, error) {
	if f.broken[chatID] {
		return 0, errors.New("valkey: connection refused")
	}
	return f.totals[chatID], nil
}

type fakeDispatcher struct {
	mu         sync.Mutex
	broadcasts []tenant.Key
	expiries   []expiry.Entry
	behavior   map[tenant.Key]func(ctx context.Context) error
}

func (f *fakeDispatcher) ExecuteBroadcast(ctx context.Context, b dispatch.Broadcast) error {
	f.mu.Lock()
	f.broadcasts = append(f.broadcasts, b.Key)
	fn := f.behavior[b.Key]
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return nil
}

func (f *fakeDispatcher) ExecuteExpiry(_ context.Context, e expiry.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expiries = append(f.expiries, e)
	return nil
}

func (f *fakeDispatcher) broadcastKeys() []tenant.Key {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tenant.Key(nil), f.broadcasts...)
}

type fakeRecorder struct {
	mu       sync.Mutex
	ticks    int
	outcomes map[string]int
	backlog  map[string]int64
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{outcomes: map[string]int{}, backlog: map[string]int64{}}
}

func (r *fakeRecorder) ObserveTick(time.Duration, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks++
}

func (r *fakeRecorder) ObserveDispatch(kind, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[kind+"/"+outcome]++
}

func (r *fakeRecorder) SetExpiryBacklog(status string, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backlog[status] = n
}

func (r *fakeRecorder) SetPoolInFlight(int) {}

func openQueue(t *testing.T) *expiry.Queue {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{
		Path:        filepath.Join(t.TempDir(), "sched.db"),
		BusyTimeout: time.Second,
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return expiry.New(st.DB(), logger.Nop())
}

type harness struct {
	sched    *Scheduler
	tenants  *fakeTenants
	counter  *fakeCounter
	queue    *expiry.Queue
	disp     *fakeDispatcher
	recorder *fakeRecorder
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		tenants:  &fakeTenants{},
		counter:  &fakeCounter{totals: map[int64]int64{}, broken: map[int64]bool{}},
		queue:    openQueue(t),
		disp:     &fakeDispatcher{behavior: map[tenant.Key]func(context.Context) error{}},
		recorder: newFakeRecorder(),
	}
	h.sched = New(cfg, Deps{
		Tenants:    h.tenants,
		Counter:    h.counter,
		Expiries:   h.queue,
		Dispatcher: h.disp,
		Recorder:   h.recorder,
	}, logger.Nop())
	h.sched.now = func() time.Time { return t0 }
	return h
}

func hourly(index int) tenant.BroadcastItem {
	return tenant.BroadcastItem{
		Index:      index,
		Enabled:    true,
		Content:    tenant.Content{Text: fmt.Sprintf("item %d", index)},
		Repetition: tenant.Interval{Hours: 1},
	}
}

func TestTick_DispatchesDueWork(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{Interval: time.Minute, Workers: 4, DispatchTimeout: time.Second})

	perMessages := tenant.BroadcastItem{
		Index:      1,
		Enabled:    true,
		Repetition: tenant.MessageCount{N: 5},
	}
	morning := tenant.BroadcastItem{
		Index:      0,
		Enabled:    true,
		StartTime:  &tenant.TimeOfDay{Hour: 9},
		Repetition: tenant.Interval{Hours: 24},
	}
	evening := tenant.BroadcastItem{
		Index:      1,
		Enabled:    true,
		StartTime:  &tenant.TimeOfDay{Hour: 21},
		Repetition: tenant.Interval{Hours: 24},
	}
	h.tenants.tenants = []tenant.Tenant{
		{ChatID: -1, Broadcasts: []tenant.BroadcastItem{hourly(0), perMessages}},
		{ChatID: -2, TimeZone: "Asia/Tokyo", Broadcasts: []tenant.BroadcastItem{morning, evening}},
	}
	h.counter.totals[-1] = 3

	require.NoError(t, h.queue.Schedule(ctx, expiry.Entry{ChatID: -1, MessageID: 1, DueAt: t0.Add(-time.Minute)}))
	require.NoError(t, h.queue.Schedule(ctx, expiry.Entry{ChatID: -1, MessageID: 2, DueAt: t0}))
	require.NoError(t, h.queue.Schedule(ctx, expiry.Entry{ChatID: -1, MessageID: 3, DueAt: t0.Add(time.Minute)}))

	report := h.sched.Tick(ctx)

	assert.NotEmpty(t, report.TickID)
	assert.Equal(t, 2, report.Tenants)
	assert.Equal(t, 4, report.Evaluated)
	assert.Equal(t, 2, report.Due)
	assert.Equal(t, 2, report.Dispatched)
	assert.Equal(t, 2, report.ExpiriesPopped)
	assert.Equal(t, 2, report.Expired)
	assert.False(t, report.Failed())
	assert.False(t, report.Overrun)

	assert.ElementsMatch(t, []tenant.Key{{ChatID: -1, Index: 0}, {ChatID: -2, Index: 0}}, h.disp.broadcastKeys())
	var expired []int
	for _, e := range h.disp.expiries {
		expired = append(expired, e.MessageID)
	}
	assert.ElementsMatch(t, []int{1, 2}, expired)

	// not yet due entry stays pending
	e, err := h.queue.Get(ctx, -1, 3)
	require.NoError(t, err)
	assert.Equal(t, expiry.StatusPending, e.Status)

	assert.Equal(t, 2, h.recorder.outcomes["broadcast/ok"])
	assert.Equal(t, 2, h.recorder.outcomes["expiry/ok"])
	assert.Equal(t, 1, h.recorder.ticks)
	assert.Equal(t, int64(1), h.recorder.backlog["pending"])
	assert.Equal(t, h.sched.LastReport(), report)
}

func TestTick_IsolatesFailures(t *testing.T) {
	h := newHarness(t, Config{Workers: 2, DispatchTimeout: time.Second})
	h.tenants.tenants = []tenant.Tenant{
		{ChatID: -1, Broadcasts: []tenant.BroadcastItem{hourly(0), hourly(1), hourly(2)}},
		{ChatID: -2, Broadcasts: []tenant.BroadcastItem{hourly(0)}},
		{ChatID: -3, Broadcasts: []tenant.BroadcastItem{hourly(0)}},
	}
	h.counter.broken[-3] = true

	h.disp.behavior[tenant.Key{ChatID: -1, Index: 0}] = func(context.Context) error {
		return &channels.DeliveryError{Op: "send", ChatID: -1, Kind: channels.KindPermanent, Code: 403}
	}
	h.disp.behavior[tenant.Key{ChatID: -1, Index: 1}] = func(context.Context) error {
		panic("boom")
	}
	h.disp.behavior[tenant.Key{ChatID: -2, Index: 0}] = func(context.Context) error {
		return fmt.Errorf("save: %w", storage.ErrConflict)
	}

	report := h.sched.Tick(context.Background())

	assert.Equal(t, 3, report.Tenants)
	assert.Equal(t, 1, report.TenantErrors)
	assert.Equal(t, 4, report.Evaluated)
	assert.Equal(t, 4, report.Due)
	assert.Equal(t, 1, report.Dispatched)
	assert.Equal(t, 3, report.BroadcastFailures)
	assert.True(t, report.Failed())

	assert.Equal(t, 1, h.recorder.outcomes["broadcast/permanent"])
	assert.Equal(t, 1, h.recorder.outcomes["broadcast/panic"])
	assert.Equal(t, 1, h.recorder.outcomes["broadcast/conflict"])
	assert.Equal(t, 1, h.recorder.outcomes["broadcast/ok"])
}

func TestTick_TenantLoadFailureStillDrainsExpiries(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.tenants.err = errors.New("database is locked")
	require.NoError(t, h.queue.Schedule(ctx, expiry.Entry{ChatID: -1, MessageID: 1, DueAt: t0}))

	report := h.sched.Tick(ctx)

	assert.Equal(t, 1, report.TenantErrors)
	assert.Equal(t, 0, report.Evaluated)
	assert.Equal(t, 1, report.Expired)
}

func TestTick_PopsAllBatches(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{ExpiryBatchSize: 2})
	for i := 1; i <= 5; i++ {
		require.NoError(t, h.queue.Schedule(ctx, expiry.Entry{ChatID: -1, MessageID: i, DueAt: t0.Add(-time.Duration(i) * time.Second)}))
	}

	report := h.sched.Tick(ctx)

	assert.Equal(t, 5, report.ExpiriesPopped)
	assert.Equal(t, 5, report.Expired)
}

func TestTick_SkipsItemStillInFlight(t *testing.T) {
	h := newHarness(t, Config{Workers: 2, DispatchTimeout: 50 * time.Millisecond})
	slow := tenant.Key{ChatID: -1, Index: 0}
	h.tenants.tenants = []tenant.Tenant{
		{ChatID: -1, Broadcasts: []tenant.BroadcastItem{hourly(0), hourly(1)}},
	}

	release := make(chan struct{})
	h.disp.behavior[slow] = func(context.Context) error {
		<-release
		return nil
	}

	first := h.sched.Tick(context.Background())
	assert.Equal(t, 1, first.BroadcastFailures, "timed out dispatch counts as failure")
	assert.Equal(t, 1, first.Dispatched)
	assert.Equal(t, 1, h.recorder.outcomes["broadcast/timeout"])

	second := h.sched.Tick(context.Background())
	assert.Equal(t, 1, second.SkippedInFlight)
	assert.Equal(t, 1, second.Dispatched)

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.sched.pool.Wait(ctx))

	third := h.sched.Tick(context.Background())
	assert.Equal(t, 0, third.SkippedInFlight)
	assert.Equal(t, 2, third.Dispatched)
}

func TestTick_Overrun(t *testing.T) {
	h := newHarness(t, Config{Interval: time.Minute})
	calls := 0
	h.sched.now = func() time.Time {
		calls++
		if calls == 1 {
			return t0
		}
		return t0.Add(2 * time.Minute)
	}

	report := h.sched.Tick(context.Background())
	assert.True(t, report.Overrun)
	assert.Equal(t, 2*time.Minute, report.Duration)
}

func TestPlan_ReportsReasons(t *testing.T) {
	h := newHarness(t, Config{})
	h.tenants.tenants = []tenant.Tenant{
		{ChatID: -1, Broadcasts: []tenant.BroadcastItem{
			hourly(0),
			{Index: 1, Enabled: true, Repetition: tenant.MessageCount{N: 10},
				Bookkeeping: tenant.Bookkeeping{CounterMark: 5}},
		}},
	}
	h.counter.totals[-1] = 12

	evals, tenants, err := h.sched.Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, tenants)
	require.Len(t, evals, 2)
	assert.True(t, evals[0].Verdict.Due)
	assert.False(t, evals[1].Verdict.Due)
	assert.Equal(t, int64(7), evals[1].MessagesSince)
	assert.Equal(t, "below_message_threshold", string(evals[1].Verdict.Reason))
	assert.Empty(t, h.disp.broadcastKeys())
}

func TestStartStop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{Interval: time.Hour, PurgeSchedule: "@daily"})
	h.sched.now = time.Now
	h.tenants.tenants = []tenant.Tenant{{ChatID: -1, Broadcasts: []tenant.BroadcastItem{hourly(0)}}}

	// left in flight by a crashed process
	require.NoError(t, h.queue.Schedule(ctx, expiry.Entry{ChatID: -1, MessageID: 9, DueAt: time.Now().Add(-time.Hour)}))
	_, err := h.queue.PopDue(ctx, time.Now(), 10)
	require.NoError(t, err)

	require.NoError(t, h.sched.Start(ctx))
	assert.Error(t, h.sched.Start(ctx))

	require.Eventually(t, func() bool {
		return h.sched.LastReport().TickID != ""
	}, 2*time.Second, 10*time.Millisecond)

	report := h.sched.LastReport()
	assert.Equal(t, 1, report.Dispatched)
	assert.Equal(t, 1, report.Expired, "recovered entry is retried")

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, h.sched.Stop(stopCtx))
	require.NoError(t, h.sched.Stop(stopCtx))
}

func TestStop_CancelsRunningTick(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{Interval: time.Hour, DispatchTimeout: time.Minute})
	h.sched.now = time.Now
	h.tenants.tenants = []tenant.Tenant{{ChatID: -1, Broadcasts: []tenant.BroadcastItem{hourly(0)}}}

	started := make(chan struct{})
	cancelled := make(chan error, 1)
	h.disp.behavior[tenant.Key{ChatID: -1, Index: 0}] = func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled <- ctx.Err()
		return ctx.Err()
	}

	require.NoError(t, h.sched.Start(ctx))
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast was not dispatched")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, h.sched.Stop(stopCtx))

	select {
	case err := <-cancelled:
		assert.ErrorIs(t, err, context.Canceled, "in-flight send is aborted, not drained")
	default:
		t.Fatal("running dispatch did not observe cancellation")
	}
}

func TestStart_InvalidPurgeSchedule(t *testing.T) {
	h := newHarness(t, Config{PurgeSchedule: "every tuesday"})
	err := h.sched.Start(context.Background())
	assert.ErrorContains(t, err, "invalid purge schedule")
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{Retention: time.Hour})
	h.sched.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	require.NoError(t, h.queue.Schedule(ctx, expiry.Entry{ChatID: -1, MessageID: 1, DueAt: time.Now()}))
	entries, err := h.queue.PopDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NoError(t, h.queue.MarkDone(ctx, entries[0]))

	n, err := h.sched.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		res  workers.Result
		want string
	}{
		{workers.Result{}, "ok"},
		{workers.Result{Skipped: true}, "skipped"},
		{workers.Result{Error: errors.New("x"), Panicked: true}, "panic"},
		{workers.Result{Error: fmt.Errorf("w: %w", storage.ErrConflict)}, "conflict"},
		{workers.Result{Error: &channels.DeliveryError{Kind: channels.KindRateLimited}}, "rate_limited"},
		{workers.Result{Error: context.DeadlineExceeded, TimedOut: true}, "timeout"},
		{workers.Result{Error: errors.New("disk full")}, "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, outcomeOf(tt.res))
	}
}
