package mutation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/zenify/internal/connectivity"
	"github.com/alexisbeaulieu97/zenify/internal/infrastructure/events"
	"github.com/alexisbeaulieu97/zenify/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/zenify/internal/ports"
	"github.com/alexisbeaulieu97/zenify/internal/storage"
	zerrors "github.com/alexisbeaulieu97/zenify/pkg/errors"
)

type replayLog struct {
	mu    sync.Mutex
	calls []string
}

func (r *replayLog) handler(name string, delay time.Duration) Handler {
	return func(_ context.Context, payload map[string]any) error {
		time.Sleep(delay)
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, name+":"+payload["title"].(string))
		return nil
	}
}

func (r *replayLog) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func newTestQueue(t *testing.T, opts ...QueueOption) (*Queue, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory()
	q := NewQueue(opts...)
	require.NoError(t, q.Init(context.Background(), store))
	t.Cleanup(q.Close)
	return q, store
}

func TestProcessReplaysInFIFOOrder(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	log := &replayLog{}
	q.RegisterHandlers(map[string]Handler{
		"todo.create": log.handler("create", 0),
		"todo.rename": log.handler("rename", 20*time.Millisecond),
	})

	for _, step := range []struct{ key, title string }{
		{"todo.create", "A"},
		{"todo.rename", "B"},
		{"todo.create", "C"},
	} {
		_, err := q.Add(ctx, step.key, map[string]any{"title": step.title})
		require.NoError(t, err)
	}

	require.NoError(t, q.Process(ctx))
	require.Equal(t, []string{"create:A", "rename:B", "create:C"}, log.list())
	require.Zero(t, q.PendingCount())
}

func TestOfflineQueueDrainsWhenConnectivityReturns(t *testing.T) {
	ctx := context.Background()
	monitor := connectivity.NewMonitor(false)
	q, _ := newTestQueue(t, WithQueueConnectivity(monitor))
	log := &replayLog{}
	q.RegisterHandlers(map[string]Handler{"todo.create": log.handler("create", 0)})

	_, err := q.Add(ctx, "todo.create", map[string]any{"title": "A"})
	require.NoError(t, err)
	require.NoError(t, q.Process(ctx))
	require.Equal(t, 1, q.PendingCount())

	monitor.SetOnline(true)
	require.NoError(t, q.Process(ctx))
	require.Eventually(t, func() bool { return q.PendingCount() == 0 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"create:A"}, log.list())
}

func TestConnectivityFailureStopsAndKeepsOrder(t *testing.T) {
	ctx := context.Background()
	q, store := newTestQueue(t)
	log := &replayLog{}
	var failing sync.Mutex
	offline := true
	q.RegisterHandlers(map[string]Handler{
		"todo.create": func(ctx context.Context, payload map[string]any) error {
			failing.Lock()
			down := offline
			failing.Unlock()
			if down {
				return zerrors.NewConnectivityError("post /todos", nil)
			}
			return log.handler("create", 0)(ctx, payload)
		},
	})

	first, err := q.Add(ctx, "todo.create", map[string]any{"title": "A"})
	require.NoError(t, err)
	_, err = q.Add(ctx, "todo.create", map[string]any{"title": "B"})
	require.NoError(t, err)

	err = q.Process(ctx)
	require.True(t, zerrors.IsConnectivity(err))
	jobs := q.Jobs()
	require.Len(t, jobs, 2)
	require.Equal(t, first.ID, jobs[0].ID)
	require.Equal(t, 1, jobs[0].Attempts)
	require.Contains(t, jobs[0].LastError, "network unavailable")
	require.Empty(t, q.DeadLetters())

	persisted, err := store.Read(ctx, DefaultStorageKey)
	require.NoError(t, err)
	require.Len(t, persisted["jobs"], 2)

	failing.Lock()
	offline = false
	failing.Unlock()
	require.NoError(t, q.Process(ctx))
	require.Equal(t, []string{"create:A", "create:B"}, log.list())
}

func TestDeterministicFailureMovesJobToDeadLetters(t *testing.T) {
	ctx := context.Background()
	recorder := logging.NewRecorder(0)
	q, _ := newTestQueue(t, WithQueueLogger(recorder))
	log := &replayLog{}
	q.RegisterHandlers(map[string]Handler{
		"todo.create": log.handler("create", 0),
		"todo.delete": func(context.Context, map[string]any) error { return errors.New("404 not found") },
	})

	_, err := q.Add(ctx, "todo.delete", map[string]any{"title": "gone"})
	require.NoError(t, err)
	_, err = q.Add(ctx, "todo.unknown", map[string]any{"title": "?"})
	require.NoError(t, err)
	_, err = q.Add(ctx, "todo.create", map[string]any{"title": "kept"})
	require.NoError(t, err)

	require.NoError(t, q.Process(ctx))
	require.Zero(t, q.PendingCount())
	require.Equal(t, []string{"create:kept"}, log.list())

	dead := q.DeadLetters()
	require.Len(t, dead, 2)
	require.Equal(t, "todo.delete", dead[0].MutationKey)
	require.Equal(t, "404 not found", dead[0].LastError)
	require.Equal(t, 1, dead[0].Attempts)
	require.Equal(t, "no handler registered for todo.unknown", dead[1].LastError)
	require.Len(t, recorder.Messages("warn"), 3)

	moved, err := q.RequeueDeadLetters(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, moved)
	require.Equal(t, 2, q.PendingCount())
	require.Empty(t, q.DeadLetters())

	require.NoError(t, q.Process(ctx))
	removed, err := q.ClearDeadLetters(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, removed)
}

func TestQueueRestoresAfterRestart(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	enqueuedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := NewQueue(WithQueueClock(func() time.Time { return enqueuedAt }))
	require.NoError(t, first.Init(ctx, store))
	a, err := first.Add(ctx, "todo.create", map[string]any{"title": "A", "priority": 2})
	require.NoError(t, err)
	_, err = first.Add(ctx, "todo.create", map[string]any{"title": "B"})
	require.NoError(t, err)
	first.Close()

	second := NewQueue()
	require.NoError(t, second.Init(ctx, store))
	defer second.Close()

	jobs := second.Jobs()
	require.Len(t, jobs, 2)
	require.Equal(t, a.ID, jobs[0].ID)
	require.Equal(t, int64(1), jobs[0].Seq)
	require.Equal(t, enqueuedAt, jobs[0].EnqueuedAt)
	require.Equal(t, float64(2), jobs[0].Payload["priority"])

	c, err := second.Add(ctx, "todo.create", map[string]any{"title": "C"})
	require.NoError(t, err)
	require.Equal(t, int64(3), c.Seq)
}

func TestAddNormalizesPayload(t *testing.T) {
	q, _ := newTestQueue(t)
	job, err := q.Add(context.Background(), "todo.create", map[string]any{"count": 3, "tags": []string{"a"}})
	require.NoError(t, err)
	require.Equal(t, float64(3), job.Payload["count"])
	require.Equal(t, []any{"a"}, job.Payload["tags"])

	_, err = q.Add(context.Background(), "todo.create", map[string]any{"fn": func() {}})
	require.ErrorContains(t, err, "not JSON serializable")

	_, err = q.Add(context.Background(), "", nil)
	require.Error(t, err)
}

type failingStorage struct{}

func (failingStorage) Read(context.Context, string) (map[string]any, error) { return nil, nil }

func (failingStorage) Write(context.Context, string, map[string]any) error {
	return errors.New("disk full")
}

func TestAddKeepsNothingWhenPersistFails(t *testing.T) {
	q := NewQueue()
	require.NoError(t, q.Init(context.Background(), failingStorage{}))

	_, err := q.Add(context.Background(), "todo.create", map[string]any{"title": "A"})
	require.ErrorContains(t, err, "disk full")
	require.Zero(t, q.PendingCount())
}

type toggledStorage struct {
	*storage.Memory
	mu   sync.Mutex
	fail bool
}

func (s *toggledStorage) setFailing(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *toggledStorage) Write(ctx context.Context, key string, value map[string]any) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return s.Memory.Write(ctx, key, value)
}

func TestFailedPersistLeavesJobPending(t *testing.T) {
	ctx := context.Background()
	store := &toggledStorage{Memory: storage.NewMemory()}
	q := NewQueue()
	require.NoError(t, q.Init(ctx, store))
	t.Cleanup(q.Close)

	replayed := 0
	q.RegisterHandlers(map[string]Handler{
		"todo.reject": func(context.Context, map[string]any) error { return errors.New("validation failed") },
		"todo.create": func(context.Context, map[string]any) error {
			replayed++
			return nil
		},
	})
	rejected, err := q.Add(ctx, "todo.reject", map[string]any{"title": "A"})
	require.NoError(t, err)

	store.setFailing(true)
	require.ErrorContains(t, q.Process(ctx), "disk full")
	jobs := q.Jobs()
	require.Len(t, jobs, 1)
	require.Equal(t, rejected.ID, jobs[0].ID)
	require.Zero(t, jobs[0].Attempts)
	require.Empty(t, q.DeadLetters())

	store.setFailing(false)
	require.NoError(t, q.Process(ctx))
	require.Zero(t, q.PendingCount())
	require.Len(t, q.DeadLetters(), 1)

	_, err = q.Add(ctx, "todo.create", map[string]any{"title": "B"})
	require.NoError(t, err)
	store.setFailing(true)
	require.ErrorContains(t, q.Process(ctx), "disk full")
	require.Equal(t, 1, q.PendingCount())

	store.setFailing(false)
	require.NoError(t, q.Process(ctx))
	require.Zero(t, q.PendingCount())
	require.Equal(t, 2, replayed)
}

func TestCancelledDrainKeepsJobAtHead(t *testing.T) {
	q, store := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cancelling := true
	var replayed []string
	q.RegisterHandlers(map[string]Handler{
		"todo.create": func(ctx context.Context, payload map[string]any) error {
			if cancelling {
				cancel()
				return ctx.Err()
			}
			replayed = append(replayed, payload["title"].(string))
			return nil
		},
	})
	first, err := q.Add(context.Background(), "todo.create", map[string]any{"title": "A"})
	require.NoError(t, err)

	err = q.Process(ctx)
	require.ErrorIs(t, err, context.Canceled)
	jobs := q.Jobs()
	require.Len(t, jobs, 1)
	require.Equal(t, first.ID, jobs[0].ID)
	require.Zero(t, jobs[0].Attempts)
	require.Empty(t, q.DeadLetters())

	persisted, err := store.Read(context.Background(), DefaultStorageKey)
	require.NoError(t, err)
	require.Len(t, persisted["jobs"], 1)
	require.Empty(t, persisted["dead_letters"])

	cancelling = false
	require.NoError(t, q.Process(context.Background()))
	require.Equal(t, []string{"A"}, replayed)
	require.Zero(t, q.PendingCount())
}

func TestInitDrainsRestoredJobsWhenOnline(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	first := NewQueue(WithQueueConnectivity(connectivity.NewMonitor(false)))
	require.NoError(t, first.Init(ctx, store))
	_, err := first.Add(ctx, "todo.create", map[string]any{"title": "A"})
	require.NoError(t, err)
	_, err = first.Add(ctx, "todo.create", map[string]any{"title": "B"})
	require.NoError(t, err)
	first.Close()

	log := &replayLog{}
	second := NewQueue()
	second.RegisterHandlers(map[string]Handler{"todo.create": log.handler("create", 0)})
	require.NoError(t, second.Init(ctx, store))
	defer second.Close()

	require.Eventually(t, func() bool { return second.PendingCount() == 0 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"create:A", "create:B"}, log.list())
	require.Empty(t, second.DeadLetters())
}

func TestInitRejectsNewerSnapshot(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	require.NoError(t, store.Write(ctx, "custom", map[string]any{"version": 99}))

	q := NewQueue(WithStorageKey("custom"))
	require.ErrorContains(t, q.Init(ctx, store), "newer version")
}

func TestProcessIsNoOpWhenOfflineOrEmpty(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	require.NoError(t, q.Process(ctx))

	calls := 0
	q.RegisterHandlers(map[string]Handler{"todo.create": func(context.Context, map[string]any) error {
		calls++
		return nil
	}})
	_, err := q.Add(ctx, "todo.create", nil)
	require.NoError(t, err)

	q.mu.Lock()
	q.online = false
	q.mu.Unlock()
	require.NoError(t, q.Process(ctx))
	require.Zero(t, calls)
	require.Equal(t, 1, q.PendingCount())
}

func TestClearEmptiesQueue(t *testing.T) {
	ctx := context.Background()
	q, store := newTestQueue(t)
	_, err := q.Add(ctx, "todo.create", nil)
	require.NoError(t, err)

	require.NoError(t, q.Clear(ctx))
	require.Zero(t, q.PendingCount())

	persisted, err := store.Read(ctx, DefaultStorageKey)
	require.NoError(t, err)
	require.Equal(t, []any{}, persisted["jobs"])
}

func TestQueuePublishesJobEvents(t *testing.T) {
	ctx := context.Background()
	publisher := events.NewLoggingPublisher(nil)
	var mu sync.Mutex
	var seen []string
	_, err := publisher.Subscribe(events.AllEvents, func(_ context.Context, evt ports.DomainEvent) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, evt.EventType())
		return nil
	})
	require.NoError(t, err)

	q, _ := newTestQueue(t, WithQueueEvents(publisher))
	q.RegisterHandlers(map[string]Handler{"ok": func(context.Context, map[string]any) error { return nil }})
	_, err = q.Add(ctx, "ok", nil)
	require.NoError(t, err)
	_, err = q.Add(ctx, "missing", nil)
	require.NoError(t, err)
	require.NoError(t, q.Process(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{ports.EventJobCompleted, ports.EventJobDeadLettered}, seen)
}
