package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alexisbeaulieu97/zenify/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/zenify/internal/ports"
	zerrors "github.com/alexisbeaulieu97/zenify/pkg/errors"
)

const (
	// DefaultStorageKey is where the queue snapshot lives unless configured.
	DefaultStorageKey = "zenify.mutation_queue"

	snapshotVersion = 1
)

// Job is a queued mutation replayed later by the handler registered for its
// mutation key. Payload must be plain JSON-like data.
type Job struct {
	ID          string         `json:"id"`
	MutationKey string         `json:"mutation_key"`
	Payload     map[string]any `json:"payload"`
	Seq         int64          `json:"seq"`
	EnqueuedAt  time.Time      `json:"enqueued_at"`
	Attempts    int            `json:"attempts"`
	LastError   string         `json:"last_error,omitempty"`
}

// Handler replays one job. Returning a connectivity-classified error keeps
// the job queued; any other error moves it to the dead letters.
type Handler func(ctx context.Context, payload map[string]any) error

type snapshot struct {
	Version     int   `json:"version"`
	NextSeq     int64 `json:"next_seq"`
	Jobs        []Job `json:"jobs"`
	DeadLetters []Job `json:"dead_letters"`
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueLogger injects a logger.
func WithQueueLogger(logger ports.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithQueueEvents publishes job lifecycle events.
func WithQueueEvents(events ports.EventPublisher) QueueOption {
	return func(q *Queue) {
		q.events = events
	}
}

// WithQueueConnectivity follows conn for the online flag. Going online
// starts a drain.
func WithQueueConnectivity(conn ports.Connectivity) QueueOption {
	return func(q *Queue) {
		q.conn = conn
	}
}

// WithStorageKey overrides DefaultStorageKey.
func WithStorageKey(key string) QueueOption {
	return func(q *Queue) {
		if key != "" {
			q.storageKey = key
		}
	}
}

// WithQueueClock replaces time.Now for enqueue timestamps.
func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// Queue persists mutations that could not reach the network and replays them
// in FIFO order once online. Every change rewrites the full snapshot.
type Queue struct {
	logger     ports.Logger
	events     ports.EventPublisher
	conn       ports.Connectivity
	connSub    ports.Subscription
	storageKey string
	now        func() time.Time

	mu          sync.Mutex
	storage     ports.Storage
	jobs        []Job
	deadLetters []Job
	nextSeq     int64
	handlers    map[string]Handler
	online      bool
	processing  bool
	drains      sync.WaitGroup
}

// NewQueue creates an empty queue. Call Init before use to attach storage.
func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		storageKey: DefaultStorageKey,
		now:        time.Now,
		handlers:   make(map[string]Handler),
		online:     true,
		nextSeq:    1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	q.logger = logging.OrNoOp(q.logger).With("component", "mutation_queue")
	return q
}

// Init restores the queue from storage and starts following connectivity.
// A nil storage keeps the queue in memory only. When the queue is online and
// handlers are registered, restored jobs are drained in the background.
func (q *Queue) Init(ctx context.Context, storage ports.Storage) error {
	q.mu.Lock()
	q.storage = storage
	q.mu.Unlock()

	if storage != nil {
		raw, err := storage.Read(ctx, q.storageKey)
		if err != nil {
			return fmt.Errorf("restore mutation queue: %w", err)
		}
		if raw != nil {
			snap, err := decodeSnapshot(raw)
			if err != nil {
				return fmt.Errorf("restore mutation queue: %w", err)
			}
			q.mu.Lock()
			q.jobs = snap.Jobs
			q.deadLetters = snap.DeadLetters
			q.nextSeq = snap.NextSeq
			if q.nextSeq < 1 {
				q.nextSeq = 1
			}
			q.mu.Unlock()
			q.logger.Info(ctx, "mutation queue restored", "pending", len(snap.Jobs), "dead_letters", len(snap.DeadLetters))
		}
	}

	if q.conn != nil && q.connSub == nil {
		q.mu.Lock()
		q.online = q.conn.IsOnline()
		q.mu.Unlock()
		q.connSub = q.conn.Subscribe(q.SetOnline)
	}

	q.mu.Lock()
	drain := q.online && len(q.jobs) > 0 && len(q.handlers) > 0
	q.mu.Unlock()
	if drain {
		q.startDrain(context.WithoutCancel(ctx), "queue drain after restore stopped")
	}
	return nil
}

// Close stops following connectivity and waits for background drains.
func (q *Queue) Close() {
	if q.connSub != nil {
		q.connSub.Unsubscribe()
		q.connSub = nil
	}
	q.drains.Wait()
}

// RegisterHandlers adds replay handlers by mutation key.
func (q *Queue) RegisterHandlers(handlers map[string]Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for key, handler := range handlers {
		if handler != nil {
			q.handlers[key] = handler
		}
	}
}

// Add appends a job and persists the queue. The job is not kept when
// persisting fails.
func (q *Queue) Add(ctx context.Context, mutationKey string, payload map[string]any) (Job, error) {
	if mutationKey == "" {
		return Job{}, fmt.Errorf("queue job: mutation key is empty")
	}
	payload, err := normalizePayload(payload)
	if err != nil {
		return Job{}, fmt.Errorf("queue job %s: %w", mutationKey, err)
	}

	q.mu.Lock()
	job := Job{
		ID:          uuid.NewString(),
		MutationKey: mutationKey,
		Payload:     payload,
		Seq:         q.nextSeq,
		EnqueuedAt:  q.now().UTC(),
	}
	q.jobs = append(q.jobs, job)
	q.nextSeq++
	if err := q.persistLocked(ctx); err != nil {
		q.jobs = q.jobs[:len(q.jobs)-1]
		q.nextSeq--
		q.mu.Unlock()
		return Job{}, err
	}
	pending := len(q.jobs)
	q.mu.Unlock()

	q.logger.Info(ctx, "mutation queued", "job_id", job.ID, "mutation_key", mutationKey, "pending", pending)
	return job, nil
}

// Process replays queued jobs one at a time in FIFO order. It returns
// immediately when a drain is already running, the queue is empty or the
// queue is offline. A connectivity failure stops the drain and keeps the job
// at the head; any other failure, or a job without a handler, moves the job
// to the dead letters and the drain continues. Cancelling ctx stops the drain
// with the current job left at the head, whatever the handler returned.
func (q *Queue) Process(ctx context.Context) error {
	q.mu.Lock()
	if q.processing || len(q.jobs) == 0 || !q.online {
		q.mu.Unlock()
		return nil
	}
	q.processing = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.processing = false
		q.mu.Unlock()
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		q.mu.Lock()
		if len(q.jobs) == 0 {
			q.mu.Unlock()
			return nil
		}
		job := q.jobs[0]
		handler := q.handlers[job.MutationKey]
		q.mu.Unlock()

		if handler == nil {
			q.logger.Warn(ctx, "no handler registered for queued mutation", "job_id", job.ID, "mutation_key", job.MutationKey)
			if err := q.deadLetter(ctx, job, "no handler registered for "+job.MutationKey); err != nil {
				return err
			}
			continue
		}

		err := invokeHandler(ctx, handler, job.Payload)
		if cerr := ctx.Err(); cerr != nil && err != nil {
			q.logger.Info(ctx, "queue drain cancelled", "job_id", job.ID, "error", err)
			return cerr
		}
		if err == nil {
			if err := q.complete(ctx, job); err != nil {
				return err
			}
			continue
		}

		if zerrors.IsConnectivity(err) || !q.IsOnline() {
			if perr := q.recordAttempt(ctx, job, err); perr != nil {
				return perr
			}
			q.logger.Info(ctx, "queue paused until connectivity returns", "job_id", job.ID, "error", err)
			return zerrors.NewConnectivityError("replay "+job.MutationKey, err)
		}

		job.Attempts++
		if err := q.deadLetter(ctx, job, err.Error()); err != nil {
			return err
		}
	}
}

func invokeHandler(ctx context.Context, handler Handler, payload map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, payload)
}

func (q *Queue) complete(ctx context.Context, job Job) error {
	q.mu.Lock()
	jobs := q.jobs
	q.removeHeadLocked(job.ID)
	err := q.persistLocked(ctx)
	if err != nil {
		q.jobs = jobs
	}
	q.mu.Unlock()
	if err != nil {
		return err
	}
	q.logger.Debug(ctx, "queued mutation replayed", "job_id", job.ID, "mutation_key", job.MutationKey)
	ports.Publish(ctx, q.events, ports.NewEvent(ports.EventJobCompleted, map[string]interface{}{
		"job_id":       job.ID,
		"mutation_key": job.MutationKey,
	}))
	return nil
}

func (q *Queue) recordAttempt(ctx context.Context, job Job, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 || q.jobs[0].ID != job.ID {
		return nil
	}
	head := q.jobs[0]
	q.jobs[0].Attempts++
	q.jobs[0].LastError = cause.Error()
	if err := q.persistLocked(ctx); err != nil {
		q.jobs[0] = head
		return err
	}
	return nil
}

func (q *Queue) deadLetter(ctx context.Context, job Job, reason string) error {
	job.LastError = reason
	q.mu.Lock()
	jobs, deadLetters := q.jobs, q.deadLetters
	q.removeHeadLocked(job.ID)
	q.deadLetters = append(q.deadLetters[:len(q.deadLetters):len(q.deadLetters)], job)
	if err := q.persistLocked(ctx); err != nil {
		q.jobs, q.deadLetters = jobs, deadLetters
		q.mu.Unlock()
		return err
	}
	q.mu.Unlock()

	q.logger.Warn(ctx, "queued mutation moved to dead letters", "job_id", job.ID, "mutation_key", job.MutationKey, "reason", reason)
	ports.Publish(ctx, q.events, ports.NewEvent(ports.EventJobDeadLettered, map[string]interface{}{
		"job_id":       job.ID,
		"mutation_key": job.MutationKey,
		"reason":       reason,
	}))
	return nil
}

func (q *Queue) removeHeadLocked(id string) {
	if len(q.jobs) > 0 && q.jobs[0].ID == id {
		q.jobs = q.jobs[1:]
		return
	}
	for i, job := range q.jobs {
		if job.ID == id {
			q.jobs = append(q.jobs[:i:i], q.jobs[i+1:]...)
			return
		}
	}
}

// SetOnline updates the online flag. Coming back online starts a drain in the
// background.
func (q *Queue) SetOnline(online bool) {
	q.mu.Lock()
	changed := q.online != online
	q.online = online
	q.mu.Unlock()

	if !changed || !online {
		return
	}
	q.startDrain(context.Background(), "queue drain after reconnect stopped")
}

func (q *Queue) startDrain(ctx context.Context, failure string) {
	q.drains.Add(1)
	go func() {
		defer q.drains.Done()
		if err := q.Process(ctx); err != nil {
			q.logger.Warn(ctx, failure, "error", err)
		}
	}()
}

// IsOnline reports the online flag.
func (q *Queue) IsOnline() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.online
}

// PendingCount returns the number of queued jobs.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Jobs returns the queued jobs in replay order.
func (q *Queue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Job(nil), q.jobs...)
}

// DeadLetters returns jobs set aside after deterministic failures.
func (q *Queue) DeadLetters() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Job(nil), q.deadLetters...)
}

// RequeueDeadLetters moves every dead letter back to the tail of the queue in
// its original order and returns how many were moved.
func (q *Queue) RequeueDeadLetters(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	moved := len(q.deadLetters)
	if moved == 0 {
		return 0, nil
	}
	prevJobs, prevDead := q.jobs, q.deadLetters
	q.jobs = append(append([]Job(nil), q.jobs...), q.deadLetters...)
	q.deadLetters = nil
	if err := q.persistLocked(ctx); err != nil {
		q.jobs, q.deadLetters = prevJobs, prevDead
		return 0, err
	}
	return moved, nil
}

// ClearDeadLetters discards the dead letters and returns how many there were.
func (q *Queue) ClearDeadLetters(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := len(q.deadLetters)
	prev := q.deadLetters
	q.deadLetters = nil
	if err := q.persistLocked(ctx); err != nil {
		q.deadLetters = prev
		return 0, err
	}
	return removed, nil
}

// Clear discards all queued jobs and dead letters.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	prevJobs, prevDead := q.jobs, q.deadLetters
	q.jobs, q.deadLetters = nil, nil
	if err := q.persistLocked(ctx); err != nil {
		q.jobs, q.deadLetters = prevJobs, prevDead
		return err
	}
	return nil
}

func (q *Queue) persistLocked(ctx context.Context) error {
	if q.storage == nil {
		return nil
	}
	raw, err := encodeSnapshot(snapshot{
		Version:     snapshotVersion,
		NextSeq:     q.nextSeq,
		Jobs:        q.jobs,
		DeadLetters: q.deadLetters,
	})
	if err != nil {
		return err
	}
	if err := q.storage.Write(ctx, q.storageKey, raw); err != nil {
		q.logger.Error(ctx, "failed to persist mutation queue", "error", err)
		return fmt.Errorf("persist mutation queue: %w", err)
	}
	return nil
}

func encodeSnapshot(snap snapshot) (map[string]any, error) {
	if snap.Jobs == nil {
		snap.Jobs = []Job{}
	}
	if snap.DeadLetters == nil {
		snap.DeadLetters = []Job{}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode queue snapshot: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("encode queue snapshot: %w", err)
	}
	return raw, nil
}

func decodeSnapshot(raw map[string]any) (snapshot, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return snapshot{}, fmt.Errorf("decode queue snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return snapshot{}, fmt.Errorf("decode queue snapshot: %w", err)
	}
	if snap.Version > snapshotVersion {
		return snapshot{}, errors.New("queue snapshot was written by a newer version")
	}
	return snap, nil
}

// normalizePayload gives the payload the JSON shape it will have after a
// restart, so handlers see the same values either way.
func normalizePayload(payload map[string]any) (map[string]any, error) {
	if payload == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("payload is not JSON serializable: %w", err)
	}
	var normalized map[string]any
	if err := json.Unmarshal(data, &normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}
