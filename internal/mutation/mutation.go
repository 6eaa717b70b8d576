// Package mutation runs writes against the backend with optimistic cache
// updates, and queues them for replay when the network is unavailable.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alexisbeaulieu97/zenify/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/zenify/internal/ports"
	"github.com/alexisbeaulieu97/zenify/internal/query"
	zerrors "github.com/alexisbeaulieu97/zenify/pkg/errors"
)

// ErrQueued is returned by Mutate when the mutation was handed to the queue
// for later replay. It is not a failure: OnError does not run and optimistic
// changes stay in place.
var ErrQueued = errors.New("mutation queued for replay")

// Status is the lifecycle position of a mutation.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusQueued  Status = "queued"
)

// State is the outcome of the latest Mutate call.
type State[Out any] struct {
	Status Status
	Data   Out
	Err    error
	JobID  string
}

// Options describes a mutation. In is the input, Out the result and C the
// value OnMutate hands to the other hooks, typically a rollback token.
type Options[In, Out, C any] struct {
	// Key identifies the mutation in the queue and in logs.
	Key string
	Fn  func(ctx context.Context, in In) (Out, error)

	OnMutate  func(ctx context.Context, in In) (C, error)
	OnSuccess func(ctx context.Context, out Out, in In, mctx C)
	OnError   func(ctx context.Context, err error, in In, mctx C)
	OnSettled func(ctx context.Context, out Out, err error, in In, mctx C)

	// Encode turns the input into a queue payload. Without Encode and Queue
	// connectivity failures surface like any other error.
	Encode func(in In) (map[string]any, error)
	Queue  *Queue

	// Cache and InvalidateOnSuccess mark the listed keys stale after a
	// successful run.
	Cache               *query.Cache
	InvalidateOnSuccess []string

	Connectivity ports.Connectivity
	Events       ports.EventPublisher
	Logger       ports.Logger
}

// Mutation executes Options.Fn with lifecycle hooks.
type Mutation[In, Out, C any] struct {
	opts   Options[In, Out, C]
	logger ports.Logger

	mu        sync.Mutex
	state     State[Out]
	listeners []func(State[Out])
}

// New validates opts and returns a mutation.
func New[In, Out, C any](opts Options[In, Out, C]) (*Mutation[In, Out, C], error) {
	if opts.Fn == nil {
		return nil, fmt.Errorf("mutation %q has no function", opts.Key)
	}
	if opts.Queue != nil && opts.Encode == nil {
		return nil, fmt.Errorf("mutation %q uses a queue but has no Encode", opts.Key)
	}
	if opts.Queue != nil && opts.Key == "" {
		return nil, errors.New("a queued mutation needs a key")
	}
	logger := logging.OrNoOp(opts.Logger).With("component", "mutation", "mutation_key", opts.Key)
	return &Mutation[In, Out, C]{opts: opts, logger: logger, state: State[Out]{Status: StatusIdle}}, nil
}

// State returns the outcome of the latest call.
func (m *Mutation[In, Out, C]) State() State[Out] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn for state changes.
func (m *Mutation[In, Out, C]) Subscribe(fn func(State[Out])) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Reset returns the mutation to idle.
func (m *Mutation[In, Out, C]) Reset() {
	m.setState(State[Out]{Status: StatusIdle})
}

// Mutate runs OnMutate, then Fn, then OnSuccess or OnError with the value
// OnMutate returned, then OnSettled. When the network is unavailable, either
// before the call or as the reason Fn failed, and a queue is configured, the
// input is queued instead and ErrQueued is returned.
func (m *Mutation[In, Out, C]) Mutate(ctx context.Context, in In) (Out, error) {
	var (
		zero Out
		mctx C
	)
	if m.opts.OnMutate != nil {
		c, err := m.opts.OnMutate(ctx, in)
		if err != nil {
			err = &zerrors.MutationError{Key: m.opts.Key, Err: fmt.Errorf("prepare: %w", err)}
			m.setState(State[Out]{Status: StatusError, Err: err})
			return zero, err
		}
		mctx = c
	}
	m.setState(State[Out]{Status: StatusPending})

	if m.canQueue() && m.offline() {
		return m.enqueue(ctx, in, mctx, zerrors.NewConnectivityError("mutate "+m.opts.Key, nil))
	}

	out, err := m.invoke(ctx, in)
	if err == nil {
		m.setState(State[Out]{Status: StatusSuccess, Data: out})
		if m.opts.OnSuccess != nil {
			m.opts.OnSuccess(ctx, out, in, mctx)
		}
		if m.opts.Cache != nil {
			for _, key := range m.opts.InvalidateOnSuccess {
				m.opts.Cache.Invalidate(key)
			}
		}
		if m.opts.OnSettled != nil {
			m.opts.OnSettled(ctx, out, nil, in, mctx)
		}
		return out, nil
	}

	if m.canQueue() && zerrors.IsConnectivity(err) {
		return m.enqueue(ctx, in, mctx, err)
	}
	return zero, m.fail(ctx, err, in, mctx)
}

func (m *Mutation[In, Out, C]) invoke(ctx context.Context, in In) (out Out, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mutation function panicked: %v", r)
		}
	}()
	return m.opts.Fn(ctx, in)
}

func (m *Mutation[In, Out, C]) enqueue(ctx context.Context, in In, mctx C, cause error) (Out, error) {
	var zero Out
	payload, err := m.opts.Encode(in)
	if err != nil {
		return zero, m.fail(ctx, fmt.Errorf("encode payload: %w", err), in, mctx)
	}
	job, err := m.opts.Queue.Add(ctx, m.opts.Key, payload)
	if err != nil {
		return zero, m.fail(ctx, errors.Join(cause, err), in, mctx)
	}

	m.setState(State[Out]{Status: StatusQueued, JobID: job.ID})
	m.logger.Info(ctx, "mutation queued while offline", "job_id", job.ID, "cause", cause)
	ports.Publish(ctx, m.opts.Events, ports.NewEvent(ports.EventMutationQueued, map[string]interface{}{
		"job_id":       job.ID,
		"mutation_key": m.opts.Key,
	}))
	return zero, fmt.Errorf("%w: job %s", ErrQueued, job.ID)
}

func (m *Mutation[In, Out, C]) fail(ctx context.Context, cause error, in In, mctx C) error {
	var zero Out
	err := &zerrors.MutationError{Key: m.opts.Key, Err: cause}
	m.setState(State[Out]{Status: StatusError, Err: err})
	m.logger.Warn(ctx, "mutation failed", "error", cause)
	if m.opts.OnError != nil {
		m.opts.OnError(ctx, err, in, mctx)
	}
	if m.opts.OnSettled != nil {
		m.opts.OnSettled(ctx, zero, err, in, mctx)
	}
	return err
}

func (m *Mutation[In, Out, C]) canQueue() bool {
	return m.opts.Queue != nil && m.opts.Encode != nil
}

func (m *Mutation[In, Out, C]) offline() bool {
	if m.opts.Connectivity != nil {
		return !m.opts.Connectivity.IsOnline()
	}
	return !m.opts.Queue.IsOnline()
}

func (m *Mutation[In, Out, C]) setState(state State[Out]) {
	m.mu.Lock()
	m.state = state
	listeners := append([]func(State[Out]){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(state)
	}
}
