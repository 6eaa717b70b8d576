// Package runtime assembles the services described by a config file: the
// logger, event bus, connectivity monitor, query cache, persisted mutation
// queue and the DI container that exposes them.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/alexisbeaulieu97/zenify/internal/config"
	"github.com/alexisbeaulieu97/zenify/internal/connectivity"
	"github.com/alexisbeaulieu97/zenify/internal/di"
	"github.com/alexisbeaulieu97/zenify/internal/infrastructure/events"
	"github.com/alexisbeaulieu97/zenify/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/zenify/internal/module"
	"github.com/alexisbeaulieu97/zenify/internal/mutation"
	"github.com/alexisbeaulieu97/zenify/internal/ports"
	"github.com/alexisbeaulieu97/zenify/internal/query"
	"github.com/alexisbeaulieu97/zenify/internal/scope"
	"github.com/alexisbeaulieu97/zenify/internal/storage"
)

// CoreModuleName is the module that registers the runtime services in the
// root scope.
const CoreModuleName = "zenify.core"

// Options configures New.
type Options struct {
	Config config.Config
	// LogWriter receives log output. Defaults to os.Stderr.
	LogWriter io.Writer
	// Verbose forces debug logging regardless of the configured level.
	Verbose bool
	// Offline starts the connectivity monitor offline. Ignored when a probe
	// address is configured.
	Offline bool
	// Handlers replay queued mutations.
	Handlers map[string]mutation.Handler
	// Modules are installed in the root scope after the core module.
	Modules []module.Module
}

// Runtime owns the long-lived services. Close releases them in reverse
// order of construction.
type Runtime struct {
	Config       config.Config
	Logger       ports.Logger
	Events       *events.LoggingPublisher
	Connectivity *connectivity.Monitor
	Storage      storage.Backend
	Cache        *query.Cache
	Queue        *mutation.Queue
	Container    *di.Container

	stopWatch context.CancelFunc
}

// New builds a runtime from opts. On failure everything already opened is
// closed again.
func New(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := config.Validate(&cfg); err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Log, opts.LogWriter, opts.Verbose)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Config: cfg, Logger: logger}
	rt.Events = events.NewLoggingPublisher(logger)
	rt.Connectivity = connectivity.NewMonitor(!opts.Offline || cfg.Connectivity.ProbeAddress != "", connectivity.WithLogger(logger))

	backend, err := storage.Open(cfg.Queue.Storage, cfg.Queue.Path)
	if err != nil {
		return nil, fmt.Errorf("open queue storage: %w", err)
	}
	rt.Storage = backend

	rt.Cache = query.NewCache(
		query.WithDefaults(cfg.QueryDefaults()),
		query.WithLogger(logger),
		query.WithEvents(rt.Events),
		query.WithConnectivity(rt.Connectivity),
	)
	rt.Queue = mutation.NewQueue(
		mutation.WithQueueLogger(logger),
		mutation.WithQueueEvents(rt.Events),
		mutation.WithQueueConnectivity(rt.Connectivity),
		mutation.WithStorageKey(cfg.Queue.StorageKey),
	)
	rt.Queue.RegisterHandlers(opts.Handlers)

	rt.Container = di.New(di.WithLogger(logger), di.WithEvents(rt.Events))

	mods := append([]module.Module{rt.coreModule()}, opts.Modules...)
	if _, err := rt.Container.Install(ctx, mods...); err != nil {
		return nil, errors.Join(err, rt.Close())
	}

	if cfg.Connectivity.ProbeAddress != "" {
		watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		rt.stopWatch = cancel
		probe := connectivity.DialProbe(cfg.Connectivity.ProbeAddress, cfg.Connectivity.ProbeTimeout)
		go rt.Connectivity.Watch(watchCtx, cfg.Connectivity.ProbeInterval, probe)
	}

	logger.Debug(ctx, "runtime ready", "storage", cfg.Queue.Storage, "pending_jobs", rt.Queue.PendingCount())
	return rt, nil
}

// coreModule exposes the runtime services through the container and ties
// the queue and cache lifetimes to the root scope.
func (r *Runtime) coreModule() module.Module {
	return &module.Func{
		ModuleName: CoreModuleName,
		RegisterFn: func(s *scope.Scope) error {
			return errors.Join(
				put(s, r.Logger),
				put[ports.EventPublisher](s, r.Events),
				put[ports.Connectivity](s, r.Connectivity),
				put(s, r.Connectivity),
				put[ports.Storage](s, r.Storage),
				put(s, r.Cache),
				put(s, r.Queue),
			)
		},
		InitFn: func(ctx context.Context, _ *scope.Scope) error {
			return r.Queue.Init(ctx, r.Storage)
		},
		DisposeFn: func(context.Context, *scope.Scope) error {
			r.Queue.Close()
			r.Cache.Close()
			return nil
		},
	}
}

func put[T any](s *scope.Scope, instance T) error {
	_, err := scope.Put(s, instance, scope.Permanent())
	return err
}

// Close stops probing, disposes the container and closes storage. It is
// safe to call after a failed New.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	if r.stopWatch != nil {
		r.stopWatch()
	}
	var errs []error
	if r.Container != nil {
		errs = append(errs, r.Container.Close())
	}
	if r.Queue != nil {
		r.Queue.Close()
	}
	if r.Cache != nil {
		r.Cache.Close()
	}
	if r.Storage != nil {
		errs = append(errs, r.Storage.Close())
	}
	return errors.Join(errs...)
}

func newLogger(cfg config.LogConfig, writer io.Writer, verbose bool) (ports.Logger, error) {
	if writer == nil {
		writer = os.Stderr
	}
	level := cfg.Level
	if verbose {
		level = "debug"
	}

	human := cfg.Format == "console"
	if cfg.Format == "auto" {
		human = isTerminal(writer)
	}

	logger, err := logging.New(logging.Options{
		Writer:        writer,
		Level:         level,
		HumanReadable: human,
		Layer:         "runtime",
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return logger, nil
}

func isTerminal(writer io.Writer) bool {
	if file, ok := writer.(*os.File); ok {
		return term.IsTerminal(int(file.Fd()))
	}
	return false
}
