package runtime

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/zenify/internal/config"
	"github.com/alexisbeaulieu97/zenify/internal/di"
	"github.com/alexisbeaulieu97/zenify/internal/module"
	"github.com/alexisbeaulieu97/zenify/internal/mutation"
	"github.com/alexisbeaulieu97/zenify/internal/ports"
	"github.com/alexisbeaulieu97/zenify/internal/query"
	"github.com/alexisbeaulieu97/zenify/internal/scope"
	zerrors "github.com/alexisbeaulieu97/zenify/pkg/errors"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Log.Format = "json"
	return cfg
}

func TestNewExposesServicesThroughContainer(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx, Options{Config: testConfig(), LogWriter: &bytes.Buffer{}})
	require.NoError(t, err)
	defer rt.Close()

	cache, err := di.Require[*query.Cache](rt.Container)
	require.NoError(t, err)
	require.Same(t, rt.Cache, cache)

	queue, err := di.Require[*mutation.Queue](rt.Container)
	require.NoError(t, err)
	require.Same(t, rt.Queue, queue)

	conn, err := di.Require[ports.Connectivity](rt.Container)
	require.NoError(t, err)
	require.True(t, conn.IsOnline())

	require.Equal(t, []string{CoreModuleName}, rt.Container.Loader().Installed(rt.Container.Root().ID()))
}

func TestNewInstallsExtraModulesAfterCore(t *testing.T) {
	ctx := context.Background()
	type greeting string
	extra := &module.Func{
		ModuleName: "greeter",
		RegisterFn: func(s *scope.Scope) error {
			_, err := scope.Put(s, greeting("hello"))
			return err
		},
		InitFn: func(_ context.Context, s *scope.Scope) error {
			_, err := scope.Require[*query.Cache](s)
			return err
		},
	}

	rt, err := New(ctx, Options{Config: testConfig(), LogWriter: &bytes.Buffer{}, Modules: []module.Module{extra}})
	require.NoError(t, err)
	defer rt.Close()

	value, ok := di.Find[greeting](rt.Container)
	require.True(t, ok)
	require.Equal(t, greeting("hello"), value)
}

func TestFailedModuleClosesRuntime(t *testing.T) {
	broken := &module.Func{
		ModuleName: "broken",
		InitFn:     func(context.Context, *scope.Scope) error { return errors.New("no database") },
	}

	_, err := New(context.Background(), Options{Config: testConfig(), LogWriter: &bytes.Buffer{}, Modules: []module.Module{broken}})
	var moduleErr *zerrors.ModuleError
	require.ErrorAs(t, err, &moduleErr)
	require.Equal(t, "broken", moduleErr.Module)
}

func TestQueuePersistsAcrossRuntimes(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Queue.Storage = "sqlite"
	cfg.Queue.Path = filepath.Join(t.TempDir(), "queue.db")

	first, err := New(ctx, Options{Config: cfg, LogWriter: &bytes.Buffer{}, Offline: true})
	require.NoError(t, err)
	require.False(t, first.Connectivity.IsOnline())
	_, err = first.Queue.Add(ctx, "todo.create", map[string]any{"title": "A"})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	replayed := make(chan string, 1)
	second, err := New(ctx, Options{
		Config:    cfg,
		LogWriter: &bytes.Buffer{},
		Handlers: map[string]mutation.Handler{
			"todo.create": func(_ context.Context, payload map[string]any) error {
				replayed <- payload["title"].(string)
				return nil
			},
		},
	})
	require.NoError(t, err)
	defer second.Close()

	select {
	case title := <-replayed:
		require.Equal(t, "A", title)
	case <-time.After(time.Second):
		t.Fatal("restored job was not replayed")
	}
	require.Eventually(t, func() bool { return second.Queue.PendingCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestVerboseForcesDebugLogs(t *testing.T) {
	buf := &bytes.Buffer{}
	rt, err := New(context.Background(), Options{Config: testConfig(), LogWriter: buf, Verbose: true})
	require.NoError(t, err)
	require.NoError(t, rt.Close())
	require.Contains(t, buf.String(), "runtime ready")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Queue.Storage = "redis"
	_, err := New(context.Background(), Options{Config: cfg})
	var validationErr *zerrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestCloseAfterFailedNewIsSafe(t *testing.T) {
	var rt *Runtime
	require.NoError(t, rt.Close())
}
