package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/zenify/internal/config"
	"github.com/alexisbeaulieu97/zenify/internal/mutation"
	"github.com/alexisbeaulieu97/zenify/internal/runtime"
)

func executeCommand(args ...string) (string, string, error) {
	root := newRootCmd()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersionCommandOutputsBuildInfo(t *testing.T) {
	originalVersion := version
	originalCommit := commit
	originalDate := date
	t.Cleanup(func() {
		version = originalVersion
		commit = originalCommit
		date = originalDate
	})

	version = "1.2.3"
	commit = "abcdef1"
	date = "2026-10-03"

	output, _, err := executeCommand("version")
	require.NoError(t, err)
	require.Contains(t, output, "Zenify 1.2.3")
	require.Contains(t, output, "abcdef1")
	require.Contains(t, output, "2026-10-03")
}

func TestConfigValidate(t *testing.T) {
	output, _, err := executeCommand("config", "validate", filepath.Join("testdata", "zenify.yaml"))
	require.NoError(t, err)
	require.Contains(t, output, "is valid")

	_, _, err = executeCommand("config", "validate", filepath.Join("testdata", "invalid.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "Failed to validate config")
	require.Contains(t, err.Error(), "log.level")
}

func TestConfigShowPrintsDefaults(t *testing.T) {
	output, _, err := executeCommand("config", "show")
	require.NoError(t, err)
	require.Contains(t, output, "storage: memory")
	require.Contains(t, output, "storage_key: "+mutation.DefaultStorageKey)
	require.Contains(t, output, "cache_time: 5m0s")
}

func TestRenderQueueGolden(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pending := []mutation.Job{
		{ID: "job-1", Seq: 1, MutationKey: "todo.create", EnqueuedAt: at},
		{ID: "job-2", Seq: 2, MutationKey: "todo.rename", Attempts: 2, EnqueuedAt: at.Add(5 * time.Minute), LastError: "network unavailable: post /todos"},
	}
	dead := []mutation.Job{
		{ID: "job-3", Seq: 3, MutationKey: "todo.delete", Attempts: 1, EnqueuedAt: at.Add(10 * time.Minute), LastError: "404 not found"},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	buf := &bytes.Buffer{}
	renderQueue(buf, pending, dead)
	g.Assert(t, "queue_list", buf.Bytes())

	buf.Reset()
	renderQueue(buf, nil, nil)
	g.Assert(t, "queue_list_empty", buf.Bytes())
}

// seedQueue writes a file-backed config and leaves one pending job and one
// dead letter in its queue.
func seedQueue(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "zenify.yaml")
	doc := fmt.Sprintf("version: \"1.0.0\"\nlog:\n  format: json\nqueue:\n  storage: file\n  path: %s\n", filepath.Join(dir, "state"))
	require.NoError(t, os.WriteFile(configPath, []byte(doc), 0o644))

	cfg, err := config.Load(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	rt, err := runtime.New(ctx, runtime.Options{Config: *cfg, LogWriter: &bytes.Buffer{}})
	require.NoError(t, err)
	_, err = rt.Queue.Add(ctx, "todo.unknown", map[string]any{"title": "orphan"})
	require.NoError(t, err)
	require.NoError(t, rt.Queue.Process(ctx))
	require.Len(t, rt.Queue.DeadLetters(), 1)

	rt.Connectivity.SetOnline(false)
	_, err = rt.Queue.Add(ctx, "todo.create", map[string]any{"title": "later"})
	require.NoError(t, err)
	require.NoError(t, rt.Close())

	return configPath
}

func TestQueueListJSON(t *testing.T) {
	configPath := seedQueue(t)

	output, _, err := executeCommand("--config", configPath, "--offline", "queue", "list", "--json")
	require.NoError(t, err)

	var payload queueJSONPayload
	require.NoError(t, json.Unmarshal([]byte(output), &payload))
	require.Len(t, payload.Pending, 1)
	require.Equal(t, "todo.create", payload.Pending[0].MutationKey)
	require.Len(t, payload.DeadLetters, 1)
	require.Equal(t, "no handler registered for todo.unknown", payload.DeadLetters[0].LastError)
}

func TestQueueListTable(t *testing.T) {
	configPath := seedQueue(t)

	output, _, err := executeCommand("--config", configPath, "--offline", "queue", "list")
	require.NoError(t, err)
	require.Contains(t, output, "Pending jobs (1)")
	require.Contains(t, output, "Dead letters (1)")
	require.Contains(t, output, "todo.unknown")
}

func TestQueueRequeueAndPurge(t *testing.T) {
	configPath := seedQueue(t)

	output, _, err := executeCommand("--config", configPath, "--offline", "queue", "requeue")
	require.NoError(t, err)
	require.Contains(t, output, "Requeued 1 job(s); 2 pending")

	output, _, err = executeCommand("--config", configPath, "--offline", "queue", "purge", "--dead-only")
	require.NoError(t, err)
	require.Contains(t, output, "Removed 0 dead letter(s)")

	output, _, err = executeCommand("--config", configPath, "--offline", "queue", "purge")
	require.NoError(t, err)
	require.Contains(t, output, "Removed 2 job(s)")

	output, _, err = executeCommand("--config", configPath, "--offline", "queue", "list", "--json")
	require.NoError(t, err)
	var payload queueJSONPayload
	require.NoError(t, json.Unmarshal([]byte(output), &payload))
	require.Empty(t, payload.Pending)
	require.Empty(t, payload.DeadLetters)
}

func TestQueueCommandReportsBadConfig(t *testing.T) {
	_, _, err := executeCommand("--config", filepath.Join("testdata", "invalid.yaml"), "queue", "list")
	require.Error(t, err)
	require.Contains(t, err.Error(), "loading configuration")
}

func TestInspectShowsRuntimeWiring(t *testing.T) {
	output, _, err := executeCommand("--offline", "inspect")
	require.NoError(t, err)
	require.Contains(t, output, "root [7 registrations]")
	require.Contains(t, output, "  "+runtime.CoreModuleName)
	require.Contains(t, output, "Connectivity: offline")
	require.Contains(t, output, "Storage: memory")
	require.Contains(t, output, "Queue: 0 pending, 0 dead letters")
}
