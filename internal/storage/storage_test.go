package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openBackends(t *testing.T) map[string]Backend {
	t.Helper()

	dir := t.TempDir()
	file, err := Open(BackendFile, filepath.Join(dir, "kv"))
	require.NoError(t, err)
	db, err := Open(BackendSQLite, filepath.Join(dir, "zenify.db"))
	require.NoError(t, err)
	mem, err := Open(BackendMemory, "")
	require.NoError(t, err)

	backends := map[string]Backend{
		BackendMemory: mem,
		BackendFile:   file,
		BackendSQLite: db,
	}
	t.Cleanup(func() {
		for _, b := range backends {
			_ = b.Close()
		}
	})
	return backends
}

func TestBackendsRoundTripJSONShape(t *testing.T) {
	ctx := context.Background()
	for name, backend := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			missing, err := backend.Read(ctx, "absent")
			require.NoError(t, err)
			require.Nil(t, missing)

			value := map[string]any{
				"version": 1,
				"jobs": []any{
					map[string]any{"id": "a", "payload": map[string]any{"title": "buy milk"}},
				},
			}
			require.NoError(t, backend.Write(ctx, "zenify.queue", value))

			got, err := backend.Read(ctx, "zenify.queue")
			require.NoError(t, err)
			require.Equal(t, float64(1), got["version"])
			jobs := got["jobs"].([]any)
			require.Len(t, jobs, 1)
			require.Equal(t, "buy milk", jobs[0].(map[string]any)["payload"].(map[string]any)["title"])

			require.NoError(t, backend.Write(ctx, "zenify.queue", map[string]any{"version": 2}))
			got, err = backend.Read(ctx, "zenify.queue")
			require.NoError(t, err)
			require.Equal(t, map[string]any{"version": float64(2)}, got)
		})
	}
}

func TestBackendsListAndDeleteKeys(t *testing.T) {
	ctx := context.Background()
	for name, backend := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, backend.Write(ctx, "b/key", map[string]any{}))
			require.NoError(t, backend.Write(ctx, "a", map[string]any{}))

			keys, err := backend.Keys()
			require.NoError(t, err)
			require.Equal(t, []string{"a", "b/key"}, keys)

			require.NoError(t, backend.Delete(ctx, "a"))
			require.NoError(t, backend.Delete(ctx, "a"))
			keys, err = backend.Keys()
			require.NoError(t, err)
			require.Equal(t, []string{"b/key"}, keys)
		})
	}
}

func TestMemoryDoesNotShareMaps(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	value := map[string]any{"title": "original"}
	require.NoError(t, mem.Write(ctx, "k", value))
	value["title"] = "mutated"

	got, err := mem.Read(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "original", got["title"])
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, first.Write(ctx, "queue", map[string]any{"next_seq": 3}))

	second, err := NewFileStore(dir)
	require.NoError(t, err)
	got, err := second.Read(ctx, "queue")
	require.NoError(t, err)
	require.Equal(t, float64(3), got["next_seq"])

	_, err = os.Stat(filepath.Join(dir, "queue.json.tmp"))
	require.True(t, os.IsNotExist(err))
}

func TestFileStoreReportsCorruptDocuments(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "queue.json"), []byte("{not json"), 0o644))

	store, err := NewFileStore(dir)
	require.NoError(t, err)
	_, err = store.Read(context.Background(), "queue")
	require.ErrorContains(t, err, "failed to parse queue")
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "zenify.db")

	first, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, first.Write(ctx, "queue", map[string]any{"jobs": []any{}}))
	require.NoError(t, first.Close())

	second, err := OpenSQLite(path)
	require.NoError(t, err)
	defer second.Close()

	var version int
	require.NoError(t, second.db.QueryRow("PRAGMA user_version").Scan(&version))
	require.Equal(t, currentSchemaVersion, version)

	got, err := second.Read(ctx, "queue")
	require.NoError(t, err)
	require.Equal(t, []any{}, got["jobs"])
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open("etcd", "")
	require.ErrorContains(t, err, `unknown storage backend "etcd"`)

	_, err = NewFileStore(" ")
	require.Error(t, err)
}
