package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eddielth/digitanimal-trans/config"
)

var testKey = Key{IntegrationID: "int-1", ActionID: "pull_observations", SourceID: "collar/7"}

func exerciseStore(t *testing.T, store StateStore) {
	t.Helper()
	ctx := context.Background()

	state, err := store.GetState(ctx, testKey)
	require.NoError(t, err)
	require.Nil(t, state)

	require.NoError(t, store.SetState(ctx, testKey, State{"latest_device_datetime": "2024-03-01T10:15:00+01:00"}))
	state, err = store.GetState(ctx, testKey)
	require.NoError(t, err)
	require.Equal(t, "2024-03-01T10:15:00+01:00", state["latest_device_datetime"])

	require.NoError(t, store.SetState(ctx, testKey, State{"latest_device_datetime": "2024-03-01T11:00:00+01:00"}))
	state, err = store.GetState(ctx, testKey)
	require.NoError(t, err)
	require.Equal(t, "2024-03-01T11:00:00+01:00", state["latest_device_datetime"])

	other := testKey
	other.ActionID = "pull_historical_observations"
	state, err = store.GetState(ctx, other)
	require.NoError(t, err)
	require.Nil(t, state)

	require.NoError(t, store.Close())
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreCopiesState(t *testing.T) {
	store := NewMemoryStore()
	in := State{"a": "1"}
	require.NoError(t, store.SetState(context.Background(), testKey, in))
	in["a"] = "2"

	got, err := store.GetState(context.Background(), testKey)
	require.NoError(t, err)
	require.Equal(t, "1", got["a"])
	require.Equal(t, 1, store.Len())
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	exerciseStore(t, store)

	_, err = os.Stat(filepath.Join(dir, "int-1", "pull_observations", "collar%2F7.json"))
	require.NoError(t, err)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.SetState(context.Background(), testKey, State{"k": "v"}))

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	got, err := reopened.GetState(context.Background(), testKey)
	require.NoError(t, err)
	require.Equal(t, State{"k": "v"}, got)
}

func TestFileStoreRejectsCorruptDocument(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	path := store.path(testKey)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err = store.GetState(context.Background(), testKey)
	require.Error(t, err)
}

func TestRedisKey(t *testing.T) {
	require.Equal(t, "integration_state.int-1.pull_observations.collar/7", redisKey(testKey))
}

func TestKeyStringEscapesSeparator(t *testing.T) {
	a := Key{IntegrationID: "a.b", ActionID: "c", SourceID: "d"}
	b := Key{IntegrationID: "a", ActionID: "b.c", SourceID: "d"}
	c := Key{IntegrationID: "a%2Eb", ActionID: "c", SourceID: "d"}

	require.Equal(t, "a%2Eb.c.d", a.String())
	require.NotEqual(t, a.String(), b.String())
	require.NotEqual(t, a.String(), c.String())
	require.NotEqual(t, redisKey(a), redisKey(b))
}

func TestFileStoreStaysUnderBasePath(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "state")
	store, err := NewFileStore(base)
	require.NoError(t, err)

	ctx := context.Background()
	keys := []Key{
		{IntegrationID: "..", ActionID: "..", SourceID: ".."},
		{IntegrationID: ".", ActionID: ".", SourceID: "."},
		{IntegrationID: "%2E%2E", ActionID: "..", SourceID: ".."},
		{IntegrationID: "", ActionID: "x", SourceID: "y"},
		{IntegrationID: "x", ActionID: "", SourceID: "y"},
	}
	for i, key := range keys {
		path := store.path(key)
		rel, err := filepath.Rel(base, path)
		require.NoError(t, err)
		require.False(t, strings.HasPrefix(rel, ".."), path)
		require.Equal(t, 3, len(strings.Split(rel, string(filepath.Separator))), path)

		require.NoError(t, store.SetState(ctx, key, State{"i": float64(i)}))
	}
	for i, key := range keys {
		got, err := store.GetState(ctx, key)
		require.NoError(t, err)
		require.Equal(t, State{"i": float64(i)}, got)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestNewStateStore(t *testing.T) {
	ctx := context.Background()

	s, err := NewStateStore(ctx, config.StateConfig{Type: "memory"})
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, s)

	s, err = NewStateStore(ctx, config.StateConfig{Type: "file", File: config.FileStateConfig{Path: t.TempDir()}})
	require.NoError(t, err)
	require.IsType(t, &FileStore{}, s)

	_, err = NewStateStore(ctx, config.StateConfig{Type: "tape"})
	require.Error(t, err)
}

func TestParseMySQLDSN(t *testing.T) {
	db, server, err := parseMySQLDSN("user:pw@tcp(localhost:3306)/digitanimal?parseTime=true")
	require.NoError(t, err)
	require.Equal(t, "digitanimal", db)
	require.Equal(t, "user:pw@tcp(localhost:3306)/?parseTime=true", server)

	_, _, err = parseMySQLDSN("user:pw@tcp(localhost:3306)")
	require.Error(t, err)
}

func TestParsePostgreSQLDSN(t *testing.T) {
	db, server, err := parsePostgreSQLDSN("postgres://u:p@localhost:5432/digitanimal?sslmode=disable")
	require.NoError(t, err)
	require.Equal(t, "digitanimal", db)
	require.Equal(t, "postgres://u:p@localhost:5432/postgres?sslmode=disable", server)

	db, server, err = parsePostgreSQLDSN("host=localhost user=u dbname=digitanimal sslmode=disable")
	require.NoError(t, err)
	require.Equal(t, "digitanimal", db)
	require.Equal(t, "host=localhost user=u sslmode=disable dbname=postgres", server)

	_, _, err = parsePostgreSQLDSN("host=localhost user=u")
	require.Error(t, err)
}
