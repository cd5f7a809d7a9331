package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixaill76/gemini_gateway/internal/cache"
	"github.com/mixaill76/gemini_gateway/internal/config"
	"github.com/mixaill76/gemini_gateway/internal/keypool"
	"github.com/mixaill76/gemini_gateway/internal/testhelpers"
)

// usedPool returns a pool where "a" served one request and "b" is disabled.
func usedPool(t *testing.T) *keypool.Pool {
	t.Helper()
	pool := testhelpers.NewTestPool("a", "b")
	cred, err := pool.AcquireExcluding(map[string]bool{"b": true})
	require.NoError(t, err)
	pool.RecordSuccess(cred.Name)
	require.NoError(t, pool.Disable("b"))
	return pool
}

func filledCache(t *testing.T) *cache.Store {
	t.Helper()
	store, err := cache.New(8, time.Hour)
	require.NoError(t, err)
	res := store.Fetch("k1")
	require.Equal(t, cache.Claimed, res.Outcome)
	store.Resolve(res.Claim, []byte(`{"id":"x"}`), nil)
	return store
}

func statusByName(pool *keypool.Pool) map[string]keypool.CredentialStatus {
	out := map[string]keypool.CredentialStatus{}
	for _, s := range pool.Status() {
		out[s.Name] = s
	}
	return out
}

func assertRoundTrip(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	src := NewManager(store, usedPool(t), filledCache(t), time.Second, testhelpers.NewTestLogger())
	require.NoError(t, src.Save(ctx))

	pool := testhelpers.NewTestPool("a", "b", "c")
	responses, err := cache.New(8, time.Hour)
	require.NoError(t, err)
	dst := NewManager(store, pool, responses, time.Second, testhelpers.NewTestLogger())
	require.NoError(t, dst.Restore(ctx))

	st := statusByName(pool)
	assert.Equal(t, 1, st["a"].MinuteCount)
	assert.Equal(t, 1, st["a"].DayCount)
	assert.Equal(t, keypool.Disabled, st["b"].Health)
	assert.Equal(t, keypool.Healthy, st["c"].Health)

	body, ok := responses.Lookup("k1")
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"x"}`, string(body))
}

func TestFileStore_RoundTrip(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "nested", "state.json"))
	require.NoError(t, err)
	assertRoundTrip(t, store)
}

func TestFileStore_SnapshotHasNoSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	m := NewManager(store, usedPool(t), nil, time.Second, nil)
	require.NoError(t, m.Save(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "AIza")

	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, formatVersion, snap.Version)
	assert.Len(t, snap.Credentials, 2)
	assert.Empty(t, snap.Cache)
}

func TestRestore_MissingSnapshotIsNotAnError(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	m := NewManager(store, testhelpers.NewTestPool("a"), nil, time.Second, nil)
	assert.NoError(t, m.Restore(context.Background()))
}

func TestRestore_RejectsCorruptAndUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	m := NewManager(store, testhelpers.NewTestPool("a"), nil, time.Second, nil)

	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))
	assert.Error(t, m.Restore(context.Background()))

	require.NoError(t, os.WriteFile(path, []byte(`{"version":99}`), 0o600))
	err = m.Restore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported version")
}

func TestRedisStore_RoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	store, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), "", 0)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)

	assertRoundTrip(t, store)
	assert.True(t, mr.Exists(DefaultRedisKey))
}

func TestRedisStore_TTL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	store, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), "custom", time.Minute)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.NoError(t, store.Save(context.Background(), []byte("x")))
	assert.Equal(t, time.Minute, mr.TTL("custom"))

	mr.FastForward(2 * time.Minute)
	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_ConnectFailure(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "not-a-url", "", 0)
	assert.Error(t, err)
}

func TestPostgresStore_InvalidURL(t *testing.T) {
	_, err := NewPostgresStore(context.Background(), "://bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid database URL")
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	url := os.Getenv("GATEWAY_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("GATEWAY_TEST_POSTGRES_URL not set")
	}
	store, err := NewPostgresStore(context.Background(), url)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	assertRoundTrip(t, store)
}

func TestOpen(t *testing.T) {
	log := testhelpers.NewTestLogger()

	store, err := Open(context.Background(), config.SnapshotConfig{Backend: config.SnapshotNone}, log)
	require.NoError(t, err)
	assert.Nil(t, store)

	store, err = Open(context.Background(), config.SnapshotConfig{
		Backend: config.SnapshotFile,
		Path:    filepath.Join(t.TempDir(), "s.json"),
	}, log)
	require.NoError(t, err)
	assert.Equal(t, "file", store.Name())

	_, err = Open(context.Background(), config.SnapshotConfig{Backend: "etcd"}, log)
	assert.Error(t, err)
}
