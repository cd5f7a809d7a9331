package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mixaill76/gemini_gateway/internal/cache"
	"github.com/mixaill76/gemini_gateway/internal/keypool"
	"github.com/mixaill76/gemini_gateway/internal/logger"
	"github.com/mixaill76/gemini_gateway/internal/utils"
)

// formatVersion is bumped when Snapshot changes incompatibly.
const formatVersion = 1

// ErrNotFound is returned by Store.Load when nothing was saved yet.
var ErrNotFound = errors.New("snapshot: not found")

// Snapshot is the persisted document. It holds no credential secrets.
type Snapshot struct {
	Version     int             `json:"version"`
	SavedAt     time.Time       `json:"saved_at"`
	Credentials []keypool.State `json:"credentials"`
	Cache       []cache.Item    `json:"cache,omitempty"`
}

// Store is a backend holding one encoded snapshot.
type Store interface {
	Save(ctx context.Context, data []byte) error
	Load(ctx context.Context) ([]byte, error)
	Close() error
	Name() string
}

// PoolState is implemented by *keypool.Pool.
type PoolState interface {
	Export() []keypool.State
	Import(states []keypool.State) int
}

// CacheState is implemented by *cache.Store.
type CacheState interface {
	Export() []cache.Item
	Import(items []cache.Item) int
}

type Manager struct {
	store   Store
	pool    PoolState
	cache   CacheState
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewManager wires a store to the pool and, when cacheState is non-nil, the
// response cache.
func NewManager(store Store, pool PoolState, cacheState CacheState, timeout time.Duration, log *slog.Logger) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Manager{
		store:   store,
		pool:    pool,
		cache:   cacheState,
		timeout: timeout,
		logger:  log,
		now:     utils.NowUTC,
	}
}

// Capture exports pool and cache concurrently.
func (m *Manager) Capture(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Version: formatVersion, SavedAt: m.now()}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		snap.Credentials = m.pool.Export()
		return nil
	})
	if m.cache != nil {
		g.Go(func() error {
			snap.Cache = m.cache.Export()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

// Save captures and writes a snapshot.
func (m *Manager) Save(ctx context.Context) error {
	snap, err := m.Capture(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot: failed to encode: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.store.Save(ctx, data); err != nil {
		return fmt.Errorf("snapshot: %s save failed: %w", m.store.Name(), err)
	}

	m.logger.Debug("Snapshot saved",
		"backend", m.store.Name(),
		"credentials", len(snap.Credentials),
		"cache_entries", len(snap.Cache),
		"bytes", len(data),
	)
	return nil
}

// Restore loads the last snapshot, if any, into the pool and cache. A
// missing snapshot is not an error.
func (m *Manager) Restore(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	data, err := m.store.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		m.logger.Info("No snapshot to restore", "backend", m.store.Name())
		return nil
	}
	if err != nil {
		return fmt.Errorf("snapshot: %s load failed: %w", m.store.Name(), err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("snapshot: failed to decode: %w", err)
	}
	if snap.Version != formatVersion {
		return fmt.Errorf("snapshot: unsupported version %d", snap.Version)
	}

	restored := m.pool.Import(snap.Credentials)
	loaded := 0
	if m.cache != nil {
		loaded = m.cache.Import(snap.Cache)
	}
	m.logger.Info("Snapshot restored",
		"backend", m.store.Name(),
		"saved_at", snap.SavedAt.Format(time.RFC3339),
		"credentials", restored,
		"cache_entries", loaded,
	)
	return nil
}

func (m *Manager) Close() error {
	return m.store.Close()
}
