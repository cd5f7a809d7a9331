package models

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mixaill76/gemini_gateway/internal/converter/gemini"
	"github.com/mixaill76/gemini_gateway/internal/converter/openai"
	"github.com/mixaill76/gemini_gateway/internal/logger"
	"github.com/mixaill76/gemini_gateway/internal/utils"
)

const ownedBy = "google"

// Lister fetches the raw upstream catalogue.
type Lister interface {
	ListModels(ctx context.Context) ([]gemini.ModelInfo, error)
}

type Config struct {
	Whitelist []string
	Blocklist []string
	Fallback  []string
	// Search adds a "-search" alias for every generation model.
	Search bool
	TTL    time.Duration
}

// Manager caches the filtered model list.
type Manager struct {
	lister    Lister
	whitelist map[string]bool
	blocklist map[string]bool
	fallback  []string
	search    bool
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	models    []string
	fetchedAt time.Time
}

// New creates a model manager. lister may be nil, in which case only the
// fallback list is served.
func New(lister Lister, cfg Config, log *slog.Logger) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	return &Manager{
		lister:    lister,
		whitelist: nameSet(cfg.Whitelist),
		blocklist: nameSet(cfg.Blocklist),
		fallback:  cfg.Fallback,
		search:    cfg.Search,
		ttl:       cfg.TTL,
		logger:    log,
		now:       utils.NowUTC,
	}
}

// SetClock replaces the time source. Intended for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

func nameSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		if n = normalize(n); n != "" {
			set[n] = true
		}
	}
	return set
}

// normalize drops the models/ prefix and surrounding space.
func normalize(model string) string {
	return strings.TrimPrefix(strings.TrimSpace(model), "models/")
}

// Allowed reports whether clients may call model. A non-empty whitelist
// wins over the blocklist. Search aliases are judged by their base model.
func (m *Manager) Allowed(model string) bool {
	model = normalize(model)
	if m.search {
		model, _ = gemini.SplitSearchModel(model)
	}
	if model == "" {
		return false
	}
	if len(m.whitelist) > 0 {
		return m.whitelist[model]
	}
	return !m.blocklist[model]
}

// List returns the catalogue in the OpenAI shape, refreshing it when the
// cached copy is older than the TTL.
func (m *Manager) List(ctx context.Context) openai.ModelsResponse {
	m.mu.RLock()
	models, fresh := m.models, m.models != nil && m.now().Sub(m.fetchedAt) < m.ttl
	m.mu.RUnlock()

	if !fresh {
		if err := m.Refresh(ctx); err != nil {
			m.mu.RLock()
			models = m.models
			m.mu.RUnlock()
			if models == nil {
				models = m.filter(m.fallback, nil)
			}
		} else {
			m.mu.RLock()
			models = m.models
			m.mu.RUnlock()
		}
	}
	return m.response(models)
}

// Refresh fetches the upstream catalogue now. Concurrent callers share one
// upstream call. On failure the previous list is kept.
func (m *Manager) Refresh(ctx context.Context) error {
	if m.lister == nil {
		m.store(m.filter(m.fallback, nil))
		return nil
	}

	_, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		infos, err := m.lister.ListModels(ctx)
		if err != nil {
			m.logger.Warn("Failed to fetch upstream models, serving fallback list", "error", err)
			return nil, err
		}

		names := make([]string, 0, len(infos))
		generation := make(map[string]bool, len(infos))
		for _, info := range infos {
			name := normalize(info.Name)
			names = append(names, name)
			if supportsGeneration(info) {
				generation[name] = true
			}
		}
		models := m.filter(names, generation)
		m.store(models)
		m.logger.Debug("Model list refreshed", "upstream", len(infos), "served", len(models))
		return nil, nil
	})
	return err
}

func (m *Manager) store(models []string) {
	m.mu.Lock()
	m.models = models
	m.fetchedAt = m.now()
	m.mu.Unlock()
}

func supportsGeneration(info gemini.ModelInfo) bool {
	if len(info.SupportedGenerationMethods) == 0 {
		return true
	}
	for _, method := range info.SupportedGenerationMethods {
		if method == "generateContent" {
			return true
		}
	}
	return false
}

// filter applies the access lists and appends search aliases. A nil
// generation map treats every model as a generation model.
func (m *Manager) filter(names []string, generation map[string]bool) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = normalize(n)
		if n == "" || seen[n] || !m.Allowed(n) {
			continue
		}
		seen[n] = true
		out = append(out, n)
		if m.search && (generation == nil || generation[n]) && !strings.HasSuffix(n, gemini.SearchSuffix) {
			out = append(out, n+gemini.SearchSuffix)
		}
	}
	sort.Strings(out)
	return out
}

func (m *Manager) response(models []string) openai.ModelsResponse {
	created := m.now().Unix()
	data := make([]openai.Model, 0, len(models))
	for _, id := range models {
		data = append(data, openai.Model{
			ID:      id,
			Object:  "model",
			Created: created,
			OwnedBy: ownedBy,
		})
	}
	return openai.ModelsResponse{Object: "list", Data: data}
}
