// Package keypool rotates requests across upstream credentials, tracking
// per-credential quotas and health.
package keypool

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mixaill76/gemini_gateway/internal/logger"
	"github.com/mixaill76/gemini_gateway/internal/utils"
)

var (
	ErrPoolExhausted       = errors.New("no credential available")
	ErrUnknownCredential   = errors.New("unknown credential")
	ErrDuplicateCredential = errors.New("duplicate credential name")
)

// Config tunes failure handling.
type Config struct {
	// FailureThreshold consecutive failures put a credential into cooldown.
	FailureThreshold int
	// LenientThreshold applies instead when the failure kind is lenient.
	LenientThreshold int
	LenientKinds     []FailureKind
	BaseCooldown     time.Duration
	MaxCooldown      time.Duration
}

func (c *Config) withDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.LenientThreshold < c.FailureThreshold {
		c.LenientThreshold = c.FailureThreshold
	}
	if c.BaseCooldown <= 0 {
		c.BaseCooldown = 30 * time.Second
	}
	if c.MaxCooldown < c.BaseCooldown {
		c.MaxCooldown = c.BaseCooldown
	}
}

// Pool hands out credentials round-robin. The pool lock guards only the
// entry list and the rotation cursor; counters and health are guarded per
// credential.
type Pool struct {
	cfg     Config
	lenient map[FailureKind]bool
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	entries []*entry
	index   map[string]*entry

	cursorMu sync.Mutex
	cursor   int
}

// New builds a pool over creds. Names must be unique.
func New(creds []Credential, cfg Config, log *slog.Logger) (*Pool, error) {
	cfg.withDefaults()
	if log == nil {
		log = logger.Discard()
	}

	p := &Pool{
		cfg:     cfg,
		lenient: make(map[FailureKind]bool, len(cfg.LenientKinds)),
		logger:  log,
		now:     utils.NowUTC,
		index:   make(map[string]*entry, len(creds)),
	}
	for _, k := range cfg.LenientKinds {
		p.lenient[k] = true
	}
	for _, c := range creds {
		if err := p.Add(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// SetClock replaces the time source. Intended for tests.
func (p *Pool) SetClock(now func() time.Time) {
	p.now = now
}

// Add appends a credential to the rotation.
func (p *Pool) Add(c Credential) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.index[c.Name]; ok {
		return ErrDuplicateCredential
	}
	e := newEntry(c)
	p.entries = append(p.entries, e)
	p.index[c.Name] = e
	return nil
}

// Remove drops a credential from the rotation. In-flight holders may still
// record outcomes; those calls become no-ops.
func (p *Pool) Remove(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.index[name]; !ok {
		return false
	}
	delete(p.index, name)
	for i, e := range p.entries {
		if e.cred.Name == name {
			p.entries = append(p.entries[:i:i], p.entries[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of pooled credentials.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

func (p *Pool) snapshotEntries() []*entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*entry, len(p.entries))
	copy(out, p.entries)
	return out
}

func (p *Pool) lookup(name string) *entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.index[name]
}

// Acquire returns the next selectable credential, reserving one request
// slot on it. Every successful Acquire must be followed by exactly one of
// RecordSuccess, RecordFailure or Release.
func (p *Pool) Acquire() (Credential, error) {
	return p.AcquireExcluding(nil)
}

// AcquireExcluding is Acquire skipping the named credentials.
func (p *Pool) AcquireExcluding(exclude map[string]bool) (Credential, error) {
	entries := p.snapshotEntries()
	n := len(entries)
	if n == 0 {
		return Credential{}, ErrPoolExhausted
	}

	p.cursorMu.Lock()
	start := p.cursor % n
	p.cursorMu.Unlock()

	now := p.now()
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		e := entries[idx]
		if exclude[e.cred.Name] {
			continue
		}
		if !e.tryReserve(now) {
			continue
		}

		p.cursorMu.Lock()
		p.cursor = idx + 1
		p.cursorMu.Unlock()
		return e.cred, nil
	}
	return Credential{}, ErrPoolExhausted
}

// RecordSuccess counts a completed request against the credential's quota
// and clears its failure streak.
func (p *Pool) RecordSuccess(name string) {
	e := p.lookup(name)
	if e == nil {
		return
	}
	now := p.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.rollLocked(now)
	e.releaseLocked()
	e.minuteCount++
	e.dayCount++
	e.lastUsed = now
	e.failures = 0
	e.cooldowns = 0
	if e.health == Cooldown {
		e.health = Healthy
		e.cooldownUntil = time.Time{}
	}
}

// RecordFailure registers a failed call. Auth failures disable the
// credential; other kinds move it into cooldown once the streak crosses the
// applicable threshold. Cooldowns grow exponentially up to MaxCooldown.
func (p *Pool) RecordFailure(name string, kind FailureKind) {
	e := p.lookup(name)
	if e == nil {
		return
	}
	now := p.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.rollLocked(now)
	e.releaseLocked()
	e.lastUsed = now
	e.lastFailure = kind

	if e.health == Disabled {
		return
	}
	if kind == FailureAuth {
		e.health = Disabled
		p.logger.Warn("credential disabled", "credential", name, "reason", kind)
		return
	}

	e.failures++
	threshold := p.cfg.FailureThreshold
	if p.lenient[kind] {
		threshold = p.cfg.LenientThreshold
	}
	if e.failures < threshold {
		return
	}

	d := p.backoff(e.cooldowns)
	e.cooldowns++
	e.failures = 0
	e.health = Cooldown
	e.cooldownUntil = now.Add(d)
	p.logger.Warn("credential entered cooldown",
		"credential", name,
		"reason", kind,
		"cooldown", d.String(),
	)
}

func (p *Pool) backoff(round int) time.Duration {
	d := p.cfg.BaseCooldown
	for i := 0; i < round; i++ {
		d *= 2
		if d >= p.cfg.MaxCooldown {
			return p.cfg.MaxCooldown
		}
	}
	return d
}

// Release returns a reserved slot without counting it, e.g. when the client
// went away before the upstream answered.
func (p *Pool) Release(name string) {
	e := p.lookup(name)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.releaseLocked()
	e.mu.Unlock()
}

// Disable removes a credential from selection until Enable is called.
func (p *Pool) Disable(name string) error {
	e := p.lookup(name)
	if e == nil {
		return ErrUnknownCredential
	}
	e.mu.Lock()
	e.health = Disabled
	e.mu.Unlock()
	return nil
}

// Enable returns a disabled or cooling credential to rotation.
func (p *Pool) Enable(name string) error {
	e := p.lookup(name)
	if e == nil {
		return ErrUnknownCredential
	}
	e.mu.Lock()
	e.health = Healthy
	e.failures = 0
	e.cooldowns = 0
	e.cooldownUntil = time.Time{}
	e.mu.Unlock()
	return nil
}

// Tick sweeps all credentials: expired cooldowns return to Healthy and
// elapsed windows reset.
func (p *Pool) Tick() {
	now := p.now()
	for _, e := range p.snapshotEntries() {
		e.mu.Lock()
		wasCooling := e.health == Cooldown
		e.rollLocked(now)
		recovered := wasCooling && e.health == Healthy
		e.mu.Unlock()

		if recovered {
			p.logger.Info("credential recovered from cooldown", "credential", e.cred.Name)
		}
	}
}

// Status returns a copy of every credential's state in rotation order.
func (p *Pool) Status() []CredentialStatus {
	now := p.now()
	entries := p.snapshotEntries()
	out := make([]CredentialStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.status(now))
	}
	return out
}

// Selectable reports how many credentials are currently Healthy.
func (p *Pool) Selectable() int {
	n := 0
	for _, s := range p.Status() {
		if s.Health == Healthy {
			n++
		}
	}
	return n
}
