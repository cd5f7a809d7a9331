package cache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/mixaill76/gemini_gateway/internal/utils"
)

// ErrClaimAbandoned is delivered to waiters when the claimant gave up
// without producing a response.
var ErrClaimAbandoned = errors.New("cache claim abandoned")

type entry struct {
	body      []byte
	createdAt time.Time
}

// Outcome of Fetch.
type Outcome int

const (
	// Hit: a fresh response was found.
	Hit Outcome = iota
	// Claimed: the caller owns the claim and must call Resolve exactly once.
	Claimed
	// Attached: another request holds the claim; call Claim.Wait.
	Attached
)

func (o Outcome) String() string {
	switch o {
	case Hit:
		return "hit"
	case Claimed:
		return "claimed"
	case Attached:
		return "attached"
	default:
		return "unknown"
	}
}

// Result is returned by Fetch.
type Result struct {
	Outcome Outcome
	Body    []byte
	Claim   *Claim
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries   int
	Claims    int
	Hits      uint64
	Misses    uint64
	Coalesced uint64
	Evictions uint64
	Expired   uint64
}

// Store is a bounded, expiring response cache. One mutex guards both the
// LRU and the in-flight claim table so lookups and claims are linearizable.
type Store struct {
	expiry time.Duration
	now    func() time.Time

	mu     sync.Mutex
	lru    *simplelru.LRU[string, *entry]
	claims map[string]*Claim

	hits      uint64
	misses    uint64
	coalesced uint64
	evictions uint64
	expired   uint64
}

// New creates a store holding at most maxEntries responses for expiry each.
func New(maxEntries int, expiry time.Duration) (*Store, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("cache: max entries must be positive, got %d", maxEntries)
	}
	if expiry <= 0 {
		return nil, fmt.Errorf("cache: expiry must be positive, got %v", expiry)
	}

	l, err := simplelru.NewLRU[string, *entry](maxEntries, nil)
	if err != nil {
		return nil, fmt.Errorf("cache: failed to create lru: %w", err)
	}
	return &Store{
		expiry: expiry,
		now:    utils.NowUTC,
		lru:    l,
		claims: make(map[string]*Claim),
	}, nil
}

// SetClock replaces the time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// getLocked returns a fresh entry and refreshes its recency. Expired entries
// are removed. Caller holds s.mu.
func (s *Store) getLocked(key string, now time.Time) (*entry, bool) {
	e, ok := s.lru.Get(key)
	if !ok {
		return nil, false
	}
	if now.Sub(e.createdAt) >= s.expiry {
		s.lru.Remove(key)
		atomic.AddUint64(&s.expired, 1)
		return nil, false
	}
	return e, true
}

// Lookup returns the cached response for key if present and not expired.
func (s *Store) Lookup(key string) ([]byte, bool) {
	now := s.now()

	s.mu.Lock()
	e, ok := s.getLocked(key, now)
	s.mu.Unlock()

	if !ok {
		atomic.AddUint64(&s.misses, 1)
		return nil, false
	}
	atomic.AddUint64(&s.hits, 1)
	return e.body, true
}

// BeginClaim registers the caller as the producer for key, or attaches it to
// the existing claim. owner is true when the caller must Resolve.
func (s *Store) BeginClaim(key string) (claim *Claim, owner bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimLocked(key)
}

func (s *Store) claimLocked(key string) (*Claim, bool) {
	if c, ok := s.claims[key]; ok {
		atomic.AddUint64(&s.coalesced, 1)
		return c, false
	}
	c := newClaim(key)
	s.claims[key] = c
	return c, true
}

// Fetch combines Lookup and BeginClaim under one lock acquisition.
func (s *Store) Fetch(key string) Result {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.getLocked(key, now); ok {
		atomic.AddUint64(&s.hits, 1)
		return Result{Outcome: Hit, Body: e.body}
	}
	atomic.AddUint64(&s.misses, 1)

	c, owner := s.claimLocked(key)
	if owner {
		return Result{Outcome: Claimed, Claim: c}
	}
	return Result{Outcome: Attached, Claim: c}
}

// Resolve completes a claim. On success the body is cached and delivered
// to waiters; on failure waiters get err and nothing is cached. Resolving
// the same claim twice is a no-op.
func (s *Store) Resolve(c *Claim, body []byte, err error) {
	if c == nil {
		return
	}
	if body == nil && err == nil {
		err = ErrClaimAbandoned
	}

	c.once.Do(func() {
		now := s.now()

		s.mu.Lock()
		if cur, ok := s.claims[c.key]; ok && cur == c {
			delete(s.claims, c.key)
		}
		if err == nil {
			if evicted := s.lru.Add(c.key, &entry{body: body, createdAt: now}); evicted {
				atomic.AddUint64(&s.evictions, 1)
			}
		}
		s.mu.Unlock()

		c.body, c.err = body, err
		close(c.done)
	})
}

// Invalidate removes a single key.
func (s *Store) Invalidate(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Remove(key)
}

// Purge drops every cached response. In-flight claims are unaffected.
func (s *Store) Purge() {
	s.mu.Lock()
	s.lru.Purge()
	s.mu.Unlock()
}

// Sweep eagerly removes expired entries and returns how many were dropped.
func (s *Store) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, k := range s.lru.Keys() {
		e, ok := s.lru.Peek(k)
		if ok && now.Sub(e.createdAt) >= s.expiry {
			s.lru.Remove(k)
			removed++
		}
	}
	atomic.AddUint64(&s.expired, uint64(removed))
	return removed
}

// Len returns the number of stored responses, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Stats returns current counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	entries, claims := s.lru.Len(), len(s.claims)
	s.mu.Unlock()

	return Stats{
		Entries:   entries,
		Claims:    claims,
		Hits:      atomic.LoadUint64(&s.hits),
		Misses:    atomic.LoadUint64(&s.misses),
		Coalesced: atomic.LoadUint64(&s.coalesced),
		Evictions: atomic.LoadUint64(&s.evictions),
		Expired:   atomic.LoadUint64(&s.expired),
	}
}
