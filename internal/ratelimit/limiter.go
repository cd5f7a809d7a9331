package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mixaill76/gemini_gateway/internal/utils"
)

// ErrRejected is wrapped by every admission rejection.
var ErrRejected = errors.New("admission rejected")

// Rejection reasons, in the order they are checked.
const (
	ReasonConcurrency = "global_concurrency"
	ReasonGlobalRPM   = "global_rpm"
	ReasonGlobalRPD   = "global_rpd"
	ReasonClientRPM   = "client_rpm"
	ReasonClientRPD   = "client_rpd"
)

// RejectedError tells which ceiling refused the request.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrRejected, e.Reason)
}

func (e *RejectedError) Unwrap() error {
	return ErrRejected
}

// Config holds the admission ceilings. -1 disables a ceiling.
type Config struct {
	MaxConcurrent int
	GlobalRPM     int
	GlobalRPD     int
	ClientRPM     int
	ClientRPD     int
	Shards        int
}

type clientState struct {
	minute window
	day    window
}

type shard struct {
	mu      sync.Mutex
	clients map[string]*clientState
}

// Limiter admits or rejects requests. Admission is atomic: either every
// counter is incremented or none is. Locks are always taken global first,
// then shard.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	inFlight int
	minute   window
	day      window

	shards []*shard
}

// New creates a limiter.
func New(cfg Config) *Limiter {
	if cfg.Shards <= 0 {
		cfg.Shards = 16
	}
	l := &Limiter{
		cfg:    cfg,
		now:    utils.NowUTC,
		minute: newWindow(cfg.GlobalRPM, time.Minute),
		day:    newDailyWindow(cfg.GlobalRPD),
		shards: make([]*shard, cfg.Shards),
	}
	for i := range l.shards {
		l.shards[i] = &shard{clients: make(map[string]*clientState)}
	}
	return l
}

// SetClock replaces the time source. Intended for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

func (l *Limiter) shardFor(client string) *shard {
	return l.shards[xxhash.Sum64String(client)%uint64(len(l.shards))]
}

// Admit checks, in order, the concurrency ceiling, the global minute and day
// windows and the client's minute and day windows. On success the request
// holds a concurrency slot until Release.
func (l *Limiter) Admit(client string) error {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cfg.MaxConcurrent >= 0 && l.inFlight >= l.cfg.MaxConcurrent {
		return &RejectedError{Reason: ReasonConcurrency}
	}
	if !l.minute.allows(now) {
		return &RejectedError{Reason: ReasonGlobalRPM}
	}
	if !l.day.allows(now) {
		return &RejectedError{Reason: ReasonGlobalRPD}
	}

	s := l.shardFor(client)
	s.mu.Lock()
	cs, ok := s.clients[client]
	if !ok {
		cs = &clientState{
			minute: newWindow(l.cfg.ClientRPM, time.Minute),
			day:    newDailyWindow(l.cfg.ClientRPD),
		}
		s.clients[client] = cs
	}
	if !cs.minute.allows(now) {
		s.mu.Unlock()
		return &RejectedError{Reason: ReasonClientRPM}
	}
	if !cs.day.allows(now) {
		s.mu.Unlock()
		return &RejectedError{Reason: ReasonClientRPD}
	}
	cs.minute.add()
	cs.day.add()
	s.mu.Unlock()

	l.minute.add()
	l.day.add()
	l.inFlight++
	return nil
}

// Release frees the concurrency slot taken by a successful Admit. Request
// counters are not rolled back.
func (l *Limiter) Release() {
	l.mu.Lock()
	if l.inFlight > 0 {
		l.inFlight--
	}
	l.mu.Unlock()
}

// InFlight returns the number of admitted, unreleased requests.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}

// Clients returns the number of tracked client entries.
func (l *Limiter) Clients() int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.clients)
		s.mu.Unlock()
	}
	return n
}

// Sweep drops client entries whose windows have all elapsed and returns how
// many were removed.
func (l *Limiter) Sweep() int {
	now := l.now()
	removed := 0
	for _, s := range l.shards {
		s.mu.Lock()
		for k, cs := range s.clients {
			if cs.minute.expired(now) && cs.day.expired(now) {
				delete(s.clients, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}
