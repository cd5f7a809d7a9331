package keypool

import (
	"sync"
	"time"

	"github.com/mixaill76/gemini_gateway/internal/utils"
)

// Health is the selectability state of a credential.
type Health int

const (
	Healthy Health = iota
	Cooldown
	Disabled
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Cooldown:
		return "cooldown"
	case Disabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// FailureKind classifies why an upstream call on a credential failed.
type FailureKind string

const (
	FailureTimeout     FailureKind = "timeout"
	FailureNetwork     FailureKind = "network"
	FailureServer      FailureKind = "server_error"
	FailureRateLimited FailureKind = "rate_limited"
	FailureAuth        FailureKind = "auth"
)

// Kind tells how a credential authenticates upstream.
type Kind string

const (
	KindAPIKey         Kind = "api_key"
	KindServiceAccount Kind = "service_account"
)

// Credential is the caller-facing, immutable view of a pooled credential.
// Mutable counters live inside the pool and change only through Pool methods.
type Credential struct {
	Name               string
	Kind               Kind
	APIKey             string
	ServiceAccountJSON string
	RPM                int
	RPD                int
}

// entry is a credential with its counters and health, guarded by its own mutex.
type entry struct {
	cred Credential

	mu            sync.Mutex
	minuteCount   int
	minuteStart   time.Time
	dayCount      int
	dayStart      time.Time
	inFlight      int
	failures      int
	cooldowns     int
	health        Health
	cooldownUntil time.Time
	lastUsed      time.Time
	lastFailure   FailureKind
}

func newEntry(c Credential) *entry {
	if c.RPM == 0 {
		c.RPM = -1
	}
	if c.RPD == 0 {
		c.RPD = -1
	}
	if c.Kind == "" {
		c.Kind = KindAPIKey
		if c.ServiceAccountJSON != "" {
			c.Kind = KindServiceAccount
		}
	}
	return &entry{cred: c}
}

// rollLocked resets counters whose window has elapsed and ends an expired
// cooldown. Caller holds e.mu.
func (e *entry) rollLocked(now time.Time) {
	if e.minuteStart.IsZero() || !now.Before(e.minuteStart.Add(time.Minute)) {
		e.minuteStart = now
		e.minuteCount = 0
	}
	if day := utils.DayStartUTC(now); !day.Equal(e.dayStart) {
		e.dayStart = day
		e.dayCount = 0
	}
	if e.health == Cooldown && !now.Before(e.cooldownUntil) {
		e.health = Healthy
		e.failures = 0
		e.cooldownUntil = time.Time{}
	}
}

func underLimit(used, limit int) bool {
	return limit < 0 || used < limit
}

// tryReserve claims one slot on the credential if it is selectable.
// Reserved slots count against the ceilings until released or recorded.
func (e *entry) tryReserve(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rollLocked(now)
	if e.health != Healthy {
		return false
	}
	if !underLimit(e.minuteCount+e.inFlight, e.cred.RPM) || !underLimit(e.dayCount+e.inFlight, e.cred.RPD) {
		return false
	}
	e.inFlight++
	return true
}

func (e *entry) releaseLocked() {
	if e.inFlight > 0 {
		e.inFlight--
	}
}

func (e *entry) status(now time.Time) CredentialStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rollLocked(now)
	return CredentialStatus{
		Name:          e.cred.Name,
		Health:        e.health,
		MinuteCount:   e.minuteCount,
		DayCount:      e.dayCount,
		InFlight:      e.inFlight,
		Failures:      e.failures,
		CooldownUntil: e.cooldownUntil,
		LastUsed:      e.lastUsed,
		LastFailure:   e.lastFailure,
	}
}

// CredentialStatus is a point-in-time copy of a credential's state.
type CredentialStatus struct {
	Name          string
	Health        Health
	MinuteCount   int
	DayCount      int
	InFlight      int
	Failures      int
	CooldownUntil time.Time
	LastUsed      time.Time
	LastFailure   FailureKind
}
