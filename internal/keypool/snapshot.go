package keypool

import "time"

// State is the persisted form of one credential's counters and health.
// Secrets are never included.
type State struct {
	Name          string      `json:"name"`
	MinuteCount   int         `json:"minute_count"`
	MinuteStart   time.Time   `json:"minute_start"`
	DayCount      int         `json:"day_count"`
	DayStart      time.Time   `json:"day_start"`
	Failures      int         `json:"failures"`
	Cooldowns     int         `json:"cooldowns"`
	Health        Health      `json:"health"`
	CooldownUntil time.Time   `json:"cooldown_until"`
	LastUsed      time.Time   `json:"last_used"`
	LastFailure   FailureKind `json:"last_failure,omitempty"`
}

// Export captures the state of every credential.
func (p *Pool) Export() []State {
	entries := p.snapshotEntries()
	out := make([]State, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, State{
			Name:          e.cred.Name,
			MinuteCount:   e.minuteCount,
			MinuteStart:   e.minuteStart,
			DayCount:      e.dayCount,
			DayStart:      e.dayStart,
			Failures:      e.failures,
			Cooldowns:     e.cooldowns,
			Health:        e.health,
			CooldownUntil: e.cooldownUntil,
			LastUsed:      e.lastUsed,
			LastFailure:   e.lastFailure,
		})
		e.mu.Unlock()
	}
	return out
}

// Import restores previously exported state onto credentials with matching
// names. Unknown names are ignored; elapsed windows roll over on next use.
// It returns how many credentials were restored.
func (p *Pool) Import(states []State) int {
	now := p.now()
	restored := 0
	for _, s := range states {
		e := p.lookup(s.Name)
		if e == nil {
			continue
		}
		e.mu.Lock()
		e.minuteCount = s.MinuteCount
		e.minuteStart = s.MinuteStart
		e.dayCount = s.DayCount
		e.dayStart = s.DayStart
		e.failures = s.Failures
		e.cooldowns = s.Cooldowns
		e.health = s.Health
		e.cooldownUntil = s.CooldownUntil
		e.lastUsed = s.LastUsed
		e.lastFailure = s.LastFailure
		e.rollLocked(now)
		e.mu.Unlock()
		restored++
	}
	return restored
}
