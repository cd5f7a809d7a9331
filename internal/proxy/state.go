package proxy

import (
	"fmt"
	"sync"
	"time"

	"github.com/mixaill76/gemini_gateway/internal/utils"
)

// State is a step in the lifecycle of one request.
type State int

const (
	StateReceived State = iota
	StateAdmitted
	StateCacheChecked
	StateCacheHit
	StateDispatching
	StateRetrying
	StateCaching
	StateResponding
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateReceived:     "received",
	StateAdmitted:     "admitted",
	StateCacheChecked: "cache_checked",
	StateCacheHit:     "cache_hit",
	StateDispatching:  "dispatching",
	StateRetrying:     "retrying",
	StateCaching:      "caching",
	StateResponding:   "responding",
	StateDone:         "done",
	StateFailed:       "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// transitions lists the legal successors of every state. Failed is
// reachable from every non-terminal state.
var transitions = map[State][]State{
	StateReceived:     {StateAdmitted},
	StateAdmitted:     {StateCacheChecked, StateDispatching, StateResponding},
	StateCacheChecked: {StateCacheHit, StateDispatching, StateResponding},
	StateCacheHit:     {StateResponding},
	StateDispatching:  {StateRetrying, StateCaching, StateResponding},
	StateRetrying:     {StateDispatching},
	StateCaching:      {StateResponding},
	StateResponding:   {StateDone},
}

func allowed(from, to State) bool {
	if from == StateDone || from == StateFailed {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Tracker follows one request through its states and collects what the
// completion log line reports. It is safe for concurrent use because the
// streaming producer and the handler both touch it.
type Tracker struct {
	mu         sync.Mutex
	start      time.Time
	state      State
	history    []State
	attempts   int
	credential string
	outcome    string
	err        error
}

func NewTracker() *Tracker {
	return &Tracker{
		start:   utils.NowUTC(),
		state:   StateReceived,
		history: []State{StateReceived},
	}
}

// To moves the request to s. An illegal move is recorded in Err and
// leaves the state unchanged.
func (t *Tracker) To(s State) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if !allowed(t.state, s) {
		if t.err == nil {
			t.err = fmt.Errorf("illegal transition %s -> %s", t.state, s)
		}
		return
	}
	t.state = s
	t.history = append(t.history, s)
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// History returns every state entered, in order.
func (t *Tracker) History() []State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]State, len(t.history))
	copy(out, t.history)
	return out
}

func (t *Tracker) attempt(credential string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.attempts++
	t.credential = credential
	t.mu.Unlock()
}

func (t *Tracker) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// Credential is the name of the last credential tried.
func (t *Tracker) Credential() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.credential
}

// SetOutcome records hit, miss, coalesced, success or failure.
func (t *Tracker) SetOutcome(outcome string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.outcome = outcome
	t.mu.Unlock()
}

func (t *Tracker) Outcome() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome
}

// Err reports the first illegal transition, if any.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Tracker) Elapsed() time.Duration {
	return utils.NowUTC().Sub(t.start)
}
