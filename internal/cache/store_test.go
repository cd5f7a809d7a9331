package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, size int, expiry time.Duration) (*Store, *clock) {
	t.Helper()
	s, err := New(size, expiry)
	require.NoError(t, err)
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s.SetClock(c.Now)
	return s, c
}

func put(t *testing.T, s *Store, key, body string) {
	t.Helper()
	res := s.Fetch(key)
	require.Equal(t, Claimed, res.Outcome)
	s.Resolve(res.Claim, []byte(body), nil)
}

func TestNew_InvalidArgs(t *testing.T) {
	_, err := New(0, time.Minute)
	assert.Error(t, err)
	_, err = New(10, 0)
	assert.Error(t, err)
}

func TestFetch_MissClaimThenHit(t *testing.T) {
	s, _ := newTestStore(t, 10, time.Hour)

	res := s.Fetch("k")
	require.Equal(t, Claimed, res.Outcome)
	s.Resolve(res.Claim, []byte("resp"), nil)

	res = s.Fetch("k")
	assert.Equal(t, Hit, res.Outcome)
	assert.Equal(t, []byte("resp"), res.Body)

	st := s.Stats()
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
	assert.Equal(t, 0, st.Claims)
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	s, _ := newTestStore(t, 2, time.Hour)

	put(t, s, "A", "a")
	put(t, s, "B", "b")
	put(t, s, "C", "c")

	_, ok := s.Lookup("A")
	assert.False(t, ok)
	_, ok = s.Lookup("B")
	assert.True(t, ok)
	_, ok = s.Lookup("C")
	assert.True(t, ok)
	assert.Equal(t, uint64(1), s.Stats().Evictions)
}

func TestLRU_LookupRefreshesRecency(t *testing.T) {
	s, _ := newTestStore(t, 2, time.Hour)

	put(t, s, "A", "a")
	put(t, s, "B", "b")
	_, ok := s.Lookup("A")
	require.True(t, ok)
	put(t, s, "C", "c")

	_, ok = s.Lookup("B")
	assert.False(t, ok)
	_, ok = s.Lookup("A")
	assert.True(t, ok)
}

func TestExpiry(t *testing.T) {
	s, c := newTestStore(t, 10, time.Minute)
	put(t, s, "k", "v")

	c.Advance(59 * time.Second)
	_, ok := s.Lookup("k")
	assert.True(t, ok)

	c.Advance(time.Second)
	_, ok = s.Lookup("k")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, uint64(1), s.Stats().Expired)
}

func TestSweep(t *testing.T) {
	s, c := newTestStore(t, 10, time.Minute)
	put(t, s, "old", "1")
	c.Advance(30 * time.Second)
	put(t, s, "new", "2")
	c.Advance(40 * time.Second)

	assert.Equal(t, 1, s.Sweep())
	_, ok := s.Lookup("new")
	assert.True(t, ok)
}

func TestResolve_FailureNotCached(t *testing.T) {
	s, _ := newTestStore(t, 10, time.Hour)

	res := s.Fetch("k")
	waiter := s.Fetch("k")
	require.Equal(t, Attached, waiter.Outcome)

	boom := errors.New("upstream down")
	s.Resolve(res.Claim, nil, boom)

	_, err := waiter.Claim.Wait(context.Background())
	assert.ErrorIs(t, err, boom)

	// next request claims again
	assert.Equal(t, Claimed, s.Fetch("k").Outcome)
}

func TestResolve_Idempotent(t *testing.T) {
	s, _ := newTestStore(t, 10, time.Hour)

	res := s.Fetch("k")
	s.Resolve(res.Claim, []byte("first"), nil)
	s.Resolve(res.Claim, []byte("second"), nil)

	body, ok := s.Lookup("k")
	require.True(t, ok)
	assert.Equal(t, []byte("first"), body)
}

func TestResolve_NilBodyAbandons(t *testing.T) {
	s, _ := newTestStore(t, 10, time.Hour)

	res := s.Fetch("k")
	waiter := s.Fetch("k")
	s.Resolve(res.Claim, nil, nil)

	_, err := waiter.Claim.Wait(context.Background())
	assert.ErrorIs(t, err, ErrClaimAbandoned)
}

func TestBeginClaim(t *testing.T) {
	s, _ := newTestStore(t, 10, time.Hour)

	c1, owner := s.BeginClaim("k")
	assert.True(t, owner)
	c2, owner := s.BeginClaim("k")
	assert.False(t, owner)
	assert.Same(t, c1, c2)
	assert.Equal(t, "k", c1.Key())
	assert.Equal(t, uint64(1), s.Stats().Coalesced)
}

func TestWait_CancelledWaiter(t *testing.T) {
	s, _ := newTestStore(t, 10, time.Hour)

	owner := s.Fetch("k")
	waiter := s.Fetch("k")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := waiter.Claim.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// the owner still resolves and the result is cached
	s.Resolve(owner.Claim, []byte("ok"), nil)
	_, ok := s.Lookup("k")
	assert.True(t, ok)
}

func TestCoalescing_SingleProducer(t *testing.T) {
	s, _ := newTestStore(t, 10, time.Hour)

	var calls int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make([][]byte, 20)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			res := s.Fetch("same")
			switch res.Outcome {
			case Hit:
				results[i] = res.Body
			case Claimed:
				atomic.AddInt32(&calls, 1)
				time.Sleep(10 * time.Millisecond)
				body := []byte("shared")
				s.Resolve(res.Claim, body, nil)
				results[i] = body
			case Attached:
				body, err := res.Claim.Wait(context.Background())
				assert.NoError(t, err)
				results[i] = body
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Equal(t, []byte("shared"), r)
	}
}

func TestInvalidateAndPurge(t *testing.T) {
	s, _ := newTestStore(t, 10, time.Hour)
	put(t, s, "a", "1")
	put(t, s, "b", "2")

	assert.True(t, s.Invalidate("a"))
	assert.False(t, s.Invalidate("a"))
	assert.Equal(t, 1, s.Len())

	s.Purge()
	assert.Equal(t, 0, s.Len())
}

func TestExportImport(t *testing.T) {
	s, c := newTestStore(t, 10, time.Minute)
	put(t, s, "stale", "0")
	c.Advance(50 * time.Second)
	put(t, s, "a", "1")
	put(t, s, "b", "2")
	c.Advance(20 * time.Second)

	items := s.Export()
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].Key)
	assert.Equal(t, "b", items[1].Key)

	restored, _ := newTestStore(t, 1, time.Minute)
	restored.SetClock(c.Now)
	assert.Equal(t, 2, restored.Import(items))

	// capacity 1 keeps the most recent
	_, ok := restored.Lookup("b")
	assert.True(t, ok)
	_, ok = restored.Lookup("a")
	assert.False(t, ok)
}

func TestFingerprint(t *testing.T) {
	type payload struct {
		Messages []string          `json:"messages"`
		Extra    map[string]string `json:"extra"`
	}
	k1, err := Fingerprint("gemini-2.5-flash", payload{Messages: []string{"hi"}, Extra: map[string]string{"b": "2", "a": "1"}})
	require.NoError(t, err)
	k2, err := Fingerprint("gemini-2.5-flash", payload{Messages: []string{"hi"}, Extra: map[string]string{"a": "1", "b": "2"}})
	require.NoError(t, err)
	k3, err := Fingerprint("gemini-2.5-flash", payload{Messages: []string{"hello"}})
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Regexp(t, `^gemini-2\.5-flash_[0-9a-f]{64}$`, k1)

	_, err = Fingerprint("m", func() {})
	assert.Error(t, err)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "hit", Hit.String())
	assert.Equal(t, "claimed", Claimed.String())
	assert.Equal(t, "attached", Attached.String())
}
