package cache

import (
	"context"
	"sync"
)

// Claim marks an in-progress upstream call for one fingerprint. Waiters
// block on it until the owner resolves.
type Claim struct {
	key  string
	once sync.Once
	done chan struct{}
	body []byte
	err  error
}

func newClaim(key string) *Claim {
	return &Claim{key: key, done: make(chan struct{})}
}

// Key returns the fingerprint the claim covers.
func (c *Claim) Key() string {
	return c.key
}

// Done is closed once the claim resolves.
func (c *Claim) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the claim resolves or ctx ends. A cancelled waiter does
// not affect the owner or other waiters.
func (c *Claim) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-c.done:
		return c.body, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
