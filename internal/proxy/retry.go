package proxy

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/mixaill76/gemini_gateway/internal/keypool"
	"github.com/mixaill76/gemini_gateway/internal/upstream"
)

// Attempt results reported to metrics.
const (
	resultSuccess    = "success"
	resultRetryable  = "retryable"
	resultCredential = "credential"
	resultFatal      = "fatal"
	resultCanceled   = "canceled"
)

// upstreamCall performs one upstream call with the given credential.
type upstreamCall func(ctx context.Context, cred keypool.Credential) error

// dispatch runs call against successive credentials until one succeeds, a
// non-retryable failure occurs, the pool runs dry or MaxAttempts is spent.
// Each credential is tried at most once per request.
//
// With hold set, a successful attempt is not recorded: the caller owns the
// reservation and must settle it once the response is fully consumed.
func (e *Engine) dispatch(ctx context.Context, t *Tracker, hold bool, call upstreamCall) (keypool.Credential, error) {
	tried := make(map[string]bool)
	var last *upstream.Error

	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			t.To(StateRetrying)
			if err := e.backoff(ctx); err != nil {
				return keypool.Credential{}, err
			}
			t.To(StateDispatching)
		}

		cred, err := e.pool.AcquireExcluding(tried)
		if err != nil {
			if last == nil {
				return keypool.Credential{}, AsError(err)
			}
			e.logger.Warn("No credential left for retry",
				"attempts", attempt,
				"last_error", last.Message,
			)
			return keypool.Credential{}, fromUpstream(last, attempt)
		}
		tried[cred.Name] = true
		t.attempt(cred.Name)

		err = call(ctx, cred)
		if err == nil {
			if !hold {
				e.settle(cred, nil)
			}
			return cred, nil
		}

		ue, ok := upstream.AsError(err)
		if !ok {
			e.settle(cred, err)
			return keypool.Credential{}, AsError(err)
		}
		e.settle(cred, ue)

		switch ue.Class {
		case upstream.ClassFatal:
			return keypool.Credential{}, fromUpstream(ue, attempt+1)
		case upstream.ClassCredential:
			e.logger.Warn("Upstream rejected credential, trying next",
				"credential", cred.Name,
				"status", ue.StatusCode,
				"reason", ue.Reason,
			)
		default:
			e.logger.Info("Retryable upstream failure, trying next credential",
				"credential", cred.Name,
				"kind", ue.Kind,
				"status", ue.StatusCode,
				"attempt", attempt+1,
			)
		}
		last = ue
	}

	if last == nil {
		return keypool.Credential{}, AsError(keypool.ErrPoolExhausted)
	}
	return keypool.Credential{}, fromUpstream(last, e.cfg.MaxAttempts)
}

// settle records the outcome of a reservation on the pool exactly once.
// err is nil on success.
func (e *Engine) settle(cred keypool.Credential, err error) {
	if err == nil {
		e.pool.RecordSuccess(cred.Name)
		e.metrics.RecordAttempt(cred.Name, resultSuccess)
		return
	}

	var ue *upstream.Error
	if !errors.As(err, &ue) {
		// Canceled by the client or failed before reaching upstream: the
		// credential is not to blame.
		e.pool.Release(cred.Name)
		e.metrics.RecordAttempt(cred.Name, resultCanceled)
		return
	}

	switch ue.Class {
	case upstream.ClassFatal:
		// The upstream served the call; the request itself was bad.
		e.pool.RecordSuccess(cred.Name)
		e.metrics.RecordAttempt(cred.Name, resultFatal)
	case upstream.ClassCredential:
		e.pool.RecordFailure(cred.Name, keypool.FailureAuth)
		e.metrics.RecordAttempt(cred.Name, resultCredential)
	default:
		e.pool.RecordFailure(cred.Name, ue.Kind)
		e.metrics.RecordAttempt(cred.Name, resultRetryable)
	}
}

// backoff sleeps a random jitter before the next attempt so that requests
// failing together do not hit the next credential together.
func (e *Engine) backoff(ctx context.Context) error {
	if e.cfg.Jitter <= 0 {
		return ctx.Err()
	}
	d := time.Duration(rand.Int63n(int64(e.cfg.Jitter)))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return AsError(ctx.Err())
	}
}
