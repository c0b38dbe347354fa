// Package retry re-runs flaky operations, mainly outbound webhook sends,
// with jittered exponential backoff.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy bounds the retry loop.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// WebhookPolicy suits chat-service webhooks, which throttle and flake but
// recover within a few seconds.
var WebhookPolicy = Policy{
	MaxAttempts:    4,
	InitialBackoff: 250 * time.Millisecond,
	MaxBackoff:     4 * time.Second,
}

// TransientFunc reports whether an error is worth retrying.
type TransientFunc func(error) bool

// Do runs fn until it succeeds, returns a non-transient error, runs out of
// attempts, or ctx ends. Backoff doubles each attempt up to the policy cap,
// with up to 50% random jitter added so synchronized callers spread out.
func Do(ctx context.Context, policy Policy, isTransient TransientFunc, fn func() error) error {
	var err error
	backoff := policy.InitialBackoff

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}

		wait := backoff + time.Duration(rand.Int63n(int64(backoff/2)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			backoff = min(backoff*2, policy.MaxBackoff)
		}
	}

	return err
}
