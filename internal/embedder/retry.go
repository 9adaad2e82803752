package embedder

import (
	"math/rand"
	"strconv"
	"time"

	"github.com/dshills/sca/pkg/types"
)

// RetryPolicy configures exponential backoff for retriable provider errors.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterRatioPct int
}

// DefaultRetryPolicy returns the defaults used when config leaves retry unset.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		JitterRatioPct: 20,
	}
}

// Retry runs fn with exponential backoff. Only retriable envelopes retry;
// cancellation is re-checked before every attempt and during each backoff
// sleep, and a cancelled context never transitions into another attempt.
// Exhausted retries surface as unexpected/non-retriable with the original
// code preserved.
func Retry[T any](rc *types.RequestContext, policy RetryPolicy, fn func() (T, *types.ErrorEnvelope)) (T, *types.ErrorEnvelope) {
	var zero T
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr *types.ErrorEnvelope
	delay := policy.BaseDelay

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if env := rc.EnsureNotCancelled("retry.attempt"); env != nil {
			return zero, env
		}

		result, env := fn()
		if env == nil {
			return result, nil
		}
		if env.IsCancelled() || !env.IsRetriable() {
			return zero, env
		}
		lastErr = env

		if attempt == policy.MaxAttempts {
			break
		}

		select {
		case <-rc.Done():
			return zero, rc.EnsureNotCancelled("retry.backoff")
		case <-time.After(jittered(delay, policy.JitterRatioPct)):
		}

		delay *= 2
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	return zero, types.Unexpected(lastErr.Code, "retries exhausted: "+lastErr.Message, types.NonRetriable).
		WithMeta("attempts", strconv.Itoa(policy.MaxAttempts))
}

func jittered(delay time.Duration, ratioPct int) time.Duration {
	if ratioPct <= 0 || delay <= 0 {
		return delay
	}
	span := float64(delay) * float64(ratioPct) / 100
	offset := (rand.Float64()*2 - 1) * span
	result := time.Duration(float64(delay) + offset)
	if result < 0 {
		return 0
	}
	return result
}
