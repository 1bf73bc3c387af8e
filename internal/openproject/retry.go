package openproject

import (
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy controls retries of idempotent requests.
//
// Defaults (when fields are zero):
//   - max: 3 retries
//   - base: 500ms, doubled per attempt
//   - max_delay: 15s
//   - jitter: 20%
type RetryPolicy struct {
	Max      int
	Base     time.Duration
	MaxDelay time.Duration
	Jitter   float64
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Max == 0 {
		p.Max = 3
	}
	if p.Max < 0 {
		p.Max = 0
	}
	if p.Base <= 0 {
		p.Base = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 15 * time.Second
	}
	if p.Jitter <= 0 {
		p.Jitter = 0.2
	}
	return p
}

// delay returns the wait before retry number retry (1-based). A Retry-After
// hint on err wins over the exponential schedule, bounded by MaxDelay.
func (p RetryPolicy) delay(retry int, err error, rng *rand.Rand) time.Duration {
	d := p.Base
	for i := 1; i < retry; i++ {
		d *= 2
		if d > p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	var ae *APIError
	if errors.As(err, &ae) && ae.RetryAfter() > 0 {
		d = ae.RetryAfter()
	}
	if p.Jitter > 0 && d > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * p.Jitter
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Retryable()
	}
	var te *transportError
	return errors.As(err, &te)
}

// transportError marks failures below HTTP (dial, reset, timeout).
type transportError struct{ err error }

func (e *transportError) Error() string { return "openproject: transport: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
