// Package retry provides capped exponential backoff with jitter for reconnects
// and storage retries.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ghalamif/AegisSpark/internal/ports"
)

var (
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Defaults applied to zero-valued fields of ports.Backoff.
const (
	DefaultInitialDelay = 500 * time.Millisecond
	DefaultMaxDelay     = 30 * time.Second
	DefaultMultiplier   = 2.0
	DefaultJitter       = 0.2
)

// WithDefaults fills unset fields of cfg.
func WithDefaults(cfg ports.Backoff) ports.Backoff {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = DefaultMultiplier
	}
	if cfg.Jitter < 0 || cfg.Jitter > 1 {
		cfg.Jitter = DefaultJitter
	}
	return cfg
}

// Backoff hands out successive delays. It is not safe for concurrent use.
type Backoff struct {
	cfg     ports.Backoff
	current time.Duration
	attempt int
}

func NewBackoff(cfg ports.Backoff) *Backoff {
	return &Backoff{cfg: WithDefaults(cfg)}
}

// Next returns the delay before the next attempt. The base delay grows by
// Multiplier up to MaxDelay; jitter adds up to Jitter*base on top, still capped.
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.cfg.InitialDelay
	} else {
		next := time.Duration(float64(b.current) * b.cfg.Multiplier)
		if next > b.cfg.MaxDelay || next <= 0 {
			next = b.cfg.MaxDelay
		}
		b.current = next
	}
	b.attempt++
	return capped(b.current+jitter(b.current, b.cfg.Jitter), b.cfg.MaxDelay)
}

// Reset starts the sequence over from InitialDelay.
func (b *Backoff) Reset() {
	b.current = 0
	b.attempt = 0
}

// Attempts returns how many delays were handed out since the last Reset.
func (b *Backoff) Attempts() int { return b.attempt }

func jitter(base time.Duration, frac float64) time.Duration {
	span := int64(float64(base) * frac)
	if span <= 0 {
		return 0
	}
	randMu.Lock()
	defer randMu.Unlock()
	return time.Duration(randSource.Int63n(span))
}

func capped(d, limit time.Duration) time.Duration {
	if d > limit {
		return limit
	}
	return d
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NonRetryableError marks an error that Do must return immediately.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Do runs fn up to attempts times, sleeping per cfg between failures.
func Do(ctx context.Context, cfg ports.Backoff, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	b := NewBackoff(cfg)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if IsNonRetryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if err := Sleep(ctx, b.Next()); err != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt+1, err)
		}
	}
	return fmt.Errorf("retry failed after %d attempts: %w", attempts, lastErr)
}
