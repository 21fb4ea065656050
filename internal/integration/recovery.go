package integration

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/benbjohnson/clock"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts. Values below one
	// mean a single attempt.
	MaxAttempts int

	// InitialDelay is the delay after the first failure.
	InitialDelay time.Duration

	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration

	// BackoffMultiplier grows the delay after each attempt.
	BackoffMultiplier float64

	// Retryable reports whether err should be retried. Nil retries all errors.
	Retryable func(error) bool

	// Clock times the delays. Defaults to the wall clock.
	Clock clock.Clock
}

// DefaultRetryConfig suits waiting for a local gdbstub to start listening.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       10,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Retry calls fn until it succeeds, the attempts run out, or ctx ends.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	attempts := max(cfg.MaxAttempts, 1)
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	var lastErr error
	delay := cfg.InitialDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return zero, fmt.Errorf("non-retryable error: %w", err)
		}
		if attempt == attempts {
			break
		}

		timer := clk.Timer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return zero, fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
}

// RetryFunc is Retry for functions without a result.
func RetryFunc(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := Retry(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Dialer opens TCP connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// WaitForTarget retries a TCP connection to addr until it is accepted,
// so a session is not started before an emulator's gdbstub listens.
func WaitForTarget(ctx context.Context, d Dialer, addr string, cfg RetryConfig) error {
	err := RetryFunc(ctx, cfg, func() error {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("%w: %s: %v", ErrTargetUnreachable, addr, err)
	}
	return err
}
