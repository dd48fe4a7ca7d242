package rtsp

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// RestartConfig contains configuration for exponential backoff pipeline rebuilds
type RestartConfig struct {
	MaxRetries    int           // Maximum consecutive rebuild attempts (default: 5)
	RetryDelay    time.Duration // Initial delay (default: 1 second)
	MaxRetryDelay time.Duration // Delay cap (default: 30 seconds)
}

// DefaultRestartConfig returns the default rebuild policy.
func DefaultRestartConfig() RestartConfig {
	return RestartConfig{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// RestartState tracks consecutive failures and total rebuilds.
//
// currentRetries is only touched by the goroutine running RunWithRestart
// (the bus monitor resets it from inside run); restarts is read by Stats.
type RestartState struct {
	currentRetries int
	restarts       atomic.Uint32
}

// Reset clears the consecutive failure count after the pipeline reached PLAYING.
func (s *RestartState) Reset() {
	if s.currentRetries != 0 {
		slog.Debug("rtsp: restart state reset", "after_retries", s.currentRetries)
	}
	s.currentRetries = 0
}

// Restarts returns the total number of rebuilds.
func (s *RestartState) Restarts() uint32 {
	return s.restarts.Load()
}

// RunFunc builds and runs a pipeline until it fails or ctx is cancelled.
// It returns nil only on a clean stop.
type RunFunc func(ctx context.Context) error

// RunWithRestart executes run with exponential backoff between failures
//
// Backoff schedule with the default config:
//   - Attempt 1: 1 second
//   - Attempt 2: 2 seconds
//   - Attempt 3: 4 seconds
//   - Attempt 4: 8 seconds
//   - Attempt 5: 16 seconds
//   - After 5 consecutive failures: give up
//
// onRestart, when non-nil, is called before every rebuild.
// Returns nil on a clean stop, ctx.Err() on cancellation, or an error once
// max retries are exceeded.
func RunWithRestart(
	ctx context.Context,
	run RunFunc,
	cfg RestartConfig,
	state *RestartState,
	onRestart func(attempt int, err error),
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := run(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		state.currentRetries++
		if state.currentRetries > cfg.MaxRetries {
			return fmt.Errorf("rtsp: max retries exceeded (%d attempts): %w", cfg.MaxRetries, err)
		}

		delay := calculateBackoff(state.currentRetries, cfg)
		slog.Warn("rtsp: pipeline failed, rebuilding",
			"error", err,
			"attempt", state.currentRetries,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			slog.Info("rtsp: context cancelled during backoff")
			return ctx.Err()
		}

		state.restarts.Add(1)
		if onRestart != nil {
			onRestart(state.currentRetries, err)
		}
	}
}

// calculateBackoff returns retryDelay * 2^(attempt-1), capped at maxRetryDelay.
func calculateBackoff(attempt int, cfg RestartConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	} else if attempt > 30 {
		attempt = 30
	}
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay || delay <= 0 {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
