package gsthost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ReconnectConfig contains configuration for exponential backoff reconnection
type ReconnectConfig struct {
	MaxRetries    int           // Maximum consecutive failed attempts (default: 5)
	RetryDelay    time.Duration // Initial retry delay (default: 1 second)
	MaxRetryDelay time.Duration // Maximum retry delay cap (default: 30 seconds)
}

// DefaultReconnectConfig returns default reconnection configuration
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// ReconnectState tracks reconnection attempts
type ReconnectState struct {
	// CurrentRetries counts consecutive failures; reset once playing
	CurrentRetries atomic.Int32
	// Reconnects counts every retry since creation
	Reconnects atomic.Uint32
}

// Reset clears the consecutive failure counter (pipeline reached PLAYING)
func (s *ReconnectState) Reset() {
	s.CurrentRetries.Store(0)
}

// ConnectFunc runs one connection attempt until it fails (error), finishes
// (nil) or ctx is cancelled.
type ConnectFunc func(ctx context.Context) error

// RunWithReconnect runs connectFn, retrying failures with exponential backoff.
//
// onRetry (optional) runs before each retry, e.g. to resync consumers whose
// timestamps will restart. Returns nil when connectFn finishes cleanly, the
// context error on cancellation, or an error once MaxRetries consecutive
// attempts have failed.
func RunWithReconnect(
	ctx context.Context,
	connectFn ConnectFunc,
	cfg ReconnectConfig,
	state *ReconnectState,
	onRetry func(attempt int),
	logger *slog.Logger,
) error {
	if logger == nil {
		logger = slog.Default()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := connectFn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return ctx.Err()
		}

		attempt := int(state.CurrentRetries.Add(1))
		state.Reconnects.Add(1)
		logger.Error("gsthost: ingest attempt failed", "error", err, "attempt", attempt)

		if attempt > cfg.MaxRetries {
			return fmt.Errorf("gsthost: max retries exceeded (%d attempts): %w", cfg.MaxRetries, err)
		}

		delay := calculateBackoff(attempt, cfg)
		logger.Warn("gsthost: retrying ingest",
			"attempt", attempt,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		if onRetry != nil {
			onRetry(attempt)
		}
	}
}

// calculateBackoff returns retryDelay * 2^(attempt-1), capped at maxRetryDelay
func calculateBackoff(attempt int, cfg ReconnectConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return cfg.MaxRetryDelay
	}
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay || delay <= 0 {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
