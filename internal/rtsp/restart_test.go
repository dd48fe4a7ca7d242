package rtsp

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCalculateBackoff(t *testing.T) {
	cfg := DefaultRestartConfig()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{40, 30 * time.Second},
		{0, 1 * time.Second},
	}

	for _, tt := range tests {
		if got := calculateBackoff(tt.attempt, cfg); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func fastRestartConfig() RestartConfig {
	return RestartConfig{MaxRetries: 3, RetryDelay: time.Millisecond, MaxRetryDelay: 5 * time.Millisecond}
}

func TestRunWithRestart_GivesUpAfterMaxRetries(t *testing.T) {
	var state RestartState
	calls := 0
	restarts := 0

	err := RunWithRestart(context.Background(), func(context.Context) error {
		calls++
		return errors.New("pipeline error [codec]")
	}, fastRestartConfig(), &state, func(int, error) { restarts++ })

	if err == nil {
		t.Fatal("RunWithRestart() returned nil after exhausting retries")
	}
	if calls != 4 {
		t.Errorf("run called %d times, want 4 (initial + 3 retries)", calls)
	}
	if restarts != 3 || state.Restarts() != 3 {
		t.Errorf("restarts = %d / %d, want 3", restarts, state.Restarts())
	}
}

func TestRunWithRestart_ResetKeepsRunning(t *testing.T) {
	var state RestartState
	calls := 0

	err := RunWithRestart(context.Background(), func(context.Context) error {
		calls++
		// Reaching PLAYING resets the failure streak
		state.Reset()
		if calls < 10 {
			return errors.New("transient")
		}
		return nil
	}, fastRestartConfig(), &state, nil)

	if err != nil {
		t.Fatalf("RunWithRestart() = %v, want nil", err)
	}
	if calls != 10 {
		t.Errorf("run called %d times, want 10", calls)
	}
	if state.Restarts() != 9 {
		t.Errorf("Restarts() = %d, want 9", state.Restarts())
	}
}

func TestRunWithRestart_CancelDuringBackoff(t *testing.T) {
	var state RestartState
	ctx, cancel := context.WithCancel(context.Background())

	cfg := RestartConfig{MaxRetries: 5, RetryDelay: time.Hour, MaxRetryDelay: time.Hour}
	done := make(chan error, 1)
	go func() {
		done <- RunWithRestart(ctx, func(context.Context) error {
			return errors.New("fail")
		}, cfg, &state, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunWithRestart() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunWithRestart() did not return after cancel")
	}
}

func TestRunWithRestart_CleanStop(t *testing.T) {
	var state RestartState
	err := RunWithRestart(context.Background(), func(context.Context) error { return nil },
		fastRestartConfig(), &state, nil)
	if err != nil {
		t.Errorf("RunWithRestart() = %v, want nil", err)
	}
	if state.Restarts() != 0 {
		t.Errorf("Restarts() = %d, want 0", state.Restarts())
	}
}
