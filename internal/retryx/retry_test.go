package retryx

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	cfg := Config{MaxAttempts: 3, Delay: time.Millisecond, Backoff: 2}

	err := Do(context.Background(), cfg, nil, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() returned error after eventual success: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoSurfacesFinalFailure(t *testing.T) {
	t.Parallel()

	calls := 0
	cfg := Config{MaxAttempts: 2, Delay: time.Millisecond, Backoff: 2}
	wantErr := errors.New("still broken")

	err := Do(context.Background(), cfg, nil, func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Do() error = %v, want %v", err, wantErr)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (bounded by MaxAttempts)", calls)
	}
}

func TestDoValueReturnsValueOnSuccess(t *testing.T) {
	t.Parallel()

	cfg := Config{MaxAttempts: 1, Delay: time.Millisecond, Backoff: 2}
	got, err := DoValue(context.Background(), cfg, nil, func() (int, error) {
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Errorf("DoValue() = (%v, %v), want (42, nil)", got, err)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := Config{MaxAttempts: 5, Delay: time.Second, Backoff: 2}
	err := Do(ctx, cfg, nil, func() error {
		t.Fatal("fn should not be called once context is cancelled")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
}
