package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestDelay_ExponentialSequence(t *testing.T) {
	config := Config{
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0,
	}

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second, // capped
		60 * time.Second,
	}
	for i, w := range want {
		if got := Delay(config, i+1); got != w {
			t.Errorf("Delay(attempt=%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestDelay_JitterStaysInBounds(t *testing.T) {
	config := Config{
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.5,
	}

	for i := 0; i < 200; i++ {
		got := Delay(config, 3) // base 4s, jitter range [2s, 6s]
		if got < 2*time.Second || got > 6*time.Second {
			t.Fatalf("Delay with jitter = %v, want within [2s, 6s]", got)
		}
	}
}

func TestDelay_NeverExceedsMax(t *testing.T) {
	config := Config{
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 1.0,
	}

	for i := 0; i < 200; i++ {
		got := Delay(config, 10)
		if got < 0 || got > 10*time.Second {
			t.Fatalf("Delay = %v, want within [0, 10s]", got)
		}
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("timeout talking to backend")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("fn called %d times, want 3", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	lastErr := errors.New("timeout talking to backend")
	err := Do(context.Background(), fastConfig(2), func(context.Context) error {
		calls++
		return lastErr
	})

	// MaxRetries=2 means the initial attempt plus two retries.
	if calls != 3 {
		t.Errorf("fn called %d times, want 3", calls)
	}
	if !errors.Is(err, ErrMaxAttemptsExceeded) {
		t.Errorf("got %v, want ErrMaxAttemptsExceeded", err)
	}
	if !errors.Is(err, lastErr) {
		t.Errorf("final error %v does not wrap the last attempt error", err)
	}
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(5), func(context.Context) error {
		calls++
		return errNonRetryable
	})

	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
	if !errors.Is(err, errNonRetryable) {
		t.Errorf("got %v, want the original error", err)
	}
	if errors.Is(err, ErrMaxAttemptsExceeded) {
		t.Error("non-retryable error must not be reported as exhaustion")
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := Config{
		MaxRetries:   3,
		InitialDelay: time.Hour,
		MaxDelay:     time.Hour,
		Multiplier:   2.0,
		IsRetryable:  func(error) bool { return true },
	}

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, config, func(context.Context) error {
			return errors.New("transient")
		})
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, ErrContextCancelled) {
			t.Errorf("got %v, want ErrContextCancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after context cancellation")
	}
}

func TestDefaultIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("i/o timeout"), true},
		{errors.New("context deadline exceeded"), true},
		{errors.New("connection refused"), true},
		{errors.New("Service Unavailable"), true},
		{errors.New("overloaded_error: try later"), true},
		{errors.New("invalid api key"), false},
		{errors.New("content policy violation"), false},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			if got := DefaultIsRetryable(tt.err); got != tt.want {
				t.Errorf("DefaultIsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func fastConfig(maxRetries int) Config {
	return Config{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		IsRetryable: func(err error) bool {
			return err != nil && !errors.Is(err, errNonRetryable)
		},
	}
}

var errNonRetryable = fmt.Errorf("invalid api key")
