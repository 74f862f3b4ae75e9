package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/transitbook/tiercache/pkg/errors"
)

func fastConfig(attempts int) Config {
	config := DefaultConfig()
	config.MaxAttempts = attempts
	config.InitialDelay = time.Millisecond
	config.MaxDelay = 2 * time.Millisecond
	config.Jitter = false
	return config
}

func TestRetryer_Success(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_RetryableError(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		if attempts < 3 {
			return errors.NewError(errors.ErrCodeStorageBusy, "database is locked")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryer_NonRetryableError(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	quota := errors.NewError(errors.ErrCodeQuotaExceeded, "quota exceeded")
	err := retryer.Do(func() error {
		attempts++
		return quota
	})

	if err != quota {
		t.Errorf("expected the original error back, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_PlainErrorNotRetried(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	_ = retryer.Do(func() error {
		attempts++
		return fmt.Errorf("boom")
	})

	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_Exhausted(t *testing.T) {
	var retries []int
	config := fastConfig(3)
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		retries = append(retries, attempt)
	}
	retryer := New(config)

	err := retryer.Do(func() error {
		return errors.NewError(errors.ErrCodeStorageBusy, "busy")
	})

	if !errors.HasCode(err, errors.ErrCodeRetryExhausted) {
		t.Fatalf("expected RETRY_EXHAUSTED, got %v", err)
	}
	if !errors.HasCode(err, errors.ErrCodeStorageBusy) {
		t.Error("exhausted error should keep the last cause")
	}
	if len(retries) != 2 {
		t.Errorf("expected OnRetry twice, got %v", retries)
	}
}

func TestRetryer_ContextCanceled(t *testing.T) {
	retryer := New(fastConfig(5))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := retryer.DoWithContext(ctx, func(context.Context) error {
		attempts++
		return nil
	})

	if !errors.HasCode(err, errors.ErrCodeOperationCanceled) {
		t.Errorf("expected OPERATION_CANCELED, got %v", err)
	}
	if attempts != 0 {
		t.Errorf("expected no attempts, got %d", attempts)
	}
}

func TestRetryer_DelayCapped(t *testing.T) {
	config := fastConfig(10)
	config.InitialDelay = 10 * time.Millisecond
	config.MaxDelay = 40 * time.Millisecond
	retryer := New(config)

	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 40 * time.Millisecond}
	for i, w := range want {
		if got := retryer.calculateDelay(i + 1); got != w {
			t.Errorf("attempt %d: delay = %v, want %v", i+1, got, w)
		}
	}
}
