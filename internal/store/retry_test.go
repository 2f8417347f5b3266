// internal/store/retry_test.go
package store

import (
	"errors"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
)

func busyErr() error {
	return sqlite3.Error{Code: sqlite3.ErrBusy}
}

func TestRetryBusyThenSuccess(t *testing.T) {
	p := DefaultRetryPolicy()

	attempts := 0
	start := time.Now()
	err := p.Execute(func() error {
		attempts++
		if attempts <= 2 {
			return busyErr()
		}
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	// Two backoff sleeps: 100ms + 200ms.
	if elapsed < 290*time.Millisecond {
		t.Errorf("backoff too short: %v", elapsed)
	}
	if elapsed > 600*time.Millisecond {
		t.Errorf("backoff too long: %v", elapsed)
	}
}

func TestRetryExhaustion(t *testing.T) {
	p := &RetryPolicy{MaxAttempts: 4, InitialDelay: time.Millisecond, Multiplier: 2.0, MaxDelay: 10 * time.Millisecond}

	attempts := 0
	err := p.Execute(func() error {
		attempts++
		return busyErr()
	})

	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 4 {
		t.Errorf("expected 4 attempts, got %d", attempts)
	}
	var se sqlite3.Error
	if !errors.As(err, &se) || se.Code != sqlite3.ErrBusy {
		t.Errorf("expected busy error to surface, got %v", err)
	}
}

func TestRetryPermanentErrorNotRetried(t *testing.T) {
	p := DefaultRetryPolicy()

	attempts := 0
	boom := errors.New("constraint violation")
	err := p.Execute(func() error {
		attempts++
		return boom
	})

	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("permanent error retried %d times", attempts)
	}
}

func TestNextDelayCapped(t *testing.T) {
	p := &RetryPolicy{MaxAttempts: 10, InitialDelay: 100 * time.Millisecond, Multiplier: 2.0, MaxDelay: time.Second}

	if d := p.NextDelay(1); d != 100*time.Millisecond {
		t.Errorf("attempt 1: %v", d)
	}
	if d := p.NextDelay(2); d != 200*time.Millisecond {
		t.Errorf("attempt 2: %v", d)
	}
	if d := p.NextDelay(3); d != 400*time.Millisecond {
		t.Errorf("attempt 3: %v", d)
	}
	if d := p.NextDelay(8); d != time.Second {
		t.Errorf("expected cap at 1s, got %v", d)
	}
}
