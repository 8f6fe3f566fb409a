package util

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"trendline/internal/domain"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func(context.Context) error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func(context.Context) error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryPermanent(t *testing.T) {
	sentinel := errors.New("bad request")
	attempts := 0
	err := Retry(context.Background(), 5, 0, func(context.Context) error {
		attempts++
		return Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want %v", err, sentinel)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, 3, time.Hour, func(context.Context) error { return errors.New("fail") })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	if !rl.Allow() || !rl.Allow() {
		t.Fatal("burst tokens not available")
	}
	if rl.Allow() {
		t.Error("third call allowed within burst of 2 at 1/min")
	}
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.Allow()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait = %v, want deadline exceeded", err)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 1)
	for i := 0; i < 10; i++ {
		if !rl.Allow() {
			t.Fatalf("call %d limited with limiting disabled", i)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerTo(&buf, "info", "text").Info("hello", "k", 1)
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text output = %q", buf.String())
	}
	buf.Reset()
	NewLoggerTo(&buf, "info", "json").Info("hello")
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("json output = %q", buf.String())
	}
	buf.Reset()
	NewLoggerTo(&buf, "warn", "json").Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %q", buf.String())
	}
}

func TestSessionsLastClosed(t *testing.T) {
	s := NewSessions(domain.MarketUS)
	ny := s.loc

	// Saturday noon: last session was Friday.
	got := s.LastClosed(time.Date(2024, 6, 8, 12, 0, 0, 0, ny))
	if want := time.Date(2024, 6, 7, 0, 0, 0, 0, ny); !got.Equal(want) {
		t.Errorf("Saturday: got %v, want %v", got, want)
	}
	// Wednesday before the close: Tuesday.
	got = s.LastClosed(time.Date(2024, 6, 12, 10, 0, 0, 0, ny))
	if want := time.Date(2024, 6, 11, 0, 0, 0, 0, ny); !got.Equal(want) {
		t.Errorf("before close: got %v, want %v", got, want)
	}
	// Wednesday after the close: Wednesday.
	got = s.LastClosed(time.Date(2024, 6, 12, 17, 0, 0, 0, ny))
	if want := time.Date(2024, 6, 12, 0, 0, 0, 0, ny); !got.Equal(want) {
		t.Errorf("after close: got %v, want %v", got, want)
	}
	// Monday morning: Friday.
	got = s.LastClosed(time.Date(2024, 6, 10, 9, 0, 0, 0, ny))
	if want := time.Date(2024, 6, 7, 0, 0, 0, 0, ny); !got.Equal(want) {
		t.Errorf("Monday morning: got %v, want %v", got, want)
	}
}
