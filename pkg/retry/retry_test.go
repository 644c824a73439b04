package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	for _, failures := range []int{0, 1, 3, 4} {
		rec := &sleepRecorder{}
		p := Policy{
			MaxAttempts: 5,
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    time.Second,
			Sleep:       rec.sleep,
			Jitter:      func() float64 { return 0.999 },
		}

		calls := 0
		out, err := Do(context.Background(), p, func(ctx context.Context) (string, error) {
			calls++
			if calls <= failures {
				return "", errors.New("upstream returned 503")
			}
			return "ok", nil
		})
		if err != nil {
			t.Fatalf("failures=%d: Do() error = %v", failures, err)
		}
		if out != "ok" {
			t.Fatalf("failures=%d: out = %q", failures, out)
		}
		if calls != failures+1 {
			t.Fatalf("failures=%d: calls = %d, want %d", failures, calls, failures+1)
		}
		if len(rec.delays) != failures {
			t.Fatalf("failures=%d: sleeps = %d", failures, len(rec.delays))
		}
		for i, d := range rec.delays {
			base := Backoff(i, p.BaseDelay, p.MaxDelay)
			upper := time.Duration(float64(base) * 1.1)
			if d < base || d > upper {
				t.Fatalf("failures=%d: delay[%d] = %s, want within [%s, %s]", failures, i, d, base, upper)
			}
		}
	}
}

func TestDoStopsAtAttemptCap(t *testing.T) {
	t.Parallel()

	rec := &sleepRecorder{}
	calls := 0
	_, err := Do(context.Background(), Policy{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    time.Second,
		Sleep:       rec.sleep,
		Jitter:      func() float64 { return 0 },
	}, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("connection reset by peer")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if len(rec.delays) != 2 {
		t.Fatalf("sleeps = %d, want 2", len(rec.delays))
	}
}

func TestDoNonRetryableFailsImmediately(t *testing.T) {
	t.Parallel()

	rec := &sleepRecorder{}
	permanent := errors.New("400 bad request")
	calls := 0
	err := Run(context.Background(), Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Sleep:       rec.sleep,
	}, func(ctx context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("Run() error = %v, want permanent error", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if len(rec.delays) != 0 {
		t.Fatalf("expected no delay, got %v", rec.delays)
	}
}

func TestDoAttemptTimeoutIsRetried(t *testing.T) {
	t.Parallel()

	rec := &sleepRecorder{}
	calls := 0
	out, err := Do(context.Background(), Policy{
		MaxAttempts: 2,
		Timeout:     20 * time.Millisecond,
		Sleep:       rec.sleep,
	}, func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			<-ctx.Done()
			time.Sleep(5 * time.Millisecond)
			return "late", nil
		}
		return "fast", nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if out != "fast" {
		t.Fatalf("out = %q, want fast", out)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestBackoffCapsAtMax(t *testing.T) {
	t.Parallel()

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 500 * time.Millisecond},
		{10, 500 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := Backoff(tc.attempt, 100*time.Millisecond, 500*time.Millisecond); got != tc.want {
			t.Fatalf("Backoff(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestDefaultRetryable(t *testing.T) {
	t.Parallel()

	retryable := []error{
		errors.New("dial tcp: connection refused"),
		errors.New("status 429 too many requests"),
		errors.New("502 bad gateway"),
		errors.New("i/o timeout"),
		ErrAttemptTimeout,
		context.DeadlineExceeded,
	}
	for _, err := range retryable {
		if !DefaultRetryable(err) {
			t.Fatalf("DefaultRetryable(%v) = false, want true", err)
		}
	}

	permanent := []error{
		nil,
		errors.New("401 unauthorized"),
		errors.New("model response violates schema"),
		context.Canceled,
	}
	for _, err := range permanent {
		if DefaultRetryable(err) {
			t.Fatalf("DefaultRetryable(%v) = true, want false", err)
		}
	}
}
