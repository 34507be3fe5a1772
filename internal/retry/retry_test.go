package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	for k := 0; k <= 2; k++ {
		t.Run(fmt.Sprintf("fails_%d", k), func(t *testing.T) {
			calls := 0
			var failures []int
			out := Do(context.Background(), Policy{MaxRetries: 2, BaseDelay: time.Millisecond},
				func(ctx context.Context) (string, error) {
					calls++
					if calls <= k {
						return "", errors.New("boom")
					}
					return "ok", nil
				},
				func(attempt int, err error) { failures = append(failures, attempt) },
			)

			if !out.OK() {
				t.Fatalf("expected success, got %v", out.Err)
			}
			if out.Value != "ok" {
				t.Fatalf("unexpected value %q", out.Value)
			}
			if out.Attempts != k+1 || calls != k+1 {
				t.Fatalf("expected %d attempts, got %d (calls %d)", k+1, out.Attempts, calls)
			}
			if len(out.Delays) != k {
				t.Fatalf("expected %d delays, got %v", k, out.Delays)
			}
			if len(failures) != k {
				t.Fatalf("expected %d failure callbacks, got %d", k, len(failures))
			}
		})
	}
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	out := Do(context.Background(), Policy{MaxRetries: 2, BaseDelay: time.Millisecond},
		func(ctx context.Context) (int, error) {
			calls++
			return 0, errors.New("always")
		}, nil)

	if out.OK() {
		t.Fatal("expected failure")
	}
	if calls != 3 || out.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if out.Err == nil || out.Err.Error() != "always" {
		t.Fatalf("expected last error to surface, got %v", out.Err)
	}
}

func TestDoDelaysDouble(t *testing.T) {
	out := Do(context.Background(), Policy{MaxRetries: 3, BaseDelay: time.Millisecond},
		func(ctx context.Context) (int, error) { return 0, errors.New("x") }, nil)

	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}
	if len(out.Delays) != len(want) {
		t.Fatalf("unexpected delays %v", out.Delays)
	}
	for i := range want {
		if out.Delays[i] != want[i] {
			t.Fatalf("delay %d: want %v got %v", i, want[i], out.Delays[i])
		}
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	out := Do(context.Background(), Policy{MaxRetries: 5, BaseDelay: time.Millisecond},
		func(ctx context.Context) (int, error) {
			calls++
			return 0, fmt.Errorf("bad request: %w", ErrPermanent)
		}, nil)
	if out.OK() || calls != 1 {
		t.Fatalf("expected a single failed attempt, got %d calls", calls)
	}
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	out := Do(ctx, Policy{MaxRetries: 5, BaseDelay: time.Hour},
		func(ctx context.Context) (int, error) {
			calls++
			cancel()
			return 0, ctx.Err()
		}, nil)
	if out.OK() {
		t.Fatal("expected failure")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}
