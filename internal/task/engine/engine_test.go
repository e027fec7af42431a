package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	logx "eventra/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitHistory(t *testing.T, s *Service, n int) []Execution {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if h := s.History(); len(h) >= n {
			return h
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("history did not reach %d items: %+v", n, s.History())
	return nil
}

func TestEnqueueRunsTask(t *testing.T) {
	s := startEngine(t, Config{Workers: 1})
	done := make(chan struct{})
	if err := s.Enqueue(Task{Name: "deliver", Run: func(ctx context.Context) error { close(done); return nil }}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
	h := waitHistory(t, s, 1)
	if h[0].Error != "" || h[0].Attempts != 1 {
		t.Fatalf("history = %+v", h[0])
	}
}

func TestRetryThenNoRetry(t *testing.T) {
	s := startEngine(t, Config{Workers: 1, RetryMax: 5})
	var calls atomic.Int32
	err := s.Enqueue(Task{
		Name:  "flaky",
		Retry: Retry{Base: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Run: func(ctx context.Context) error {
			if calls.Add(1) == 1 {
				return errors.New("transient")
			}
			return NoRetry(errors.New("permanent"))
		},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	h := waitHistory(t, s, 1)
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
	if h[0].Error != "permanent" || h[0].Attempts != 2 {
		t.Fatalf("history = %+v", h[0])
	}
}

func TestPanicBecomesError(t *testing.T) {
	s := startEngine(t, Config{Workers: 1})
	if err := s.Enqueue(Task{Name: "boom", Run: func(ctx context.Context) error { panic("bad") }}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	h := waitHistory(t, s, 1)
	if h[0].Error == "" {
		t.Fatal("panic not recorded as error")
	}
	// Worker must still be alive.
	done := make(chan struct{})
	_ = s.Enqueue(Task{Name: "after", Run: func(ctx context.Context) error { close(done); return nil }})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after panic")
	}
}

func TestEnqueueErrors(t *testing.T) {
	disabled := New(Config{}, logx.Nop(), nil)
	if err := disabled.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled err = %v", err)
	}
	stopped := New(Config{Enabled: true}, logx.Nop(), nil)
	if err := stopped.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("stopped err = %v", err)
	}
	if err := stopped.Enqueue(Task{Name: "x"}); err == nil {
		t.Fatal("nil Run accepted")
	}

	s := startEngine(t, Config{Workers: 1, QueueSize: 1})
	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	_ = s.Enqueue(Task{Name: "hold", Run: func(ctx context.Context) error { close(started); <-block; return nil }})
	<-started
	_ = s.Enqueue(Task{Name: "fill", Run: func(context.Context) error { return nil }})
	if err := s.Enqueue(Task{Name: "over", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("full err = %v", err)
	}
	if s.Snapshot().Dropped != 1 {
		t.Fatalf("dropped = %d", s.Snapshot().Dropped)
	}
}

func TestNextDelay(t *testing.T) {
	r := Retry{Base: 100 * time.Millisecond, MaxDelay: time.Second}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{10, time.Second},
	}
	transient := errors.New("transient")
	for _, tc := range cases {
		if got := nextDelay(r, tc.attempt, transient, nil); got != tc.want {
			t.Fatalf("nextDelay(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
	if got := nextDelay(r, 1, RetryAfter(errors.New("429"), 5*time.Second), nil); got != time.Second {
		t.Fatalf("hinted delay = %s, want clamp to 1s", got)
	}
	r.Jitter = 0.2
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		d := nextDelay(r, 1, transient, rng)
		if d < 80*time.Millisecond || d > 120*time.Millisecond {
			t.Fatalf("jittered delay %s out of range", d)
		}
	}
}

func TestRetryHints(t *testing.T) {
	base := errors.New("boom")
	if !IsNoRetry(NoRetry(base)) || IsNoRetry(base) || IsNoRetry(RetryAfter(base, time.Second)) {
		t.Fatal("IsNoRetry misclassified")
	}
	if !errors.Is(NoRetry(base), base) {
		t.Fatal("NoRetry must unwrap")
	}
	if d, ok := RetryAfterHint(RetryAfter(base, 3*time.Second)); !ok || d != 3*time.Second {
		t.Fatalf("hint = %s, %v", d, ok)
	}
	if _, ok := RetryAfterHint(NoRetry(base)); ok {
		t.Fatal("NoRetry carries no delay")
	}
	if NoRetry(nil) != nil || RetryAfter(nil, time.Second) != nil {
		t.Fatal("nil errors stay nil")
	}
}
