package psd2img

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTask(name string) *Task {
	return &Task{Kind: TaskLayer, Priority: PriorityLayer, Node: layer(name, geom(0, 0, 1, 1))}
}

// ---------------------------------------------------------------------------
// TestQueue - Admission and dispatch
// ---------------------------------------------------------------------------

func TestQueue_FIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	for _, n := range []string{"a", "b", "c"} {
		if err := q.Add(context.Background(), newTask(n)); err != nil {
			t.Fatalf("Add(%s) error = %v", n, err)
		}
	}

	var got []string
	for {
		tk, ok := q.Take()
		if !ok {
			break
		}
		if tk.ID == "" || tk.QueuedAt.IsZero() {
			t.Errorf("task %s not stamped at admission", tk.Name())
		}
		got = append(got, tk.Name())
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("Take order = %v, want [a b c]", got)
	}
	if s := q.Stats(); s.Pending != 3 || s.Queued != 0 {
		t.Errorf("Stats() = %+v, want 3 pending", s)
	}
}

func TestQueue_FullRejectsAfterWait(t *testing.T) {
	t.Parallel()

	q := NewQueue(WithCapacity(2), WithFullWait(100*time.Millisecond))
	for i := 0; i < 2; i++ {
		if err := q.Add(context.Background(), newTask("fill")); err != nil {
			t.Fatal(err)
		}
	}

	start := time.Now()
	err := q.Add(context.Background(), newTask("extra"))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Add() error = %v, want ErrQueueFull", err)
	}
	if waited := time.Since(start); waited < 100*time.Millisecond || waited > 2*time.Second {
		t.Errorf("waited %v, want about the full-wait window", waited)
	}
	if s := q.Stats(); s.Rejected != 1 || s.Queued != 2 {
		t.Errorf("Stats() = %+v, want 1 rejected, 2 queued", s)
	}
}

func TestQueue_AddSucceedsWhenSpaceFrees(t *testing.T) {
	t.Parallel()

	q := NewQueue(WithCapacity(1), WithFullWait(2*time.Second))
	if err := q.Add(context.Background(), newTask("first")); err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(60 * time.Millisecond)
		q.Take()
	}()

	if err := q.Add(context.Background(), newTask("second")); err != nil {
		t.Fatalf("Add() error = %v, want nil once space frees", err)
	}
}

type stubProbe struct{ over atomic.Bool }

func (p *stubProbe) Exceeded() bool { return p.over.Load() }

func TestQueue_MemoryPressureExtendsWait(t *testing.T) {
	t.Parallel()

	probe := &stubProbe{}
	probe.over.Store(true)
	q := NewQueue(WithCapacity(1), WithFullWait(100*time.Millisecond), WithMemoryProbe(probe))
	_ = q.Add(context.Background(), newTask("fill"))

	start := time.Now()
	err := q.Add(context.Background(), newTask("extra"))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Add() error = %v, want ErrQueueFull", err)
	}
	if waited := time.Since(start); waited < 200*time.Millisecond {
		t.Errorf("waited %v, want an extended window under memory pressure", waited)
	}
}

func TestQueue_AddHonorsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(WithCapacity(1), WithFullWait(10*time.Second))
	_ = q.Add(context.Background(), newTask("fill"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := q.Add(ctx, newTask("extra")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Add() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestQueue_PauseResumeStop(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	_ = q.Add(context.Background(), newTask("a"))

	q.Pause()
	if _, ok := q.Take(); ok {
		t.Error("Take() dispatched while paused")
	}
	if !q.Stats().Paused {
		t.Error("Stats().Paused = false")
	}
	q.Resume()
	if _, ok := q.Take(); !ok {
		t.Error("Take() returned nothing after Resume")
	}

	q.Stop()
	if err := q.Add(context.Background(), newTask("late")); !errors.Is(err, ErrQueueStopped) {
		t.Errorf("Add() after Stop error = %v, want ErrQueueStopped", err)
	}
}

// ---------------------------------------------------------------------------
// TestQueue - Completion accounting
// ---------------------------------------------------------------------------

func TestQueue_CompleteAndFail(t *testing.T) {
	t.Parallel()

	q := NewQueue(WithWorkers(2), WithCapacity(8))
	for _, n := range []string{"ok", "bad", "waiting"} {
		_ = q.Add(context.Background(), newTask(n))
	}
	ok, _ := q.Take()
	bad, _ := q.Take()

	if !q.Complete(ok.ID) {
		t.Error("Complete() = false for pending task")
	}
	if q.Complete(ok.ID) {
		t.Error("second Complete() = true, want false")
	}
	if !q.Fail(bad.ID, errors.New("boom")) {
		t.Error("Fail() = false for pending task")
	}

	s := q.Stats()
	if s.Completed != 1 || s.Failed != 1 || s.Queued != 1 || s.Pending != 0 {
		t.Errorf("Stats() = %+v", s)
	}
	if s.Done() != 2 {
		t.Errorf("Done() = %d, want 2", s.Done())
	}
	if want := 1.0 / 10.0; s.Utilization != want {
		t.Errorf("Utilization = %v, want %v", s.Utilization, want)
	}

	results := q.Results()
	if len(results) != 2 || results[0].Name != "ok" || results[1].Err == nil {
		t.Errorf("Results() = %+v", results)
	}
}

func TestQueue_AverageProcessingTime(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	clock := time.Unix(0, 0)
	q := NewQueue()
	q.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	advance := func(d time.Duration) {
		mu.Lock()
		clock = clock.Add(d)
		mu.Unlock()
	}

	for _, d := range []time.Duration{time.Second, 3 * time.Second} {
		_ = q.Add(context.Background(), newTask("t"))
		tk, _ := q.Take()
		advance(d)
		q.Complete(tk.ID)
	}
	if got := q.Stats().AvgProcessing; got != 2*time.Second {
		t.Errorf("AvgProcessing = %v, want 2s", got)
	}
}

func TestQueue_SweepZombies(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	clock := time.Unix(1000, 0)
	q := NewQueue(WithTaskTimeout(time.Minute))
	q.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}

	_ = q.Add(context.Background(), newTask("stuck"))
	stuck, _ := q.Take()

	if n := q.SweepZombies(); n != 0 {
		t.Fatalf("SweepZombies() = %d before timeout, want 0", n)
	}

	mu.Lock()
	clock = clock.Add(2 * time.Minute)
	mu.Unlock()

	if n := q.SweepZombies(); n != 1 {
		t.Fatalf("SweepZombies() = %d, want 1", n)
	}
	if q.Complete(stuck.ID) {
		t.Error("Complete() = true for a swept task")
	}
	s := q.Stats()
	if s.Failed != 1 || s.TimedOut != 1 || s.Pending != 0 {
		t.Errorf("Stats() = %+v", s)
	}
	if r := q.Results(); len(r) != 1 || !errors.Is(r[0].Err, ErrTaskTimeout) {
		t.Errorf("Results() = %+v, want one ErrTaskTimeout", r)
	}
}

func TestQueue_ClaimAfterTimeoutRefused(t *testing.T) {
	t.Parallel()

	clock := time.Unix(1000, 0)
	q := NewQueue(WithTaskTimeout(time.Minute))
	q.now = func() time.Time { return clock }

	_ = q.Add(context.Background(), newTask("late"))
	late, _ := q.Take()

	clock = clock.Add(2 * time.Minute)
	if n := q.SweepZombies(); n != 1 {
		t.Fatalf("SweepZombies() = %d, want 1", n)
	}
	if q.Claim(late.ID) {
		t.Error("Claim() = true for a timed-out task")
	}
}

func TestQueue_ClaimedTaskSurvivesSweep(t *testing.T) {
	t.Parallel()

	clock := time.Unix(1000, 0)
	q := NewQueue(WithTaskTimeout(time.Minute))
	q.now = func() time.Time { return clock }

	_ = q.Add(context.Background(), newTask("saving"))
	tk, _ := q.Take()
	if !q.Claim(tk.ID) {
		t.Fatal("Claim() = false for a pending task")
	}

	clock = clock.Add(2 * time.Minute)
	if n := q.SweepZombies(); n != 0 {
		t.Errorf("SweepZombies() = %d, want 0 for a claimed task", n)
	}
	if !q.Complete(tk.ID) {
		t.Error("Complete() = false after Claim")
	}
	if s := q.Stats(); s.Completed != 1 || s.TimedOut != 0 {
		t.Errorf("Stats() = %+v, want 1 completed, 0 timed out", s)
	}
}

func TestQueue_ClaimRefusedAfterStop(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	_ = q.Add(context.Background(), newTask("abandoned"))
	tk, _ := q.Take()
	q.Stop()
	if q.Claim(tk.ID) {
		t.Error("Claim() = true on a stopped queue")
	}
}

func TestQueue_ReclaimEveryN(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	q := NewQueue(WithReclaim(2, func() { calls.Add(1) }))
	for i := 0; i < 5; i++ {
		_ = q.Add(context.Background(), newTask("t"))
		tk, _ := q.Take()
		q.Complete(tk.ID)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("reclaim calls = %d, want 2", got)
	}
}

func TestQueue_SizeHistoryBounded(t *testing.T) {
	t.Parallel()

	q := NewQueue(WithCapacity(500))
	for i := 0; i < 150; i++ {
		_ = q.Add(context.Background(), newTask("t"))
	}
	h := q.SizeHistory()
	if len(h) != historySize {
		t.Fatalf("len(SizeHistory()) = %d, want %d", len(h), historySize)
	}
	if h[len(h)-1] != 150 {
		t.Errorf("last depth = %d, want 150", h[len(h)-1])
	}
}

func TestQueue_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	q := NewQueue(WithZombieInterval(5 * time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
