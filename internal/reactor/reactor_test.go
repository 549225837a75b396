package reactor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abhisheknishant138/rotor/internal/model"
)

func newTestReactor(t *testing.T, loops int) *Reactor {
	t.Helper()
	r := New(loops, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		r.Close(ctx)
	})
	return r
}

func recvID(t *testing.T, ch <-chan model.ContextID) model.ContextID {
	t.Helper()
	select {
	case id := <-ch:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task to run")
		return 0
	}
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task to run")
	}
}

func TestRunOnLoopDeliversContextID(t *testing.T) {
	r := newTestReactor(t, 1)

	ch := make(chan model.ContextID, 1)
	r.RunOnLoop(func(id model.ContextID) { ch <- id })

	id := recvID(t, ch)
	if id == 0 {
		t.Errorf("task ran with context id 0, want a real id")
	}
}

func TestLoopTasksRunInFIFOOrder(t *testing.T) {
	r := newTestReactor(t, 1)

	ch := make(chan model.ContextID, 1)
	r.RunOnLoop(func(id model.ContextID) { ch <- id })
	loopID := recvID(t, ch)

	const n = 20
	var got []int
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		i := i
		if err := r.RunOn(loopID, func(model.ContextID) {
			got = append(got, i)
			if i == n-1 {
				close(done)
			}
		}); err != nil {
			t.Fatalf("RunOn(%d) error = %v", loopID, err)
		}
	}
	waitDone(t, done)

	if len(got) != n {
		t.Fatalf("ran %d tasks, want %d", len(got), n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task order = %v, want ascending", got)
		}
	}
}

func TestRunOnLoopRoundRobin(t *testing.T) {
	r := newTestReactor(t, 2)

	ch := make(chan model.ContextID, 4)
	for i := 0; i < 4; i++ {
		r.RunOnLoop(func(id model.ContextID) { ch <- id })
	}

	counts := make(map[model.ContextID]int)
	for i := 0; i < 4; i++ {
		counts[recvID(t, ch)]++
	}
	if len(counts) != 2 {
		t.Fatalf("tasks ran on %d distinct loops, want 2 (counts: %v)", len(counts), counts)
	}
	for id, n := range counts {
		if n != 2 {
			t.Errorf("loop %d ran %d tasks, want 2", id, n)
		}
	}
}

func TestRunOnWorkerAllocatesFreshContexts(t *testing.T) {
	r := newTestReactor(t, 1)

	ch := make(chan model.ContextID, 2)
	r.RunOnWorker(func(id model.ContextID) { ch <- id })
	r.RunOnWorker(func(id model.ContextID) { ch <- id })

	a := recvID(t, ch)
	b := recvID(t, ch)
	if a == b {
		t.Errorf("two worker tasks shared context %d, want distinct contexts", a)
	}
	if got := r.ContextCount(); got != 3 {
		t.Errorf("ContextCount() = %d, want 3 (1 loop + 2 workers)", got)
	}
}

func TestRunOnPinsToCapturedContext(t *testing.T) {
	r := newTestReactor(t, 2)

	ch := make(chan model.ContextID, 1)
	r.RunOnWorker(func(id model.ContextID) { ch <- id })
	workerID := recvID(t, ch)

	if err := r.RunOn(workerID, func(id model.ContextID) { ch <- id }); err != nil {
		t.Fatalf("RunOn(%d) error = %v", workerID, err)
	}
	if got := recvID(t, ch); got != workerID {
		t.Errorf("pinned task ran on context %d, want %d", got, workerID)
	}
}

func TestRunOnUnknownContext(t *testing.T) {
	r := newTestReactor(t, 1)

	err := r.RunOn(999, func(model.ContextID) {})
	if !errors.Is(err, ErrUnknownContext) {
		t.Errorf("RunOn(999) error = %v, want ErrUnknownContext", err)
	}
}

func TestReleaseRetiresWorker(t *testing.T) {
	r := newTestReactor(t, 1)

	ch := make(chan model.ContextID, 1)
	r.RunOnWorker(func(id model.ContextID) { ch <- id })
	workerID := recvID(t, ch)

	r.Release(workerID)

	if err := r.RunOn(workerID, func(model.ContextID) {}); !errors.Is(err, ErrUnknownContext) {
		t.Errorf("RunOn after Release error = %v, want ErrUnknownContext", err)
	}
	if got := r.ContextCount(); got != 1 {
		t.Errorf("ContextCount() after Release = %d, want 1", got)
	}

	// Releasing the same id again is a no-op.
	r.Release(workerID)
}

func TestReleaseDrainsQueuedTasks(t *testing.T) {
	r := newTestReactor(t, 1)

	ch := make(chan model.ContextID, 1)
	r.RunOnWorker(func(id model.ContextID) { ch <- id })
	workerID := recvID(t, ch)

	done := make(chan struct{})
	if err := r.RunOn(workerID, func(model.ContextID) { close(done) }); err != nil {
		t.Fatalf("RunOn(%d) error = %v", workerID, err)
	}
	r.Release(workerID)

	waitDone(t, done)
}

func TestReleaseLoopIsNoop(t *testing.T) {
	r := newTestReactor(t, 1)

	ch := make(chan model.ContextID, 1)
	r.RunOnLoop(func(id model.ContextID) { ch <- id })
	loopID := recvID(t, ch)

	r.Release(loopID)

	if err := r.RunOn(loopID, func(id model.ContextID) { ch <- id }); err != nil {
		t.Fatalf("RunOn(loop) after Release error = %v", err)
	}
	if got := recvID(t, ch); got != loopID {
		t.Errorf("task ran on context %d, want loop %d", got, loopID)
	}
}

func TestTaskMayEnqueueOntoOwnContext(t *testing.T) {
	r := newTestReactor(t, 1)

	done := make(chan model.ContextID, 1)
	r.RunOnWorker(func(id model.ContextID) {
		// Scheduling onto the context this task is running on must not block.
		if err := r.RunOn(id, func(inner model.ContextID) { done <- inner }); err != nil {
			t.Errorf("RunOn(own context) error = %v", err)
			close(done)
		}
	})

	select {
	case inner := <-done:
		if inner == 0 {
			t.Error("inner task never ran")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("self-enqueued task never ran; queue deadlocked")
	}
}

func TestCloseDrainsAllContexts(t *testing.T) {
	r := New(2, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		r.RunOnLoop(func(model.ContextID) { ran.Add(1) })
		r.RunOnWorker(func(model.ContextID) { ran.Add(1) })
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := ran.Load(); got != 20 {
		t.Errorf("ran %d tasks before Close returned, want 20", got)
	}
}

func TestRunAfterCloseIsDropped(t *testing.T) {
	r := New(1, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := r.Close(ctx); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	r.RunOnLoop(func(model.ContextID) { t.Error("loop task ran after Close") })
	r.RunOnWorker(func(model.ContextID) { t.Error("worker task ran after Close") })
	if err := r.RunOn(1, func(model.ContextID) {}); !errors.Is(err, ErrUnknownContext) {
		t.Errorf("RunOn after Close error = %v, want ErrUnknownContext", err)
	}
}
