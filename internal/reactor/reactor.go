package reactor

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/abhisheknishant138/rotor/internal/model"
)

// ErrUnknownContext is returned by RunOn when the target context does not
// exist or has already been released.
var ErrUnknownContext = errors.New("unknown or released context")

// Task is one unit of work scheduled onto a context. The id of the context
// executing the task is passed in so the work can capture where it ran.
type Task func(id model.ContextID)

// Executor schedules tasks onto execution contexts. Scheduling never blocks
// the caller; tasks queued to one context execute serially in FIFO order.
type Executor interface {
	// RunOnLoop schedules the task onto one of the event-loop contexts.
	RunOnLoop(t Task)
	// RunOnWorker schedules the task onto a fresh worker context. The
	// context stays alive after the task returns, until Release.
	RunOnWorker(t Task)
	// RunOn schedules the task onto the identified context.
	RunOn(id model.ContextID, t Task) error
	// Release retires a worker context once its queue drains. Releasing an
	// event-loop context or an already released id is a no-op.
	Release(id model.ContextID)
}

// ctxQueue is one execution context: an id, a serial task queue, and the
// goroutine draining it.
type ctxQueue struct {
	id   model.ContextID
	loop bool

	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []Task
	closed bool

	done chan struct{}
}

func newCtxQueue(id model.ContextID, loop bool) *ctxQueue {
	q := &ctxQueue{
		id:   id,
		loop: loop,
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// run drains the queue until it is closed and empty. The queue mutex is not
// held while a task executes, so a task may enqueue onto its own context.
func (q *ctxQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return
		}
		t := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		t(q.id)
	}
}

// enqueue appends a task, reporting false if the queue is already closed.
// The queue is unbounded so enqueueing never blocks a running task.
func (q *ctxQueue) enqueue(t Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, t)
	q.cond.Signal()
	return true
}

// close marks the queue closed and wakes the drain goroutine. Queued tasks
// still run before the goroutine exits.
func (q *ctxQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Reactor is the default Executor: a fixed event-loop pool assigned
// round-robin, plus worker contexts allocated per RunOnWorker call.
type Reactor struct {
	logger *slog.Logger

	mu       sync.Mutex
	contexts map[model.ContextID]*ctxQueue
	loops    []*ctxQueue
	nextLoop int
	nextID   int64
	closed   bool
}

// New creates a reactor with the given number of event-loop contexts.
// Counts below one are treated as one.
func New(loops int, logger *slog.Logger) *Reactor {
	if loops < 1 {
		loops = 1
	}
	r := &Reactor{
		logger:   logger,
		contexts: make(map[model.ContextID]*ctxQueue),
	}
	for i := 0; i < loops; i++ {
		q := r.newContextLocked(true)
		r.loops = append(r.loops, q)
	}
	return r
}

// newContextLocked allocates and registers a context. Caller holds r.mu,
// except during New before the reactor is shared.
func (r *Reactor) newContextLocked(loop bool) *ctxQueue {
	r.nextID++
	q := newCtxQueue(model.ContextID(r.nextID), loop)
	r.contexts[q.id] = q
	return q
}

// RunOnLoop schedules the task onto the next event-loop context in
// round-robin order. After Close the task is dropped.
func (r *Reactor) RunOnLoop(t Task) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Warn("task dropped, reactor closed")
		return
	}
	q := r.loops[r.nextLoop%len(r.loops)]
	r.nextLoop++
	r.mu.Unlock()

	q.enqueue(t)
}

// RunOnWorker allocates a fresh worker context and schedules the task onto
// it. After Close the task is dropped.
func (r *Reactor) RunOnWorker(t Task) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Warn("task dropped, reactor closed")
		return
	}
	q := r.newContextLocked(false)
	r.mu.Unlock()

	q.enqueue(t)
}

// RunOn schedules the task onto the identified context.
func (r *Reactor) RunOn(id model.ContextID, t Task) error {
	r.mu.Lock()
	q, ok := r.contexts[id]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownContext
	}
	if !q.enqueue(t) {
		return ErrUnknownContext
	}
	return nil
}

// Release retires a worker context. Its queued tasks still drain before the
// goroutine exits. Event-loop contexts are permanent and unaffected.
func (r *Reactor) Release(id model.ContextID) {
	r.mu.Lock()
	q, ok := r.contexts[id]
	if !ok || q.loop {
		r.mu.Unlock()
		return
	}
	delete(r.contexts, id)
	r.mu.Unlock()

	q.close()
}

// LoopCount returns the number of event-loop contexts.
func (r *Reactor) LoopCount() int {
	return len(r.loops)
}

// ContextCount returns the number of live contexts, event loops included.
func (r *Reactor) ContextCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}

// Close retires every context and waits for their queues to drain, or for
// ctx to expire. Run calls made after Close drop their tasks.
func (r *Reactor) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	queues := make([]*ctxQueue, 0, len(r.contexts))
	for _, q := range r.contexts {
		queues = append(queues, q)
	}
	r.contexts = make(map[model.ContextID]*ctxQueue)
	r.mu.Unlock()

	for _, q := range queues {
		q.close()
	}
	for _, q := range queues {
		select {
		case <-q.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
