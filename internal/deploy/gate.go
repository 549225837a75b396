package deploy

import "sync"

// Gate is the process-wide shutdown latch. It opens exactly once; every
// current and future waiter unblocks once it has opened, and it never
// resets.
type Gate struct {
	once sync.Once
	ch   chan struct{}
}

// NewGate creates a gate in the blocked state.
func NewGate() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Wait parks the caller until the gate opens.
func (g *Gate) Wait() {
	<-g.ch
}

// Done exposes the gate for select-based waiting.
func (g *Gate) Done() <-chan struct{} {
	return g.ch
}

// Open releases all waiters. Open is idempotent.
func (g *Gate) Open() {
	g.once.Do(func() { close(g.ch) })
}

// Opened reports whether the gate has opened.
func (g *Gate) Opened() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}
