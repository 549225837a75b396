package deploy

import "sync/atomic"

// Completion is a one-shot join across a batch of concurrent operations:
// the callback runs exactly once, on the goroutine of the final arrival,
// after exactly target signals.
type Completion struct {
	remaining atomic.Int64
	fn        func()
}

// NewCompletion creates a join with the given target. A target of zero or
// less is already satisfied: the callback runs synchronously before
// NewCompletion returns.
func NewCompletion(target int, fn func()) *Completion {
	c := &Completion{fn: fn}
	if target <= 0 {
		if fn != nil {
			fn()
		}
		return c
	}
	c.remaining.Store(int64(target))
	return c
}

// Signal records one arrival. Signaling more times than the target panics,
// like an over-released WaitGroup.
func (c *Completion) Signal() {
	n := c.remaining.Add(-1)
	switch {
	case n == 0:
		if c.fn != nil {
			c.fn()
		}
	case n < 0:
		panic("deploy: Completion signaled past its target")
	}
}
