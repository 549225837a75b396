// Package reactor provides the execution contexts deployments run on: a
// fixed set of event-loop contexts plus on-demand worker contexts. Each
// context owns one goroutine draining a serial FIFO queue, so two tasks
// scheduled onto the same context never run concurrently. Tasks can be
// pinned back to a previously captured context by id, which is how a stop
// runs on the same context that ran the matching start.
package reactor
