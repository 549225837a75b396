package deploy

import (
	"sync"

	"github.com/abhisheknishant138/rotor/internal/model"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped for a subscriber that falls this far behind.
const subscriberBufferSize = 64

// EventBroker fans lifecycle events out to per-deployment subscribers.
// It is safe for concurrent use.
//
// Closed topics are retained as markers so a late subscriber to a finished
// deployment receives a closed channel instead of blocking forever. Because
// a name becomes reusable while the previous teardown is still winding
// down, topics carry a generation: a teardown closes the topic only if no
// newer deploy has reopened it in the meantime.
type EventBroker struct {
	mu     sync.Mutex
	topics map[string]*eventTopic
}

type eventTopic struct {
	subs   map[int]chan model.Event
	nextID int
	gen    int
	closed bool
}

// NewEventBroker creates an empty broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		topics: make(map[string]*eventTopic),
	}
}

// Open creates or reopens the topic for a deployment and returns its
// generation. The deploy that opened the topic hands the generation back to
// Close when its teardown finishes.
func (b *EventBroker) Open(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[name]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan model.Event)}
		b.topics[name] = t
	}
	t.gen++
	t.closed = false
	return t.gen
}

// Subscribe returns a channel that receives events for the given deployment
// and an unsubscribe function. If the deployment has already finished, the
// returned channel is immediately closed.
func (b *EventBroker) Subscribe(name string) (<-chan model.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[name]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan model.Event)}
		b.topics[name] = t
	}

	ch := make(chan model.Event, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends an event to all subscribers of the given deployment.
// Events are dropped for subscribers whose buffers are full.
func (b *EventBroker) Publish(name string, ev model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[name]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			// Drop for slow subscribers to avoid blocking lifecycle work.
		}
	}
}

// Close signals that no more events will be published for the generation
// that opened the topic. All subscriber channels are closed and future
// Subscribe calls return a closed channel. A stale generation is ignored:
// the name was redeployed and the new stream stays open.
func (b *EventBroker) Close(name string, gen int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[name]
	if !ok {
		b.topics[name] = &eventTopic{subs: make(map[int]chan model.Event), gen: gen, closed: true}
		return
	}
	if t.gen != gen {
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
