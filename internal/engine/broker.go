package engine

import "sync"

// Orchestration phases carried on progress events.
const (
	PhaseHazard   = "hazard"
	PhaseRisk     = "risk"
	PhaseImport   = "import"
	PhaseComplete = "complete"
	PhaseFailed   = "failed"
)

// Event is one progress update from a calculation run. Phase names the
// orchestration stage that produced it.
type Event struct {
	Phase   string `json:"phase"`
	Message string `json:"message"`
}

// subscriberBufferSize is the channel buffer for each progress subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// ProgressBroker fans orchestration progress events out to per-calculation
// subscribers. It is safe for concurrent use.
//
// Closed topics are retained as markers so that late subscribers (those
// subscribing after a run finishes) receive a closed channel instead of
// blocking forever. Each marker is a few bytes, which is acceptable for the
// expected calculation volume.
type ProgressBroker struct {
	mu     sync.Mutex
	topics map[string]*progressTopic
}

type progressTopic struct {
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewProgressBroker creates a new progress broker.
func NewProgressBroker() *ProgressBroker {
	return &ProgressBroker{
		topics: make(map[string]*progressTopic),
	}
}

// Subscribe returns a channel that receives progress events for the given
// calculation and an unsubscribe function. If the run has already finished
// (Close was called), the returned channel is immediately closed.
func (b *ProgressBroker) Subscribe(calculationID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[calculationID]
	if !ok {
		t = &progressTopic{subs: make(map[int]chan Event)}
		b.topics[calculationID] = t
	}

	ch := make(chan Event, subscriberBufferSize)
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

// Publish sends a progress event to all subscribers of the given calculation.
// Events are dropped for subscribers whose buffers are full.
func (b *ProgressBroker) Publish(calculationID string, event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[calculationID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- event:
		default:
			// Drop the event for slow subscribers to avoid blocking the run.
		}
	}
}

// Close signals that no more events will be published for the given
// calculation. All subscriber channels are closed and future Subscribe calls
// return a closed channel.
func (b *ProgressBroker) Close(calculationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[calculationID]
	if !ok {
		// Create a closed marker so late subscribers get a closed channel.
		b.topics[calculationID] = &progressTopic{subs: make(map[int]chan Event), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
