package journal

import (
	"sync"

	"github.com/antigravity-dev/chakravarti/internal/model"
)

// Bus is an in-process, bounded-channel pub/sub fan-out of JobEvents to
// live subscribers of the API's events(job_id) operation. It never blocks a
// publisher on a slow subscriber: a subscriber whose buffer is full simply
// misses events until it drains (the durable journal, not the Bus, is the
// source of truth for replay).
type Bus struct {
	mu   sync.Mutex
	subs map[string]map[int]chan model.JobEvent
	next int
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]chan model.JobEvent)}
}

// Subscribe returns a channel of jobID's future events and an unsubscribe
// function the caller must call when done listening. buffer sizes the
// channel; a buffer of 0 is treated as 1.
func (b *Bus) Subscribe(jobID string, buffer int) (<-chan model.JobEvent, func()) {
	if buffer <= 0 {
		buffer = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[int]chan model.JobEvent)
	}
	id := b.next
	b.next++
	ch := make(chan model.JobEvent, buffer)
	b.subs[jobID][id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.subs[jobID]; ok {
			if c, ok := subs[id]; ok {
				delete(subs, id)
				close(c)
			}
			if len(subs) == 0 {
				delete(b.subs, jobID)
			}
		}
	}
	return ch, unsubscribe
}

// Publish fans event out to every live subscriber of event.JobID. A
// subscriber with a full buffer is skipped rather than blocked.
func (b *Bus) Publish(event model.JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[event.JobID] {
		select {
		case ch <- event:
		default:
		}
	}
}
