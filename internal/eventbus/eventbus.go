// Package eventbus fans storage-write events out to subscribers. It is
// multi-subscriber, bounded, and lossy for slow consumers — a full
// subscriber queue drops the event and increments a counter rather
// than blocking the writer (spec §4.7).
//
// Generalized from the teacher's internal/notify.Service, which
// dispatches one Event to N registered channel drivers; here the
// "drivers" become per-subscriber buffered channels and dispatch never
// blocks on a slow one.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ocentra/tabagentd/pkg/ids"
	"github.com/ocentra/tabagentd/pkg/models"
)

// Kind is the event discriminant from §4.7.
type Kind string

const (
	NodeCreated Kind = "NodeCreated"
	NodeUpdated Kind = "NodeUpdated"
	NodeDeleted Kind = "NodeDeleted"
	EdgeCreated Kind = "EdgeCreated"
	EdgeDeleted Kind = "EdgeDeleted"
)

// Event is one storage-write notification. CauseChainDepth is
// monotonically increasing per derived event, bounding enrichment
// recursion per §9's "no cycles" design note.
type Event struct {
	Kind            Kind
	NodeID          ids.NodeId
	NodeType        models.NodeType
	Tier            models.Tier
	Family          models.Family
	EdgeID          ids.EdgeId
	CauseChainDepth int
	At              time.Time
}

const subscriberQueueDepth = 256

// Bus is a multi-subscriber, bounded, lossy-for-slow-consumers event
// fan-out.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[chan Event]*subscriberStats
}

type subscriberStats struct {
	dropped atomic.Int64
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[chan Event]*subscriberStats)}
}

// Subscribe registers a new subscriber, returning its event channel and
// a function to unsubscribe and close it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberQueueDepth)
	stats := &subscriberStats{}

	b.mu.Lock()
	b.subscribers[ch] = stats
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subscribers, ch)
		b.mu.Unlock()
		close(ch)
	}
	return ch, unsubscribe
}

// Publish fans out ev to every subscriber. Never blocks: a subscriber
// whose queue is full drops the event and its counter increments
// (spec §4.7, §8 "its drop counter increases by ≥ 1").
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, stats := range b.subscribers {
		select {
		case ch <- ev:
		default:
			stats.dropped.Add(1)
		}
	}
}

// DroppedCounts returns the number of subscribers and a summed drop
// count; no route reports it.
func (b *Bus) DroppedCounts() (subscribers int, totalDropped int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, stats := range b.subscribers {
		totalDropped += stats.dropped.Load()
	}
	return len(b.subscribers), totalDropped
}
