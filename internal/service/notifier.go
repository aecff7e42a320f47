package service

import (
	"sync"
	"time"

	"github.com/Guizzs26/hff-sync/internal/models"
	"github.com/Guizzs26/hff-sync/pkg/metrics"
)

const DefaultSubscriberBuffer = 16

// Notifier fans sync events out to any number of subscribers.
// Publishing never blocks: a subscriber whose buffer is full misses the event.
type Notifier struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan models.SyncEvent
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan models.SyncEvent)}
}

// Subscribe returns a receive channel and a cancel func that closes it
func (n *Notifier) Subscribe(buffer int) (<-chan models.SyncEvent, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan models.SyncEvent, buffer)

	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = ch
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish stamps the event and delivers it to every subscriber that has room
func (n *Notifier) Publish(ev models.SyncEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, ch := range n.subs {
		select {
		case ch <- ev:
		default:
			metrics.EventsDropped.Inc()
		}
	}
}

// Subscribers returns the number of active subscriptions
func (n *Notifier) Subscribers() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}
