package txengine

import (
	"sync"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
)

// EventType identifies a lifecycle notification.
type EventType string

const (
	// EventSubmitted fires once a record reaches SUBMITTED.
	EventSubmitted EventType = "submitted"
	// EventConfirmed fires when the reconciler marks a record CONFIRMED.
	EventConfirmed EventType = "confirmed"
	// EventFinished fires when a record reaches a terminal state.
	EventFinished EventType = "finished"
	// EventCancellation fires when a cancel replacement is created.
	EventCancellation EventType = "cancellation"
	// EventSpeedup fires when a speed-up replacement is created.
	EventSpeedup EventType = "speedup"
	// EventStatusUpdate fires on every status change of any record.
	EventStatusUpdate EventType = "status-update"
)

// Event is a lifecycle notification for a single record.
type Event struct {
	Type     EventType
	RecordID string
	Status   TransactionStatus
	Hash     common.Hash
	Record   *TransactionRecord
}

type subscriber struct {
	ch     chan Event
	topics map[EventType]struct{} // nil means all topics
}

// Hub is the publish/subscribe fan-out for transaction lifecycle events. It
// is owned by the engine and injected into collaborators that need to watch
// status changes, instead of any ambient global bus.
type Hub struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	next uint64
}

// NewHub creates an empty event hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*subscriber)}
}

// Subscribe registers for the given event types, or for all events when none
// are given. The returned cancel function unregisters and closes the channel;
// it is safe to call more than once.
func (h *Hub) Subscribe(topics ...EventType) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, 64)}
	if len(topics) > 0 {
		sub.topics = make(map[EventType]struct{}, len(topics))
		for _, t := range topics {
			sub.topics[t] = struct{}{}
		}
	}

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish fans the event out to all matching subscribers. Delivery is
// non-blocking: a subscriber that stops draining its channel loses events
// rather than stalling the engine.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if sub.topics != nil {
			if _, ok := sub.topics[ev.Type]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- ev:
		default:
			logger.WithFields(logger.Fields{
				"event":     string(ev.Type),
				"record_id": ev.RecordID,
			}).Warn("event subscriber channel full, dropping event")
		}
	}
}
