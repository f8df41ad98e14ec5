package bus

import (
	"context"
	"sync"

	"bioattend/internal/platform/metrics"
	id "bioattend/pkg/domain"
)

const subscriberBuffer = 32

// Hub is the in-process fanout: a per-schedule registry of subscriber
// channels. Publishes never block; when a subscriber's buffer is full the
// event is dropped for that subscriber and counted, so a stalled observer
// can never delay a clock-in response.
//
// Per-channel ordering matches publish order for events originating from this
// instance; cross-subscriber global ordering is not guaranteed.
type Hub struct {
	mu      sync.RWMutex
	subs    map[id.ScheduleID]map[*subscription]struct{}
	metrics *metrics.Metrics
}

type subscription struct {
	ch     chan Event
	once   sync.Once
	cancel func()
}

// NewHub creates an empty hub. Metrics may be nil in tests.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		subs:    make(map[id.ScheduleID]map[*subscription]struct{}),
		metrics: m,
	}
}

// Subscribe registers an observer for a schedule channel. The returned cancel
// removes the subscription and closes the channel; it is safe to call more
// than once.
func (h *Hub) Subscribe(scheduleID id.ScheduleID) (<-chan Event, func()) {
	sub := &subscription{ch: make(chan Event, subscriberBuffer)}
	sub.cancel = func() {
		sub.once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[scheduleID]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(h.subs, scheduleID)
				}
			}
			h.mu.Unlock()
			close(sub.ch)
			if h.metrics != nil {
				h.metrics.StreamSubscribers.Dec()
			}
		})
	}

	h.mu.Lock()
	set, ok := h.subs[scheduleID]
	if !ok {
		set = make(map[*subscription]struct{})
		h.subs[scheduleID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.StreamSubscribers.Inc()
	}
	return sub.ch, sub.cancel
}

// Publish delivers the event to every current subscriber of its schedule
// channel. Never returns an error; a full subscriber buffer drops the event
// for that subscriber only.
func (h *Hub) Publish(_ context.Context, event Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[event.ScheduleID] {
		select {
		case sub.ch <- event:
		default:
			if h.metrics != nil {
				h.metrics.EventsDropped.Inc()
			}
		}
	}
	return nil
}

// SubscriberCount reports live subscribers for a schedule. Used by tests and
// the health endpoint.
func (h *Hub) SubscriberCount(scheduleID id.ScheduleID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[scheduleID])
}
