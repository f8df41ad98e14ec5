// Package bus fans ledger mutations and manual-request events out to live
// observers subscribed to a schedule's channel.
//
// Delivery is best-effort and at-most-once: there is no replay buffer, and a
// subscriber that connects after an event was published will not receive it
// retroactively. Observers pull current state through the ledger's read
// endpoints on connect.
package bus

import (
	"context"
	"encoding/json"
	"time"

	id "bioattend/pkg/domain"
)

// EventType is the closed set of event kinds carried on a schedule channel.
type EventType string

const (
	EventConnectionEstablished EventType = "connection_established"
	EventClockIn               EventType = "clock_in"
	EventClockOut              EventType = "clock_out"
	EventManualClockInRequest  EventType = "manual_clock_in_request"
	EventManualClockInApproved EventType = "manual_clock_in_approved"
)

// Event is the envelope delivered to every subscriber of a schedule channel.
// Payload is one of the typed payload structs below, chosen by Type.
type Event struct {
	Type       EventType     `json:"type"`
	ScheduleID id.ScheduleID `json:"session_id"`
	Payload    any           `json:"payload,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// ConnectionPayload accompanies the connection_established event.
type ConnectionPayload struct {
	Message string `json:"message"`
}

// LedgerMutationPayload accompanies clock_in, clock_out, and
// manual_clock_in_approved events.
type LedgerMutationPayload struct {
	RecordID         string   `json:"record_id"`
	StudentID        string   `json:"student_id"`
	Status           string   `json:"status"`
	CheckInTime      string   `json:"check_in_time,omitempty"`
	CheckOutTime     string   `json:"check_out_time,omitempty"`
	ConfidenceScore  *float64 `json:"confidence_score,omitempty"`
	IsManualOverride bool     `json:"is_manual_override,omitempty"`
}

// ManualRequestPayload accompanies manual_clock_in_request events. The
// request itself is ephemeral: it exists only inside this envelope.
type ManualRequestPayload struct {
	StudentID   string    `json:"student_id"`
	Reason      string    `json:"reason,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// Marshal encodes the event for wire transports (WebSocket, SSE, Redis).
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher is the write side of the bus. Publish must not block on slow
// subscribers; failures are non-fatal to the operation that produced the
// event.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Subscriber is the read side. Subscribe registers a new observer for a
// schedule channel and returns its event channel plus a cancel function.
// Cancel is idempotent; dropping the connection is a silent unsubscribe.
type Subscriber interface {
	Subscribe(scheduleID id.ScheduleID) (<-chan Event, func())
}

// Bus combines both sides for transports that need them together.
type Bus interface {
	Publisher
	Subscriber
}

// MultiPublisher fans a publish out to several backends (local hub, Kafka).
// Errors from individual backends are collected but do not stop the others.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, event Event) error {
	var firstErr error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
