package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	platformredis "bioattend/internal/platform/redis"
	id "bioattend/pkg/domain"
)

const channelPrefix = "attendance.schedule."

// RedisBridge extends a Hub across instances: publishes go to a Redis channel
// keyed by schedule, and a relay goroutine feeds inbound pub/sub messages
// into the local hub. With a single instance the bridge degrades to the hub's
// behavior plus one Redis round-trip.
type RedisBridge struct {
	hub      *Hub
	client   *platformredis.Client
	logger   *slog.Logger
	instance string
}

// NewRedisBridge wires a hub to Redis pub/sub. Call Run to start relaying.
func NewRedisBridge(hub *Hub, client *platformredis.Client, logger *slog.Logger) *RedisBridge {
	return &RedisBridge{
		hub:      hub,
		client:   client,
		logger:   logger,
		instance: uuid.NewString(),
	}
}

// wireEvent wraps an Event with the origin instance so the relay can skip
// messages this instance already delivered locally.
type wireEvent struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// Publish delivers locally first, then mirrors to Redis. Redis failures are
// logged and swallowed: remote observers miss the event, local ones do not,
// and the ledger operation is never failed.
func (b *RedisBridge) Publish(ctx context.Context, event Event) error {
	_ = b.hub.Publish(ctx, event)

	payload, err := json.Marshal(wireEvent{Origin: b.instance, Event: event})
	if err != nil {
		return nil
	}
	channel := channelPrefix + event.ScheduleID.String()
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		b.logger.WarnContext(ctx, "redis publish failed",
			"channel", channel,
			"error", err,
		)
	}
	return nil
}

// Subscribe delegates to the local hub.
func (b *RedisBridge) Subscribe(scheduleID id.ScheduleID) (<-chan Event, func()) {
	return b.hub.Subscribe(scheduleID)
}

// Run relays Redis pub/sub messages into the local hub until ctx is
// cancelled. Messages originating from this instance are skipped.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.relay(ctx, msg)
		}
	}
}

func (b *RedisBridge) relay(ctx context.Context, msg *goredis.Message) {
	var we wireEvent
	if err := json.Unmarshal([]byte(msg.Payload), &we); err != nil {
		b.logger.WarnContext(ctx, "discarding malformed bus message",
			"channel", msg.Channel,
			"error", err,
		)
		return
	}
	if we.Origin == b.instance {
		return
	}
	if we.Event.ScheduleID.IsNil() {
		// Recover the schedule from the channel name for older producers.
		raw := strings.TrimPrefix(msg.Channel, channelPrefix)
		if sid, err := id.ParseScheduleID(raw); err == nil {
			we.Event.ScheduleID = sid
		}
	}
	_ = b.hub.Publish(ctx, we.Event)
}
