// Package override implements the manual clock-in workflow: a student asks
// for attendance without biometric proof, the session's supervisor sees the
// request in real time and either approves it or lets it die.
//
// Requests are ephemeral. They exist only inside the notification envelope:
// approval resolves into a ledger record, dismissal is a client-side
// acknowledgement with no backend call and no persisted trace.
package override

import (
	"context"
	"fmt"
	"log/slog"

	"bioattend/internal/bus"
	"bioattend/internal/ledger"
	"bioattend/internal/platform/metrics"
	id "bioattend/pkg/domain"
	dErrors "bioattend/pkg/domain-errors"
	"bioattend/pkg/requestcontext"
)

// Ledger is the slice of the attendance ledger this workflow needs.
type Ledger interface {
	GetStatus(ctx context.Context, studentID id.StudentID, scheduleID id.ScheduleID) (*ledger.Record, error)
	ClockInManual(ctx context.Context, studentID id.StudentID, scheduleID id.ScheduleID, reason string, actor id.UserID) (*ledger.Record, error)
}

// Service routes manual requests to the session channel and turns approvals
// into ledger records.
type Service struct {
	ledger    Ledger
	publisher bus.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewService(l Ledger, publisher bus.Publisher, m *metrics.Metrics, logger *slog.Logger) (*Service, error) {
	if l == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("event publisher is required")
	}
	return &Service{ledger: l, publisher: publisher, metrics: m, logger: logger}, nil
}

// Request publishes a manual_clock_in_request event on the schedule's
// channel. It rejects immediately, without publishing, when the ledger
// already has a record for this key. It does not block waiting for a
// response and creates no state.
func (s *Service) Request(ctx context.Context, studentID id.StudentID, scheduleID id.ScheduleID, reason string) error {
	record, err := s.ledger.GetStatus(ctx, studentID, scheduleID)
	if err != nil {
		return err
	}
	if record != nil {
		return dErrors.New(dErrors.CodeAlreadyClockedIn, "Already clocked in")
	}

	now := requestcontext.Now(ctx)
	event := bus.Event{
		Type:       bus.EventManualClockInRequest,
		ScheduleID: scheduleID,
		Timestamp:  now,
		Payload: bus.ManualRequestPayload{
			StudentID:   studentID.String(),
			Reason:      reason,
			RequestedAt: now,
		},
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		// Nobody heard the request; unlike ledger mutations this is the
		// operation's whole effect, so surface the failure.
		return fmt.Errorf("publish manual request: %w", err)
	}

	if s.metrics != nil {
		s.metrics.ManualRequests.Inc()
		s.metrics.EventsPublished.WithLabelValues(string(bus.EventManualClockInRequest)).Inc()
	}
	return nil
}

// Approve records attendance through the ledger's override path. The caller
// has already been authorized as the session's supervisor; approver is
// stamped onto the record as the override actor.
func (s *Service) Approve(ctx context.Context, approver id.UserID, studentID id.StudentID, scheduleID id.ScheduleID, reason string) (*ledger.Record, error) {
	record, err := s.ledger.ClockInManual(ctx, studentID, scheduleID, reason, approver)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ManualApprovals.Inc()
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "manual clock-in approved",
			"student_id", studentID.String(),
			"schedule_id", scheduleID.String(),
			"approver", approver.String(),
		)
	}
	return record, nil
}
