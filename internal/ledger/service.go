// Package ledger is the authoritative store of attendance state transitions
// and the state machine guarding them: at most one record per
// (student, schedule, date), safe under concurrent clock-in attempts.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bioattend/internal/bus"
	"bioattend/internal/matcher"
	"bioattend/internal/platform/metrics"
	id "bioattend/pkg/domain"
	dErrors "bioattend/pkg/domain-errors"
	"bioattend/pkg/platform/sentinel"
	"bioattend/pkg/requestcontext"
)

var tracer = otel.Tracer("bioattend/ledger")

// Verifier is the identity verification contract the ledger consumes. The
// call is latency-heavy; the service always completes it before entering the
// store's atomic section and never holds a record-level lock across it.
type Verifier interface {
	Verify(ctx context.Context, probe []byte, studentID id.StudentID) (matcher.Result, error)
}

// SnapshotStore persists probe images for audit. Persistence is owned here,
// by the caller of the matcher, so the matcher stays stateless.
type SnapshotStore interface {
	Save(ctx context.Context, name string, image []byte) (string, error)
}

// Service orchestrates clock-in and clock-out against the record store.
type Service struct {
	store     Store
	schedules ScheduleStore
	verifier  Verifier
	publisher bus.Publisher
	snapshots SnapshotStore // optional
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// lateThreshold applies when the session window carries none.
	lateThreshold time.Duration
}

// NewService wires the ledger. snapshots may be nil (audit snapshots
// disabled); everything else is required.
func NewService(
	store Store,
	schedules ScheduleStore,
	verifier Verifier,
	publisher bus.Publisher,
	snapshots SnapshotStore,
	m *metrics.Metrics,
	logger *slog.Logger,
	lateThreshold time.Duration,
) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if schedules == nil {
		return nil, fmt.Errorf("schedule store is required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("verifier is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("event publisher is required")
	}
	if lateThreshold <= 0 {
		lateThreshold = 10 * time.Minute
	}
	return &Service{
		store:         store,
		schedules:     schedules,
		verifier:      verifier,
		publisher:     publisher,
		snapshots:     snapshots,
		metrics:       m,
		logger:        logger,
		lateThreshold: lateThreshold,
	}, nil
}

// ClockIn verifies the probe against the student's enrolled template and
// records the check-in. Exactly one record is created per key even when
// calls race; losers get already_clocked_in. A matcher failure or a timeout
// before the insert leaves no partial state because the insert is a single
// atomic step.
func (s *Service) ClockIn(ctx context.Context, studentID id.StudentID, scheduleID id.ScheduleID, probe []byte) (*Record, error) {
	ctx, span := tracer.Start(ctx, "ledger.ClockIn",
		trace.WithAttributes(attribute.String("schedule_id", scheduleID.String())))
	defer span.End()

	window, err := s.resolveWindow(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	key := Key{StudentID: studentID, ScheduleID: scheduleID, Date: DateOf(now)}

	// Fast-fail before paying for verification. The atomic insert below is
	// what actually guarantees uniqueness; this read only saves work.
	if existing, err := s.store.Get(ctx, key); err == nil {
		return existing, s.alreadyClockedIn(existing)
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, fmt.Errorf("read attendance record: %w", err)
	}

	if err := s.checkAdmissionWindow(window, now); err != nil {
		return nil, err
	}

	result, err := s.verifier.Verify(ctx, probe, studentID)
	if err != nil {
		return nil, fmt.Errorf("verify identity: %w", err)
	}
	if !result.Verified {
		s.countVerificationFailure(result.Code)
		return nil, result.Err()
	}

	record := &Record{
		ID:          id.NewRecordID(),
		StudentID:   studentID,
		ScheduleID:  scheduleID,
		Date:        key.Date,
		Status:      s.statusFor(window, now),
		CheckInTime: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	confidence := result.Confidence
	record.ConfidenceScore = &confidence
	record.ProbeImageRef = s.saveSnapshot(ctx, record.ID, "clock_in", probe)

	if err := s.store.CreateIfAbsent(ctx, record); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Lost the race: surface the winner's record.
			if existing, getErr := s.store.Get(ctx, key); getErr == nil {
				return existing, s.alreadyClockedIn(existing)
			}
			return nil, dErrors.New(dErrors.CodeAlreadyClockedIn, "Already clocked in")
		}
		return nil, fmt.Errorf("create attendance record: %w", err)
	}

	if s.metrics != nil {
		s.metrics.ClockIns.WithLabelValues(string(record.Status)).Inc()
	}
	s.publish(ctx, bus.EventClockIn, record)
	return record, nil
}

// ClockOut re-verifies the identity, then closes the OPEN record for today.
// Re-verification on clock-out is deliberate: an unattended session must not
// be closable by anyone but the enrolled student.
func (s *Service) ClockOut(ctx context.Context, studentID id.StudentID, scheduleID id.ScheduleID, probe []byte) (*Record, error) {
	ctx, span := tracer.Start(ctx, "ledger.ClockOut",
		trace.WithAttributes(attribute.String("schedule_id", scheduleID.String())))
	defer span.End()

	if _, err := s.resolveWindow(ctx, scheduleID); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	key := Key{StudentID: studentID, ScheduleID: scheduleID, Date: DateOf(now)}

	record, err := s.store.Get(ctx, key)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotClockedIn, "Cannot clock out without clocking in first")
	}
	if err != nil {
		return nil, fmt.Errorf("read attendance record: %w", err)
	}
	if record.State() == StateClosed {
		return nil, dErrors.New(dErrors.CodeInvalidTiming, "Already clocked out")
	}

	result, err := s.verifier.Verify(ctx, probe, studentID)
	if err != nil {
		return nil, fmt.Errorf("verify identity: %w", err)
	}
	if !result.Verified {
		s.countVerificationFailure(result.Code)
		return nil, result.Err()
	}

	// check_out must be strictly later than check_in; clock skew that would
	// invert the pair is rejected rather than clamped.
	if !now.After(record.CheckInTime) {
		return nil, dErrors.New(dErrors.CodeInvalidTiming, "Clock-out time must be after clock-in time")
	}

	checkOut := now
	record.CheckOutTime = &checkOut
	record.UpdatedAt = now
	if ref := s.saveSnapshot(ctx, record.ID, "clock_out", probe); ref != "" {
		record.ProbeImageRef = ref
	}

	if err := s.store.SetCheckOut(ctx, key, record); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotClockedIn, "Cannot clock out without clocking in first")
		case errors.Is(err, sentinel.ErrInvalidState):
			return nil, dErrors.New(dErrors.CodeInvalidTiming, "Already clocked out")
		default:
			return nil, fmt.Errorf("close attendance record: %w", err)
		}
	}

	if s.metrics != nil {
		s.metrics.ClockOuts.Inc()
	}
	s.publish(ctx, bus.EventClockOut, record)
	return record, nil
}

// ClockInManual records attendance through the approved override path: no
// probe, no confidence score, check-in pinned to the session start.
func (s *Service) ClockInManual(ctx context.Context, studentID id.StudentID, scheduleID id.ScheduleID, reason string, actor id.UserID) (*Record, error) {
	ctx, span := tracer.Start(ctx, "ledger.ClockInManual",
		trace.WithAttributes(attribute.String("schedule_id", scheduleID.String())))
	defer span.End()

	window, err := s.resolveWindow(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	record := &Record{
		ID:               id.NewRecordID(),
		StudentID:        studentID,
		ScheduleID:       scheduleID,
		Date:             DateOf(now),
		Status:           StatusPresent,
		CheckInTime:      window.StartTime,
		IsManualOverride: true,
		OverrideReason:   reason,
		OverrideActor:    &actor,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if record.CheckInTime.IsZero() {
		record.CheckInTime = now
	}

	if err := s.store.CreateIfAbsent(ctx, record); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeAlreadyClockedIn, "Already clocked in")
		}
		return nil, fmt.Errorf("create attendance record: %w", err)
	}

	if s.metrics != nil {
		s.metrics.ClockIns.WithLabelValues(string(record.Status)).Inc()
	}
	s.publish(ctx, bus.EventManualClockInApproved, record)
	return record, nil
}

// GetStatus is a pure read: the record for (student, schedule, today), or
// nil when none exists. Never mutates.
func (s *Service) GetStatus(ctx context.Context, studentID id.StudentID, scheduleID id.ScheduleID) (*Record, error) {
	if _, err := s.resolveWindow(ctx, scheduleID); err != nil {
		return nil, err
	}

	key := Key{StudentID: studentID, ScheduleID: scheduleID, Date: DateOf(requestcontext.Now(ctx))}
	record, err := s.store.Get(ctx, key)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read attendance record: %w", err)
	}
	return record, nil
}

// ListSchedule returns all records for a schedule on the current date, for
// supervisor views that pull state on stream connect.
func (s *Service) ListSchedule(ctx context.Context, scheduleID id.ScheduleID) ([]*Record, error) {
	if _, err := s.resolveWindow(ctx, scheduleID); err != nil {
		return nil, err
	}
	return s.store.ListBySchedule(ctx, scheduleID, DateOf(requestcontext.Now(ctx)))
}

func (s *Service) resolveWindow(ctx context.Context, scheduleID id.ScheduleID) (*SessionWindow, error) {
	window, err := s.schedules.Get(ctx, scheduleID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeSessionNotFound, "Schedule not found")
	}
	if err != nil {
		return nil, fmt.Errorf("resolve schedule: %w", err)
	}
	return window, nil
}

func (s *Service) checkAdmissionWindow(window *SessionWindow, now time.Time) error {
	if !window.ClockInOpensAt.IsZero() && now.Before(window.ClockInOpensAt) {
		return dErrors.New(dErrors.CodeInvalidTiming, "Clock-in window has not opened yet")
	}
	if !window.ClockInClosesAt.IsZero() && now.After(window.ClockInClosesAt) {
		return dErrors.New(dErrors.CodeInvalidTiming, "Clock-in window has closed")
	}
	return nil
}

// statusFor computes lateness strictly from the session's declared start
// time. The boundary is inclusive: a check-in exactly at start + threshold
// is LATE.
func (s *Service) statusFor(window *SessionWindow, checkIn time.Time) Status {
	threshold := window.LateThreshold
	if threshold <= 0 {
		threshold = s.lateThreshold
	}
	if window.StartTime.IsZero() {
		return StatusPresent
	}
	if !checkIn.Before(window.StartTime.Add(threshold)) {
		return StatusLate
	}
	return StatusPresent
}

func (s *Service) alreadyClockedIn(existing *Record) error {
	msg := "Already clocked in"
	if existing.State() == StateClosed {
		msg = "Already clocked in and out for this session"
	}
	return dErrors.New(dErrors.CodeAlreadyClockedIn, msg)
}

func (s *Service) countVerificationFailure(code dErrors.Code) {
	if s.metrics != nil {
		s.metrics.VerificationFailures.WithLabelValues(string(code)).Inc()
	}
}

func (s *Service) saveSnapshot(ctx context.Context, recordID id.RecordID, kind string, probe []byte) string {
	if s.snapshots == nil || len(probe) == 0 {
		return ""
	}
	ref, err := s.snapshots.Save(ctx, fmt.Sprintf("%s_%s.jpg", kind, recordID), probe)
	if err != nil {
		// Audit snapshot loss is never fatal to the attendance outcome.
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to save probe snapshot",
				"record_id", recordID.String(),
				"error", err,
			)
		}
		return ""
	}
	return ref
}

// publish fans the mutation out to observers. Failure to publish is logged
// and swallowed: a slow or unavailable bus must never fail the clock-in.
func (s *Service) publish(ctx context.Context, eventType bus.EventType, record *Record) {
	event := bus.Event{
		Type:       eventType,
		ScheduleID: record.ScheduleID,
		Timestamp:  requestcontext.Now(ctx),
		Payload:    mutationPayload(record),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to publish ledger event",
				"type", string(eventType),
				"schedule_id", record.ScheduleID.String(),
				"error", err,
			)
		}
		return
	}
	if s.metrics != nil {
		s.metrics.EventsPublished.WithLabelValues(string(eventType)).Inc()
	}
}

func mutationPayload(record *Record) bus.LedgerMutationPayload {
	payload := bus.LedgerMutationPayload{
		RecordID:         record.ID.String(),
		StudentID:        record.StudentID.String(),
		Status:           string(record.Status),
		CheckInTime:      record.CheckInTime.Format("15:04:05"),
		ConfidenceScore:  record.ConfidenceScore,
		IsManualOverride: record.IsManualOverride,
	}
	if record.CheckOutTime != nil {
		payload.CheckOutTime = record.CheckOutTime.Format("15:04:05")
	}
	return payload
}
