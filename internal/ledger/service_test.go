package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"bioattend/internal/bus"
	"bioattend/internal/matcher"
	id "bioattend/pkg/domain"
	dErrors "bioattend/pkg/domain-errors"
	"bioattend/pkg/requestcontext"
)

// stubVerifier returns a canned matcher result; the matcher's own behavior
// is covered in its package.
type stubVerifier struct {
	mu     sync.Mutex
	result matcher.Result
	err    error
	calls  int
}

func (v *stubVerifier) Verify(_ context.Context, _ []byte, _ id.StudentID) (matcher.Result, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	return v.result, v.err
}

func (v *stubVerifier) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

// capturePublisher records published events, optionally failing every call.
type capturePublisher struct {
	mu     sync.Mutex
	events []bus.Event
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, event bus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) published() []bus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bus.Event(nil), p.events...)
}

type stubSnapshots struct {
	saved map[string][]byte
}

func (s *stubSnapshots) Save(_ context.Context, name string, image []byte) (string, error) {
	if s.saved == nil {
		s.saved = make(map[string][]byte)
	}
	s.saved[name] = image
	return "snapshots/" + name, nil
}

type LedgerServiceSuite struct {
	suite.Suite
	store     *InMemoryStore
	schedules *InMemoryScheduleStore
	verifier  *stubVerifier
	publisher *capturePublisher
	snapshots *stubSnapshots
	service   *Service

	studentID  id.StudentID
	scheduleID id.ScheduleID
	start      time.Time
}

func TestLedgerServiceSuite(t *testing.T) {
	suite.Run(t, new(LedgerServiceSuite))
}

func (s *LedgerServiceSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.schedules = NewInMemoryScheduleStore()
	s.verifier = &stubVerifier{result: matcher.Result{Verified: true, Confidence: 0.85}}
	s.publisher = &capturePublisher{}
	s.snapshots = &stubSnapshots{}

	var err error
	s.service, err = NewService(s.store, s.schedules, s.verifier, s.publisher, s.snapshots, nil, nil, 10*time.Minute)
	s.Require().NoError(err)

	s.studentID = id.StudentID(uuid.New())
	s.scheduleID = id.ScheduleID(uuid.New())
	s.start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	s.Require().NoError(s.schedules.Put(context.Background(), &SessionWindow{
		ScheduleID: s.scheduleID,
		Title:      "Operating Systems",
		Date:       DateOf(s.start),
		StartTime:  s.start,
		EndTime:    s.start.Add(2 * time.Hour),
	}))
}

// ctxAt pins the request clock so timing assertions are exact.
func (s *LedgerServiceSuite) ctxAt(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *LedgerServiceSuite) TestNewService() {
	s.Run("nil store returns error", func() {
		_, err := NewService(nil, s.schedules, s.verifier, s.publisher, nil, nil, nil, 0)
		s.Error(err)
		s.Contains(err.Error(), "record store is required")
	})

	s.Run("nil verifier returns error", func() {
		_, err := NewService(s.store, s.schedules, nil, s.publisher, nil, nil, nil, 0)
		s.Error(err)
		s.Contains(err.Error(), "verifier is required")
	})

	s.Run("nil snapshots is allowed", func() {
		svc, err := NewService(s.store, s.schedules, s.verifier, s.publisher, nil, nil, nil, 0)
		s.NoError(err)
		s.NotNil(svc)
	})
}

func (s *LedgerServiceSuite) TestClockIn() {
	s.Run("verified probe at 09:05 creates PRESENT record", func() {
		record, err := s.service.ClockIn(s.ctxAt(s.start.Add(5*time.Minute)), s.studentID, s.scheduleID, []byte("probe"))
		s.Require().NoError(err)
		s.Equal(StatusPresent, record.Status)
		s.Equal(StateOpen, record.State())
		s.Equal(s.start.Add(5*time.Minute), record.CheckInTime)
		s.Require().NotNil(record.ConfidenceScore)
		s.InDelta(0.85, *record.ConfidenceScore, 1e-9)
		s.False(record.IsManualOverride)

		events := s.publisher.published()
		s.Require().Len(events, 1)
		s.Equal(bus.EventClockIn, events[0].Type)
		s.Equal(s.scheduleID, events[0].ScheduleID)
	})

	s.Run("second clock-in returns already_clocked_in and existing record", func() {
		student := id.StudentID(uuid.New())
		first, err := s.service.ClockIn(s.ctxAt(s.start.Add(5*time.Minute)), student, s.scheduleID, []byte("probe"))
		s.Require().NoError(err)

		second, err := s.service.ClockIn(s.ctxAt(s.start.Add(6*time.Minute)), student, s.scheduleID, []byte("probe"))
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyClockedIn))
		s.Require().NotNil(second)
		s.Equal(first.ID, second.ID)
		s.Equal(first.CheckInTime, second.CheckInTime)
	})

	s.Run("unknown schedule returns session_not_found", func() {
		_, err := s.service.ClockIn(s.ctxAt(s.start), s.studentID, id.ScheduleID(uuid.New()), []byte("probe"))
		s.True(dErrors.HasCode(err, dErrors.CodeSessionNotFound))
	})

	s.Run("verification failure creates no record and carries confidence", func() {
		student := id.StudentID(uuid.New())
		before := len(s.publisher.published())
		s.verifier.result = matcher.Result{
			Verified:   false,
			Confidence: 0.45,
			Code:       dErrors.CodeLowConfidence,
			Message:    "Face similarity below threshold",
		}

		_, err := s.service.ClockIn(s.ctxAt(s.start.Add(5*time.Minute)), student, s.scheduleID, []byte("probe"))
		s.True(dErrors.HasCode(err, dErrors.CodeLowConfidence))

		var domainErr *dErrors.Error
		s.Require().ErrorAs(err, &domainErr)
		s.Require().NotNil(domainErr.Confidence)
		s.InDelta(0.45, *domainErr.Confidence, 1e-9)

		_, getErr := s.store.Get(context.Background(), Key{StudentID: student, ScheduleID: s.scheduleID, Date: DateOf(s.start)})
		s.Error(getErr, "failed verification must not leave a record")
		s.Len(s.publisher.published(), before, "failed verification must not publish")
	})

	s.Run("probe snapshot reference is stored", func() {
		s.verifier.result = matcher.Result{Verified: true, Confidence: 0.85}
		record, err := s.service.ClockIn(s.ctxAt(s.start), id.StudentID(uuid.New()), s.scheduleID, []byte("jpeg-bytes"))
		s.Require().NoError(err)
		s.Equal("snapshots/clock_in_"+record.ID.String()+".jpg", record.ProbeImageRef)
	})

	s.Run("publish failure does not fail the clock-in", func() {
		s.publisher.err = fmt.Errorf("bus down")
		record, err := s.service.ClockIn(s.ctxAt(s.start), id.StudentID(uuid.New()), s.scheduleID, []byte("probe"))
		s.NoError(err)
		s.NotNil(record)
	})
}

func (s *LedgerServiceSuite) TestLatenessBoundary() {
	s.Run("9m59s after start is PRESENT", func() {
		record, err := s.service.ClockIn(s.ctxAt(s.start.Add(9*time.Minute+59*time.Second)), s.studentID, s.scheduleID, []byte("probe"))
		s.Require().NoError(err)
		s.Equal(StatusPresent, record.Status)
	})

	s.Run("exactly 10m after start is LATE", func() {
		student := id.StudentID(uuid.New())
		record, err := s.service.ClockIn(s.ctxAt(s.start.Add(10*time.Minute)), student, s.scheduleID, []byte("probe"))
		s.Require().NoError(err)
		s.Equal(StatusLate, record.Status)
	})

	s.Run("schedule-specific threshold overrides the default", func() {
		scheduleID := id.ScheduleID(uuid.New())
		s.Require().NoError(s.schedules.Put(context.Background(), &SessionWindow{
			ScheduleID:    scheduleID,
			Date:          DateOf(s.start),
			StartTime:     s.start,
			EndTime:       s.start.Add(time.Hour),
			LateThreshold: 5 * time.Minute,
		}))

		record, err := s.service.ClockIn(s.ctxAt(s.start.Add(5*time.Minute)), s.studentID, scheduleID, []byte("probe"))
		s.Require().NoError(err)
		s.Equal(StatusLate, record.Status)
	})
}

func (s *LedgerServiceSuite) TestAdmissionWindow() {
	scheduleID := id.ScheduleID(uuid.New())
	s.Require().NoError(s.schedules.Put(context.Background(), &SessionWindow{
		ScheduleID:      scheduleID,
		Date:            DateOf(s.start),
		StartTime:       s.start,
		EndTime:         s.start.Add(time.Hour),
		ClockInOpensAt:  s.start.Add(-15 * time.Minute),
		ClockInClosesAt: s.start.Add(30 * time.Minute),
	}))

	s.Run("before the window opens is invalid_timing", func() {
		_, err := s.service.ClockIn(s.ctxAt(s.start.Add(-time.Hour)), s.studentID, scheduleID, []byte("probe"))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTiming))
		s.Zero(s.verifier.callCount(), "verification must not run outside the window")
	})

	s.Run("after the window closes is invalid_timing", func() {
		_, err := s.service.ClockIn(s.ctxAt(s.start.Add(31*time.Minute)), s.studentID, scheduleID, []byte("probe"))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTiming))
	})

	s.Run("inside the window succeeds", func() {
		_, err := s.service.ClockIn(s.ctxAt(s.start.Add(-10*time.Minute)), s.studentID, scheduleID, []byte("probe"))
		s.NoError(err)
	})
}

// TestConcurrentClockIn races many clock-in attempts on one key: exactly one
// record is created, every other caller gets already_clocked_in.
func (s *LedgerServiceSuite) TestConcurrentClockIn() {
	const attempts = 32

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.ClockIn(s.ctxAt(s.start.Add(time.Minute)), s.studentID, s.scheduleID, []byte("probe"))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case dErrors.HasCode(err, dErrors.CodeAlreadyClockedIn):
				conflicts++
			default:
				s.T().Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	s.Equal(1, successes)
	s.Equal(attempts-1, conflicts)

	records, err := s.store.ListBySchedule(context.Background(), s.scheduleID, DateOf(s.start))
	s.Require().NoError(err)
	s.Len(records, 1)
}

func (s *LedgerServiceSuite) TestClockOut() {
	s.Run("without prior clock-in returns not_clocked_in", func() {
		_, err := s.service.ClockOut(s.ctxAt(s.start.Add(time.Hour)), s.studentID, s.scheduleID, []byte("probe"))
		s.True(dErrors.HasCode(err, dErrors.CodeNotClockedIn))
	})

	s.Run("closes an open record and publishes clock_out", func() {
		_, err := s.service.ClockIn(s.ctxAt(s.start), s.studentID, s.scheduleID, []byte("probe"))
		s.Require().NoError(err)

		record, err := s.service.ClockOut(s.ctxAt(s.start.Add(time.Hour)), s.studentID, s.scheduleID, []byte("probe"))
		s.Require().NoError(err)
		s.Equal(StateClosed, record.State())
		s.Require().NotNil(record.CheckOutTime)
		s.Equal(s.start.Add(time.Hour), *record.CheckOutTime)

		events := s.publisher.published()
		s.Require().Len(events, 2)
		s.Equal(bus.EventClockOut, events[1].Type)
	})

	s.Run("second clock-out returns invalid_timing", func() {
		student := id.StudentID(uuid.New())
		_, err := s.service.ClockIn(s.ctxAt(s.start), student, s.scheduleID, []byte("probe"))
		s.Require().NoError(err)
		_, err = s.service.ClockOut(s.ctxAt(s.start.Add(time.Hour)), student, s.scheduleID, []byte("probe"))
		s.Require().NoError(err)

		_, err = s.service.ClockOut(s.ctxAt(s.start.Add(2*time.Hour)), student, s.scheduleID, []byte("probe"))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTiming))
	})

	s.Run("clock-out not after clock-in is invalid_timing", func() {
		student := id.StudentID(uuid.New())
		_, err := s.service.ClockIn(s.ctxAt(s.start), student, s.scheduleID, []byte("probe"))
		s.Require().NoError(err)

		_, err = s.service.ClockOut(s.ctxAt(s.start), student, s.scheduleID, []byte("probe"))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTiming))
	})

	s.Run("re-verification failure leaves the record open", func() {
		student := id.StudentID(uuid.New())
		_, err := s.service.ClockIn(s.ctxAt(s.start), student, s.scheduleID, []byte("probe"))
		s.Require().NoError(err)

		s.verifier.result = matcher.Result{Verified: false, Confidence: 0.3, Code: dErrors.CodeLowConfidence, Message: "Face similarity below threshold"}
		_, err = s.service.ClockOut(s.ctxAt(s.start.Add(time.Hour)), student, s.scheduleID, []byte("probe"))
		s.True(dErrors.HasCode(err, dErrors.CodeLowConfidence))

		record, err := s.service.GetStatus(s.ctxAt(s.start.Add(time.Hour)), student, s.scheduleID)
		s.Require().NoError(err)
		s.Equal(StateOpen, record.State())
	})
}

func (s *LedgerServiceSuite) TestClockInManual() {
	actor := id.UserID(uuid.New())

	s.Run("creates override record pinned to session start", func() {
		record, err := s.service.ClockInManual(s.ctxAt(s.start.Add(20*time.Minute)), s.studentID, s.scheduleID, "forgot glasses", actor)
		s.Require().NoError(err)
		s.Equal(StatusPresent, record.Status)
		s.Equal(s.start, record.CheckInTime)
		s.True(record.IsManualOverride)
		s.Equal("forgot glasses", record.OverrideReason)
		s.Require().NotNil(record.OverrideActor)
		s.Equal(actor, *record.OverrideActor)
		s.Nil(record.ConfidenceScore)
		s.Zero(s.verifier.callCount(), "manual path must bypass the matcher")

		events := s.publisher.published()
		s.Require().Len(events, 1)
		s.Equal(bus.EventManualClockInApproved, events[0].Type)
	})

	s.Run("duplicate manual clock-in returns already_clocked_in", func() {
		student := id.StudentID(uuid.New())
		_, err := s.service.ClockInManual(s.ctxAt(s.start), student, s.scheduleID, "", actor)
		s.Require().NoError(err)

		_, err = s.service.ClockInManual(s.ctxAt(s.start), student, s.scheduleID, "", actor)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyClockedIn))
	})
}

func (s *LedgerServiceSuite) TestGetStatus() {
	s.Run("no record reports nil", func() {
		record, err := s.service.GetStatus(s.ctxAt(s.start), s.studentID, s.scheduleID)
		s.NoError(err)
		s.Nil(record)
	})

	s.Run("open record reports stored check-in time", func() {
		created, err := s.service.ClockIn(s.ctxAt(s.start.Add(5*time.Minute)), s.studentID, s.scheduleID, []byte("probe"))
		s.Require().NoError(err)

		record, err := s.service.GetStatus(s.ctxAt(s.start.Add(time.Hour)), s.studentID, s.scheduleID)
		s.Require().NoError(err)
		s.Equal(StateOpen, record.State())
		s.Equal(created.CheckInTime, record.CheckInTime)
	})
}

func (s *LedgerServiceSuite) TestListSchedule() {
	other := id.StudentID(uuid.New())
	_, err := s.service.ClockIn(s.ctxAt(s.start.Add(time.Minute)), s.studentID, s.scheduleID, []byte("probe"))
	s.Require().NoError(err)
	_, err = s.service.ClockIn(s.ctxAt(s.start.Add(2*time.Minute)), other, s.scheduleID, []byte("probe"))
	s.Require().NoError(err)

	records, err := s.service.ListSchedule(s.ctxAt(s.start.Add(time.Hour)), s.scheduleID)
	s.Require().NoError(err)
	s.Require().Len(records, 2)
	s.Equal(s.studentID, records[0].StudentID, "records ordered by check-in time")
	s.Equal(other, records[1].StudentID)
}
