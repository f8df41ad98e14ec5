package handler

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"bioattend/internal/ledger"
	id "bioattend/pkg/domain"
	dErrors "bioattend/pkg/domain-errors"
	"bioattend/pkg/requestcontext"
	"bioattend/pkg/testutil"
)

// stubLedger scripts ledger outcomes and records the probe bytes it saw.
type stubLedger struct {
	record    *ledger.Record
	err       error
	lastProbe []byte
}

func (s *stubLedger) ClockIn(_ context.Context, _ id.StudentID, _ id.ScheduleID, probe []byte) (*ledger.Record, error) {
	s.lastProbe = probe
	return s.record, s.err
}

func (s *stubLedger) ClockOut(_ context.Context, _ id.StudentID, _ id.ScheduleID, probe []byte) (*ledger.Record, error) {
	s.lastProbe = probe
	return s.record, s.err
}

func (s *stubLedger) GetStatus(context.Context, id.StudentID, id.ScheduleID) (*ledger.Record, error) {
	return s.record, s.err
}

func (s *stubLedger) ListSchedule(context.Context, id.ScheduleID) ([]*ledger.Record, error) {
	if s.record == nil {
		return nil, s.err
	}
	return []*ledger.Record{s.record}, s.err
}

type stubOverride struct {
	record     *ledger.Record
	requestErr error
	approveErr error
	approver   id.UserID
}

func (s *stubOverride) Request(context.Context, id.StudentID, id.ScheduleID, string) error {
	return s.requestErr
}

func (s *stubOverride) Approve(_ context.Context, approver id.UserID, _ id.StudentID, _ id.ScheduleID, _ string) (*ledger.Record, error) {
	s.approver = approver
	return s.record, s.approveErr
}

type AttendanceHandlerSuite struct {
	suite.Suite
	ledger   *stubLedger
	override *stubOverride
	router   chi.Router

	studentID  id.StudentID
	scheduleID id.ScheduleID
	start      time.Time
}

func TestAttendanceHandlerSuite(t *testing.T) {
	suite.Run(t, new(AttendanceHandlerSuite))
}

func (s *AttendanceHandlerSuite) SetupTest() {
	s.ledger = &stubLedger{}
	s.override = &stubOverride{}
	s.router = chi.NewRouter()
	New(s.ledger, s.override, slog.New(slog.DiscardHandler)).Register(s.router)

	s.studentID = id.StudentID(uuid.New())
	s.scheduleID = id.ScheduleID(uuid.New())
	s.start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
}

func (s *AttendanceHandlerSuite) openRecord(status ledger.Status) *ledger.Record {
	confidence := 0.85
	return &ledger.Record{
		ID:              id.NewRecordID(),
		StudentID:       s.studentID,
		ScheduleID:      s.scheduleID,
		Date:            ledger.DateOf(s.start),
		Status:          status,
		CheckInTime:     s.start.Add(5 * time.Minute),
		ConfidenceScore: &confidence,
	}
}

func (s *AttendanceHandlerSuite) probeBody() map[string]string {
	return map[string]string{
		"session_id":  s.scheduleID.String(),
		"probe_image": base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")),
	}
}

func (s *AttendanceHandlerSuite) TestClockIn() {
	s.Run("new PRESENT record responds 201", func() {
		s.ledger.record = s.openRecord(ledger.StatusPresent)

		req := testutil.AsStudent(testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/attendance/clock-in", s.probeBody()), s.studentID)
		rr := testutil.DoRequest(s.router, req)

		s.Equal(http.StatusCreated, rr.Code)
		resp := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
		s.Equal(true, (*resp)["success"])
		s.Equal("PRESENT", (*resp)["status"])
		s.Equal("09:05:00", (*resp)["check_in_time"])
		s.Equal([]byte("jpeg-bytes"), s.ledger.lastProbe, "probe must be base64-decoded before the service sees it")
	})

	s.Run("LATE record responds 200", func() {
		s.ledger.record = s.openRecord(ledger.StatusLate)

		req := testutil.AsStudent(testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/attendance/clock-in", s.probeBody()), s.studentID)
		rr := testutil.DoRequest(s.router, req)

		s.Equal(http.StatusOK, rr.Code)
	})

	s.Run("data-URL probe is accepted", func() {
		s.ledger.record = s.openRecord(ledger.StatusPresent)
		body := s.probeBody()
		body["probe_image"] = "data:image/jpeg;base64," + body["probe_image"]

		req := testutil.AsStudent(testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/attendance/clock-in", body), s.studentID)
		rr := testutil.DoRequest(s.router, req)

		s.Equal(http.StatusCreated, rr.Code)
		s.Equal([]byte("jpeg-bytes"), s.ledger.lastProbe)
	})

	s.Run("verification failure responds 401 with confidence", func() {
		s.ledger.record = nil
		s.ledger.err = dErrors.New(dErrors.CodeLowConfidence, "Face similarity below threshold").WithConfidence(0.45)

		req := testutil.AsStudent(testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/attendance/clock-in", s.probeBody()), s.studentID)
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatusAndCode(s.T(), rr, http.StatusUnauthorized, string(dErrors.CodeLowConfidence))
		errResp := testutil.UnmarshalErrorResponse(s.T(), rr)
		s.Require().NotNil(errResp.ConfidenceScore)
		s.InDelta(0.45, *errResp.ConfidenceScore, 1e-9)
	})

	s.Run("already clocked in responds 400", func() {
		s.ledger.record = nil
		s.ledger.err = dErrors.New(dErrors.CodeAlreadyClockedIn, "Already clocked in")

		req := testutil.AsStudent(testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/attendance/clock-in", s.probeBody()), s.studentID)
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatusAndCode(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeAlreadyClockedIn))
	})

	s.Run("missing probe responds 400", func() {
		body := s.probeBody()
		body["probe_image"] = ""

		req := testutil.AsStudent(testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/attendance/clock-in", body), s.studentID)
		rr := testutil.DoRequest(s.router, req)

		s.Equal(http.StatusBadRequest, rr.Code)
	})

	s.Run("no student identity responds 403", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/attendance/clock-in", s.probeBody())
		rr := testutil.DoRequest(s.router, req)

		s.Equal(http.StatusForbidden, rr.Code)
	})
}

func (s *AttendanceHandlerSuite) TestClockOut() {
	s.Run("closes the record and reports check-out time", func() {
		record := s.openRecord(ledger.StatusPresent)
		checkOut := s.start.Add(time.Hour)
		record.CheckOutTime = &checkOut
		s.ledger.record = record

		req := testutil.AsStudent(testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/attendance/clock-out", s.probeBody()), s.studentID)
		rr := testutil.DoRequest(s.router, req)

		s.Equal(http.StatusOK, rr.Code)
		resp := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
		s.Equal("10:00:00", (*resp)["check_out_time"])
	})

	s.Run("not clocked in responds 400", func() {
		s.ledger.record = nil
		s.ledger.err = dErrors.New(dErrors.CodeNotClockedIn, "Cannot clock out without clocking in first")

		req := testutil.AsStudent(testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/attendance/clock-out", s.probeBody()), s.studentID)
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatusAndCode(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeNotClockedIn))
	})
}

func (s *AttendanceHandlerSuite) TestStatus() {
	s.Run("no record reports has_attendance false", func() {
		req := testutil.AsStudent(testutil.NewJSONRequest(s.T(), http.MethodGet, "/api/attendance/status/"+s.scheduleID.String(), nil), s.studentID)
		rr := testutil.DoRequest(s.router, req)

		s.Equal(http.StatusOK, rr.Code)
		resp := testutil.UnmarshalResponse[statusResponse](s.T(), rr)
		s.False(resp.HasAttendance)
		s.Nil(resp.Record)
	})

	s.Run("open record is reported with state OPEN", func() {
		s.ledger.record = s.openRecord(ledger.StatusPresent)

		req := testutil.AsStudent(testutil.NewJSONRequest(s.T(), http.MethodGet, "/api/attendance/status/"+s.scheduleID.String(), nil), s.studentID)
		rr := testutil.DoRequest(s.router, req)

		s.Equal(http.StatusOK, rr.Code)
		resp := testutil.UnmarshalResponse[statusResponse](s.T(), rr)
		s.True(resp.HasAttendance)
		s.Require().NotNil(resp.Record)
		s.Equal("OPEN", resp.Record.State)
		s.Equal("09:05:00", resp.Record.CheckInTime)
	})

	s.Run("invalid schedule id responds 400", func() {
		req := testutil.AsStudent(testutil.NewJSONRequest(s.T(), http.MethodGet, "/api/attendance/status/not-a-uuid", nil), s.studentID)
		rr := testutil.DoRequest(s.router, req)

		s.Equal(http.StatusBadRequest, rr.Code)
	})
}

func (s *AttendanceHandlerSuite) TestManualRequest() {
	s.Run("accepted request responds 202", func() {
		body := map[string]string{"session_id": s.scheduleID.String(), "reason": "camera broken"}
		req := testutil.AsStudent(testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/attendance/manual-request", body), s.studentID)
		rr := testutil.DoRequest(s.router, req)

		s.Equal(http.StatusAccepted, rr.Code)
	})

	s.Run("already clocked in responds 400", func() {
		s.override.requestErr = dErrors.New(dErrors.CodeAlreadyClockedIn, "Already clocked in")

		body := map[string]string{"session_id": s.scheduleID.String()}
		req := testutil.AsStudent(testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/attendance/manual-request", body), s.studentID)
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatusAndCode(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeAlreadyClockedIn))
	})
}

func (s *AttendanceHandlerSuite) TestManualApprove() {
	body := map[string]string{
		"session_id":  s.scheduleID.String(),
		"identity_id": s.studentID.String(),
		"reason":      "power outage",
	}

	s.Run("faculty approval responds 201 with the record", func() {
		record := s.openRecord(ledger.StatusPresent)
		record.IsManualOverride = true
		s.override.record = record
		faculty := id.UserID(uuid.New())

		req := testutil.AsSupervisor(testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/attendance/manual-approve", body), faculty, requestcontext.RoleFaculty)
		rr := testutil.DoRequest(s.router, req)

		s.Equal(http.StatusCreated, rr.Code)
		s.Equal(faculty, s.override.approver)
	})

	s.Run("student caller responds 403", func() {
		req := testutil.AsStudent(testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/attendance/manual-approve", body), s.studentID)
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatusAndCode(s.T(), rr, http.StatusForbidden, string(dErrors.CodePermissionDenied))
	})
}

func (s *AttendanceHandlerSuite) TestListSchedule() {
	s.Run("faculty gets the day's records", func() {
		s.ledger.record = s.openRecord(ledger.StatusPresent)

		req := testutil.AsSupervisor(testutil.NewJSONRequest(s.T(), http.MethodGet, "/api/attendance/schedule/"+s.scheduleID.String(), nil), id.UserID(uuid.New()), requestcontext.RoleAdmin)
		rr := testutil.DoRequest(s.router, req)

		s.Equal(http.StatusOK, rr.Code)
		resp := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
		s.Len((*resp)["records"], 1)
	})

	s.Run("student caller responds 403", func() {
		req := testutil.AsStudent(testutil.NewJSONRequest(s.T(), http.MethodGet, "/api/attendance/schedule/"+s.scheduleID.String(), nil), s.studentID)
		rr := testutil.DoRequest(s.router, req)

		s.Equal(http.StatusForbidden, rr.Code)
	})
}
