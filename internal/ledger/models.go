package ledger

import (
	"time"

	id "bioattend/pkg/domain"
)

// Status is the closed attendance status enumeration. The ledger only writes
// PRESENT and LATE; ABSENT and EXCUSED are terminal states reachable through
// the administrative path outside this core, or the read-time interpretation
// of a missing record after the session has elapsed.
type Status string

const (
	StatusPresent Status = "PRESENT"
	StatusLate    Status = "LATE"
	StatusAbsent  Status = "ABSENT"
	StatusExcused Status = "EXCUSED"
)

// State is the per-(student, schedule, date) record lifecycle.
type State string

const (
	// StateNone: no record exists for the key.
	StateNone State = "NONE"
	// StateOpen: clocked in, not yet clocked out.
	StateOpen State = "OPEN"
	// StateClosed: clocked out.
	StateClosed State = "CLOSED"
)

// Record is one attendance entry, unique per (student, schedule, date).
// Created on first successful clock-in, mutated once on clock-out, never
// deleted by this core.
type Record struct {
	ID         id.RecordID
	StudentID  id.StudentID
	ScheduleID id.ScheduleID
	Date       Date

	Status       Status
	CheckInTime  time.Time
	CheckOutTime *time.Time

	// ConfidenceScore is nil for manual-override records.
	ConfidenceScore *float64

	IsManualOverride bool
	OverrideReason   string
	OverrideActor    *id.UserID

	// ProbeImageRef points at the stored audit snapshot, when one was kept.
	ProbeImageRef string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// State derives the lifecycle state from the record's fields.
func (r *Record) State() State {
	if r == nil {
		return StateNone
	}
	if r.CheckOutTime != nil {
		return StateClosed
	}
	return StateOpen
}

// Date is a calendar day in the session's local time, the third component of
// the ledger key. Stored without a time-of-day so two clock-ins on the same
// day always collide.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf extracts the calendar day from a timestamp.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// String renders the date in ISO form, used for store keys and JSON.
func (d Date) String() string {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}

// Time returns midnight of the date in the given location.
func (d Date) Time(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// SessionWindow is the resolved schedule descriptor consumed from the
// external schedule collaborator. The ledger treats it as read-only input.
type SessionWindow struct {
	ScheduleID id.ScheduleID
	Title      string
	CourseCode string
	Date       Date

	StartTime time.Time
	EndTime   time.Time

	// Admission window: clock-ins outside [ClockInOpensAt, ClockInClosesAt]
	// are rejected with invalid_timing. Zero values disable the bound.
	ClockInOpensAt  time.Time
	ClockInClosesAt time.Time

	// LateThreshold overrides the configured default when positive.
	LateThreshold time.Duration

	FacultyID id.UserID
}
