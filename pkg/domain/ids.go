// Package domain holds typed identifiers shared across the attendance core.
//
// IDs are distinct types over uuid.UUID so a StudentID can never be passed
// where a ScheduleID is expected. Construct them from external input via the
// Parse functions, which enforce the "valid, non-empty, non-nil UUID"
// invariant at trust boundaries; direct casting bypasses validation.
package domain

import (
	"github.com/google/uuid"

	dErrors "bioattend/pkg/domain-errors"
)

// StudentID identifies an enrolled student (the acting identity).
type StudentID uuid.UUID

// ScheduleID identifies a scheduled session attendance is recorded against.
type ScheduleID uuid.UUID

// UserID identifies a platform user account (faculty, admin, or the user
// backing a student). Used for override actors.
type UserID uuid.UUID

// RecordID identifies an attendance record.
type RecordID uuid.UUID

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be the nil UUID")
	}
	return u, nil
}

// ParseStudentID constructs a StudentID from external input.
func ParseStudentID(s string) (StudentID, error) {
	u, err := parseUUID(s)
	return StudentID(u), err
}

// ParseScheduleID constructs a ScheduleID from external input.
func ParseScheduleID(s string) (ScheduleID, error) {
	u, err := parseUUID(s)
	return ScheduleID(u), err
}

// ParseUserID constructs a UserID from external input.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s)
	return UserID(u), err
}

func (id StudentID) String() string  { return uuid.UUID(id).String() }
func (id ScheduleID) String() string { return uuid.UUID(id).String() }
func (id UserID) String() string     { return uuid.UUID(id).String() }
func (id RecordID) String() string   { return uuid.UUID(id).String() }

func (id StudentID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id ScheduleID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id RecordID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }

// NewRecordID allocates a fresh record identifier.
func NewRecordID() RecordID { return RecordID(uuid.New()) }

// Text marshaling so IDs render as canonical UUID strings in JSON envelopes
// and parse back through the same validation as external input.

func (id StudentID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id ScheduleID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id UserID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }
func (id RecordID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }

func (id *StudentID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = StudentID(u)
	return nil
}

func (id *ScheduleID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = ScheduleID(u)
	return nil
}

func (id *UserID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = UserID(u)
	return nil
}

func (id *RecordID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = RecordID(u)
	return nil
}
