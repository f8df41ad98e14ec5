package ledger

import (
	"context"

	id "bioattend/pkg/domain"
)

// Key is the ledger's uniqueness key: at most one record exists per Key.
type Key struct {
	StudentID  id.StudentID
	ScheduleID id.ScheduleID
	Date       Date
}

// Store persists attendance records. It is the single source of truth and
// the only mutable shared resource in the core.
//
// CreateIfAbsent is the atomic conditional insert the whole design hinges
// on: when concurrent callers race on the same Key, exactly one insert wins
// and every other caller gets sentinel.ErrConflict. Implementations must
// back this with a uniqueness primitive (unique constraint, map under a
// mutex), never a check-then-act sequence.
type Store interface {
	// CreateIfAbsent inserts the record unless one already exists for its
	// key. Returns sentinel.ErrConflict when the key is taken.
	CreateIfAbsent(ctx context.Context, record *Record) error

	// Get returns the record for a key, or sentinel.ErrNotFound.
	Get(ctx context.Context, key Key) (*Record, error)

	// SetCheckOut transitions an OPEN record to CLOSED. Returns
	// sentinel.ErrNotFound when no record exists for the key and
	// sentinel.ErrInvalidState when the record is already CLOSED.
	SetCheckOut(ctx context.Context, key Key, record *Record) error

	// ListBySchedule returns all records for a schedule on a date, ordered
	// by check-in time. Read-side projection for supervisor views.
	ListBySchedule(ctx context.Context, scheduleID id.ScheduleID, date Date) ([]*Record, error)
}

// ScheduleStore resolves SessionWindow descriptors from the external schedule
// collaborator. Returns sentinel.ErrNotFound for unknown schedules.
type ScheduleStore interface {
	Get(ctx context.Context, scheduleID id.ScheduleID) (*SessionWindow, error)
}
