package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "bioattend/pkg/domain"
	"bioattend/pkg/platform/sentinel"
	txcontext "bioattend/pkg/platform/tx"
)

// uniqueViolation is the Postgres error code raised when an insert hits the
// (student_id, schedule_id, date) unique constraint.
const uniqueViolation = "23505"

// PostgresStore persists attendance records. The unique constraint on
// (student_id, schedule_id, date) is what turns concurrent clock-in races
// into exactly one row plus conflicts.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) CreateIfAbsent(ctx context.Context, record *Record) error {
	query := `
		INSERT INTO attendance_records (
			id, student_id, schedule_id, date, status,
			check_in_time, confidence_score,
			is_manual_override, override_reason, override_actor,
			probe_image_ref, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	var actor *uuid.UUID
	if record.OverrideActor != nil {
		u := uuid.UUID(*record.OverrideActor)
		actor = &u
	}

	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(record.ID),
		uuid.UUID(record.StudentID),
		uuid.UUID(record.ScheduleID),
		record.Date.String(),
		string(record.Status),
		record.CheckInTime,
		record.ConfidenceScore,
		record.IsManualOverride,
		nullString(record.OverrideReason),
		actor,
		nullString(record.ProbeImageRef),
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert attendance record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (*Record, error) {
	query := selectRecord + `
		WHERE student_id = $1 AND schedule_id = $2 AND date = $3
	`
	row := s.db.QueryRowContext(ctx, query,
		uuid.UUID(key.StudentID), uuid.UUID(key.ScheduleID), key.Date.String())
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return record, err
}

// SetCheckOut closes an OPEN record. The WHERE clause rejects already-closed
// records so the OPEN -> CLOSED transition happens at most once even when
// clock-out calls race.
func (s *PostgresStore) SetCheckOut(ctx context.Context, key Key, record *Record) error {
	query := `
		UPDATE attendance_records
		SET check_out_time = $4, probe_image_ref = COALESCE(NULLIF($5, ''), probe_image_ref), updated_at = $6
		WHERE student_id = $1 AND schedule_id = $2 AND date = $3
		  AND check_out_time IS NULL
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(key.StudentID),
		uuid.UUID(key.ScheduleID),
		key.Date.String(),
		record.CheckOutTime,
		record.ProbeImageRef,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("close attendance record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close attendance record: %w", err)
	}
	if affected == 0 {
		// Distinguish missing from already closed.
		if _, getErr := s.Get(ctx, key); errors.Is(getErr, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *PostgresStore) ListBySchedule(ctx context.Context, scheduleID id.ScheduleID, date Date) ([]*Record, error) {
	query := selectRecord + `
		WHERE schedule_id = $1 AND date = $2
		ORDER BY check_in_time
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(scheduleID), date.String())
	if err != nil {
		return nil, fmt.Errorf("list attendance records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

const selectRecord = `
	SELECT id, student_id, schedule_id, date, status,
	       check_in_time, check_out_time, confidence_score,
	       is_manual_override, override_reason, override_actor,
	       probe_image_ref, created_at, updated_at
	FROM attendance_records
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		record         Record
		recordID       uuid.UUID
		studentID      uuid.UUID
		scheduleID     uuid.UUID
		date           time.Time
		status         string
		checkOut       sql.NullTime
		overrideReason sql.NullString
		overrideActor  *uuid.UUID
		probeRef       sql.NullString
	)
	err := row.Scan(
		&recordID, &studentID, &scheduleID, &date, &status,
		&record.CheckInTime, &checkOut, &record.ConfidenceScore,
		&record.IsManualOverride, &overrideReason, &overrideActor,
		&probeRef, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.ID = id.RecordID(recordID)
	record.StudentID = id.StudentID(studentID)
	record.ScheduleID = id.ScheduleID(scheduleID)
	record.Date = DateOf(date)
	record.Status = Status(status)
	if checkOut.Valid {
		t := checkOut.Time
		record.CheckOutTime = &t
	}
	record.OverrideReason = overrideReason.String
	if overrideActor != nil {
		actor := id.UserID(*overrideActor)
		record.OverrideActor = &actor
	}
	record.ProbeImageRef = probeRef.String
	return &record, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// PostgresScheduleStore reads the schedules table owned by the scheduling
// collaborator.
type PostgresScheduleStore struct {
	db *sql.DB

	// defaultLateThreshold applies when the schedule row carries none.
	defaultLateThreshold time.Duration
}

func NewPostgresScheduleStore(db *sql.DB, defaultLateThreshold time.Duration) *PostgresScheduleStore {
	return &PostgresScheduleStore{db: db, defaultLateThreshold: defaultLateThreshold}
}

func (s *PostgresScheduleStore) Get(ctx context.Context, scheduleID id.ScheduleID) (*SessionWindow, error) {
	query := `
		SELECT id, title, course_code, date, start_time, end_time,
		       clock_in_opens_at, clock_in_closes_at, late_threshold_minutes, faculty_id
		FROM schedules
		WHERE id = $1 AND is_active = true
	`
	var (
		window        SessionWindow
		sid           uuid.UUID
		date          time.Time
		lateMinutes   sql.NullInt64
		facultyID     *uuid.UUID
		opensAt       sql.NullTime
		closesAt      sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, uuid.UUID(scheduleID)).Scan(
		&sid, &window.Title, &window.CourseCode, &date,
		&window.StartTime, &window.EndTime, &opensAt, &closesAt,
		&lateMinutes, &facultyID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query schedule: %w", err)
	}

	window.ScheduleID = id.ScheduleID(sid)
	window.Date = DateOf(date)
	if opensAt.Valid {
		window.ClockInOpensAt = opensAt.Time
	}
	if closesAt.Valid {
		window.ClockInClosesAt = closesAt.Time
	}
	window.LateThreshold = s.defaultLateThreshold
	if lateMinutes.Valid && lateMinutes.Int64 > 0 {
		window.LateThreshold = time.Duration(lateMinutes.Int64) * time.Minute
	}
	if facultyID != nil {
		window.FacultyID = id.UserID(*facultyID)
	}
	return &window, nil
}
