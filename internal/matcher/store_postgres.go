package matcher

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	id "bioattend/pkg/domain"
	"bioattend/pkg/platform/sentinel"
)

// PostgresEnrollmentStore reads the facial_enrollments table owned by the
// enrollment pipeline. This store never writes.
type PostgresEnrollmentStore struct {
	db *sql.DB
}

func NewPostgresEnrollmentStore(db *sql.DB) *PostgresEnrollmentStore {
	return &PostgresEnrollmentStore{db: db}
}

func (s *PostgresEnrollmentStore) GetActive(ctx context.Context, studentID id.StudentID) (*Enrollment, error) {
	query := `
		SELECT student_id, embedding, face_confidence, embedding_quality, enrolled_at, is_active
		FROM facial_enrollments
		WHERE student_id = $1 AND is_active = true
	`

	var (
		e    Enrollment
		sid  uuid.UUID
		blob []byte
	)
	err := s.db.QueryRowContext(ctx, query, uuid.UUID(studentID)).Scan(
		&sid, &blob, &e.FaceConfidence, &e.EmbeddingQuality, &e.EnrolledAt, &e.IsActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query enrollment: %w", err)
	}

	e.StudentID = id.StudentID(sid)
	e.Embedding, err = DecodeEmbedding(blob)
	if err != nil {
		return nil, fmt.Errorf("decode enrollment embedding: %w", err)
	}
	return &e, nil
}
