package matcher

import (
	"context"
	"time"

	id "bioattend/pkg/domain"
)

// Enrollment is the stored reference biometric for a student. It is owned and
// mutated by the enrollment pipeline; this core only reads it.
type Enrollment struct {
	StudentID id.StudentID
	Embedding Embedding

	// Quality metadata captured at enrollment time.
	FaceConfidence   float64
	EmbeddingQuality float64

	EnrolledAt time.Time
	IsActive   bool
}

// EnrollmentStore is the read-only view of the enrollment collaborator's
// output. GetActive returns sentinel.ErrNotFound when the student has no
// active enrollment.
type EnrollmentStore interface {
	GetActive(ctx context.Context, studentID id.StudentID) (*Enrollment, error)
}
