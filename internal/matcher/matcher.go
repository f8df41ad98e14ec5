// Package matcher verifies a probe image against a student's enrolled face
// template. The matcher is stateless per call and never writes to the ledger;
// persisting the probe for audit is the caller's responsibility so the
// matcher stays substitutable in tests.
package matcher

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	id "bioattend/pkg/domain"
	dErrors "bioattend/pkg/domain-errors"
	"bioattend/pkg/platform/sentinel"
)

var tracer = otel.Tracer("bioattend/matcher")

// Extractor is the external embedding capability: it detects faces in an
// image and returns one embedding per detected face. Extraction is CPU and
// latency heavy (hundreds of milliseconds); callers must not hold locks
// while waiting on it.
type Extractor interface {
	Extract(ctx context.Context, image []byte) ([]Embedding, error)
}

// Result is the structured verification outcome. Verification failures are
// not errors: Code identifies the failure kind and Confidence always carries
// the raw similarity (zero when no comparison happened) so borderline
// attempts can be logged and surfaced.
type Result struct {
	Verified   bool
	Confidence float64
	Code       dErrors.Code
	Message    string
}

// Service wraps the extraction capability and enrollment store behind the
// verification contract.
type Service struct {
	extractor   Extractor
	enrollments EnrollmentStore
	threshold   float64
}

// NewService builds a matcher. threshold gates the verified outcome:
// similarity >= threshold verifies (inclusive).
func NewService(extractor Extractor, enrollments EnrollmentStore, threshold float64) (*Service, error) {
	if extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if enrollments == nil {
		return nil, fmt.Errorf("enrollment store is required")
	}
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be in (0, 1], got %v", threshold)
	}
	return &Service{extractor: extractor, enrollments: enrollments, threshold: threshold}, nil
}

// Verify compares a probe image against the claimed identity's enrolled
// template. The error return is reserved for infrastructure faults; all four
// verification failure kinds come back inside Result.
func (s *Service) Verify(ctx context.Context, probe []byte, studentID id.StudentID) (Result, error) {
	ctx, span := tracer.Start(ctx, "matcher.Verify",
		trace.WithAttributes(attribute.String("student_id", studentID.String())))
	defer span.End()

	enrollment, err := s.enrollments.GetActive(ctx, studentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Result{
				Code:    dErrors.CodeNoEnrollment,
				Message: "You are not enrolled for facial recognition. Please complete your facial enrollment first.",
			}, nil
		}
		return Result{}, fmt.Errorf("load enrollment: %w", err)
	}

	faces, err := s.extractor.Extract(ctx, probe)
	if err != nil {
		return Result{}, fmt.Errorf("extract probe embedding: %w", err)
	}

	switch {
	case len(faces) == 0:
		return Result{
			Code:    dErrors.CodeNoFaceDetected,
			Message: "No face detected. Please ensure good lighting and look directly at the camera.",
		}, nil
	case len(faces) > 1:
		return Result{
			Code:    dErrors.CodeMultipleFacesDetected,
			Message: "Multiple faces detected. Please ensure only your face is in frame.",
		}, nil
	}

	similarity := CosineSimilarity(faces[0], enrollment.Embedding)
	span.SetAttributes(attribute.Float64("similarity", similarity))

	if similarity < s.threshold {
		return Result{
			Confidence: similarity,
			Code:       dErrors.CodeLowConfidence,
			Message:    "Face recognition confidence too low. Please ensure good lighting and look directly at the camera.",
		}, nil
	}

	return Result{
		Verified:   true,
		Confidence: similarity,
		Message:    "Face verification successful",
	}, nil
}

// Err converts a non-verified Result into its domain error, carrying the raw
// similarity for low-confidence failures. Calling it on a verified result is
// a programming error and returns nil.
func (r Result) Err() error {
	if r.Verified {
		return nil
	}
	de := dErrors.New(r.Code, r.Message)
	if r.Code == dErrors.CodeLowConfidence {
		de = de.WithConfidence(r.Confidence)
	}
	return de
}
