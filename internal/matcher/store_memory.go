package matcher

import (
	"context"
	"sync"

	id "bioattend/pkg/domain"
	"bioattend/pkg/platform/sentinel"
)

// InMemoryEnrollmentStore holds enrollments in a map. Used in tests and when
// running without Postgres; the enrollment pipeline seeds it out of band.
type InMemoryEnrollmentStore struct {
	mu          sync.RWMutex
	enrollments map[id.StudentID]*Enrollment
}

func NewInMemoryEnrollmentStore() *InMemoryEnrollmentStore {
	return &InMemoryEnrollmentStore{enrollments: make(map[id.StudentID]*Enrollment)}
}

// Put stores or replaces a student's enrollment.
func (s *InMemoryEnrollmentStore) Put(_ context.Context, e *Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *e
	s.enrollments[e.StudentID] = &copied
	return nil
}

func (s *InMemoryEnrollmentStore) GetActive(_ context.Context, studentID id.StudentID) (*Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.enrollments[studentID]
	if !ok || !e.IsActive {
		return nil, sentinel.ErrNotFound
	}
	copied := *e
	return &copied, nil
}
