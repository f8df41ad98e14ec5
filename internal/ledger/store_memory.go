package ledger

import (
	"context"
	"sort"
	"sync"

	id "bioattend/pkg/domain"
	"bioattend/pkg/platform/sentinel"
)

// InMemoryStore keeps records in a map guarded by a mutex. The map insert
// under the lock provides the same create-if-absent atomicity the Postgres
// unique constraint does, so concurrency tests exercise identical semantics.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[Key]*Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[Key]*Record)}
}

func (s *InMemoryStore) CreateIfAbsent(_ context.Context, record *Record) error {
	key := Key{StudentID: record.StudentID, ScheduleID: record.ScheduleID, Date: record.Date}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[key]; exists {
		return sentinel.ErrConflict
	}
	copied := *record
	s.records[key] = &copied
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, key Key) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (s *InMemoryStore) SetCheckOut(_ context.Context, key Key, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[key]
	if !ok {
		return sentinel.ErrNotFound
	}
	if existing.CheckOutTime != nil {
		return sentinel.ErrInvalidState
	}
	copied := *record
	s.records[key] = &copied
	return nil
}

func (s *InMemoryStore) ListBySchedule(_ context.Context, scheduleID id.ScheduleID, date Date) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*Record
	for key, record := range s.records {
		if key.ScheduleID == scheduleID && key.Date == date {
			copied := *record
			records = append(records, &copied)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CheckInTime.Before(records[j].CheckInTime)
	})
	return records, nil
}

// InMemoryScheduleStore serves SessionWindow fixtures for tests and
// single-node deployments seeded out of band.
type InMemoryScheduleStore struct {
	mu        sync.RWMutex
	schedules map[id.ScheduleID]*SessionWindow
}

func NewInMemoryScheduleStore() *InMemoryScheduleStore {
	return &InMemoryScheduleStore{schedules: make(map[id.ScheduleID]*SessionWindow)}
}

func (s *InMemoryScheduleStore) Put(_ context.Context, window *SessionWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *window
	s.schedules[window.ScheduleID] = &copied
	return nil
}

func (s *InMemoryScheduleStore) Get(_ context.Context, scheduleID id.ScheduleID) (*SessionWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	window, ok := s.schedules[scheduleID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *window
	return &copied, nil
}
