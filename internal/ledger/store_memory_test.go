package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "bioattend/pkg/domain"
	"bioattend/pkg/platform/sentinel"
)

func testRecord(key Key, checkIn time.Time) *Record {
	return &Record{
		ID:          id.NewRecordID(),
		StudentID:   key.StudentID,
		ScheduleID:  key.ScheduleID,
		Date:        key.Date,
		Status:      StatusPresent,
		CheckInTime: checkIn,
		CreatedAt:   checkIn,
		UpdatedAt:   checkIn,
	}
}

func TestInMemoryStoreCreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	key := Key{
		StudentID:  id.StudentID(uuid.New()),
		ScheduleID: id.ScheduleID(uuid.New()),
		Date:       DateOf(now),
	}

	require.NoError(t, store.CreateIfAbsent(ctx, testRecord(key, now)))

	err := store.CreateIfAbsent(ctx, testRecord(key, now.Add(time.Minute)))
	assert.ErrorIs(t, err, sentinel.ErrConflict)

	// Same student and schedule on another day is a distinct key.
	nextDay := key
	nextDay.Date = DateOf(now.AddDate(0, 0, 1))
	assert.NoError(t, store.CreateIfAbsent(ctx, testRecord(nextDay, now.AddDate(0, 0, 1))))
}

// TestInMemoryStoreConcurrentCreate hammers one key from many goroutines:
// the mutex-guarded map insert must admit exactly one writer, the same
// guarantee the Postgres unique constraint gives.
func TestInMemoryStoreConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	key := Key{
		StudentID:  id.StudentID(uuid.New()),
		ScheduleID: id.ScheduleID(uuid.New()),
		Date:       DateOf(now),
	}

	const writers = 64
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.CreateIfAbsent(ctx, testRecord(key, now))

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				created++
			} else if err == sentinel.ErrConflict {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, writers-1, conflicts)
}

func TestInMemoryStoreSetCheckOut(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	key := Key{
		StudentID:  id.StudentID(uuid.New()),
		ScheduleID: id.ScheduleID(uuid.New()),
		Date:       DateOf(now),
	}

	record := testRecord(key, now)
	err := store.SetCheckOut(ctx, key, record)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, store.CreateIfAbsent(ctx, record))

	checkOut := now.Add(time.Hour)
	record.CheckOutTime = &checkOut
	record.UpdatedAt = checkOut
	require.NoError(t, store.SetCheckOut(ctx, key, record))

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got.CheckOutTime)
	assert.Equal(t, checkOut, *got.CheckOutTime)

	// OPEN -> CLOSED happens at most once.
	err = store.SetCheckOut(ctx, key, record)
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)
}

func TestInMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	key := Key{
		StudentID:  id.StudentID(uuid.New()),
		ScheduleID: id.ScheduleID(uuid.New()),
		Date:       DateOf(now),
	}
	require.NoError(t, store.CreateIfAbsent(ctx, testRecord(key, now)))

	first, err := store.Get(ctx, key)
	require.NoError(t, err)
	first.Status = StatusExcused

	second, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, second.Status, "mutating a returned record must not leak into the store")
}
