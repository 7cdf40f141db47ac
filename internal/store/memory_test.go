package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 11, 21, 10, 0, 0, 0, time.UTC)

func seed(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateClass(ctx, Class{ClassID: "c1", ProfessorID: "p1", ClassName: "Algorithms", ClassCode: "CS101", CreatedAt: t0}))
	require.NoError(t, s.CreateClass(ctx, Class{ClassID: "c2", ProfessorID: "p2", ClassName: "Biology", ClassCode: "BIO1", CreatedAt: t0}))
	require.NoError(t, s.CreateSession(ctx, Session{SessionID: "s1", ClassID: "c1", SessionDate: "2025-11-21", StartTime: "10:00", CreatedAt: t0}))
	require.NoError(t, s.CreateSession(ctx, Session{SessionID: "s2", ClassID: "c1", SessionDate: "2025-11-20", StartTime: "10:00", CreatedAt: t0}))
}

func TestMemoryLookupsReturnNilWhenAbsent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	c, err := m.GetClass(ctx, "nope")
	assert.NoError(t, err)
	assert.Nil(t, c)
	s, err := m.GetSession(ctx, "nope")
	assert.NoError(t, err)
	assert.Nil(t, s)
	a, err := m.FindAttendance(ctx, "s", "u")
	assert.NoError(t, err)
	assert.Nil(t, a)
	u, err := m.UpdateSession(ctx, "nope", SessionUpdate{})
	assert.NoError(t, err)
	assert.Nil(t, u)
}

func TestMemoryListsAreScoped(t *testing.T) {
	m := NewMemory()
	seed(t, m)
	ctx := context.Background()

	classes, err := m.ListClassesByProfessor(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, classes, 1)
	assert.Equal(t, "c1", classes[0].ClassID)

	sessions, err := m.ListSessionsByClass(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s2", sessions[0].SessionID, "ordered by date")
}

func TestMemoryCreateSessionNeedsClass(t *testing.T) {
	m := NewMemory()
	err := m.CreateSession(context.Background(), Session{SessionID: "s9", ClassID: "missing"})
	assert.Error(t, err)
}

func TestMemoryUpdateSession(t *testing.T) {
	m := NewMemory()
	seed(t, m)
	active, payload := true, "tok"
	got, err := m.UpdateSession(context.Background(), "s1", SessionUpdate{IsActive: &active, TokenPayload: &payload, UpdatedAt: t0.Add(time.Minute)})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsActive)
	assert.Equal(t, "tok", got.TokenPayload)
	assert.Equal(t, "10:00", got.StartTime, "untouched fields survive")
	require.NotNil(t, got.UpdatedAt)
	assert.Equal(t, t0.Add(time.Minute), *got.UpdatedAt)
}

func TestSessionUpdateEmpty(t *testing.T) {
	assert.True(t, SessionUpdate{UpdatedAt: t0}.Empty())
	s := ""
	assert.False(t, SessionUpdate{TokenPayload: &s}.Empty())
}

func TestMemoryInsertAttendanceConflict(t *testing.T) {
	m := NewMemory()
	seed(t, m)
	ctx := context.Background()

	rec := AttendanceRecord{AttendanceID: "a1", SessionID: "s1", ClassID: "c1", StudentID: "u1", ScanTimestamp: t0}
	require.NoError(t, m.InsertAttendance(ctx, rec))

	dup := rec
	dup.AttendanceID = "a2"
	assert.ErrorIs(t, m.InsertAttendance(ctx, dup), ErrConflict)

	found, err := m.FindAttendance(ctx, "s1", "u1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "a1", found.AttendanceID)

	other := rec
	other.AttendanceID, other.SessionID = "a3", "s2"
	require.NoError(t, m.InsertAttendance(ctx, other), "same student, other session")

	byStudent, err := m.ListAttendanceByStudent(ctx, "u1", "")
	require.NoError(t, err)
	assert.Len(t, byStudent, 2)
	byClass, err := m.ListAttendanceByStudent(ctx, "u1", "c2")
	require.NoError(t, err)
	assert.Empty(t, byClass)
}

func TestMemoryPairKeyDoesNotCollide(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.InsertAttendance(ctx, AttendanceRecord{AttendanceID: "a1", SessionID: "a/b", StudentID: "c"}))
	require.NoError(t, m.InsertAttendance(ctx, AttendanceRecord{AttendanceID: "a2", SessionID: "a", StudentID: "b/c"}))

	found, err := m.FindAttendance(ctx, "a", "b/c")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "a2", found.AttendanceID)
}

func TestMemoryConcurrentInsertsKeepOne(t *testing.T) {
	m := NewMemory()
	seed(t, m)
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	var ok, conflicts atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := m.InsertAttendance(ctx, AttendanceRecord{
				AttendanceID: fmt.Sprintf("a%d", i), SessionID: "s1", ClassID: "c1", StudentID: "u1", ScanTimestamp: t0,
			})
			switch err {
			case nil:
				ok.Add(1)
			case ErrConflict:
				conflicts.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(workers-1), conflicts.Load())
	recs, err := m.ListAttendanceBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
