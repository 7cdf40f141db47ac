package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store for dev and tests. A single mutex makes the
// attendance existence check and insert one atomic step.
type Memory struct {
	mu         sync.RWMutex
	classes    map[string]Class
	sessions   map[string]Session
	attendance map[string]AttendanceRecord
	bySessionStudent map[pair]string
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		classes:          make(map[string]Class),
		sessions:         make(map[string]Session),
		attendance:       make(map[string]AttendanceRecord),
		bySessionStudent: make(map[pair]string),
	}
}

// pair indexes attendance ids by (session_id, student_id).
type pair struct{ session, student string }

func (m *Memory) CreateClass(_ context.Context, c Class) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.classes[c.ClassID]; ok {
		return fmt.Errorf("class %s already exists", c.ClassID)
	}
	m.classes[c.ClassID] = c
	return nil
}

func (m *Memory) GetClass(_ context.Context, classID string) (*Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.classes[classID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) ListClassesByProfessor(_ context.Context, professorID string) ([]Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []Class
	for _, c := range m.classes {
		if c.ProfessorID == professorID {
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (m *Memory) CreateSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.SessionID]; ok {
		return fmt.Errorf("session %s already exists", s.SessionID)
	}
	if _, ok := m.classes[s.ClassID]; !ok {
		return fmt.Errorf("class %s does not exist", s.ClassID)
	}
	m.sessions[s.SessionID] = s
	return nil
}

func (m *Memory) GetSession(_ context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) ListSessionsByClass(_ context.Context, classID string) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []Session
	for _, s := range m.sessions {
		if s.ClassID == classID {
			res = append(res, s)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].SessionDate != res[j].SessionDate {
			return res[i].SessionDate < res[j].SessionDate
		}
		if res[i].StartTime != res[j].StartTime {
			return res[i].StartTime < res[j].StartTime
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

func (m *Memory) UpdateSession(_ context.Context, sessionID string, u SessionUpdate) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	if u.SessionDate != nil {
		s.SessionDate = *u.SessionDate
	}
	if u.StartTime != nil {
		s.StartTime = *u.StartTime
	}
	if u.EndTime != nil {
		s.EndTime = *u.EndTime
	}
	if u.IsActive != nil {
		s.IsActive = *u.IsActive
	}
	if u.TokenPayload != nil {
		s.TokenPayload = *u.TokenPayload
	}
	if u.TokenURL != nil {
		s.TokenURL = *u.TokenURL
	}
	if u.LectureMaterialKey != nil {
		s.LectureMaterialKey = *u.LectureMaterialKey
	}
	updated := u.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	s.UpdatedAt = &updated
	m.sessions[sessionID] = s
	return &s, nil
}

func (m *Memory) InsertAttendance(_ context.Context, rec AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pair{rec.SessionID, rec.StudentID}
	if _, ok := m.bySessionStudent[key]; ok {
		return ErrConflict
	}
	if _, ok := m.attendance[rec.AttendanceID]; ok {
		return fmt.Errorf("attendance %s already exists", rec.AttendanceID)
	}
	m.attendance[rec.AttendanceID] = rec
	m.bySessionStudent[key] = rec.AttendanceID
	return nil
}

func (m *Memory) FindAttendance(_ context.Context, sessionID, studentID string) (*AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.bySessionStudent[pair{sessionID, studentID}]
	if !ok {
		return nil, nil
	}
	rec := m.attendance[id]
	return &rec, nil
}

func (m *Memory) ListAttendanceBySession(_ context.Context, sessionID string) ([]AttendanceRecord, error) {
	return m.filterAttendance(func(r AttendanceRecord) bool { return r.SessionID == sessionID }), nil
}

func (m *Memory) ListAttendanceByStudent(_ context.Context, studentID, classID string) ([]AttendanceRecord, error) {
	return m.filterAttendance(func(r AttendanceRecord) bool {
		return r.StudentID == studentID && (classID == "" || r.ClassID == classID)
	}), nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) filterAttendance(keep func(AttendanceRecord) bool) []AttendanceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []AttendanceRecord
	for _, r := range m.attendance {
		if keep(r) {
			res = append(res, r)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ScanTimestamp.Before(res[j].ScanTimestamp) })
	return res
}
