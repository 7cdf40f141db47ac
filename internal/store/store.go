package store

import (
	"context"
	"errors"
	"time"
)

// ErrConflict is returned by InsertAttendance when the (session, student) pair
// already has a record.
var ErrConflict = errors.New("attendance already recorded")

// Class is a course owned by exactly one professor.
type Class struct {
	ClassID     string     `json:"class_id"`
	ProfessorID string     `json:"professor_id"`
	ClassName   string     `json:"class_name"`
	ClassCode   string     `json:"class_code"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// Session is one scheduled meeting of a class.
type Session struct {
	SessionID          string     `json:"session_id"`
	ClassID            string     `json:"class_id"`
	SessionDate        string     `json:"session_date"`
	StartTime          string     `json:"start_time"`
	EndTime            string     `json:"end_time,omitempty"`
	IsActive           bool       `json:"is_active"`
	TokenPayload       string     `json:"qr_code_data,omitempty"`
	TokenURL           string     `json:"qr_code_url,omitempty"`
	LectureMaterialKey string     `json:"lecture_material_key,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          *time.Time `json:"updated_at,omitempty"`
}

// AttendanceRecord proves a student redeemed a session's token. Never mutated.
type AttendanceRecord struct {
	AttendanceID  string    `json:"attendance_id"`
	SessionID     string    `json:"session_id"`
	ClassID       string    `json:"class_id"`
	StudentID     string    `json:"student_id"`
	ScanTimestamp time.Time `json:"scan_timestamp"`
	Location      string    `json:"location,omitempty"`
	DeviceInfo    string    `json:"device_info,omitempty"`
}

// SessionUpdate is a partial update; nil fields are left untouched.
// An empty string clears an optional field.
type SessionUpdate struct {
	SessionDate        *string
	StartTime          *string
	EndTime            *string
	IsActive           *bool
	TokenPayload       *string
	TokenURL           *string
	LectureMaterialKey *string
	UpdatedAt          time.Time
}

// Empty reports whether the update changes nothing.
func (u SessionUpdate) Empty() bool {
	return u.SessionDate == nil && u.StartTime == nil && u.EndTime == nil && u.IsActive == nil &&
		u.TokenPayload == nil && u.TokenURL == nil && u.LectureMaterialKey == nil
}

// Store is the durable entity store. Lookups of absent entities return nil, nil.
type Store interface {
	CreateClass(ctx context.Context, c Class) error
	GetClass(ctx context.Context, classID string) (*Class, error)
	ListClassesByProfessor(ctx context.Context, professorID string) ([]Class, error)

	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	ListSessionsByClass(ctx context.Context, classID string) ([]Session, error)
	UpdateSession(ctx context.Context, sessionID string, u SessionUpdate) (*Session, error)

	// InsertAttendance writes rec only if no record exists for its
	// (SessionID, StudentID); otherwise it returns ErrConflict.
	InsertAttendance(ctx context.Context, rec AttendanceRecord) error
	FindAttendance(ctx context.Context, sessionID, studentID string) (*AttendanceRecord, error)
	ListAttendanceBySession(ctx context.Context, sessionID string) ([]AttendanceRecord, error)
	// ListAttendanceByStudent filters by class when classID is non-empty.
	ListAttendanceByStudent(ctx context.Context, studentID, classID string) ([]AttendanceRecord, error)

	Ping(ctx context.Context) error
}
