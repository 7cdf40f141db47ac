package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Postgres persists classes, sessions and attendance in Postgres.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a store over an open connection pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const classColumns = `class_id, professor_id, class_name, class_code, created_at, updated_at`

const sessionColumns = `session_id, class_id, session_date, start_time, COALESCE(end_time, ''), is_active,
	COALESCE(token_payload, ''), COALESCE(token_url, ''), COALESCE(lecture_material_key, ''), created_at, updated_at`

const attendanceColumns = `attendance_id, session_id, class_id, student_id, scan_timestamp,
	COALESCE(location, ''), COALESCE(device_info, '')`

type scanner interface {
	Scan(dest ...any) error
}

// CreateClass inserts a class.
func (p *Postgres) CreateClass(ctx context.Context, c Class) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO classes (class_id, professor_id, class_name, class_code, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ClassID, c.ProfessorID, c.ClassName, c.ClassCode, c.CreatedAt)
	return err
}

// GetClass returns a class by id, or nil when absent.
func (p *Postgres) GetClass(ctx context.Context, classID string) (*Class, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+classColumns+` FROM classes WHERE class_id = $1`, classID)
	c, err := scanClass(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// ListClassesByProfessor returns the classes a professor owns.
func (p *Postgres) ListClassesByProfessor(ctx context.Context, professorID string) ([]Class, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+classColumns+` FROM classes WHERE professor_id = $1 ORDER BY created_at
	`, professorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Class
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// CreateSession inserts a session.
func (p *Postgres) CreateSession(ctx context.Context, s Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, class_id, session_date, start_time, end_time, is_active, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
	`, s.SessionID, s.ClassID, s.SessionDate, s.StartTime, s.EndTime, s.IsActive, s.CreatedAt)
	return err
}

// GetSession returns a session by id, or nil when absent.
func (p *Postgres) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1`, sessionID)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// ListSessionsByClass returns a class's sessions, oldest first.
func (p *Postgres) ListSessionsByClass(ctx context.Context, classID string) ([]Session, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE class_id = $1 ORDER BY session_date, start_time, created_at
	`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// UpdateSession applies a partial update in a single statement and returns the
// updated row, or nil when the session does not exist.
func (p *Postgres) UpdateSession(ctx context.Context, sessionID string, u SessionUpdate) (*Session, error) {
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = time.Now().UTC()
	}
	args := []any{sessionID}
	sets := []string{}
	add := func(col string, v any, nullable bool) {
		args = append(args, v)
		if nullable {
			sets = append(sets, fmt.Sprintf("%s = NULLIF($%d, '')", col, len(args)))
			return
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if u.SessionDate != nil {
		add("session_date", *u.SessionDate, false)
	}
	if u.StartTime != nil {
		add("start_time", *u.StartTime, false)
	}
	if u.EndTime != nil {
		add("end_time", *u.EndTime, true)
	}
	if u.IsActive != nil {
		add("is_active", *u.IsActive, false)
	}
	if u.TokenPayload != nil {
		add("token_payload", *u.TokenPayload, true)
	}
	if u.TokenURL != nil {
		add("token_url", *u.TokenURL, true)
	}
	if u.LectureMaterialKey != nil {
		add("lecture_material_key", *u.LectureMaterialKey, true)
	}
	add("updated_at", u.UpdatedAt, false)

	row := p.db.QueryRowContext(ctx, `
		UPDATE sessions SET `+strings.Join(sets, ", ")+`
		WHERE session_id = $1
		RETURNING `+sessionColumns, args...)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// InsertAttendance relies on the (session_id, student_id) unique constraint so
// that concurrent scans by the same student commit at most one row.
func (p *Postgres) InsertAttendance(ctx context.Context, rec AttendanceRecord) error {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO attendance (attendance_id, session_id, class_id, student_id, scan_timestamp, location, device_info)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''))
		ON CONFLICT (session_id, student_id) DO NOTHING
	`, rec.AttendanceID, rec.SessionID, rec.ClassID, rec.StudentID, rec.ScanTimestamp, rec.Location, rec.DeviceInfo)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// FindAttendance returns the record for a (session, student) pair, or nil.
func (p *Postgres) FindAttendance(ctx context.Context, sessionID, studentID string) (*AttendanceRecord, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+attendanceColumns+` FROM attendance WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID)
	rec, err := scanAttendance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// ListAttendanceBySession returns a session's records in scan order.
func (p *Postgres) ListAttendanceBySession(ctx context.Context, sessionID string) ([]AttendanceRecord, error) {
	return p.queryAttendance(ctx, `
		SELECT `+attendanceColumns+` FROM attendance WHERE session_id = $1 ORDER BY scan_timestamp
	`, sessionID)
}

// ListAttendanceByStudent returns a student's records, optionally for one class.
func (p *Postgres) ListAttendanceByStudent(ctx context.Context, studentID, classID string) ([]AttendanceRecord, error) {
	if classID != "" {
		return p.queryAttendance(ctx, `
			SELECT `+attendanceColumns+` FROM attendance WHERE student_id = $1 AND class_id = $2 ORDER BY scan_timestamp
		`, studentID, classID)
	}
	return p.queryAttendance(ctx, `
		SELECT `+attendanceColumns+` FROM attendance WHERE student_id = $1 ORDER BY scan_timestamp
	`, studentID)
}

// Ping checks connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) queryAttendance(ctx context.Context, query string, args ...any) ([]AttendanceRecord, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []AttendanceRecord
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func scanClass(row scanner) (Class, error) {
	var c Class
	var updated sql.NullTime
	if err := row.Scan(&c.ClassID, &c.ProfessorID, &c.ClassName, &c.ClassCode, &c.CreatedAt, &updated); err != nil {
		return Class{}, err
	}
	if updated.Valid {
		t := updated.Time
		c.UpdatedAt = &t
	}
	return c, nil
}

func scanSession(row scanner) (Session, error) {
	var s Session
	var updated sql.NullTime
	if err := row.Scan(&s.SessionID, &s.ClassID, &s.SessionDate, &s.StartTime, &s.EndTime, &s.IsActive,
		&s.TokenPayload, &s.TokenURL, &s.LectureMaterialKey, &s.CreatedAt, &updated); err != nil {
		return Session{}, err
	}
	if updated.Valid {
		t := updated.Time
		s.UpdatedAt = &t
	}
	return s, nil
}

func scanAttendance(row scanner) (AttendanceRecord, error) {
	var rec AttendanceRecord
	if err := row.Scan(&rec.AttendanceID, &rec.SessionID, &rec.ClassID, &rec.StudentID, &rec.ScanTimestamp,
		&rec.Location, &rec.DeviceInfo); err != nil {
		return AttendanceRecord{}, err
	}
	return rec, nil
}
