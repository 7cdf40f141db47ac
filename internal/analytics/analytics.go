// Package analytics summarises recorded attendance for the professor who owns
// the class. All operations are reads.
package analytics

import (
	"context"
	"math"
	"sort"
	"time"

	"classattend/internal/apperr"
	"classattend/internal/authz"
	"classattend/internal/identity"
	"classattend/internal/store"
)

// SessionReport is attendance for one session.
type SessionReport struct {
	SessionID      string                   `json:"session_id"`
	ClassID        string                   `json:"class_id"`
	SessionDate    string                   `json:"session_date"`
	PresentCount   int                      `json:"present_count"`
	TotalExpected  int                      `json:"total_expected"`
	AbsentCount    int                      `json:"absent_count"`
	AttendanceRate float64                  `json:"attendance_rate"`
	ScanTimes      []time.Time              `json:"scan_times"`
	Records        []store.AttendanceRecord `json:"attendance_records"`
}

// SessionCount is one row of a class report.
type SessionCount struct {
	SessionID    string `json:"session_id"`
	SessionDate  string `json:"session_date"`
	StartTime    string `json:"start_time"`
	PresentCount int    `json:"present_count"`
}

// StudentRate is how often one student attended a class.
type StudentRate struct {
	StudentID      string  `json:"student_id"`
	TimesPresent   int     `json:"times_present"`
	AttendanceRate float64 `json:"attendance_rate"`
}

// ClassReport is attendance across every session of a class.
type ClassReport struct {
	ClassID                string         `json:"class_id"`
	ClassName              string         `json:"class_name"`
	TotalSessions          int            `json:"total_sessions"`
	TotalStudents          int            `json:"total_students"`
	AverageAttendance      float64        `json:"average_attendance"`
	Sessions               []SessionCount `json:"session_attendance"`
	Students               []StudentRate  `json:"student_attendance"`
	TotalAttendanceRecords int            `json:"total_attendance_records"`
}

// ClassSummary is a one-line total for a class.
type ClassSummary struct {
	ClassID           string  `json:"class_id"`
	ClassName         string  `json:"class_name"`
	ClassCode         string  `json:"class_code"`
	TotalSessions     int     `json:"total_sessions"`
	ActiveSessions    int     `json:"active_sessions"`
	TotalAttendance   int     `json:"total_attendance"`
	AverageAttendance float64 `json:"average_attendance"`
}

// Reader is the subset of the store the aggregator reads.
type Reader interface {
	authz.Lookup
	ListClassesByProfessor(ctx context.Context, professorID string) ([]store.Class, error)
	ListSessionsByClass(ctx context.Context, classID string) ([]store.Session, error)
	ListAttendanceBySession(ctx context.Context, sessionID string) ([]store.AttendanceRecord, error)
}

// Aggregator computes attendance reports.
type Aggregator struct {
	store Reader
	guard *authz.Guard
}

// New creates an aggregator over st.
func New(st Reader) *Aggregator {
	return &Aggregator{store: st, guard: authz.New(st)}
}

// ForSession reports attendance for one session. expected is the enrolled
// headcount; when it is not positive the present count is used instead.
func (a *Aggregator) ForSession(ctx context.Context, p *identity.Principal, sessionID string, expected int) (SessionReport, error) {
	sess, _, err := a.guard.SessionForProfessor(ctx, p, sessionID)
	if err != nil {
		return SessionReport{}, err
	}
	recs, err := a.store.ListAttendanceBySession(ctx, sess.SessionID)
	if err != nil {
		return SessionReport{}, apperr.Internal("failed to load attendance", err)
	}

	present := len(recs)
	total := present
	if expected > 0 {
		total = expected
	}
	absent := total - present
	if absent < 0 {
		absent = 0
	}

	times := make([]time.Time, 0, present)
	for _, r := range recs {
		times = append(times, r.ScanTimestamp)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	return SessionReport{
		SessionID:      sess.SessionID,
		ClassID:        sess.ClassID,
		SessionDate:    sess.SessionDate,
		PresentCount:   present,
		TotalExpected:  total,
		AbsentCount:    absent,
		AttendanceRate: percent(present, total),
		ScanTimes:      times,
		Records:        recs,
	}, nil
}

// ForClass reports attendance across all sessions of a class.
func (a *Aggregator) ForClass(ctx context.Context, p *identity.Principal, classID string) (ClassReport, error) {
	class, err := a.guard.ClassForProfessor(ctx, p, classID)
	if err != nil {
		return ClassReport{}, err
	}
	sessions, err := a.store.ListSessionsByClass(ctx, class.ClassID)
	if err != nil {
		return ClassReport{}, apperr.Internal("failed to list sessions", err)
	}

	rep := ClassReport{
		ClassID:       class.ClassID,
		ClassName:     class.ClassName,
		TotalSessions: len(sessions),
		Sessions:      make([]SessionCount, 0, len(sessions)),
		Students:      []StudentRate{},
	}
	perStudent := map[string]int{}
	for _, s := range sessions {
		recs, err := a.store.ListAttendanceBySession(ctx, s.SessionID)
		if err != nil {
			return ClassReport{}, apperr.Internal("failed to load attendance", err)
		}
		rep.Sessions = append(rep.Sessions, SessionCount{
			SessionID:    s.SessionID,
			SessionDate:  s.SessionDate,
			StartTime:    s.StartTime,
			PresentCount: len(recs),
		})
		rep.TotalAttendanceRecords += len(recs)
		for _, r := range recs {
			perStudent[r.StudentID]++
		}
	}

	rep.TotalStudents = len(perStudent)
	rep.AverageAttendance = average(rep.TotalAttendanceRecords, rep.TotalSessions)
	for id, n := range perStudent {
		rep.Students = append(rep.Students, StudentRate{
			StudentID:      id,
			TimesPresent:   n,
			AttendanceRate: percent(n, rep.TotalSessions),
		})
	}
	sort.Slice(rep.Students, func(i, j int) bool {
		if rep.Students[i].TimesPresent != rep.Students[j].TimesPresent {
			return rep.Students[i].TimesPresent > rep.Students[j].TimesPresent
		}
		return rep.Students[i].StudentID < rep.Students[j].StudentID
	})
	return rep, nil
}

// Summary returns totals for every class the professor owns.
func (a *Aggregator) Summary(ctx context.Context, p *identity.Principal) ([]ClassSummary, error) {
	if err := authz.Authenticate(p, identity.RoleProfessor, "only professors can view analytics"); err != nil {
		return nil, err
	}
	classes, err := a.store.ListClassesByProfessor(ctx, p.ID)
	if err != nil {
		return nil, apperr.Internal("failed to list classes", err)
	}
	out := make([]ClassSummary, 0, len(classes))
	for _, c := range classes {
		sessions, err := a.store.ListSessionsByClass(ctx, c.ClassID)
		if err != nil {
			return nil, apperr.Internal("failed to list sessions", err)
		}
		sum := ClassSummary{
			ClassID:       c.ClassID,
			ClassName:     c.ClassName,
			ClassCode:     c.ClassCode,
			TotalSessions: len(sessions),
		}
		for _, s := range sessions {
			if s.IsActive {
				sum.ActiveSessions++
			}
			recs, err := a.store.ListAttendanceBySession(ctx, s.SessionID)
			if err != nil {
				return nil, apperr.Internal("failed to load attendance", err)
			}
			sum.TotalAttendance += len(recs)
		}
		sum.AverageAttendance = average(sum.TotalAttendance, sum.TotalSessions)
		out = append(out, sum)
	}
	return out, nil
}

// percent is n/d as a percentage rounded to 2 places; 0 when d is 0.
func percent(n, d int) float64 {
	if d <= 0 {
		return 0
	}
	return round2(float64(n) / float64(d) * 100)
}

func average(n, d int) float64 {
	if d <= 0 {
		return 0
	}
	return round2(float64(n) / float64(d))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
