package attendance

import (
	"context"
	"errors"

	"classattend/internal/apperr"
	"classattend/internal/authz"
	"classattend/internal/identity"
	"classattend/internal/objectstore"
	"classattend/internal/store"
)

// ListForSession returns a session's attendance for the professor who owns it.
func (r *Recorder) ListForSession(ctx context.Context, p *identity.Principal, sessionID string) (store.Session, []store.AttendanceRecord, error) {
	sess, _, err := r.guard.SessionForProfessor(ctx, p, sessionID)
	if err != nil {
		return store.Session{}, nil, err
	}
	recs, err := r.store.ListAttendanceBySession(ctx, sess.SessionID)
	if err != nil {
		return store.Session{}, nil, apperr.Internal("failed to load attendance", err)
	}
	return *sess, recs, nil
}

// ListForStudent returns the calling student's own attendance, optionally for one class.
func (r *Recorder) ListForStudent(ctx context.Context, p *identity.Principal, classID string) ([]store.AttendanceRecord, error) {
	if err := authz.Authenticate(p, identity.RoleStudent, "invalid user role"); err != nil {
		return nil, err
	}
	recs, err := r.store.ListAttendanceByStudent(ctx, p.ID, classID)
	if err != nil {
		return nil, apperr.Internal("failed to load attendance", err)
	}
	return recs, nil
}

// ListStudentForProfessor returns a student's attendance restricted to classes
// the professor owns. With a classID the class must be owned by the professor.
func (r *Recorder) ListStudentForProfessor(ctx context.Context, p *identity.Principal, studentID, classID string) ([]store.AttendanceRecord, error) {
	if err := authz.Authenticate(p, identity.RoleProfessor, "only professors can view other students"); err != nil {
		return nil, err
	}
	if studentID == "" {
		return nil, apperr.BadRequest("student_id is required")
	}
	if classID != "" {
		if _, err := r.guard.ClassForProfessor(ctx, p, classID); err != nil {
			return nil, err
		}
		recs, err := r.store.ListAttendanceByStudent(ctx, studentID, classID)
		if err != nil {
			return nil, apperr.Internal("failed to load attendance", err)
		}
		return recs, nil
	}

	owned, err := r.store.ListClassesByProfessor(ctx, p.ID)
	if err != nil {
		return nil, apperr.Internal("failed to load classes", err)
	}
	ownedIDs := make(map[string]bool, len(owned))
	for _, c := range owned {
		ownedIDs[c.ClassID] = true
	}
	all, err := r.store.ListAttendanceByStudent(ctx, studentID, "")
	if err != nil {
		return nil, apperr.Internal("failed to load attendance", err)
	}
	res := make([]store.AttendanceRecord, 0, len(all))
	for _, rec := range all {
		if ownedIDs[rec.ClassID] {
			res = append(res, rec)
		}
	}
	return res, nil
}

// MaterialLink is a time-limited download link for a session's lecture material.
type MaterialLink struct {
	Session   store.Session
	ClassName string
	URL       string
	ExpiresIn int
}

// MaterialLink hands a student who attended the session a download link.
func (r *Recorder) MaterialLink(ctx context.Context, p *identity.Principal, sessionID string) (MaterialLink, error) {
	if err := authz.Authenticate(p, identity.RoleStudent, "only students can download lecture materials"); err != nil {
		return MaterialLink{}, err
	}
	if sessionID == "" {
		return MaterialLink{}, apperr.BadRequest("session_id is required")
	}
	sess, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return MaterialLink{}, apperr.Internal("failed to load session", err)
	}
	if sess == nil {
		return MaterialLink{}, apperr.NotFound("session not found")
	}
	rec, err := r.store.FindAttendance(ctx, sessionID, p.ID)
	if err != nil {
		return MaterialLink{}, apperr.Internal("failed to check attendance", err)
	}
	if rec == nil {
		return MaterialLink{}, apperr.Forbidden("you must mark attendance before downloading lecture materials")
	}
	if sess.LectureMaterialKey == "" || r.objects == nil {
		return MaterialLink{}, apperr.NotFound("no lecture materials available for this session")
	}
	u, err := r.objects.PresignGet(ctx, sess.LectureMaterialKey, r.linkTTL)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return MaterialLink{}, apperr.NotFound("no lecture materials available for this session")
		}
		return MaterialLink{}, apperr.Internal("failed to generate download URL", err)
	}
	return MaterialLink{
		Session:   *sess,
		ClassName: r.className(ctx, sess.ClassID),
		URL:       u,
		ExpiresIn: int(r.linkTTL.Seconds()),
	}, nil
}
