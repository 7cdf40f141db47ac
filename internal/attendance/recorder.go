package attendance

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"classattend/internal/apperr"
	"classattend/internal/authz"
	"classattend/internal/identity"
	"classattend/internal/metrics"
	"classattend/internal/notify"
	"classattend/internal/objectstore"
	"classattend/internal/qrtoken"
	"classattend/internal/store"
)

// DefaultLinkTTL is how long lecture material download links stay valid.
const DefaultLinkTTL = time.Hour

// Scan outcomes, used as metric labels.
const (
	outcomeRecorded  = "recorded"
	outcomeDuplicate = "duplicate"
	outcomeRejected  = "rejected"
	outcomeError     = "error"
)

// Recorder validates scanned tokens and commits attendance exactly once per
// student and session.
type Recorder struct {
	store         store.Store
	guard         *authz.Guard
	codec         *qrtoken.Codec
	objects       objectstore.Store
	publisher     notify.Publisher
	log           *zap.Logger
	now           func() time.Time
	newID         func() string
	linkTTL       time.Duration
	notifyTimeout time.Duration
}

// Option customises a Recorder.
type Option func(*Recorder)

// WithClock overrides the clock used for scan timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator overrides how attendance ids are assigned.
func WithIDGenerator(newID func() string) Option {
	return func(r *Recorder) {
		if newID != nil {
			r.newID = newID
		}
	}
}

// WithLinkTTL sets the lifetime of lecture material links.
func WithLinkTTL(ttl time.Duration) Option {
	return func(r *Recorder) {
		if ttl > 0 {
			r.linkTTL = ttl
		}
	}
}

// NewRecorder creates a recorder. A nil publisher discards notifications.
func NewRecorder(st store.Store, codec *qrtoken.Codec, objects objectstore.Store, pub notify.Publisher, log *zap.Logger, opts ...Option) *Recorder {
	if pub == nil {
		pub = notify.Discard{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Recorder{
		store:         st,
		guard:         authz.New(st),
		codec:         codec,
		objects:       objects,
		publisher:     pub,
		log:           log,
		now:           time.Now,
		newID:         uuid.NewString,
		linkTTL:       DefaultLinkTTL,
		notifyTimeout: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ScanInput is what a student submits after scanning a QR code.
type ScanInput struct {
	QRCodeData string
	Location   string
	DeviceInfo string
}

// Outcome describes a scan that was accepted. Duplicate is set when the
// student had already been recorded; Record then holds the existing record,
// with an empty AttendanceID if that record could not be read back.
type Outcome struct {
	Record      store.AttendanceRecord
	Duplicate   bool
	ClassName   string
	DownloadURL string
}

// Scan redeems a token for the calling student.
func (r *Recorder) Scan(ctx context.Context, p *identity.Principal, in ScanInput) (Outcome, error) {
	out, err := r.scan(ctx, p, in)
	switch {
	case err == nil && out.Duplicate:
		metrics.ObserveScan(outcomeDuplicate)
	case err == nil:
		metrics.ObserveScan(outcomeRecorded)
	case apperr.KindOf(err) == apperr.KindInternal:
		metrics.ObserveScan(outcomeError)
	default:
		metrics.ObserveScan(outcomeRejected)
	}
	return out, err
}

func (r *Recorder) scan(ctx context.Context, p *identity.Principal, in ScanInput) (Outcome, error) {
	if err := authz.Authenticate(p, identity.RoleStudent, "only students can scan attendance"); err != nil {
		return Outcome{}, err
	}
	studentID := p.ID
	if studentID == "" {
		return Outcome{}, apperr.BadRequest("cannot identify student")
	}

	raw := strings.TrimSpace(in.QRCodeData)
	if raw == "" {
		return Outcome{}, apperr.BadRequest("qr_code_data is required")
	}
	res := r.codec.Decode(raw)
	if !res.Valid() {
		r.log.Debug("rejected qr token", zap.String("reason", string(res.Reason)), zap.String("student_id", studentID))
		return Outcome{}, apperr.BadRequest("invalid/expired QR code")
	}
	tok := res.Token

	sess, err := r.store.GetSession(ctx, tok.SessionID)
	if err != nil {
		return Outcome{}, apperr.Internal("failed to load session", err)
	}
	if sess == nil {
		return Outcome{}, apperr.NotFound("session not found")
	}
	if !sess.IsActive {
		return Outcome{}, apperr.BadRequest("session not active")
	}
	if sess.ClassID != tok.ClassID {
		return Outcome{}, apperr.BadRequest("QR code does not match session")
	}
	if !r.isCurrentToken(sess, tok) {
		return Outcome{}, apperr.BadRequest("QR code has been superseded")
	}

	existing, err := r.store.FindAttendance(ctx, sess.SessionID, studentID)
	if err != nil {
		return Outcome{}, apperr.Internal("failed to check attendance", err)
	}
	if existing != nil {
		return r.duplicate(ctx, sess, *existing), nil
	}

	rec := store.AttendanceRecord{
		AttendanceID:  r.newID(),
		SessionID:     sess.SessionID,
		ClassID:       sess.ClassID,
		StudentID:     studentID,
		ScanTimestamp: r.now().UTC(),
		Location:      strings.TrimSpace(in.Location),
		DeviceInfo:    strings.TrimSpace(in.DeviceInfo),
	}
	if err := r.store.InsertAttendance(ctx, rec); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// lost a race with a concurrent scan by the same student
			winner, ferr := r.store.FindAttendance(ctx, sess.SessionID, studentID)
			if ferr != nil || winner == nil {
				r.log.Warn("conflicting attendance record not readable",
					zap.String("session_id", sess.SessionID),
					zap.String("student_id", studentID),
					zap.Error(ferr))
				// the stored record is unknown; report the duplicate without an id
				out := r.duplicate(ctx, sess, store.AttendanceRecord{
					SessionID: sess.SessionID,
					ClassID:   sess.ClassID,
					StudentID: studentID,
				})
				return out, nil
			}
			return r.duplicate(ctx, sess, *winner), nil
		}
		return Outcome{}, apperr.Internal("failed to record attendance", err)
	}

	r.log.Info("attendance recorded",
		zap.String("attendance_id", rec.AttendanceID),
		zap.String("session_id", rec.SessionID),
		zap.String("student_id", rec.StudentID))

	r.publish(ctx, notify.Message{
		Type:      notify.TypeAttendanceConfirmed,
		StudentID: rec.StudentID,
		SessionID: rec.SessionID,
		ClassID:   rec.ClassID,
		Timestamp: rec.ScanTimestamp,
	})

	return Outcome{
		Record:      rec,
		ClassName:   r.className(ctx, sess.ClassID),
		DownloadURL: r.downloadURL(ctx, sess),
	}, nil
}

// isCurrentToken reports whether tok is the token the session currently holds.
func (r *Recorder) isCurrentToken(sess *store.Session, tok qrtoken.Token) bool {
	if sess.TokenPayload == "" {
		return false
	}
	current := r.codec.Decode(sess.TokenPayload).Token
	return current.SessionID == tok.SessionID &&
		current.ClassID == tok.ClassID &&
		current.IssuedAt.Equal(tok.IssuedAt) &&
		current.ExpiresAt.Equal(tok.ExpiresAt)
}

func (r *Recorder) duplicate(ctx context.Context, sess *store.Session, rec store.AttendanceRecord) Outcome {
	return Outcome{
		Record:      rec,
		Duplicate:   true,
		ClassName:   r.className(ctx, sess.ClassID),
		DownloadURL: r.downloadURL(ctx, sess),
	}
}

// publish sends msg without letting a slow or failing channel affect the scan.
func (r *Recorder) publish(ctx context.Context, msg notify.Message) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.notifyTimeout)
	defer cancel()
	if err := r.publisher.Publish(pctx, msg); err != nil {
		metrics.NotifyFailures.Inc()
		r.log.Warn("notification publish failed",
			zap.String("session_id", msg.SessionID),
			zap.String("student_id", msg.StudentID),
			zap.Error(err))
	}
}

func (r *Recorder) className(ctx context.Context, classID string) string {
	c, err := r.store.GetClass(ctx, classID)
	if err != nil || c == nil {
		return ""
	}
	return c.ClassName
}

func (r *Recorder) downloadURL(ctx context.Context, sess *store.Session) string {
	if sess.LectureMaterialKey == "" || r.objects == nil {
		return ""
	}
	u, err := r.objects.PresignGet(ctx, sess.LectureMaterialKey, r.linkTTL)
	if err != nil {
		r.log.Warn("presign lecture material failed", zap.String("session_id", sess.SessionID), zap.Error(err))
		return ""
	}
	return u
}
