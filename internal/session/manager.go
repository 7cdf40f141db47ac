package session

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"classattend/internal/apperr"
	"classattend/internal/authz"
	"classattend/internal/identity"
	"classattend/internal/metrics"
	"classattend/internal/objectstore"
	"classattend/internal/qrtoken"
	"classattend/internal/store"
)

// MaxTTL bounds how long an activation token may live.
const MaxTTL = 24 * time.Hour

const (
	dateLayout = "2006-01-02"
)

var timeLayouts = []string{"15:04", "15:04:05"}

// Manager owns session state transitions: create, activate, deactivate, update.
type Manager struct {
	store   store.Store
	guard   *authz.Guard
	codec   *qrtoken.Codec
	objects objectstore.Store
	log     *zap.Logger
	now     func() time.Time
	newID   func() string
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock overrides the clock used for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator overrides how new class and session ids are assigned.
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) {
		if newID != nil {
			m.newID = newID
		}
	}
}

// NewManager creates a session manager.
func NewManager(st store.Store, codec *qrtoken.Codec, objects objectstore.Store, log *zap.Logger, opts ...Option) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		store:   st,
		guard:   authz.New(st),
		codec:   codec,
		objects: objects,
		log:     log,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterClass creates a class owned by the calling professor.
func (m *Manager) RegisterClass(ctx context.Context, p *identity.Principal, name, code string) (store.Class, error) {
	if err := authz.Authenticate(p, identity.RoleProfessor, "only professors can create classes"); err != nil {
		return store.Class{}, err
	}
	name, code = strings.TrimSpace(name), strings.TrimSpace(code)
	if name == "" || code == "" {
		return store.Class{}, apperr.BadRequest("class_name and class_code are required")
	}
	c := store.Class{
		ClassID:     m.newID(),
		ProfessorID: p.ID,
		ClassName:   name,
		ClassCode:   code,
		CreatedAt:   m.now().UTC(),
	}
	if err := m.store.CreateClass(ctx, c); err != nil {
		return store.Class{}, apperr.Internal("failed to create class", err)
	}
	return c, nil
}

// CreateInput carries the fields of a new session.
type CreateInput struct {
	ClassID     string
	SessionDate string
	StartTime   string
	EndTime     string
}

// Create persists a new inactive session for a class the professor owns.
func (m *Manager) Create(ctx context.Context, p *identity.Principal, in CreateInput) (store.Session, error) {
	if err := authz.Authenticate(p, identity.RoleProfessor, "only professors can manage sessions"); err != nil {
		return store.Session{}, err
	}
	if in.ClassID == "" || in.SessionDate == "" || in.StartTime == "" {
		return store.Session{}, apperr.BadRequest("class_id, session_date, and start_time are required")
	}
	if err := validateSchedule(in.SessionDate, in.StartTime, in.EndTime); err != nil {
		return store.Session{}, err
	}
	if _, err := m.guard.ClassForProfessor(ctx, p, in.ClassID); err != nil {
		return store.Session{}, err
	}

	s := store.Session{
		SessionID:   m.newID(),
		ClassID:     in.ClassID,
		SessionDate: in.SessionDate,
		StartTime:   in.StartTime,
		EndTime:     in.EndTime,
		IsActive:    false,
		CreatedAt:   m.now().UTC(),
	}
	if err := m.store.CreateSession(ctx, s); err != nil {
		return store.Session{}, apperr.Internal("failed to create session", err)
	}
	m.log.Info("session created", zap.String("session_id", s.SessionID), zap.String("class_id", s.ClassID))
	return s, nil
}

// Activation is the result of a successful activation.
type Activation struct {
	Session   store.Session
	Token     qrtoken.Token
	Payload   string
	QRCodeURL string
}

// Activate mints a fresh token, uploads its QR image and marks the session
// active. The new payload replaces any previous one, so older tokens stop
// being redeemable. On failure the session is left unchanged.
func (m *Manager) Activate(ctx context.Context, p *identity.Principal, sessionID string, ttl time.Duration) (Activation, error) {
	s, _, err := m.guard.SessionForProfessor(ctx, p, sessionID)
	if err != nil {
		return Activation{}, err
	}
	if ttl < 0 || ttl > MaxTTL {
		return Activation{}, apperr.BadRequest(fmt.Sprintf("expiry must be between 1 and %d minutes", int(MaxTTL.Minutes())))
	}

	tok, payload, err := m.codec.Mint(s.SessionID, s.ClassID, ttl)
	if err != nil {
		return Activation{}, apperr.Internal("failed to generate QR code", err)
	}
	png, err := qrtoken.RenderPNG(payload)
	if err != nil {
		return Activation{}, apperr.Internal("failed to generate QR code", err)
	}
	qrURL, err := m.objects.Put(ctx, qrImageKey(s.SessionID), png, "image/png")
	if err != nil {
		return Activation{}, apperr.Internal("failed to generate QR code", err)
	}

	active := true
	updated, err := m.store.UpdateSession(ctx, s.SessionID, store.SessionUpdate{
		IsActive:     &active,
		TokenPayload: &payload,
		TokenURL:     &qrURL,
		UpdatedAt:    m.now().UTC(),
	})
	if err != nil {
		return Activation{}, apperr.Internal("failed to activate session", err)
	}
	if updated == nil {
		return Activation{}, apperr.NotFound("session not found")
	}

	metrics.TokensMinted.Inc()
	m.log.Info("session activated",
		zap.String("session_id", s.SessionID),
		zap.Time("expires_at", tok.ExpiresAt))
	return Activation{Session: *updated, Token: tok, Payload: payload, QRCodeURL: qrURL}, nil
}

// Deactivate closes the session for attendance and drops its token.
func (m *Manager) Deactivate(ctx context.Context, p *identity.Principal, sessionID string) (store.Session, error) {
	s, _, err := m.guard.SessionForProfessor(ctx, p, sessionID)
	if err != nil {
		return store.Session{}, err
	}
	inactive, cleared := false, ""
	updated, err := m.store.UpdateSession(ctx, s.SessionID, store.SessionUpdate{
		IsActive:     &inactive,
		TokenPayload: &cleared,
		UpdatedAt:    m.now().UTC(),
	})
	if err != nil {
		return store.Session{}, apperr.Internal("failed to deactivate session", err)
	}
	if updated == nil {
		return store.Session{}, apperr.NotFound("session not found")
	}
	m.log.Info("session deactivated", zap.String("session_id", s.SessionID))
	return *updated, nil
}

// UpdateInput is a partial schedule change; nil fields are kept.
type UpdateInput struct {
	SessionDate *string
	StartTime   *string
	EndTime     *string
}

// Update changes a session's date or times.
func (m *Manager) Update(ctx context.Context, p *identity.Principal, sessionID string, in UpdateInput) (store.Session, error) {
	s, _, err := m.guard.SessionForProfessor(ctx, p, sessionID)
	if err != nil {
		return store.Session{}, err
	}
	if in.SessionDate == nil && in.StartTime == nil && in.EndTime == nil {
		return store.Session{}, apperr.BadRequest("no fields to update")
	}

	date, start, end := s.SessionDate, s.StartTime, s.EndTime
	if in.SessionDate != nil {
		date = *in.SessionDate
	}
	if in.StartTime != nil {
		start = *in.StartTime
	}
	if in.EndTime != nil {
		end = *in.EndTime
	}
	if date == "" || start == "" {
		return store.Session{}, apperr.BadRequest("session_date and start_time cannot be empty")
	}
	if err := validateSchedule(date, start, end); err != nil {
		return store.Session{}, err
	}

	updated, err := m.store.UpdateSession(ctx, s.SessionID, store.SessionUpdate{
		SessionDate: in.SessionDate,
		StartTime:   in.StartTime,
		EndTime:     in.EndTime,
		UpdatedAt:   m.now().UTC(),
	})
	if err != nil {
		return store.Session{}, apperr.Internal("failed to update session", err)
	}
	if updated == nil {
		return store.Session{}, apperr.NotFound("session not found")
	}
	return *updated, nil
}

// Get returns a session the professor owns.
func (m *Manager) Get(ctx context.Context, p *identity.Principal, sessionID string) (store.Session, error) {
	s, _, err := m.guard.SessionForProfessor(ctx, p, sessionID)
	if err != nil {
		return store.Session{}, err
	}
	return *s, nil
}

// ListByClass returns the sessions of a class the professor owns.
func (m *Manager) ListByClass(ctx context.Context, p *identity.Principal, classID string) ([]store.Session, error) {
	if _, err := m.guard.ClassForProfessor(ctx, p, classID); err != nil {
		return nil, err
	}
	sessions, err := m.store.ListSessionsByClass(ctx, classID)
	if err != nil {
		return nil, apperr.Internal("failed to list sessions", err)
	}
	return sessions, nil
}

// Classes returns the classes the professor owns.
func (m *Manager) Classes(ctx context.Context, p *identity.Principal) ([]store.Class, error) {
	if err := authz.Authenticate(p, identity.RoleProfessor, "only professors can manage classes"); err != nil {
		return nil, err
	}
	classes, err := m.store.ListClassesByProfessor(ctx, p.ID)
	if err != nil {
		return nil, apperr.Internal("failed to list classes", err)
	}
	return classes, nil
}

// AttachMaterial uploads lecture material for a session, replacing any earlier upload.
func (m *Manager) AttachMaterial(ctx context.Context, p *identity.Principal, sessionID, filename string, data []byte, contentType string) (store.Session, error) {
	s, _, err := m.guard.SessionForProfessor(ctx, p, sessionID)
	if err != nil {
		return store.Session{}, err
	}
	name := path.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == "/" {
		return store.Session{}, apperr.BadRequest("file name is required")
	}
	if len(data) == 0 {
		return store.Session{}, apperr.BadRequest("file is empty")
	}
	key := "materials/" + s.SessionID + "/" + name
	if _, err := m.objects.Put(ctx, key, data, contentType); err != nil {
		return store.Session{}, apperr.Internal("failed to upload lecture material", err)
	}
	updated, err := m.store.UpdateSession(ctx, s.SessionID, store.SessionUpdate{
		LectureMaterialKey: &key,
		UpdatedAt:          m.now().UTC(),
	})
	if err != nil {
		return store.Session{}, apperr.Internal("failed to update session", err)
	}
	if updated == nil {
		return store.Session{}, apperr.NotFound("session not found")
	}
	m.log.Info("lecture material attached", zap.String("session_id", s.SessionID), zap.String("key", key))
	return *updated, nil
}

func qrImageKey(sessionID string) string {
	return "qrcodes/" + sessionID + ".png"
}

func validateSchedule(date, start, end string) error {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return apperr.BadRequest("session_date must be YYYY-MM-DD")
	}
	startAt, ok := parseClock(start)
	if !ok {
		return apperr.BadRequest("start_time must be HH:MM")
	}
	if end == "" {
		return nil
	}
	endAt, ok := parseClock(end)
	if !ok {
		return apperr.BadRequest("end_time must be HH:MM")
	}
	if !endAt.After(startAt) {
		return apperr.BadRequest("end_time must be after start_time")
	}
	return nil
}

func parseClock(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
