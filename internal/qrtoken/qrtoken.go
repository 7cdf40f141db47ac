// Package qrtoken mints and validates the short-lived attendance tokens that
// are embedded in a session's QR code.
//
// A token is a JSON document:
//
//	{"session_id":"…","class_id":"…","timestamp":"2025-11-21T10:00:00Z","expiry":"2025-11-21T11:00:00Z"}
//
// Timestamps are UTC with second precision. A token is valid while the
// codec's clock is not after its expiry.
package qrtoken

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// DefaultTTL is used when a caller does not ask for a specific lifetime.
const DefaultTTL = 60 * time.Minute

// Token is the decoded form of a QR payload.
type Token struct {
	SessionID string    `json:"session_id"`
	ClassID   string    `json:"class_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Reason explains why a payload was rejected.
type Reason string

const (
	ReasonMalformed    Reason = "malformed"
	ReasonMissingField Reason = "missing_field"
	ReasonExpired      Reason = "expired"
)

// Result is the outcome of Decode. Reason is empty for a valid token.
type Result struct {
	Token  Token
	Reason Reason
}

// Valid reports whether the payload decoded into an unexpired token.
func (r Result) Valid() bool { return r.Reason == "" }

type payload struct {
	SessionID string `json:"session_id"`
	ClassID   string `json:"class_id"`
	Timestamp string `json:"timestamp"`
	Expiry    string `json:"expiry"`
}

// naive ISO timestamps without an offset are read as UTC.
var layouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"}

// Codec mints and decodes tokens against an injectable clock.
type Codec struct {
	now func() time.Time
	ttl time.Duration
}

// NewCodec creates a codec. A nil clock uses time.Now; a non-positive ttl uses DefaultTTL.
func NewCodec(now func() time.Time, defaultTTL time.Duration) *Codec {
	if now == nil {
		now = time.Now
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Codec{now: now, ttl: defaultTTL}
}

// DefaultTTL returns the lifetime applied when Mint is given ttl <= 0.
func (c *Codec) DefaultTTL() time.Duration { return c.ttl }

// Mint issues a token for the session and returns it with its serialized form.
func (c *Codec) Mint(sessionID, classID string, ttl time.Duration) (Token, string, error) {
	if sessionID == "" || classID == "" {
		return Token{}, "", errors.New("session and class required")
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	issued := c.now().UTC().Truncate(time.Second)
	tok := Token{
		SessionID: sessionID,
		ClassID:   classID,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(ttl),
	}
	b, err := json.Marshal(payload{
		SessionID: tok.SessionID,
		ClassID:   tok.ClassID,
		Timestamp: tok.IssuedAt.Format(time.RFC3339),
		Expiry:    tok.ExpiresAt.Format(time.RFC3339),
	})
	if err != nil {
		return Token{}, "", err
	}
	return tok, string(b), nil
}

// Decode parses a serialized token and checks its expiry against the clock.
func (c *Codec) Decode(serialized string) Result {
	var p payload
	if err := json.Unmarshal([]byte(strings.TrimSpace(serialized)), &p); err != nil {
		return Result{Reason: ReasonMalformed}
	}
	if p.SessionID == "" || p.ClassID == "" || p.Timestamp == "" || p.Expiry == "" {
		return Result{Reason: ReasonMissingField}
	}
	issued, ok := parseTime(p.Timestamp)
	if !ok {
		return Result{Reason: ReasonMalformed}
	}
	expires, ok := parseTime(p.Expiry)
	if !ok {
		return Result{Reason: ReasonMalformed}
	}
	tok := Token{SessionID: p.SessionID, ClassID: p.ClassID, IssuedAt: issued, ExpiresAt: expires}
	if c.now().UTC().After(expires) {
		return Result{Token: tok, Reason: ReasonExpired}
	}
	return Result{Token: tok}
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
