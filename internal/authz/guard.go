// Package authz decides whether a principal may act on a class or session.
//
// Checks are deny-by-default. The role check runs before any lookup so that a
// caller without the role learns nothing about which resources exist; the
// ownership check runs before any mutation.
package authz

import (
	"context"

	"classattend/internal/apperr"
	"classattend/internal/identity"
	"classattend/internal/store"
)

// RequireRole reports whether p is authenticated and holds role.
func RequireRole(p *identity.Principal, role identity.Role) bool {
	return p != nil && p.Has(role)
}

// OwnsClass reports whether p is the professor who owns c.
func OwnsClass(p *identity.Principal, c *store.Class) bool {
	return p != nil && c != nil && p.ID != "" && c.ProfessorID == p.ID
}

// Authenticate turns a missing principal into a 401 and a missing role into a 403.
func Authenticate(p *identity.Principal, role identity.Role, denyMsg string) error {
	if p == nil {
		return apperr.Unauthenticated("unauthorized")
	}
	if !RequireRole(p, role) {
		return apperr.Forbidden(denyMsg)
	}
	return nil
}

// Lookup is the subset of the store the guard reads.
type Lookup interface {
	GetClass(ctx context.Context, classID string) (*store.Class, error)
	GetSession(ctx context.Context, sessionID string) (*store.Session, error)
}

// Guard resolves resources on behalf of a principal, enforcing role and ownership.
type Guard struct {
	lookup Lookup
}

// New creates a guard over the store.
func New(lookup Lookup) *Guard {
	return &Guard{lookup: lookup}
}

// ClassForProfessor returns classID if p is a professor who owns it.
func (g *Guard) ClassForProfessor(ctx context.Context, p *identity.Principal, classID string) (*store.Class, error) {
	if err := Authenticate(p, identity.RoleProfessor, "only professors can manage classes"); err != nil {
		return nil, err
	}
	if classID == "" {
		return nil, apperr.BadRequest("class_id is required")
	}
	c, err := g.lookup.GetClass(ctx, classID)
	if err != nil {
		return nil, apperr.Internal("failed to load class", err)
	}
	if c == nil {
		return nil, apperr.NotFound("class not found")
	}
	if !OwnsClass(p, c) {
		return nil, apperr.Forbidden("you do not own this class")
	}
	return c, nil
}

// SessionForProfessor returns the session and its class if p is a professor who
// owns the class. A session whose class cannot be found is reported as 404
// since ownership cannot be proven.
func (g *Guard) SessionForProfessor(ctx context.Context, p *identity.Principal, sessionID string) (*store.Session, *store.Class, error) {
	if err := Authenticate(p, identity.RoleProfessor, "only professors can manage sessions"); err != nil {
		return nil, nil, err
	}
	if sessionID == "" {
		return nil, nil, apperr.BadRequest("session_id is required")
	}
	s, err := g.lookup.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, apperr.Internal("failed to load session", err)
	}
	if s == nil {
		return nil, nil, apperr.NotFound("session not found")
	}
	c, err := g.lookup.GetClass(ctx, s.ClassID)
	if err != nil {
		return nil, nil, apperr.Internal("failed to load class", err)
	}
	if c == nil {
		return nil, nil, apperr.NotFound("class not found")
	}
	if !OwnsClass(p, c) {
		return nil, nil, apperr.Forbidden("you do not own this class")
	}
	return s, c, nil
}
