package identity

import "sort"

// Role is a closed set of actor kinds recognised by the service.
type Role string

const (
	RoleProfessor Role = "professor"
	RoleStudent   Role = "student"
)

// Principal is an authenticated caller.
type Principal struct {
	ID       string
	Username string
	Email    string
	Roles    map[Role]struct{}
}

// NewPrincipal builds a principal holding the given roles.
func NewPrincipal(id string, roles ...Role) *Principal {
	p := &Principal{ID: id, Roles: make(map[Role]struct{}, len(roles))}
	for _, r := range roles {
		p.Roles[r] = struct{}{}
	}
	return p
}

// Has reports whether p holds role r. A nil principal holds no roles.
func (p *Principal) Has(r Role) bool {
	if p == nil {
		return false
	}
	_, ok := p.Roles[r]
	return ok
}

// RoleList returns the roles in a stable order.
func (p *Principal) RoleList() []Role {
	if p == nil {
		return nil
	}
	out := make([]Role, 0, len(p.Roles))
	for r := range p.Roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GroupMapping maps identity provider group names onto roles.
type GroupMapping map[string]Role

// DefaultGroups matches the group names used by the identity provider user pool.
func DefaultGroups() GroupMapping {
	return GroupMapping{"professors": RoleProfessor, "students": RoleStudent}
}
