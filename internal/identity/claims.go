package identity

import (
	"strings"

	"github.com/mitchellh/mapstructure"
)

// rawClaims is the subset of identity provider claims the service reads.
type rawClaims struct {
	Subject       string      `mapstructure:"sub"`
	Username      string      `mapstructure:"cognito:username"`
	PlainUsername string      `mapstructure:"username"`
	Email         string      `mapstructure:"email"`
	Groups        interface{} `mapstructure:"cognito:groups"`
}

// principalFromClaims decodes claims into a principal. Claims without a
// subject, or with mistyped fields, yield nil.
func principalFromClaims(claims map[string]interface{}, groups GroupMapping) *Principal {
	if len(claims) == 0 {
		return nil
	}
	var raw rawClaims
	if err := mapstructure.Decode(claims, &raw); err != nil {
		return nil
	}
	if strings.TrimSpace(raw.Subject) == "" {
		return nil
	}

	names, ok := groupNames(raw.Groups)
	if !ok {
		return nil
	}

	p := &Principal{
		ID:       raw.Subject,
		Username: raw.Username,
		Email:    raw.Email,
		Roles:    map[Role]struct{}{},
	}
	if p.Username == "" {
		p.Username = raw.PlainUsername
	}
	for _, name := range names {
		if role, found := groups[name]; found {
			p.Roles[role] = struct{}{}
		}
	}
	return p
}

// groupNames accepts a JSON array of strings or a single string holding one
// or more comma/space separated names.
func groupNames(v interface{}) ([]string, bool) {
	switch g := v.(type) {
	case nil:
		return nil, true
	case string:
		return strings.FieldsFunc(g, func(r rune) bool { return r == ',' || r == ' ' }), true
	case []string:
		return g, true
	case []interface{}:
		out := make([]string, 0, len(g))
		for _, item := range g {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
