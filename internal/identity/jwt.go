package identity

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents the JWT payload issued for local development and tests.
type Claims struct {
	Username string   `json:"cognito:username,omitempty"`
	Email    string   `json:"email,omitempty"`
	Groups   []string `json:"cognito:groups,omitempty"`
	jwt.RegisteredClaims
}

// Issue signs an HS256 token for subject carrying the given groups.
func Issue(subject, username string, groups []string, issuer, key string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		Username: username,
		Groups:   groups,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// Options configures a Resolver.
type Options struct {
	// SigningKey enables HS256 verification with a shared secret.
	SigningKey string
	// Keys enables RS256 verification against the identity provider's key set.
	Keys   *KeyCache
	Issuer string
	Groups GroupMapping
	Now    func() time.Time
}

// Resolver turns bearer tokens into principals.
type Resolver struct {
	secret []byte
	keys   *KeyCache
	issuer string
	groups GroupMapping
	now    func() time.Time
}

// NewResolver builds a resolver. At least one of SigningKey or Keys should be set;
// otherwise every token resolves to nil.
func NewResolver(opts Options) *Resolver {
	r := &Resolver{
		keys:   opts.Keys,
		issuer: opts.Issuer,
		groups: opts.Groups,
		now:    opts.Now,
	}
	if opts.SigningKey != "" {
		r.secret = []byte(opts.SigningKey)
	}
	if r.groups == nil {
		r.groups = DefaultGroups()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// FromClaims maps an already-verified claim set onto a principal, or nil.
func (r *Resolver) FromClaims(claims map[string]interface{}) *Principal {
	return principalFromClaims(claims, r.groups)
}

// FromBearer verifies a token and resolves its principal. Any verification
// failure yields nil.
func (r *Resolver) FromBearer(ctx context.Context, token string) *Principal {
	claims, err := r.verify(ctx, token)
	if err != nil {
		return nil
	}
	return r.FromClaims(claims)
}

func (r *Resolver) verify(ctx context.Context, token string) (jwt.MapClaims, error) {
	if token == "" {
		return nil, errors.New("empty token")
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(r.now),
		jwt.WithExpirationRequired(),
	}
	if r.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(r.issuer))
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if len(r.secret) == 0 {
				return nil, errors.New("hmac tokens not accepted")
			}
			return r.secret, nil
		case *jwt.SigningMethodRSA:
			if r.keys == nil {
				return nil, errors.New("no key set configured")
			}
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("token missing kid")
			}
			return r.keys.Key(ctx, kid)
		default:
			return nil, errors.New("unexpected signing method")
		}
	}, parserOpts...)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
