package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestFromClaims(t *testing.T) {
	r := NewResolver(Options{SigningKey: testSecret})

	tests := []struct {
		name      string
		claims    map[string]interface{}
		wantNil   bool
		wantRoles []Role
	}{
		{
			name:      "array groups",
			claims:    map[string]interface{}{"sub": "u1", "cognito:groups": []interface{}{"professors"}},
			wantRoles: []Role{RoleProfessor},
		},
		{
			name:      "string groups",
			claims:    map[string]interface{}{"sub": "u1", "cognito:groups": "students, professors"},
			wantRoles: []Role{RoleProfessor, RoleStudent},
		},
		{
			name:      "unknown group ignored",
			claims:    map[string]interface{}{"sub": "u1", "cognito:groups": []interface{}{"admins"}},
			wantRoles: []Role{},
		},
		{
			name:      "no groups",
			claims:    map[string]interface{}{"sub": "u1"},
			wantRoles: []Role{},
		},
		{name: "missing subject", claims: map[string]interface{}{"cognito:groups": "students"}, wantNil: true},
		{name: "empty claims", claims: map[string]interface{}{}, wantNil: true},
		{name: "numeric subject", claims: map[string]interface{}{"sub": 42.0}, wantNil: true},
		{name: "non-string group", claims: map[string]interface{}{"sub": "u1", "cognito:groups": []interface{}{1.0}}, wantNil: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := r.FromClaims(tt.claims)
			if tt.wantNil {
				assert.Nil(t, p)
				return
			}
			require.NotNil(t, p)
			assert.Equal(t, "u1", p.ID)
			assert.Equal(t, tt.wantRoles, p.RoleList())
		})
	}
}

func TestFromClaimsUsername(t *testing.T) {
	r := NewResolver(Options{})
	p := r.FromClaims(map[string]interface{}{"sub": "u1", "username": "alice", "email": "a@example.edu"})
	require.NotNil(t, p)
	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, "a@example.edu", p.Email)
}

func TestNilPrincipalHasNoRoles(t *testing.T) {
	var p *Principal
	assert.False(t, p.Has(RoleStudent))
	assert.Nil(t, p.RoleList())
}

func TestFromBearerHS256(t *testing.T) {
	r := NewResolver(Options{SigningKey: testSecret, Issuer: "classattend"})

	tok, _, err := Issue("prof-1", "prof", []string{"professors"}, "classattend", testSecret, time.Hour)
	require.NoError(t, err)
	p := r.FromBearer(context.Background(), tok)
	require.NotNil(t, p)
	assert.Equal(t, "prof-1", p.ID)
	assert.True(t, p.Has(RoleProfessor))
	assert.False(t, p.Has(RoleStudent))

	t.Run("wrong secret", func(t *testing.T) {
		bad, _, err := Issue("prof-1", "", []string{"professors"}, "classattend", "other", time.Hour)
		require.NoError(t, err)
		assert.Nil(t, r.FromBearer(context.Background(), bad))
	})
	t.Run("wrong issuer", func(t *testing.T) {
		bad, _, err := Issue("prof-1", "", []string{"professors"}, "elsewhere", testSecret, time.Hour)
		require.NoError(t, err)
		assert.Nil(t, r.FromBearer(context.Background(), bad))
	})
	t.Run("expired", func(t *testing.T) {
		bad, _, err := Issue("prof-1", "", []string{"professors"}, "classattend", testSecret, -time.Minute)
		require.NoError(t, err)
		assert.Nil(t, r.FromBearer(context.Background(), bad))
	})
	t.Run("garbage", func(t *testing.T) {
		assert.Nil(t, r.FromBearer(context.Background(), "not-a-jwt"))
		assert.Nil(t, r.FromBearer(context.Background(), ""))
	})
	t.Run("hmac disabled", func(t *testing.T) {
		noSecret := NewResolver(Options{})
		assert.Nil(t, noSecret.FromBearer(context.Background(), tok))
	})
}

func TestKeySetOnlyRejectsHS256(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	cache := NewKeyCache(&staticSource{keys: map[string]interface{}{"k1": &priv.PublicKey}}, time.Hour, time.Minute)
	r := NewResolver(Options{Keys: cache})

	for _, key := range []string{"dev-signing-secret-change", testSecret} {
		forged, _, err := Issue("intruder", "", []string{"professors"}, "", key, time.Hour)
		require.NoError(t, err)
		assert.Nil(t, r.FromBearer(context.Background(), forged), "hs256 signed with %q", key)
	}
}

type staticSource struct {
	keys  map[string]interface{}
	err   error
	calls atomic.Int32
}

func (s *staticSource) FetchKeys(context.Context) (map[string]interface{}, error) {
	s.calls.Add(1)
	return s.keys, s.err
}

func rsaToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(key)
	require.NoError(t, err)
	return s
}

func TestFromBearerRS256WithKeyCache(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	src := &staticSource{keys: map[string]interface{}{"k1": &priv.PublicKey}}
	cache := NewKeyCache(src, time.Hour, time.Minute)
	r := NewResolver(Options{Keys: cache})

	claims := jwt.MapClaims{
		"sub":            "stud-1",
		"cognito:groups": []string{"students"},
		"exp":            time.Now().Add(time.Hour).Unix(),
	}
	p := r.FromBearer(context.Background(), rsaToken(t, priv, "k1", claims))
	require.NotNil(t, p)
	assert.True(t, p.Has(RoleStudent))

	// a second lookup is served from the cache
	require.NotNil(t, r.FromBearer(context.Background(), rsaToken(t, priv, "k1", claims)))
	assert.Equal(t, int32(1), src.calls.Load())

	// unknown kid refreshes at most once per interval
	assert.Nil(t, r.FromBearer(context.Background(), rsaToken(t, priv, "k2", claims)))
	assert.Nil(t, r.FromBearer(context.Background(), rsaToken(t, priv, "k2", claims)))
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestKeyCacheRefreshAfterInterval(t *testing.T) {
	src := &staticSource{keys: map[string]interface{}{"k1": "key-one"}}
	cache := NewKeyCache(src, time.Hour, time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	_, err := cache.Key(context.Background(), "k2")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	src.keys = map[string]interface{}{"k1": "key-one", "k2": "key-two"}
	_, err = cache.Key(context.Background(), "k2")
	assert.ErrorIs(t, err, ErrKeyNotFound, "refresh is rate limited")

	now = now.Add(2 * time.Minute)
	key, err := cache.Key(context.Background(), "k2")
	require.NoError(t, err)
	assert.Equal(t, "key-two", key)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestKeyCacheSourceError(t *testing.T) {
	src := &staticSource{err: errors.New("boom")}
	cache := NewKeyCache(src, time.Hour, time.Minute)
	_, err := cache.Key(context.Background(), "k1")
	assert.EqualError(t, err, "boom")
}

func TestHTTPKeySource(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: &priv.PublicKey, KeyID: "sig-key", Algorithm: "RS256", Use: "sig"},
		{Key: &priv.PublicKey, KeyID: "enc-key", Algorithm: "RSA-OAEP", Use: "enc"},
	}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(set)
	}))
	defer srv.Close()

	keys, err := NewHTTPKeySource(srv.URL).FetchKeys(context.Background())
	require.NoError(t, err)
	require.Contains(t, keys, "sig-key")
	assert.NotContains(t, keys, "enc-key")
	pub, ok := keys["sig-key"].(*rsa.PublicKey)
	require.True(t, ok)
	assert.Equal(t, priv.PublicKey.N, pub.N)
}

func TestHTTPKeySourceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()
	_, err := NewHTTPKeySource(srv.URL).FetchKeys(context.Background())
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewResolver(Options{SigningKey: testSecret})
	engine := gin.New()
	engine.Use(Middleware(r))
	engine.GET("/whoami", func(c *gin.Context) {
		p := FromContext(c)
		if p == nil {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, p.ID)
	})

	tok, _, err := Issue("stud-9", "", []string{"students"}, "", testSecret, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		header string
		want   string
	}{
		{"Bearer " + tok, "stud-9"},
		{"bearer " + tok, "stud-9"},
		{"Bearer junk", "anonymous"},
		{"", "anonymous"},
		{"Basic abc", "anonymous"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, tt.want, w.Body.String())
	}
}
