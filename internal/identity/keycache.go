package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrKeyNotFound is returned when a key id is unknown even after a refresh.
var ErrKeyNotFound = errors.New("signing key not found")

// KeySource fetches the identity provider's current verification keys by key id.
type KeySource interface {
	FetchKeys(ctx context.Context) (map[string]interface{}, error)
}

// HTTPKeySource reads a JWKS document over HTTP.
type HTTPKeySource struct {
	URL  string
	HTTP *http.Client
}

// NewHTTPKeySource creates a JWKS source with a short timeout.
func NewHTTPKeySource(url string) *HTTPKeySource {
	return &HTTPKeySource{URL: url, HTTP: &http.Client{Timeout: 5 * time.Second}}
}

// FetchKeys downloads and parses the key set. Keys not meant for signatures are skipped.
func (s *HTTPKeySource) FetchKeys(ctx context.Context) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jwks request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("jwks error %s: %s", resp.Status, string(body))
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode jwks: %w", err)
	}

	out := make(map[string]interface{}, len(set.Keys))
	for _, k := range set.Keys {
		if k.KeyID == "" || !k.Valid() {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		out[k.KeyID] = k.Public().Key
	}
	return out, nil
}

// KeyCache holds verification keys for a bounded time. An unknown key id
// triggers at most one refresh per minRefresh interval.
type KeyCache struct {
	source     KeySource
	keys       *expirable.LRU[string, interface{}]
	minRefresh time.Duration
	now        func() time.Time

	mu          sync.Mutex
	lastRefresh time.Time
}

// NewKeyCache creates a cache over source. ttl bounds how long a key is trusted
// without re-fetching.
func NewKeyCache(source KeySource, ttl, minRefresh time.Duration) *KeyCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if minRefresh <= 0 {
		minRefresh = 30 * time.Second
	}
	return &KeyCache{
		source:     source,
		keys:       expirable.NewLRU[string, interface{}](64, nil, ttl),
		minRefresh: minRefresh,
		now:        time.Now,
	}
}

// Key returns the verification key for kid, refreshing the set if needed.
func (c *KeyCache) Key(ctx context.Context, kid string) (interface{}, error) {
	if key, ok := c.keys.Get(kid); ok {
		return key, nil
	}
	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	if key, ok := c.keys.Get(kid); ok {
		return key, nil
	}
	return nil, ErrKeyNotFound
}

func (c *KeyCache) refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.lastRefresh.IsZero() && now.Sub(c.lastRefresh) < c.minRefresh {
		return nil
	}
	keys, err := c.source.FetchKeys(ctx)
	if err != nil {
		return err
	}
	c.lastRefresh = now
	for kid, key := range keys {
		c.keys.Add(kid, key)
	}
	return nil
}

// Purge drops every cached key.
func (c *KeyCache) Purge() {
	c.keys.Purge()
	c.mu.Lock()
	c.lastRefresh = time.Time{}
	c.mu.Unlock()
}
