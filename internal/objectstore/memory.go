package objectstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Object is a stored blob.
type Object struct {
	Data        []byte
	ContentType string
}

// Memory keeps objects in process and signs read URLs with HMAC-SHA256.
// URLs point at BaseURL + "/objects/<key>" and are checked by Verify.
type Memory struct {
	BaseURL string
	secret  []byte
	now     func() time.Time

	mu      sync.RWMutex
	objects map[string]Object
}

// NewMemory creates an in-process store.
func NewMemory(baseURL, secret string, now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		BaseURL: strings.TrimRight(baseURL, "/"),
		secret:  []byte(secret),
		now:     now,
		objects: make(map[string]Object),
	}
}

func (m *Memory) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("object key required")
	}
	m.mu.Lock()
	m.objects[key] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	m.mu.Unlock()
	return m.BaseURL + "/objects/" + key, nil
}

func (m *Memory) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}
	expires := m.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", m.signature(key, expires))
	return m.BaseURL + "/objects/" + key + "?" + q.Encode(), nil
}

// Get returns the object stored under key.
func (m *Memory) Get(key string) (Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return Object{}, ErrNotFound
	}
	return obj, nil
}

// Verify checks a presigned URL's expiry and signature for key.
func (m *Memory) Verify(key, expires, sig string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	if m.now().Unix() > exp {
		return false
	}
	want := m.signature(key, exp)
	return hmac.Equal([]byte(want), []byte(sig))
}

func (m *Memory) signature(key string, expires int64) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
