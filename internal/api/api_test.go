package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classattend/internal/analytics"
	"classattend/internal/attendance"
	"classattend/internal/httpmiddleware"
	"classattend/internal/identity"
	"classattend/internal/notify"
	"classattend/internal/objectstore"
	"classattend/internal/qrtoken"
	"classattend/internal/session"
	"classattend/internal/store"
)

const secret = "api-test-secret"

type harness struct {
	t      *testing.T
	now    time.Time
	engine *gin.Engine
	queue  *notify.InMemory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := &harness{t: t, now: time.Date(2025, 11, 21, 10, 0, 0, 0, time.UTC), queue: notify.NewInMemory(64)}
	clock := func() time.Time { return h.now }

	st := store.NewMemory()
	objects := objectstore.NewMemory("http://example.test", "obj-secret", clock)
	codec := qrtoken.NewCodec(clock, 0)
	srv := &Server{
		Sessions:     session.NewManager(st, codec, objects, nil, session.WithClock(clock)),
		Attendance:   attendance.NewRecorder(st, codec, objects, h.queue, nil, attendance.WithClock(clock)),
		Analytics:    analytics.New(st),
		Resolver:     identity.NewResolver(identity.Options{SigningKey: secret}),
		Limiter:      httpmiddleware.NewTokenBucket(1000, 1000, clock),
		LocalObjects: objects,
		Health:       map[string]HealthCheck{"db": func(ctx context.Context) bool { return st.Ping(ctx) == nil }},
	}
	h.engine = srv.Router()
	return h
}

func token(t *testing.T, sub, group string) string {
	t.Helper()
	tok, _, err := identity.Issue(sub, sub, []string{group}, "", secret, time.Hour)
	require.NoError(t, err)
	return tok
}

func (h *harness) do(method, path, tok string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	h.t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(h.t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	out := map[string]interface{}{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

// setup creates a class and a session owned by prof and returns their ids.
func (h *harness) setup(prof string) (classID, sessionID string) {
	h.t.Helper()
	w, body := h.do(http.MethodPost, "/v1/classes", prof, gin.H{"class_name": "Algorithms", "class_code": "CS101"})
	require.Equal(h.t, http.StatusCreated, w.Code, w.Body.String())
	classID = body["class"].(map[string]interface{})["class_id"].(string)

	w, body = h.do(http.MethodPost, "/v1/sessions", prof, gin.H{
		"class_id": classID, "session_date": "2025-11-21", "start_time": "10:00", "end_time": "11:00",
	})
	require.Equal(h.t, http.StatusCreated, w.Code, w.Body.String())
	sess := body["session"].(map[string]interface{})
	assert.Equal(h.t, false, sess["is_active"])
	return classID, sess["session_id"].(string)
}

func (h *harness) activate(prof, sessionID string, body interface{}) string {
	h.t.Helper()
	w, out := h.do(http.MethodPost, "/v1/sessions/"+sessionID+"/activate", prof, body)
	require.Equal(h.t, http.StatusOK, w.Code, w.Body.String())
	return out["qr_code_data"].(string)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)
	w, body := h.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["db"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "classattend_http_request_seconds")
}

func TestEndToEndScan(t *testing.T) {
	h := newHarness(t)
	prof := token(t, "prof-1", "professors")
	student := token(t, "stud-1", "students")

	_, sessionID := h.setup(prof)
	payload := h.activate(prof, sessionID, gin.H{"expiry_minutes": 30})

	w, body := h.do(http.MethodPost, "/v1/attendance/scan", student, gin.H{"qr_code_data": payload, "device_info": "phone"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "attendance recorded successfully", body["message"])
	assert.Equal(t, "Algorithms", body["class_name"])
	attendanceID := body["attendance_id"]
	assert.NotEmpty(t, attendanceID)

	w, body = h.do(http.MethodPost, "/v1/attendance/scan", student, gin.H{"qr_code_data": payload})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Attendance already recorded", body["error"])
	assert.Equal(t, attendanceID, body["attendance_id"])

	w, body = h.do(http.MethodGet, "/v1/attendance?session_id="+sessionID, prof, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, body["count"])

	w, body = h.do(http.MethodGet, "/v1/attendance", student, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, body["count"])

	w, body = h.do(http.MethodGet, "/v1/analytics?session_id="+sessionID+"&expected=4", prof, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 25.0, body["attendance_rate"])
	assert.Equal(t, 3.0, body["absent_count"])

	assert.Equal(t, 1, h.queue.Len())
}

func TestScanErrors(t *testing.T) {
	h := newHarness(t)
	prof := token(t, "prof-1", "professors")
	student := token(t, "stud-1", "students")
	_, sessionID := h.setup(prof)
	payload := h.activate(prof, sessionID, gin.H{"expiry_minutes": 5})

	w, _ := h.do(http.MethodPost, "/v1/attendance/scan", "", gin.H{"qr_code_data": payload})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = h.do(http.MethodPost, "/v1/attendance/scan", prof, gin.H{"qr_code_data": payload})
	assert.Equal(t, http.StatusForbidden, w.Code)

	h.now = h.now.Add(6 * time.Minute)
	w, body := h.do(http.MethodPost, "/v1/attendance/scan", student, gin.H{"qr_code_data": payload})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid/expired QR code", body["error"])
}

func TestActivateValidation(t *testing.T) {
	h := newHarness(t)
	prof := token(t, "prof-1", "professors")
	other := token(t, "prof-2", "professors")
	_, sessionID := h.setup(prof)

	w, _ := h.do(http.MethodPost, "/v1/sessions/"+sessionID+"/activate", prof, gin.H{"expiry_minutes": 1441})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = h.do(http.MethodPost, "/v1/sessions/"+sessionID+"/activate", other, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body := h.do(http.MethodPost, "/v1/sessions/"+sessionID+"/activate", prof, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, strings.HasSuffix(body["qr_code_url"].(string), "/objects/qrcodes/"+sessionID+".png"))

	// the QR image is served without a signature
	img := httptest.NewRecorder()
	h.engine.ServeHTTP(img, httptest.NewRequest(http.MethodGet, "/objects/qrcodes/"+sessionID+".png", nil))
	assert.Equal(t, http.StatusOK, img.Code)
	assert.Equal(t, "image/png", img.Header().Get("Content-Type"))
}

func TestSessionCrud(t *testing.T) {
	h := newHarness(t)
	prof := token(t, "prof-1", "professors")
	classID, sessionID := h.setup(prof)

	w, body := h.do(http.MethodGet, "/v1/sessions?class_id="+classID, prof, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, body["count"])

	w, _ = h.do(http.MethodGet, "/v1/sessions", prof, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = h.do(http.MethodPut, "/v1/sessions/"+sessionID, prof, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = h.do(http.MethodPut, "/v1/sessions/"+sessionID, prof, gin.H{"session_date": "2025-11-28"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "2025-11-28", body["session"].(map[string]interface{})["session_date"])

	h.activate(prof, sessionID, nil)
	w, body = h.do(http.MethodDelete, "/v1/sessions/"+sessionID, prof, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["session"].(map[string]interface{})["is_active"])

	w, _ = h.do(http.MethodGet, "/v1/sessions/missing", prof, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMaterialsFlow(t *testing.T) {
	h := newHarness(t)
	prof := token(t, "prof-1", "professors")
	student := token(t, "stud-1", "students")
	_, sessionID := h.setup(prof)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "notes.pdf")
	require.NoError(t, err)
	_, _ = part.Write([]byte("%PDF-1.4"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+sessionID+"/material", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+prof)
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	w, _ := h.do(http.MethodGet, "/v1/materials?session_id="+sessionID, student, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	payload := h.activate(prof, sessionID, nil)
	w, body := h.do(http.MethodPost, "/v1/attendance/scan", student, gin.H{"qr_code_data": payload})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, body["download_url"])

	w, body = h.do(http.MethodGet, "/v1/materials?session_id="+sessionID, student, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 3600.0, body["expires_in"])

	u, err := url.Parse(body["download_url"].(string))
	require.NoError(t, err)
	dl := httptest.NewRecorder()
	h.engine.ServeHTTP(dl, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
	require.Equal(t, http.StatusOK, dl.Code)
	assert.Equal(t, "%PDF-1.4", dl.Body.String())

	tampered := httptest.NewRecorder()
	h.engine.ServeHTTP(tampered, httptest.NewRequest(http.MethodGet, u.Path+"?expires=1&sig=00", nil))
	assert.Equal(t, http.StatusForbidden, tampered.Code)
}

func TestAnalyticsRoutes(t *testing.T) {
	h := newHarness(t)
	prof := token(t, "prof-1", "professors")
	other := token(t, "prof-2", "professors")
	classID, _ := h.setup(prof)

	w, body := h.do(http.MethodGet, "/v1/analytics?class_id="+classID, prof, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, body["total_sessions"])
	assert.Equal(t, 0.0, body["average_attendance"])

	w, _ = h.do(http.MethodGet, "/v1/analytics?class_id="+classID, other, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body = h.do(http.MethodGet, "/v1/analytics", prof, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, body["count"])

	w, _ = h.do(http.MethodGet, "/v1/analytics?session_id=x&expected=-1", prof, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnauthenticatedListing(t *testing.T) {
	h := newHarness(t)
	w, body := h.do(http.MethodGet, "/v1/attendance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", body["error"])
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodOptions, "/v1/attendance/scan", nil)
	req.Header.Set("Origin", "https://app.example.edu")
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.edu", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurityHeaders(t *testing.T) {
	h := newHarness(t)
	w, _ := h.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestHealthDegraded(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &Server{Health: map[string]HealthCheck{"redis": func(context.Context) bool { return false }}}
	engine := srv.Router()
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}

func TestRoleCheckedBeforeBody(t *testing.T) {
	h := newHarness(t)
	student := token(t, "stud-1", "students")
	prof := token(t, "prof-1", "professors")

	post := func(path, tok string) int {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader("{not json"))
		req.Header.Set("Content-Type", "application/json")
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		w := httptest.NewRecorder()
		h.engine.ServeHTTP(w, req)
		return w.Code
	}

	tests := []struct {
		name string
		path string
		tok  string
		want int
	}{
		{"anonymous class", "/v1/classes", "", http.StatusUnauthorized},
		{"student class", "/v1/classes", student, http.StatusForbidden},
		{"anonymous session", "/v1/sessions", "", http.StatusUnauthorized},
		{"student activate", "/v1/sessions/s1/activate", student, http.StatusForbidden},
		{"anonymous scan", "/v1/attendance/scan", "", http.StatusUnauthorized},
		{"professor scan", "/v1/attendance/scan", prof, http.StatusForbidden},
		{"student bad body", "/v1/attendance/scan", student, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, post(tt.path, tt.tok))
		})
	}

	w, _ := h.do(http.MethodGet, "/v1/analytics?session_id=x&expected=-1", student, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
