package observability

import (
	"errors"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitSentryDisabledWithoutDSN(t *testing.T) {
	flush, err := InitSentry(SentryConfig{})
	require.NoError(t, err)
	require.NotNil(t, flush)
	flush()
	CaptureErr(errors.New("not sent"), map[string]string{"path": "/v1/attendance/scan"})
	CaptureErr(nil, nil)
}

func TestInitSentryRejectsBadDSN(t *testing.T) {
	_, err := InitSentry(SentryConfig{DSN: "not a dsn"})
	assert.Error(t, err)
}

func TestScrubDropsCredentials(t *testing.T) {
	event := &sentry.Event{Request: &sentry.Request{
		Headers: map[string]string{
			"authorization": "Bearer abc",
			"Cookie":        "sid=1",
			"Content-Type":  "application/json",
		},
		Cookies: "sid=1",
	}}
	out := scrub(event, nil)
	assert.Equal(t, map[string]string{"Content-Type": "application/json"}, out.Request.Headers)
	assert.Empty(t, out.Request.Cookies)

	assert.Nil(t, scrub(nil, nil))
	bare := &sentry.Event{}
	assert.Same(t, bare, scrub(bare, nil))
}
