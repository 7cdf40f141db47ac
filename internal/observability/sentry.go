// Package observability reports unexpected failures to Sentry.
package observability

import (
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryConfig selects the Sentry project and how events are sampled.
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
	// SampleRate outside (0, 1] reports every event.
	SampleRate float64
}

// InitSentry configures the global Sentry client and returns a func that
// flushes buffered events on shutdown. An empty DSN disables reporting.
func InitSentry(cfg SentryConfig) (func(), error) {
	noop := func() {}
	if cfg.DSN == "" {
		return noop, nil
	}
	rate := cfg.SampleRate
	if rate <= 0 || rate > 1 {
		rate = 1
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		SampleRate:       rate,
		AttachStacktrace: true,
		BeforeSend:       scrub,
	})
	if err != nil {
		return noop, err
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// scrub strips credentials from request data attached to an event.
func scrub(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if event == nil || event.Request == nil {
		return event
	}
	for name := range event.Request.Headers {
		switch http.CanonicalHeaderKey(name) {
		case "Authorization", "Cookie", "Set-Cookie":
			delete(event.Request.Headers, name)
		}
	}
	event.Request.Cookies = ""
	return event
}

// CaptureErr reports err tagged with tags. It is a no-op for nil errors and
// when Sentry is not initialised.
func CaptureErr(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		sentry.CaptureException(err)
	})
}
