package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Scans = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classattend", Name: "scans_total", Help: "Attendance scans by outcome",
	}, []string{"outcome"})
	TokensMinted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "classattend", Name: "tokens_minted_total", Help: "QR tokens minted on session activation",
	})
	NotifyFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "classattend", Name: "notify_failures_total", Help: "Notifications that could not be published",
	})
	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "classattend", Name: "http_request_seconds", Help: "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})
)

func init() {
	prometheus.MustRegister(Scans, TokensMinted, NotifyFailures, HTTPDuration)
}

func Handler() http.Handler { return promhttp.Handler() }

// ObserveScan counts one scan attempt with the given outcome label.
func ObserveScan(outcome string) { Scans.WithLabelValues(outcome).Inc() }

func ObserveRequest(route string, status int, d time.Duration) {
	HTTPDuration.WithLabelValues(route, http.StatusText(status)).Observe(d.Seconds())
}
