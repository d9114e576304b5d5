package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastelink_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteViewed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastelink_paste_viewed_total",
		Help: "no. of consuming reads served",
	})
	PastePeeked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastelink_paste_peeked_total",
		Help: "no. of read-only status reads served",
	})
	// reason is internal only; callers always see not found.
	PasteMissing = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastelink_paste_missing_total",
			Help: "no. of reads that found no viewable paste",
		},
		[]string{"reason"},
	)
	BackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastelink_backend_errors_total",
			Help: "no. of failed key-value calls",
		},
		[]string{"op"},
	)
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pastelink_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastelink_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
	BackendUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pastelink_backend_up",
		Help: "1 if the last health probe reached the backend",
	})
)
