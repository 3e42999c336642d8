// Package metrics holds the prometheus collectors for topicbus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusMetrics contains every collector exported by the messaging layer.
type BusMetrics struct {
	// Connection attempts, labelled by role and outcome class
	ConnectAttemptsTotal *prometheus.CounterVec

	// Publishes by topic and outcome (ok / error)
	PublishTotal    *prometheus.CounterVec
	PublishDuration *prometheus.HistogramVec

	// Dispatch side
	DeliveredTotal      *prometheus.CounterVec
	HandlerErrorsTotal  *prometheus.CounterVec
	DecodeFailuresTotal *prometheus.CounterVec

	// Last-value cache
	CacheUpdatesTotal         *prometheus.CounterVec
	NotificationsDroppedTotal prometheus.Counter
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer
// for the process-wide registry or a fresh registry in tests.
func New(reg prometheus.Registerer) *BusMetrics {
	f := promauto.With(reg)
	return &BusMetrics{
		ConnectAttemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "topicbus_connect_attempts_total",
				Help: "Broker connection attempts by role and outcome",
			},
			[]string{"role", "outcome"},
		),
		PublishTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "topicbus_publish_total",
				Help: "Messages published by topic and outcome",
			},
			[]string{"topic", "outcome"},
		),
		PublishDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "topicbus_publish_duration_seconds",
				Help:    "Time from send to broker acknowledgement",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic"},
		),
		DeliveredTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "topicbus_delivered_total",
				Help: "Messages handed to subscriber handlers",
			},
			[]string{"topic"},
		),
		HandlerErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "topicbus_handler_errors_total",
				Help: "Handler invocations that returned an error or panicked",
			},
			[]string{"topic"},
		),
		DecodeFailuresTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "topicbus_decode_failures_total",
				Help: "Malformed messages dropped by the dispatch path",
			},
			[]string{"topic"},
		),
		CacheUpdatesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "topicbus_cache_updates_total",
				Help: "Last-value cache overwrites by topic",
			},
			[]string{"topic"},
		),
		NotificationsDroppedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "topicbus_cache_notifications_dropped_total",
				Help: "Cache update notifications not delivered to a slow watcher",
			},
		),
	}
}

// Discard returns collectors bound to a private registry, for callers that
// do not export metrics.
func Discard() *BusMetrics {
	return New(prometheus.NewRegistry())
}
