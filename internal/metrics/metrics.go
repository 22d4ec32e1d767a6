// ABOUTME: Prometheus collectors for bridge traffic, queues, and webhooks
// ABOUTME: A nil *Recorder is a no-op so callers never need to guard

// Package metrics records operational counters for the bridge.
//
// Recorder owns a private registry, so multiple instances (tests, embedded
// use) never fight over collector registration. Label values are small fixed
// vocabularies; message content never becomes a label.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the bridge's Prometheus collectors.
type Recorder struct {
	registry *prometheus.Registry

	messagesReceived prometheus.Counter
	messagesRouted   prometheus.Counter
	queuePushes      prometheus.Counter
	queueEvictions   *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	webhookSends     *prometheus.CounterVec
	webhookCreates   prometheus.Counter
	dedupeHits       prometheus.Counter
	notifications    *prometheus.CounterVec
	authAttempts     *prometheus.CounterVec
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		messagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "messages_received_total",
			Help: "Platform messages seen by the gateway after deduplication",
		}),
		messagesRouted: factory.NewCounter(prometheus.CounterOpts{
			Name: "messages_routed_total",
			Help: "Messages that matched at least one entity and were queued",
		}),
		queuePushes: factory.NewCounter(prometheus.CounterOpts{
			Name: "queue_pushes_total",
			Help: "Items pushed onto entity queues",
		}),
		queueEvictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_evictions_total",
			Help: "Items removed from queues without being drained",
		}, []string{"reason"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Items currently queued across all entities",
		}),
		webhookSends: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_sends_total",
			Help: "Webhook executions by result",
		}, []string{"result"}),
		webhookCreates: factory.NewCounter(prometheus.CounterOpts{
			Name: "webhook_creates_total",
			Help: "Webhooks created by the bridge",
		}),
		dedupeHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "dedupe_hits_total",
			Help: "Messages dropped as duplicates",
		}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Owner notification attempts by result",
		}, []string{"result"}),
		authAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "API-key authentication attempts by result",
		}, []string{"result"}),
	}
}

// Handler serves the recorder's registry in Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) MessageReceived() {
	if r == nil {
		return
	}
	r.messagesReceived.Inc()
}

func (r *Recorder) MessageRouted() {
	if r == nil {
		return
	}
	r.messagesRouted.Inc()
}

func (r *Recorder) QueuePush() {
	if r == nil {
		return
	}
	r.queuePushes.Inc()
}

// QueueEviction counts an item lost to "expired", "capacity", or "tampered".
func (r *Recorder) QueueEviction(reason string) {
	if r == nil {
		return
	}
	r.queueEvictions.WithLabelValues(reason).Inc()
}

func (r *Recorder) SetQueueDepth(n int) {
	if r == nil {
		return
	}
	r.queueDepth.Set(float64(n))
}

// WebhookSend counts an execution with result "ok", "retried", or "error".
func (r *Recorder) WebhookSend(result string) {
	if r == nil {
		return
	}
	r.webhookSends.WithLabelValues(result).Inc()
}

func (r *Recorder) WebhookCreate() {
	if r == nil {
		return
	}
	r.webhookCreates.Inc()
}

func (r *Recorder) DedupeHit() {
	if r == nil {
		return
	}
	r.dedupeHits.Inc()
}

// Notification counts an owner DM attempt with result "ok" or "error".
func (r *Recorder) Notification(result string) {
	if r == nil {
		return
	}
	r.notifications.WithLabelValues(result).Inc()
}

// AuthAttempt counts an authentication with result "ok" or "denied".
func (r *Recorder) AuthAttempt(result string) {
	if r == nil {
		return
	}
	r.authAttempts.WithLabelValues(result).Inc()
}
