// Package observability provides Prometheus and CloudWatch metrics plus
// tracing setup shared by the API server and the voice client.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the application. It
// satisfies the save, tool and session observer interfaces so one
// instance can be handed to every component.
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Persistence metrics
	TreeSaves        *prometheus.CounterVec
	TreeSaveDuration *prometheus.HistogramVec

	// Voice metrics
	ToolCalls        *prometheus.CounterVec
	ToolDuration     *prometheus.HistogramVec
	TurnTransitions  *prometheus.CounterVec
	ResponseRequests *prometheus.CounterVec
	AudioFlushBytes  prometheus.Counter
}

// NewCollector creates a collector with its own registry
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		TreeSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tree_operations_total",
			Help:      "Tree load and save attempts by result",
		}, []string{"operation", "result"}),
		TreeSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tree_operation_duration_seconds",
			Help:      "Tree load and save latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Agent tool calls by tool and outcome",
		}, []string{"tool", "result"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Time spent applying agent tool calls",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
		}, []string{"tool"}),
		TurnTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_transitions_total",
			Help:      "Voice session state transitions",
		}, []string{"from", "to"}),
		ResponseRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_requests_total",
			Help:      "Agent response requests by trigger",
		}, []string{"kind"}),
		AudioFlushBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_flushed_bytes_total",
			Help:      "PCM bytes sent to the agent",
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.HTTPRequests,
		c.HTTPDuration,
		c.TreeSaves,
		c.TreeSaveDuration,
		c.ToolCalls,
		c.ToolDuration,
		c.TurnTransitions,
		c.ResponseRequests,
		c.AudioFlushBytes,
	)
	return c
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one served request
func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveTreeSave implements services.SaveObserver
func (c *Collector) ObserveTreeSave(operation, result string, d time.Duration) {
	c.TreeSaves.WithLabelValues(operation, result).Inc()
	c.TreeSaveDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveToolCall implements voice.ToolObserver
func (c *Collector) ObserveToolCall(tool, result string, d time.Duration) {
	c.ToolCalls.WithLabelValues(tool, result).Inc()
	c.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveTransition implements voice.SessionObserver
func (c *Collector) ObserveTransition(from, to string) {
	c.TurnTransitions.WithLabelValues(from, to).Inc()
}

// ObserveAudioFlush implements voice.SessionObserver
func (c *Collector) ObserveAudioFlush(bytes int) {
	c.AudioFlushBytes.Add(float64(bytes))
}

// ObserveResponseRequest implements voice.SessionObserver
func (c *Collector) ObserveResponseRequest(kind string) {
	c.ResponseRequests.WithLabelValues(kind).Inc()
}
