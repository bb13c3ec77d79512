package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lugma-dev/lugma/pkg/protocol"
	"github.com/lugma-dev/lugma/pkg/stream"
	"github.com/lugma-dev/lugma/pkg/transport"
)

// MetricsConfig configures the Prometheus metrics collector.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "lugma").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for call duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics collector.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "lugma",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics collects Prometheus metrics for unary calls and streams.
//
// Metrics collected (with the default namespace):
//   - lugma_calls_total: unary calls by path and status ("ok" or "error")
//   - lugma_call_duration_seconds: unary call duration by path
//   - lugma_call_errors_total: error results by path and error type
//   - lugma_active_streams: open streams by role
//   - lugma_streams_total: opened streams by role
//   - lugma_stream_duration_seconds: stream lifetime by role
//   - lugma_frames_received_total: inbound frames by role
//   - lugma_frames_sent_total: outbound frames by role and kind
//   - lugma_frames_dropped_total: dropped inbound frames by role and reason
//   - lugma_frame_bytes_total: frame payload bytes by role and direction
//
// Metrics implements stream.Observer; attach it with
// transport.WithStreamObserver or transport.WithObserver. Its Middleware
// method instruments unary methods.
type Metrics struct {
	callsTotal     *prometheus.CounterVec
	callDuration   *prometheus.HistogramVec
	callErrors     *prometheus.CounterVec
	activeStreams  *prometheus.GaugeVec
	streamsTotal   *prometheus.CounterVec
	streamDuration *prometheus.HistogramVec
	framesReceived *prometheus.CounterVec
	framesSent     *prometheus.CounterVec
	framesDropped  *prometheus.CounterVec
	frameBytes     *prometheus.CounterVec
}

var _ stream.Observer = (*Metrics)(nil)

// NewMetrics creates and registers the metrics. Registering twice on the
// same registry panics, as with promauto.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, labels)
	}

	return &Metrics{
		callsTotal: counter("calls_total", "Total number of unary calls served", "path", "status"),

		callDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "call_duration_seconds",
			Help:        "Unary call handling duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"path"}),

		callErrors: counter("call_errors_total", "Total number of error results by type", "path", "error_type"),

		activeStreams: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_streams",
			Help:        "Number of open event streams",
			ConstLabels: config.ConstLabels,
		}, []string{"role"}),

		streamsTotal: counter("streams_total", "Total number of event streams opened", "role"),

		streamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "stream_duration_seconds",
			Help:        "Event stream lifetime in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     []float64{1, 10, 60, 300, 1800, 3600, 14400},
		}, []string{"role"}),

		framesReceived: counter("frames_received_total", "Total number of event frames received", "role"),
		framesSent:     counter("frames_sent_total", "Total number of event frames sent", "role", "kind"),
		framesDropped:  counter("frames_dropped_total", "Total number of inbound frames dropped", "role", "reason"),
		frameBytes:     counter("frame_bytes_total", "Total event frame bytes", "role", "direction"),
	}
}

// Middleware returns a transport.MethodMiddleware recording call metrics.
func (m *Metrics) Middleware() transport.MethodMiddleware {
	return func(next transport.MethodHandler) transport.MethodHandler {
		return func(ctx context.Context, body json.RawMessage, md *protocol.Metadata) transport.Result {
			path := transport.MethodPath(ctx)
			if path == "" {
				path = "/"
			}

			start := time.Now()
			res := next(ctx, body, md)
			m.callDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())

			status := "ok"
			if !res.IsOK() {
				status = "error"
				m.callErrors.WithLabelValues(path, errorType(res)).Inc()
			}
			m.callsTotal.WithLabelValues(path, status).Inc()
			return res
		}
	}
}

// errorType names an error result without using its contents: a single-key
// object (an error union variant) is named by its key, requests the router
// rejected are "invalid_body", anything else is "application".
func errorType(res transport.Result) string {
	if _, ok := res.Value().(transport.ErrorBody); ok {
		return "invalid_body"
	}
	data, err := json.Marshal(res.Value())
	if err != nil {
		return "application"
	}
	var obj map[string]json.RawMessage
	if json.Unmarshal(data, &obj) != nil || len(obj) != 1 {
		return "application"
	}
	for k := range obj {
		return k
	}
	return "application"
}

// StreamOpened implements stream.Observer.
func (m *Metrics) StreamOpened(role stream.Role) {
	m.activeStreams.WithLabelValues(role.String()).Inc()
	m.streamsTotal.WithLabelValues(role.String()).Inc()
}

// StreamClosed implements stream.Observer.
func (m *Metrics) StreamClosed(role stream.Role, lifetime time.Duration) {
	m.activeStreams.WithLabelValues(role.String()).Dec()
	m.streamDuration.WithLabelValues(role.String()).Observe(lifetime.Seconds())
}

// FrameReceived implements stream.Observer. Inbound kinds are peer-chosen,
// so they are not used as a label.
func (m *Metrics) FrameReceived(role stream.Role, _ string, size int) {
	m.framesReceived.WithLabelValues(role.String()).Inc()
	m.frameBytes.WithLabelValues(role.String(), "in").Add(float64(size))
}

// FrameSent implements stream.Observer.
func (m *Metrics) FrameSent(role stream.Role, kind string, size int) {
	m.framesSent.WithLabelValues(role.String(), kind).Inc()
	m.frameBytes.WithLabelValues(role.String(), "out").Add(float64(size))
}

// FrameDropped implements stream.Observer.
func (m *Metrics) FrameDropped(role stream.Role, reason string) {
	m.framesDropped.WithLabelValues(role.String(), reason).Inc()
}
