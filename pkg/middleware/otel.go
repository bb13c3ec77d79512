package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/lugma-dev/lugma/pkg/protocol"
	"github.com/lugma-dev/lugma/pkg/transport"
)

// Default tracer name for Lugma servers.
const defaultTracerName = "lugma"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "lugma").
	TracerName string

	// TracerProvider supplies the tracer.
	// Default: the global provider.
	TracerProvider trace.TracerProvider

	// Filter determines which calls to trace.
	// Return true to trace the call, false to skip.
	// If nil, all calls are traced.
	Filter func(ctx context.Context, path string) bool

	// AttributeExtractor extracts custom attributes from call metadata.
	AttributeExtractor func(ctx context.Context, md *protocol.Metadata) []attribute.KeyValue

	tracer trace.Tracer
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

// WithFilter sets a filter function for calls.
func WithFilter(filter func(ctx context.Context, path string) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(ctx context.Context, md *protocol.Metadata) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

func defaultOTelConfig() OTelConfig {
	return OTelConfig{
		TracerName: defaultTracerName,
	}
}

// OpenTelemetry creates middleware that traces every unary call.
//
// Each call gets a server span named "lugma <path>" with lugma.path and
// lugma.status attributes. Error results set the span status to Error and
// record the error type.
//
// The tracer uses the global OpenTelemetry tracer provider unless
// WithTracerProvider is given. Configure it in main() before starting the
// server:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func OpenTelemetry(opts ...OTelOption) transport.MethodMiddleware {
	config := defaultOTelConfig()
	for _, opt := range opts {
		opt(&config)
	}

	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	config.tracer = tp.Tracer(config.TracerName)

	return func(next transport.MethodHandler) transport.MethodHandler {
		return func(ctx context.Context, body json.RawMessage, md *protocol.Metadata) transport.Result {
			path := transport.MethodPath(ctx)
			if path == "" {
				path = "/"
			}

			if config.Filter != nil && !config.Filter(ctx, path) {
				return next(ctx, body, md)
			}

			attrs := []attribute.KeyValue{
				attribute.String("lugma.path", path),
				attribute.Int("lugma.metadata_keys", md.Len()),
			}
			if config.AttributeExtractor != nil {
				attrs = append(attrs, config.AttributeExtractor(ctx, md)...)
			}

			ctx, span := config.tracer.Start(ctx, "lugma "+path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			res := next(ctx, body, md)

			span.SetAttributes(attribute.Int("lugma.status", res.Status()))
			if res.IsOK() {
				span.SetStatus(codes.Ok, "")
			} else {
				kind := errorType(res)
				span.SetAttributes(attribute.String("lugma.error_type", kind))
				span.SetStatus(codes.Error, kind)
			}
			return res
		}
	}
}

// TracePropagation extracts trace context from incoming request headers so
// server spans join the caller's trace.
func TracePropagation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SpanFromContext returns the current span, or a no-op span.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}
