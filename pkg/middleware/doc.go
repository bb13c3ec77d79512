// Package middleware provides observability for Lugma servers and clients.
//
// This package includes:
//   - OpenTelemetry tracing middleware for unary methods
//   - Prometheus metrics for unary methods and event streams
//   - Trace context propagation for incoming HTTP requests
//
// # OpenTelemetry Middleware
//
//	router.Use(middleware.OpenTelemetry(
//	    middleware.WithTracerName("chat"),
//	    middleware.WithFilter(func(ctx context.Context, path string) bool {
//	        return path != "/Internal/Ping"
//	    }),
//	))
//
// # Prometheus Metrics
//
// A Metrics value is both a method middleware and a stream.Observer:
//
//	m := middleware.NewMetrics(middleware.WithNamespace("chat"))
//	router := transport.NewRouter(transport.WithStreamObserver(m))
//	router.Use(m.Middleware())
//
// Expose the registry with server.ServerConfig.MetricsPath.
package middleware
