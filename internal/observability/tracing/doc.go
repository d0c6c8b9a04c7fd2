// Package tracing provides OpenTelemetry tracing integration.
//
// It provides:
//   - Middleware: HTTP server spans with W3C trace-context extraction and an
//     X-Trace-Id response header
//   - GetTracer: the shared "feedpoller" tracer for manual spans
//
// The tracer provider and exporter are whatever is registered globally with
// otel; this package does not configure one.
//
// Example usage:
//
//	import "feedpoller/internal/observability/tracing"
//
//	handler := tracing.Middleware(mux)
//
//	func processRequest(ctx context.Context) {
//	    ctx, span := tracing.GetTracer().Start(ctx, "process-request")
//	    defer span.End()
//	    // ... process request ...
//	}
package tracing
