// Package tracing provides OpenTelemetry tracing integration.
//
// InitTracer installs an SDK tracer provider; StartSpan opens spans for
// dispatch work and Middleware traces inbound HTTP requests.
//
//	shutdown := tracing.InitTracer(tracing.Config{SampleRatio: 0.1})
//	defer shutdown(context.Background())
//
//	ctx, span := tracing.StartSpan(ctx, "dispatch.channel")
//	defer span.End()
package tracing
