package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// RouteUnmatched labels requests that no admin route handled.
const RouteUnmatched = "unmatched"

// polledRoutes are polled by orchestrators and scrapers; successful
// completions are logged at debug level.
var polledRoutes = map[string]bool{
	"GET /healthz": true,
	"GET /readyz":  true,
	"GET /metrics": true,
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// InstrumentAdmin wraps the admin [http.ServeMux]. Each request gets a
// server span continuing any W3C traceparent, an X-Correlation-ID response
// header, one [Metrics.HTTPRequestDuration] sample, and a completion log.
//
// Requests are labelled by the mux pattern that served them ("GET /readyz")
// rather than the raw path, so arbitrary paths do not grow the label set;
// anything the mux rejected is labelled [RouteUnmatched].
func InstrumentAdmin(m *Metrics, mux http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := StartSpan(prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header)),
			"admin "+r.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(semconv.HTTPRequestMethodKey.String(r.Method)),
		)
		defer span.End()

		cid := CorrelationID(ctx)
		if cid != "" {
			w.Header().Set("X-Correlation-ID", cid)
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		r = r.WithContext(ctx)
		mux.ServeHTTP(sw, r)

		// ServeMux records the matched pattern on the request it was given.
		route := r.Pattern
		if route == "" {
			route = RouteUnmatched
		}
		span.SetName("admin " + route)
		span.SetAttributes(
			semconv.HTTPRoute(route),
			semconv.HTTPResponseStatusCode(sw.status),
		)

		elapsed := time.Since(start)
		m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
			attribute.String("route", route),
			attribute.Int("status", sw.status),
		))

		level := slog.LevelInfo
		if polledRoutes[route] && sw.status < http.StatusBadRequest {
			level = slog.LevelDebug
		}
		Logger(ctx).LogAttrs(ctx, level, "admin request",
			slog.String("route", route),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Duration("elapsed", elapsed),
		)
	})
}
