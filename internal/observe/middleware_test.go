package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// adminMux mirrors the admin server's routes; /readyz fails on demand.
func adminMux(ready *bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(http.ResponseWriter, *http.Request) {})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !*ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})
	return mux
}

// instrumented returns the instrumented admin mux together with its metric
// reader and span exporter. It swaps the global tracer provider, so callers
// must not run in parallel.
func instrumented(t *testing.T, ready *bool) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return InstrumentAdmin(m, adminMux(ready)), reader, exp
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestInstrumentAdmin_LabelsByRoute(t *testing.T) {
	ready := true
	h, reader, _ := instrumented(t, &ready)

	get(h, "/readyz")
	for _, p := range []string{"/wp-login.php", "/nope", "/readyz/extra"} {
		if rec := get(h, p); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s: status = %d, want 404", p, rec.Code)
		}
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "captionseek.http.request.duration")
	if met == nil {
		t.Fatal("request duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data is %T, want histogram", met.Data)
	}

	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value(attribute.Key("route"))
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		counts[route.Emit()+" "+status.Emit()] += dp.Count
	}
	want := map[string]uint64{
		"GET /readyz 200": 1,
		RouteUnmatched + " 404": 3,
	}
	if len(counts) != len(want) {
		t.Errorf("label sets = %v, want %v", counts, want)
	}
	for k, n := range want {
		if counts[k] != n {
			t.Errorf("count[%s] = %d, want %d", k, counts[k], n)
		}
	}
}

func TestInstrumentAdmin_SpanContinuesTraceparent(t *testing.T) {
	ready := true
	h, _, exp := instrumented(t, &ready)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	s := spans[0]
	if s.Name != "admin GET /healthz" {
		t.Errorf("span name = %q, want %q", s.Name, "admin GET /healthz")
	}
	if s.SpanContext.TraceID().String() != traceID {
		t.Errorf("span trace id = %s, want %s", s.SpanContext.TraceID(), traceID)
	}
	var route string
	for _, a := range s.Attributes {
		if a.Key == "http.route" {
			route = a.Value.AsString()
		}
	}
	if route != "GET /healthz" {
		t.Errorf("http.route = %q, want %q", route, "GET /healthz")
	}
}

func TestInstrumentAdmin_FailingReadinessLogsAtInfo(t *testing.T) {
	ready := true
	h, _, _ := instrumented(t, &ready)

	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(orig) })

	get(h, "/healthz")
	get(h, "/readyz")
	if buf.Len() != 0 {
		t.Errorf("healthy polls logged at info: %s", buf.String())
	}

	ready = false
	if rec := get(h, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(buf.String(), "status=503") {
		t.Errorf("failing readiness check not logged: %s", buf.String())
	}
}
