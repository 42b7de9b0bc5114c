package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDisabledTracerIsNoop(t *testing.T) {
	p, err := InitTracer(context.Background(), Config{ServiceName: "test", Enabled: false})
	if err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}

	ctx, span := p.StartSpan(context.Background(), "op", attribute.String("k", "v"))
	SetError(ctx, errors.New("boom"))
	span.End()
	if span.SpanContext().IsValid() {
		t.Error("disabled tracer should produce invalid span contexts")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestWrapHandler(t *testing.T) {
	p := NewNoop()
	called := false
	h := p.WrapHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusAccepted)
	}), "api")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/status/x", nil))
	if !called || rec.Code != http.StatusAccepted {
		t.Errorf("wrapped handler not invoked correctly: called=%v code=%d", called, rec.Code)
	}
}

func TestSpanNamesUseRouteTemplate(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	p := &Provider{tp: tp, tracer: tp.Tracer("test")}

	r := mux.NewRouter()
	r.Use(RouteSpanName)
	r.HandleFunc("/status/{id}", func(w http.ResponseWriter, r *http.Request) {})
	h := p.WrapHandler(r, "api")

	for _, path := range []string{"/status/job-1", "/status/job-2", "/nowhere"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}

	spans := rec.Ended()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	want := []string{"GET /status/{id}", "GET /status/{id}", "GET api"}
	for i, s := range spans {
		if s.Name() != want[i] {
			t.Errorf("span %d: got %q, want %q", i, s.Name(), want[i])
		}
	}
}
