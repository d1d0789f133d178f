package pipeline

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
)

func recordingMiddleware(name string, calls *[]string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*calls = append(*calls, name)
			next.ServeHTTP(w, r)
		})
	}
}

func TestBuilderRunsStagesInRegistrationOrder(t *testing.T) {
	var calls []string
	b := New().
		Use("first", recordingMiddleware("first", &calls)).
		Use("second", recordingMiddleware("second", &calls)).
		Use("third", recordingMiddleware("third", &calls))

	handler := b.Then(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls = append(calls, "terminal")
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if want := []string{"first", "second", "third", "terminal"}; !slices.Equal(calls, want) {
		t.Fatalf("expected call order %v, got %v", want, calls)
	}
	if want := []string{"first", "second", "third"}; !slices.Equal(b.Stages(), want) {
		t.Fatalf("expected stages %v, got %v", want, b.Stages())
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected terminal status, got %d", rec.Code)
	}
}

func TestBuilderIgnoresNilMiddleware(t *testing.T) {
	b := New().Use("skipped", nil)
	if len(b.Stages()) != 0 {
		t.Fatalf("expected nil middleware to be ignored, got %v", b.Stages())
	}

	called := false
	b.Then(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatalf("expected terminal handler to run")
	}
}

func TestStagesReturnsCopy(t *testing.T) {
	b := New().Use("a", func(h http.Handler) http.Handler { return h })
	names := b.Stages()
	names[0] = "mutated"
	if b.Stages()[0] != "a" {
		t.Fatalf("expected builder state to be unaffected")
	}
}
