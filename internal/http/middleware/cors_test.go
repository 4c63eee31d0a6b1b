package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func corsRequest(method, origin string) *http.Request {
	req := httptest.NewRequest(method, "/healthz", nil)
	req.Header.Set("Origin", origin)
	return req
}

func TestCORSAllowsListedOrigin(t *testing.T) {
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	mw := CORS([]string{"https://portal.example.com"})
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, corsRequest(http.MethodGet, "https://portal.example.com"))

	if !called {
		t.Fatalf("expected handler to be called")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://portal.example.com" {
		t.Fatalf("expected allow origin header, got %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatalf("expected allow methods header")
	}
	// The identity headers must be preflight-approved or browsers strip them.
	if got := rec.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "X-Actor-Id") {
		t.Fatalf("expected X-Actor-Id in allow headers, got %q", got)
	}
}

func TestCORSDeniesUnknownOrigin(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mw := CORS([]string{"https://portal.example.com"})
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, corsRequest(http.MethodGet, "https://unknown.example"))

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no allow origin header, got %q", got)
	}
}

func TestCORSAllowsAnyOrigin(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mw := CORS([]string{"*"})
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, corsRequest(http.MethodGet, "https://random.example"))

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://random.example" {
		t.Fatalf("expected allow origin header, got %q", got)
	}
}

func TestCORSHandlesPreflight(t *testing.T) {
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	mw := CORS([]string{"https://portal.example.com"})
	req := corsRequest(http.MethodOptions, "https://portal.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, req)

	if called {
		t.Fatalf("expected handler to not be called on preflight")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}
}
