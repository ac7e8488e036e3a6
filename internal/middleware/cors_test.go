package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func runCORS(t *testing.T, allowed []string, method, origin string) (*httptest.ResponseRecorder, *bool) {
	t.Helper()
	reached := false
	handler := CORS(allowed)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(method, "/api/sessions", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, &reached
}

func TestCORSAllowsListedOrigin(t *testing.T) {
	rec, _ := runCORS(t, []string{"https://app.example.com"}, http.MethodGet, "https://app.example.com")

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Expected origin echoed, got %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("Expected credentials for explicit origin")
	}
}

func TestCORSWildcardWithoutCredentials(t *testing.T) {
	rec, _ := runCORS(t, []string{"*"}, http.MethodGet, "https://anywhere.example.com")

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://anywhere.example.com" {
		t.Errorf("Expected origin allowed under wildcard, got %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Error("Wildcard must not grant credentials")
	}
}

func TestCORSSkipsUnlistedOrigin(t *testing.T) {
	rec, _ := runCORS(t, []string{"https://app.example.com"}, http.MethodGet, "https://evil.example.com")

	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("Unlisted origin must get no CORS headers")
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	rec, reached := runCORS(t, []string{"*"}, http.MethodOptions, "https://app.example.com")

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for preflight, got %d", rec.Code)
	}
	if *reached {
		t.Error("Preflight must not reach the next handler")
	}
}
