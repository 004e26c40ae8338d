package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name        string
		allowed     []string
		origin      string
		method      string
		preflight   bool
		wantStatus  int
		wantOrigin  string
		wantCredits string
	}{
		{name: "explicit origin", allowed: []string{"https://duet.example"}, origin: "https://duet.example", method: http.MethodPost, wantStatus: http.StatusTeapot, wantOrigin: "https://duet.example", wantCredits: "true"},
		{name: "wildcard origin", allowed: []string{"*"}, origin: "https://other.example", method: http.MethodGet, wantStatus: http.StatusTeapot, wantOrigin: "https://other.example"},
		{name: "rejected origin", allowed: []string{"https://duet.example"}, origin: "https://evil.example", method: http.MethodGet, wantStatus: http.StatusTeapot},
		{name: "preflight allowed", allowed: []string{"*"}, origin: "https://a.example", method: http.MethodOptions, preflight: true, wantStatus: http.StatusNoContent, wantOrigin: "https://a.example"},
		{name: "preflight rejected", allowed: []string{"https://duet.example"}, origin: "https://evil.example", method: http.MethodOptions, preflight: true, wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/chat", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			w := httptest.NewRecorder()
			CORS(tt.allowed)(next).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Fatalf("allow origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCredits {
				t.Fatalf("allow credentials = %q, want %q", got, tt.wantCredits)
			}
		})
	}
}

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"https://duet.example"}
	if !OriginAllowed(allowed, "") {
		t.Fatal("empty origin should be allowed")
	}
	if OriginAllowed(allowed, "https://evil.example") {
		t.Fatal("unknown origin should be rejected")
	}
}
