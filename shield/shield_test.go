package shield

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/formfill/dbopen"
	_ "modernc.org/sqlite"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(DefaultHeaders())(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/rules", nil))

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Referrer-Policy":         "strict-origin-when-cross-origin",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Fatalf("%s: got %q, want %q", k, got, v)
		}
	}
}

func TestHeadToGet(t *testing.T) {
	var sawMethod string
	h := HeadToGet(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawMethod = r.Method
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("HEAD", "/healthz", nil))
	if sawMethod != "GET" {
		t.Fatalf("method: got %q, want GET", sawMethod)
	}
}

func TestMaxBody(t *testing.T) {
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(200)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/scan", strings.NewReader("tiny")))
	if rec.Code != 200 {
		t.Fatalf("small body: got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/scan",
		strings.NewReader(strings.Repeat("x", 100))))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body: got %d", rec.Code)
	}
}

func TestTraceID(t *testing.T) {
	h := TraceID(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/history", nil))

	id := rec.Header().Get("X-Trace-ID")
	if len(id) != 8 {
		t.Fatalf("trace id: got %q, want 8 hex chars", id)
	}
}

func TestRateLimiter(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := db.Exec(
		`INSERT INTO rate_limits (endpoint, max_requests, window_seconds, enabled)
		 VALUES ('POST /api/autofill', 2, 60, 1)`); err != nil {
		t.Fatalf("seed rule: %v", err)
	}

	rl := NewRateLimiter(db, "/healthz")
	h := rl.Middleware(okHandler())

	send := func(path string) int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", path, nil)
		req.RemoteAddr = "10.0.0.1:4000"
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if got := send("/api/autofill"); got != 200 {
			t.Fatalf("request %d: got %d", i+1, got)
		}
	}
	if got := send("/api/autofill"); got != http.StatusTooManyRequests {
		t.Fatalf("over limit: got %d, want 429", got)
	}

	// Unconfigured endpoints are unlimited.
	for i := 0; i < 10; i++ {
		if got := send("/api/scan"); got != 200 {
			t.Fatalf("unlimited endpoint: got %d", got)
		}
	}
}

func TestRateLimiter_PerIP(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatalf("init: %v", err)
	}
	db.Exec(`INSERT INTO rate_limits (endpoint, max_requests, window_seconds, enabled)
	         VALUES ('POST /api/autofill', 1, 60, 1)`)

	rl := NewRateLimiter(db)
	h := rl.Middleware(okHandler())

	send := func(ip string) int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/autofill", nil)
		req.RemoteAddr = ip + ":4000"
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := send("10.0.0.1"); got != 200 {
		t.Fatalf("first ip: got %d", got)
	}
	if got := send("10.0.0.1"); got != 429 {
		t.Fatalf("first ip second request: got %d", got)
	}
	// A different client has its own bucket.
	if got := send("10.0.0.2"); got != 200 {
		t.Fatalf("second ip: got %d", got)
	}
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.7:1234"
	if got := ExtractIP(req); got != "192.0.2.7" {
		t.Fatalf("remote addr: got %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 192.0.2.7")
	if got := ExtractIP(req); got != "203.0.113.9" {
		t.Fatalf("forwarded: got %q", got)
	}
}
