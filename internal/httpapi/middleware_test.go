package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"consulta.cl/internal/obs"
)

func TestRateLimitExceeded(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequestID(RateLimit(base, 1, 1, false))

	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req.Clone(context.Background()))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first call 200, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req.Clone(context.Background()))
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr2.Code)
	}
	if rr2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	var body map[string]any
	if err := json.Unmarshal(rr2.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode rate limit body: %v", err)
	}
	if body["error"] == nil || body["error"] == "" {
		t.Fatalf("expected error message in body")
	}
	if body["request_id"] == nil || body["request_id"] == "" {
		t.Fatalf("expected request_id in body")
	}

	other := req.Clone(context.Background())
	other.RemoteAddr = "10.0.0.2:1234"
	rr3 := httptest.NewRecorder()
	handler.ServeHTTP(rr3, other)
	if rr3.Code != http.StatusOK {
		t.Fatalf("expected other client to pass, got %d", rr3.Code)
	}
}

func TestRateLimitIgnoresForwardedForUnlessTrusted(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	send := func(h http.Handler, xff string) int {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "10.0.0.9:4321"
		req.Header.Set("X-Forwarded-For", xff)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	direct := RateLimit(base, 1, 1, false)
	if code := send(direct, "203.0.113.1"); code != http.StatusOK {
		t.Fatalf("expected first call 200, got %d", code)
	}
	if code := send(direct, "203.0.113.2"); code != http.StatusTooManyRequests {
		t.Fatalf("rotated X-Forwarded-For must not reset the limit, got %d", code)
	}

	proxied := RateLimit(base, 1, 1, true)
	if code := send(proxied, "203.0.113.1"); code != http.StatusOK {
		t.Fatalf("expected first call 200, got %d", code)
	}
	if code := send(proxied, "203.0.113.2, 10.0.0.9"); code != http.StatusOK {
		t.Fatalf("distinct forwarded client should pass behind a trusted proxy, got %d", code)
	}
	if code := send(proxied, "203.0.113.1"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for repeated forwarded client, got %d", code)
	}
}

func TestLoggingJSONEmitsStructuredEntry(t *testing.T) {
	logger := obs.Logger()
	origWriter := logger.Writer()
	logger.SetFlags(0)

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(origWriter)

	handler := RequestID(LoggingJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/log-test", nil)
	req.Header.Set("User-Agent", "middleware-test")
	req.RemoteAddr = "127.0.0.1:1234"

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req.Clone(context.Background()))

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected log line")
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	for _, key := range []string{"ts", "level", "msg", "request_id", "method", "path", "status", "duration_ms"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected key %q in log entry", key)
		}
	}
	if entry["msg"] != "request_complete" {
		t.Fatalf("unexpected msg: %v", entry["msg"])
	}
	if entry["status"] != float64(http.StatusTeapot) {
		t.Fatalf("unexpected status: %v", entry["status"])
	}
}

func TestRequestIDReusesInboundHeader(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if seen != "abc-123" {
		t.Fatalf("expected inbound id, got %q", seen)
	}
	if got := rr.Header().Get(requestIDHeader); got != "abc-123" {
		t.Fatalf("expected id echoed, got %q", got)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || seen == "abc-123" {
		t.Fatalf("expected a fresh id, got %q", seen)
	}
}

func TestCORS(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := CORS([]string{"http://localhost:5173", "https://app.demo.cl/"})(ok)

	cases := []struct {
		name   string
		method string
		origin string
		want   int
	}{
		{"no origin", http.MethodGet, "", http.StatusOK},
		{"listed origin", http.MethodGet, "http://localhost:5173", http.StatusOK},
		{"listed with trailing slash in config", http.MethodGet, "https://app.demo.cl", http.StatusOK},
		{"unlisted origin", http.MethodGet, "https://evil.example", http.StatusForbidden},
		{"preflight", http.MethodOptions, "http://localhost:5173", http.StatusNoContent},
		{"unlisted preflight", http.MethodOptions, "https://evil.example", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/clientes", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
			if tc.want == http.StatusForbidden {
				var body map[string]any
				if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
					t.Fatalf("decode body: %v", err)
				}
				if body["error"] != "Not allowed by CORS" {
					t.Fatalf("unexpected body: %v", body)
				}
				return
			}
			if tc.origin != "" && rr.Header().Get("Access-Control-Allow-Origin") != tc.origin {
				t.Fatalf("expected allow-origin %q, got %q", tc.origin, rr.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing nosniff")
	}
	if rr.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("missing frame options")
	}
}
