package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// =============================================================================
// Request Logging Middleware Tests
// =============================================================================

func serveLogged(t *testing.T, status int, req *http.Request) string {
	t.Helper()
	var buf bytes.Buffer
	mw := NewRequestLoggingMiddleware(slog.New(slog.NewTextHandler(&buf, nil)))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	})

	mw.Handler(handler).ServeHTTP(httptest.NewRecorder(), req)
	return buf.String()
}

func TestRequestLoggingMiddleware_LogsBasicInfo(t *testing.T) {
	req := httptest.NewRequest("POST", "/send-report", strings.NewReader(`{}`))
	req.RemoteAddr = "192.168.1.1:12345"
	req.Header.Set("User-Agent", "TrackMate/1.0")

	logOutput := serveLogged(t, http.StatusOK, req)

	for _, want := range []string{"POST", "/send-report", "status=200", "duration_ms", "192.168.1.1", "TrackMate/1.0", "bytes_out=16", "level=INFO"} {
		if !strings.Contains(logOutput, want) {
			t.Errorf("log should contain %q, got: %s", want, logOutput)
		}
	}
}

func TestRequestLoggingMiddleware_LogsClientIPFromProxy(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "10.0.0.1:8080"
	req.Header.Set("X-Forwarded-For", "203.0.113.195, 10.0.0.1")

	logOutput := serveLogged(t, http.StatusOK, req)

	if !strings.Contains(logOutput, "ip=203.0.113.195") {
		t.Errorf("log should contain client IP from X-Forwarded-For, got: %s", logOutput)
	}
}

func TestRequestLoggingMiddleware_ServerErrorsLogAtWarn(t *testing.T) {
	req := httptest.NewRequest("POST", "/send-report", nil)
	logOutput := serveLogged(t, http.StatusInternalServerError, req)

	if !strings.Contains(logOutput, "status=500") {
		t.Errorf("log should contain 500 status, got: %s", logOutput)
	}
	if !strings.Contains(logOutput, "level=WARN") {
		t.Errorf("5xx should log at WARN level, got: %s", logOutput)
	}
}

func TestRequestLoggingMiddleware_SkipsNoisyEndpoints(t *testing.T) {
	for _, path := range []string{"/health", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			logOutput := serveLogged(t, http.StatusOK, httptest.NewRequest("GET", path, nil))
			if logOutput != "" {
				t.Errorf("%s should not be logged, got: %s", path, logOutput)
			}
		})
	}

	// Only exact matches and sub-paths are skipped.
	logOutput := serveLogged(t, http.StatusOK, httptest.NewRequest("GET", "/healthz", nil))
	if !strings.Contains(logOutput, "/healthz") {
		t.Errorf("/healthz should be logged, got: %s", logOutput)
	}
}

func TestRequestLoggingMiddleware_PassesResponseThrough(t *testing.T) {
	mw := NewRequestLoggingMiddleware(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Custom", "value")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("response body"))
	})

	rec := httptest.NewRecorder()
	mw.Handler(handler).ServeHTTP(rec, httptest.NewRequest("POST", "/send-survey", nil))

	if rec.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rec.Code)
	}
	if rec.Header().Get("X-Custom") != "value" {
		t.Error("custom header should be preserved")
	}
	if rec.Body.String() != "response body" {
		t.Errorf("response body should be preserved, got: %s", rec.Body.String())
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "192.0.2.1:1234", nil, "192.0.2.1"},
		{"remote addr without port", "192.0.2.1", nil, "192.0.2.1"},
		{"forwarded for", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "198.51.100.7"}, "198.51.100.7"},
		{"real ip", "10.0.0.1:1", map[string]string{"X-Real-IP": " 198.51.100.8 "}, "198.51.100.8"},
		{"empty forwarded for falls through", "10.0.0.1:1", map[string]string{"X-Forwarded-For": " ,"}, "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := getClientIP(req); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
