package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractClientIP(t *testing.T) {
	d := NewDetector()
	tests := []struct {
		name   string
		remote string
		xff    string
		xri    string
		want   string
	}{
		{"direct", "203.0.113.7:5000", "", "", "203.0.113.7"},
		{"untrusted peer ignores forwarding", "203.0.113.7:5000", "198.51.100.1", "", "203.0.113.7"},
		{"trusted proxy uses first forwarded", "10.0.0.2:80", "198.51.100.1, 10.0.0.9", "", "198.51.100.1"},
		{"trusted proxy falls back to real ip", "127.0.0.1:80", "garbage", "198.51.100.2", "198.51.100.2"},
		{"trusted proxy without headers", "192.168.1.1:80", "", "", "192.168.1.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			if got := d.ExtractClientIP(r); got != tt.want {
				t.Errorf("ExtractClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectSuspiciousRequest(t *testing.T) {
	d := NewDetector()
	tests := []struct {
		target string
		agent  string
		want   bool
	}{
		{"/api/report?from=2025-01-01", "Mozilla/5.0", false},
		{"/files/../../etc/passwd", "", true},
		{"/api/expenses?q=1%20union%20select", "", true},
		{"/healthz", "sqlmap/1.7", true},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, tt.target, nil)
		r.Header.Set("User-Agent", tt.agent)
		if got := d.DetectSuspiciousRequest(r); got != tt.want {
			t.Errorf("DetectSuspiciousRequest(%s, %q) = %v, want %v", tt.target, tt.agent, got, tt.want)
		}
	}
	if got := d.GetMetrics().SuspiciousRequests; got != 3 {
		t.Errorf("SuspiciousRequests = %d, want 3", got)
	}
}

func TestHeadersMiddleware(t *testing.T) {
	h := NewHeadersMiddleware(DefaultHeadersConfig()).Middleware(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" || rr.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("headers = %v", rr.Header())
	}
	if rr.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must not be sent over plain HTTP")
	}

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.TLS = &tls.ConnectionState{}
	h.ServeHTTP(rr, req)
	if rr.Header().Get("Strict-Transport-Security") == "" {
		t.Error("HSTS missing over TLS")
	}
}
