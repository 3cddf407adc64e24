package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func isSuspiciousRequest(t *testing.T, userAgent, url string) bool {
	t.Helper()
	req := httptest.NewRequest("GET", url, nil)
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	return isSuspicious(req)
}

func TestBlocksKnownScanners(t *testing.T) {
	scanners := []string{
		"sqlmap/1.5", "Nikto/2.1.6", "Nmap Scripting Engine",
		"masscan/1.3", "gobuster/3.1", "DirBuster-1.0-RC1",
	}
	for _, ua := range scanners {
		if !isSuspiciousRequest(t, ua, "/content/test") {
			t.Errorf("scanner UA %q should be blocked", ua)
		}
	}
}

func TestAllowsLegitimateClients(t *testing.T) {
	legitimate := []string{
		"python-requests/2.28.0", "curl/7.88.1", "Go-http-client/1.1",
		"node-fetch/1.0", "", "MyCustomAgent/1",
	}
	for _, ua := range legitimate {
		if isSuspiciousRequest(t, ua, "/content/test") {
			t.Errorf("legitimate UA %q should not be blocked", ua)
		}
	}
}

func TestAllowsOpaqueKeysResemblingAttackPatterns(t *testing.T) {
	urls := []string{
		"/content/drop_zone", "/content/union_select", "/content/my../path",
		"/content/etc/passwd", "/names/alert_config", "/inbox/delete_queue",
	}
	for _, url := range urls {
		if isSuspiciousRequest(t, "curl/7.88.1", url) {
			t.Errorf("URL %q should not be blocked — keys are opaque", url)
		}
	}
}

func TestRateLimiterAllowsUnderLimit(t *testing.T) {
	rl := NewRateLimiter(100, 100)
	defer rl.Close()
	for i := 0; i < 50; i++ {
		if !rl.Allow("192.168.1.1") {
			t.Fatalf("request %d should be allowed under rate limit", i)
		}
	}
}

func TestRateLimiterBlocksOverLimit(t *testing.T) {
	rl := NewRateLimiter(10, 10)
	defer rl.Close()
	for i := 0; i < 10; i++ {
		rl.Allow("192.168.1.1")
	}
	if rl.Allow("192.168.1.1") {
		t.Fatal("request should be blocked after exhausting rate limit")
	}
}

func TestRateLimiterIsolatesByIP(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Close()

	if !rl.Allow("10.0.0.1") {
		t.Fatal("first request from 10.0.0.1 should be allowed")
	}
	if !rl.Allow("10.0.0.2") {
		t.Fatal("first request from a different IP should be allowed independently")
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("second immediate request from 10.0.0.1 should be blocked")
	}
}

func TestMaxRequestSizeMiddlewareRejectsOversized(t *testing.T) {
	handler := MaxRequestSizeMiddleware(10)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("PUT", "/content/key", nil)
	req.ContentLength = 1024
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
}
