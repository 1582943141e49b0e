package internal

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.allow("10.0.0.1") {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
	}
	if rl.allow("10.0.0.1") {
		t.Error("request over limit allowed, want denied")
	}
}

func TestRateLimiter_PerIPIsolation(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	if !rl.allow("10.0.0.1") {
		t.Fatal("first IP denied")
	}
	if rl.allow("10.0.0.1") {
		t.Error("first IP allowed over limit")
	}
	if !rl.allow("10.0.0.2") {
		t.Error("second IP denied, limits should be independent")
	}
}

func TestRateLimiter_WindowReset(t *testing.T) {
	rl := NewRateLimiter(1, 10*time.Millisecond)

	if !rl.allow("10.0.0.1") {
		t.Fatal("first request denied")
	}
	if rl.allow("10.0.0.1") {
		t.Fatal("second request allowed within window")
	}

	time.Sleep(20 * time.Millisecond)
	if !rl.allow("10.0.0.1") {
		t.Error("request denied after window reset")
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	doRequest := func() int {
		req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
		req.RemoteAddr = "192.168.1.5:4321"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := doRequest(); code != http.StatusOK {
		t.Errorf("first request status = %d, want %d", code, http.StatusOK)
	}
	if code := doRequest(); code != http.StatusOK {
		t.Errorf("second request status = %d, want %d", code, http.StatusOK)
	}
	if code := doRequest(); code != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want %d", code, http.StatusTooManyRequests)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"remote addr only", "192.168.1.5:4321", "", "192.168.1.5:4321"},
		{"forwarded single", "192.168.1.5:4321", "203.0.113.7", "203.0.113.7"},
		{"forwarded chain takes first", "192.168.1.5:4321", "203.0.113.7, 10.0.0.1", "203.0.113.7"},
		{"forwarded with spaces", "192.168.1.5:4321", "  203.0.113.7 , 10.0.0.1", "203.0.113.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := ClientIP(req); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
