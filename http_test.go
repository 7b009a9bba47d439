package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// loginLimiter
// ---------------------------------------------------------------------------

func TestLoginLimiter_LocksAfterMaxFailures(t *testing.T) {
	ll := newLoginLimiter()
	ip := "1.2.3.4"

	for i := 0; i < loginMaxFailures-1; i++ {
		ll.recordFailure(ip)
		if ll.isLocked(ip) {
			t.Fatalf("locked after %d failures, threshold is %d", i+1, loginMaxFailures)
		}
	}
	ll.recordFailure(ip)
	if !ll.isLocked(ip) {
		t.Error("not locked at threshold")
	}
}

func TestLoginLimiter_SuccessClears(t *testing.T) {
	ll := newLoginLimiter()
	for i := 0; i < loginMaxFailures; i++ {
		ll.recordFailure("1.2.3.4")
	}
	ll.recordSuccess("1.2.3.4")
	if ll.isLocked("1.2.3.4") {
		t.Error("still locked after a recorded success")
	}
}

func TestLoginLimiter_LockoutExpires(t *testing.T) {
	ll := newLoginLimiter()
	ip := "1.2.3.4"
	for i := 0; i < loginMaxFailures; i++ {
		ll.recordFailure(ip)
	}
	// Age the last failure past the lockout window.
	ll.mu.Lock()
	ll.attempts[ip].lastFail = time.Now().Add(-loginLockoutDur - time.Minute)
	ll.mu.Unlock()

	if ll.isLocked(ip) {
		t.Error("lockout did not expire")
	}
}

func TestLoginLimiter_IPsIndependent(t *testing.T) {
	ll := newLoginLimiter()
	for i := 0; i < loginMaxFailures; i++ {
		ll.recordFailure("1.1.1.1")
	}
	if ll.isLocked("2.2.2.2") {
		t.Error("unrelated IP locked out")
	}
}

func TestLoginLimiter_Cleanup(t *testing.T) {
	ll := newLoginLimiter()
	ll.recordFailure("1.2.3.4")
	ll.mu.Lock()
	ll.attempts["1.2.3.4"].lastFail = time.Now().Add(-loginLockoutDur - time.Minute)
	ll.mu.Unlock()

	ll.cleanup()
	ll.mu.Lock()
	n := len(ll.attempts)
	ll.mu.Unlock()
	if n != 0 {
		t.Errorf("%d stale entries after cleanup, want 0", n)
	}
}

// ---------------------------------------------------------------------------
// clientIP
// ---------------------------------------------------------------------------

func TestClientIP(t *testing.T) {
	cases := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"remote addr with port", "10.0.0.1:5000", "", "10.0.0.1"},
		{"forwarded single", "10.0.0.1:5000", "203.0.113.7", "203.0.113.7"},
		{"forwarded chain", "10.0.0.1:5000", "203.0.113.7, 10.0.0.2", "203.0.113.7"},
		{"forwarded with space", "10.0.0.1:5000", " 203.0.113.7 , 10.0.0.2", "203.0.113.7"},
		{"no port", "10.0.0.1", "", "10.0.0.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tc.remoteAddr
			if tc.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if got := clientIP(r); got != tc.want {
				t.Errorf("clientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// middleware
// ---------------------------------------------------------------------------

func TestRecoveryMiddleware_Contains500(t *testing.T) {
	h := recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("got %d, want 500", w.Code)
	}
	if !strings.Contains(w.Body.String(), "internal server error") {
		t.Errorf("body = %q, want generic message", w.Body.String())
	}
	if strings.Contains(w.Body.String(), "exploded") {
		t.Error("panic detail leaked to the client")
	}
}

func TestBodySizeMiddleware_CapsReads(t *testing.T) {
	var readErr error
	h := bodySizeMiddleware(8, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		_, readErr = r.Body.Read(buf)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/", strings.NewReader(strings.Repeat("x", 64))))

	if readErr == nil {
		t.Error("reading past the cap should error")
	}
}

func TestRequestIDMiddleware_SetsHeaderAndContext(t *testing.T) {
	var fromCtx string
	h := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = traceIDFromContext(r.Context())
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	hdr := w.Header().Get("X-Request-Id")
	if hdr == "" {
		t.Fatal("X-Request-Id header not set")
	}
	if fromCtx != hdr {
		t.Errorf("context id %q != header id %q", fromCtx, hdr)
	}
}
