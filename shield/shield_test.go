package shield

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if _, err := io.ReadAll(r.Body); err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	w.Write([]byte(r.Method))
})

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(DefaultHeaders())(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	for k, want := range map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "no-referrer",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Cache-Control":           "no-store",
	} {
		if got := rec.Header().Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}

	rec = httptest.NewRecorder()
	SecurityHeaders(HeaderConfig{XFrameOptions: "DENY"})(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rec.Header().Get("Content-Security-Policy"); got != "" {
		t.Errorf("empty field still set: %q", got)
	}
}

func TestMaxBody(t *testing.T) {
	h := MaxBody(8)(ok)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small")))
	if rec.Code != http.StatusOK {
		t.Errorf("small body: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64))))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("large body: status = %d, want 413", rec.Code)
	}
}

func TestHeadToGet(t *testing.T) {
	rec := httptest.NewRecorder()
	HeadToGet(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/", nil))
	if got := rec.Body.String(); got != http.MethodGet {
		t.Errorf("handler saw %q, want GET", got)
	}
}

func TestLoopbackOnly(t *testing.T) {
	cases := []struct {
		remote string
		code   int
	}{
		{"127.0.0.1:5555", http.StatusOK},
		{"[::1]:5555", http.StatusOK},
		{"192.168.1.20:5555", http.StatusForbidden},
		{"garbage", http.StatusForbidden},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = c.remote
		rec := httptest.NewRecorder()
		LoopbackOnly(ok).ServeHTTP(rec, req)
		if rec.Code != c.code {
			t.Errorf("%s: status = %d, want %d", c.remote, rec.Code, c.code)
		}
	}
}

func TestIsLoopback(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1":      true,
		"127.0.0.2:80":   true,
		"::1":            true,
		"10.0.0.1:80":    false,
		"localhost:8080": false,
	} {
		if got := IsLoopback(addr); got != want {
			t.Errorf("IsLoopback(%q) = %v, want %v", addr, got, want)
		}
	}
}
