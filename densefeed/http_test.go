package densefeed

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hazyhaar/densefeed/diagnostics"
)

func do(t *testing.T, srv *httptest.Server, method, path string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("%s %s: content type %q", method, path, ct)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func newServer(t *testing.T) (*Coordinator, *httptest.Server) {
	t.Helper()
	c := newCoordinator(t)
	addPage(t, c, "p1")
	srv := httptest.NewServer(c.Handler())
	t.Cleanup(srv.Close)
	return c, srv
}

func TestHTTP_Health(t *testing.T) {
	_, srv := newServer(t)
	var body struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
	}
	if code := do(t, srv, http.MethodGet, "/healthz", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Status != "ok" || body.Sessions != 1 {
		t.Errorf("body = %+v", body)
	}
}

func TestHTTP_Sessions(t *testing.T) {
	_, srv := newServer(t)
	var infos []SessionInfo
	if code := do(t, srv, http.MethodGet, "/sessions", &infos); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(infos) != 1 || infos[0].ID != "p1" {
		t.Errorf("infos = %+v", infos)
	}
}

func TestHTTP_ReportLifecycle(t *testing.T) {
	_, srv := newServer(t)

	if code := do(t, srv, http.MethodGet, "/sessions/p1/report", nil); code != http.StatusNotFound {
		t.Errorf("report before rescan: status = %d, want 404", code)
	}

	var rescanned diagnostics.Report
	if code := do(t, srv, http.MethodPost, "/sessions/p1/rescan", &rescanned); code != http.StatusOK {
		t.Fatalf("rescan: status = %d", code)
	}
	var last diagnostics.Report
	if code := do(t, srv, http.MethodGet, "/sessions/p1/report", &last); code != http.StatusOK {
		t.Fatalf("report: status = %d", code)
	}
	if last.ID == "" || last.ID != rescanned.ID {
		t.Errorf("report id = %q, want %q", last.ID, rescanned.ID)
	}
}

func TestHTTP_Toggle(t *testing.T) {
	c, srv := newServer(t)

	var resp toggleResponse
	if code := do(t, srv, http.MethodPost, "/sessions/p1/toggle/debug", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if !resp.On || resp.Mode != ModeDebug {
		t.Errorf("resp = %+v", resp)
	}
	s, _ := c.Session("p1")
	if !s.Stats().DebugMode {
		t.Error("debug mode not enabled")
	}

	if code := do(t, srv, http.MethodPost, "/sessions/p1/toggle/turbo", nil); code != http.StatusBadRequest {
		t.Errorf("unknown mode: status = %d, want 400", code)
	}
}

func TestHTTP_UnknownSession(t *testing.T) {
	_, srv := newServer(t)
	var body map[string]string
	if code := do(t, srv, http.MethodGet, "/sessions/nope/report", &body); code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
	if body["error"] == "" {
		t.Error("missing error message")
	}
	if code := do(t, srv, http.MethodPost, "/sessions/nope/rescan", nil); code != http.StatusNotFound {
		t.Errorf("rescan: status = %d, want 404", code)
	}
}

func TestHTTP_SecurityHeaders(t *testing.T) {
	_, srv := newServer(t)
	resp, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q", got)
	}
}

func TestHTTP_RejectsRemotePeers(t *testing.T) {
	c := newCoordinator(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "203.0.113.7:4000"
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}
