package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/greyhawk/ocular/pkg/backend"
	"github.com/greyhawk/ocular/pkg/config"
	"github.com/greyhawk/ocular/pkg/dlp"
	"github.com/greyhawk/ocular/pkg/logstore"
	"github.com/greyhawk/ocular/pkg/models"
	"github.com/greyhawk/ocular/pkg/ratelimit"
	"github.com/greyhawk/ocular/pkg/storage"
)

// testHarness wires a full Server against a temp SQLite DB and a single
// custom route pointed at an httptest upstream, mirroring the two
// built-in routes' shape but under /test so scenarios can target an
// arbitrary upstream handler.
type testHarness struct {
	server   *Server
	patterns *dlp.Store
}

func newHarness(t *testing.T, upstreamURL string, routeSettings models.BackendSettings) *testHarness {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	patterns, err := dlp.NewStore(ctx, db)
	if err != nil {
		t.Fatalf("dlp.NewStore: %v", err)
	}
	registry, err := backend.NewRegistry(ctx, db)
	if err != nil {
		t.Fatalf("backend.NewRegistry: %v", err)
	}
	routeSettings.DLPEnabled = true
	if _, err := registry.Add(ctx, models.BackendRoute{
		Name: "test", PathPrefix: "/test", UpstreamBaseURL: upstreamURL,
		HeaderPolicy: models.HeaderPassThrough, Settings: routeSettings, Enabled: true,
	}); err != nil {
		t.Fatalf("registry.Add: %v", err)
	}

	logs := logstore.New(db)
	t.Cleanup(logs.Close)

	cfg := config.Default()
	srv := New(cfg, patterns, registry, ratelimit.New(), logs)
	return &testHarness{server: srv, patterns: patterns}
}

func doRequest(h *testHarness, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)
	return rec
}

// S1: a request with no matching patterns is forwarded unchanged.
func TestScenarioPassThrough(t *testing.T) {
	var received string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		received = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.Write(b)
	}))
	defer upstream.Close()

	h := newHarness(t, upstream.URL, models.BackendSettings{})
	body := `{"messages":[{"role":"user","content":"hello"}]}`
	rec := doRequest(h, http.MethodPost, "/test/v1/echo", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if received != body {
		t.Fatalf("expected upstream to receive the body unchanged, got %q", received)
	}
	if rec.Body.String() != body {
		t.Fatalf("expected client to receive the body unchanged, got %q", rec.Body.String())
	}
}

// S2: a redacted literal reaches upstream as a placeholder and is
// restored for the client on the way back.
func TestScenarioRedactAndRestore(t *testing.T) {
	var receivedUpstream string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		receivedUpstream = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.Write(b) // echo back whatever was sent, placeholder included
	}))
	defer upstream.Close()

	h := newHarness(t, upstream.URL, models.BackendSettings{})
	ctx := context.Background()
	if _, err := h.patterns.Add(ctx, models.Pattern{
		Name: "API Keys", Kind: models.KindRegex, Body: `sk-[a-z0-9]+`, Enabled: true,
	}); err != nil {
		t.Fatalf("Add pattern: %v", err)
	}

	body := `{"content":"my key is sk-prod456 please use it"}`
	rec := doRequest(h, http.MethodPost, "/test/v1/echo", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(receivedUpstream, "sk-prod456") {
		t.Fatalf("expected upstream to never see the literal, got %q", receivedUpstream)
	}
	if !strings.Contains(receivedUpstream, "«") {
		t.Fatalf("expected upstream body to carry a placeholder, got %q", receivedUpstream)
	}
	if rec.Body.String() != body {
		t.Fatalf("expected client to see the original literal restored, got %q", rec.Body.String())
	}
}

// S4: a Block pattern aborts the request with 403 and opens no upstream
// connection at all.
func TestScenarioBlock(t *testing.T) {
	upstreamCalled := false
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamCalled = true
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	h := newHarness(t, upstream.URL, models.BackendSettings{})
	ctx := context.Background()
	// A pattern scoped to this test, not one of the seeded builtin
	// groups, so there is no ambiguity over which pattern's action wins
	// the overlap at this span.
	if _, err := h.patterns.Add(ctx, models.Pattern{
		Name: "Internal Launch Code", Kind: models.KindRegex, Body: `LAUNCHCODE-[0-9]{6}`,
		Enabled: true, Action: models.ActionBlock,
	}); err != nil {
		t.Fatalf("Add pattern: %v", err)
	}

	body := `{"content":"leaked code LAUNCHCODE-778899 here"}`
	rec := doRequest(h, http.MethodPost, "/test/v1/echo", body)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "blocked_by_dlp") {
		t.Fatalf("expected blocked_by_dlp error body, got %q", rec.Body.String())
	}
	if upstreamCalled {
		t.Fatalf("expected no upstream connection to be opened on a block")
	}
}

// S6: a backend rate limit of 2 requests/minute rejects the third
// immediate request with 429 and a Retry-After header.
func TestScenarioRateLimit(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	h := newHarness(t, upstream.URL, models.BackendSettings{RateLimitRequests: 2, RateLimitMinutes: 1})

	for i := 0; i < 2; i++ {
		rec := doRequest(h, http.MethodPost, "/test/v1/echo", `{"content":"hi"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := doRequest(h, http.MethodPost, "/test/v1/echo", `{"content":"hi"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on the third request, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected a Retry-After header on a rate-limited response")
	}
}
