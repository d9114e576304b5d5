package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"pastelink/cfg"
	"pastelink/pkg/domain"
	"pastelink/svc/db"
	"pastelink/svc/lim"
	"pastelink/svc/store"
	"pastelink/svc/util"
)

const baseMs = int64(1_700_000_000_000)

func testCfg() *cfg.Cfg {
	return &cfg.Cfg{
		Port:            "0",
		Environment:     "test",
		AppURL:          "http://paste.test",
		KeyPrefix:       "paste:",
		MemoryStoreSize: 100,
		TestMode:        true,
		MaxPasteSize:    1024,
		RateLimit:       cfg.RateLimitCfg{RPM: 6000, Burst: 1000},
		ContextTimeout:  5 * time.Second,
	}
}

func newTestServer(t *testing.T, c *cfg.Cfg) *Server {
	t.Helper()
	mem, err := db.NewMemory(c.MemoryStoreSize)
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	p := store.New(mem, store.Options{BaseURL: c.AppURL, KeyPrefix: c.KeyPrefix})
	l, err := lim.New(c.RateLimit.RPM, c.RateLimit.Burst, nil, nil)
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	return NewServer(c, p, l)
}

func do(t *testing.T, h http.Handler, method, path, body string, nowMs int64) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if nowMs != 0 {
		req.Header.Set(util.TestNowHeader, strconv.FormatInt(nowMs, 10))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func create(t *testing.T, h http.Handler, body string, nowMs int64) string {
	t.Helper()
	rec := do(t, h, "POST", "/api/pastes", body, nowMs)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", rec.Code, rec.Body.String())
	}
	return decode(t, rec)["id"].(string)
}

func TestCreateAndConsume(t *testing.T) {
	s := newTestServer(t, testCfg())
	rec := do(t, s, "POST", "/api/pastes", `{"content":"hello","max_views":2}`, 0)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	out := decode(t, rec)
	id := out["id"].(string)
	if out["url"] != "http://paste.test/p/"+id {
		t.Errorf("unexpected url %v", out["url"])
	}
	for _, want := range []float64{1, 0} {
		rec = do(t, s, "GET", "/api/pastes/"+id, "", 0)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		got := decode(t, rec)
		if got["content"] != "hello" {
			t.Errorf("unexpected content %v", got["content"])
		}
		if got["remaining_views"] != want {
			t.Errorf("remaining_views = %v, want %v", got["remaining_views"], want)
		}
	}
	rec = do(t, s, "GET", "/api/pastes/"+id, "", 0)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after last view, got %d", rec.Code)
	}
	if decode(t, rec)["error"] != "Paste not found or expired" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestUnlimitedPasteHasNullFields(t *testing.T) {
	s := newTestServer(t, testCfg())
	id := create(t, s, `{"content":"forever"}`, 0)
	for i := 0; i < 3; i++ {
		rec := do(t, s, "GET", "/api/pastes/"+id, "", 0)
		if rec.Code != http.StatusOK {
			t.Fatalf("view %d: expected 200, got %d", i, rec.Code)
		}
		got := decode(t, rec)
		if v, ok := got["remaining_views"]; !ok || v != nil {
			t.Errorf("remaining_views should be null, got %v", v)
		}
		if v, ok := got["expires_at"]; !ok || v != nil {
			t.Errorf("expires_at should be null, got %v", v)
		}
	}
}

func TestCreateValidation(t *testing.T) {
	s := newTestServer(t, testCfg())
	tests := []struct {
		name   string
		body   string
		fields []string
	}{
		{"missing content", `{}`, []string{"content"}},
		{"blank content", `{"content":"  \n\t "}`, []string{"content"}},
		{"content not string", `{"content":42}`, []string{"content"}},
		{"zero ttl", `{"content":"x","ttl_seconds":0}`, []string{"ttl_seconds"}},
		{"fractional ttl", `{"content":"x","ttl_seconds":1.5}`, []string{"ttl_seconds"}},
		{"string ttl", `{"content":"x","ttl_seconds":"60"}`, []string{"ttl_seconds"}},
		{"negative views", `{"content":"x","max_views":-1}`, []string{"max_views"}},
		{"all bad", `{"content":"","ttl_seconds":-5,"max_views":true}`, []string{"content", "ttl_seconds", "max_views"}},
		{"null ttl", `{"content":"x","ttl_seconds":null}`, []string{"ttl_seconds"}},
		{"null views", `{"content":"x","max_views":null}`, []string{"max_views"}},
		{"null content", `{"content":null}`, []string{"content"}},
		{"too large", `{"content":"` + strings.Repeat("a", 1025) + `"}`, []string{"content"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, "POST", "/api/pastes", tt.body, 0)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			var resp domain.ErrResp
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Error != "Validation failed" {
				t.Errorf("unexpected error %q", resp.Error)
			}
			if len(resp.Details) != len(tt.fields) {
				t.Fatalf("expected %d details, got %+v", len(tt.fields), resp.Details)
			}
			for i, f := range tt.fields {
				if resp.Details[i].Field != f {
					t.Errorf("detail %d: field %q, want %q", i, resp.Details[i].Field, f)
				}
			}
		})
	}
}

func TestCreateAcceptsIntegralNumbers(t *testing.T) {
	s := newTestServer(t, testCfg())
	for _, body := range []string{
		`{"content":"x","ttl_seconds":60.0}`,
		`{"content":"x","ttl_seconds":6e1}`,
		`{"content":"x"}`,
	} {
		rec := do(t, s, "POST", "/api/pastes", body, 0)
		if rec.Code != http.StatusCreated {
			t.Errorf("%s: expected 201, got %d: %s", body, rec.Code, rec.Body.String())
		}
	}
}

func TestCreateInvalidJSON(t *testing.T) {
	s := newTestServer(t, testCfg())
	for _, body := range []string{`{not json`, `[1,2]`, `null`} {
		rec := do(t, s, "POST", "/api/pastes", body, 0)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rec.Code)
		}
		if decode(t, rec)["error"] != "Invalid JSON in request body" {
			t.Errorf("unexpected body %s", rec.Body.String())
		}
	}
}

func TestCreateRejectsNonJSONContentType(t *testing.T) {
	s := newTestServer(t, testCfg())
	req := httptest.NewRequest("POST", "/api/pastes", strings.NewReader(`{"content":"x"}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rec.Code)
	}
}

func TestTTLFollowsTestClock(t *testing.T) {
	s := newTestServer(t, testCfg())
	id := create(t, s, `{"content":"ephemeral","ttl_seconds":60}`, baseMs)

	rec := do(t, s, "GET", "/api/pastes/"+id, "", baseMs+59_999)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 before deadline, got %d", rec.Code)
	}
	if got := decode(t, rec)["expires_at"]; got != "2023-11-14T22:14:20.000Z" {
		t.Errorf("unexpected expires_at %v", got)
	}
	rec = do(t, s, "GET", "/api/pastes/"+id, "", baseMs+60_000)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 at deadline, got %d", rec.Code)
	}
}

func TestTestClockIgnoredOutsideTestMode(t *testing.T) {
	c := testCfg()
	c.TestMode = false
	s := newTestServer(t, c)
	// Created "in 1970" if the header were honoured, long expired by now.
	id := create(t, s, `{"content":"x","ttl_seconds":60}`, 1000)
	rec := do(t, s, "GET", "/api/pastes/"+id, "", 1000)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected wall clock to be used, got %d", rec.Code)
	}
}

func TestStatsDoesNotConsume(t *testing.T) {
	s := newTestServer(t, testCfg())
	id := create(t, s, `{"content":"once","max_views":1}`, 0)
	for i := 0; i < 3; i++ {
		rec := do(t, s, "GET", "/api/pastes/"+id+"/stats", "", 0)
		if rec.Code != http.StatusOK {
			t.Fatalf("stats %d: expected 200, got %d", i, rec.Code)
		}
		if got := decode(t, rec); got["remaining_views"] != float64(1) {
			t.Errorf("stats %d: remaining_views = %v", i, got["remaining_views"])
		}
		if cc := rec.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
			t.Errorf("expected no-store cache control, got %q", cc)
		}
		if _, ok := decode(t, rec)["content"]; ok {
			t.Error("stats must not expose content")
		}
	}
	if rec := do(t, s, "GET", "/api/pastes/"+id, "", 0); rec.Code != http.StatusOK {
		t.Fatalf("expected the single view to succeed, got %d", rec.Code)
	}
	if rec := do(t, s, "GET", "/api/pastes/"+id+"/stats", "", 0); rec.Code != http.StatusNotFound {
		t.Fatalf("expected exhausted stats to be 404, got %d", rec.Code)
	}
}

func TestUnknownIDIsNotFound(t *testing.T) {
	s := newTestServer(t, testCfg())
	for _, path := range []string{
		"/api/pastes/nope",
		"/api/pastes/nope/stats",
		"/api/pastes/nope/qr",
		"/api/pastes/bad%20id",
	} {
		if rec := do(t, s, "GET", path, "", 0); rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, rec.Code)
		}
	}
}

func TestQRCodeDoesNotConsume(t *testing.T) {
	s := newTestServer(t, testCfg())
	id := create(t, s, `{"content":"scan me","max_views":1}`, 0)
	rec := do(t, s, "GET", "/api/pastes/"+id+"/qr?size=64", "", 0)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("unexpected content type %q", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("body is not a PNG")
	}
	if rec := do(t, s, "GET", "/api/pastes/"+id, "", 0); rec.Code != http.StatusOK {
		t.Fatalf("qr must not consume the view, got %d", rec.Code)
	}
	if rec := do(t, s, "GET", "/api/pastes/"+id+"/qr?size=abc", "", 0); rec.Code != http.StatusNotFound {
		t.Fatalf("exhausted paste should 404 before size parsing, got %d", rec.Code)
	}
}

// downStore fails every backend call the way an unreachable store does.
type downStore struct {
	PasteStore
}

func (downStore) Create(ctx context.Context, p domain.CreateParams, now time.Time) (*domain.Created, error) {
	return nil, errors.Wrap(domain.Backend("setnx", errors.New("connection refused")), "create paste")
}
func (downStore) Consume(ctx context.Context, id string, now time.Time) (*domain.Record, error) {
	return nil, domain.Backend("get", errors.New("connection refused"))
}
func (downStore) Ping(ctx context.Context) error {
	return domain.Backend("ping", errors.New("connection refused"))
}

func TestBackendUnavailableIs503(t *testing.T) {
	c := testCfg()
	s := NewServer(c, downStore{}, nil)
	rec := do(t, s, "POST", "/api/pastes", `{"content":"x"}`, 0)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("create: expected 503, got %d", rec.Code)
	}
	if decode(t, rec)["error"] != "Storage unavailable" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
	rec = do(t, s, "GET", "/api/pastes/abc", "", 0)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("view: expected 503, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, testCfg())
	rec := do(t, s, "GET", "/api/healthz", "", 0)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp HealthzResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.OK || resp.Storage != "available" || resp.Backend != "memory" || resp.Configured {
		t.Errorf("unexpected health %+v", resp)
	}
	if _, err := time.Parse(time.RFC3339, resp.Timestamp); err != nil {
		t.Errorf("bad timestamp %q: %v", resp.Timestamp, err)
	}

	down := NewServer(testCfg(), downStore{}, nil)
	rec = do(t, down, "GET", "/api/healthz", "", 0)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.OK || resp.Storage != "unavailable" {
		t.Errorf("unexpected health %+v", resp)
	}
}

func TestLiveness(t *testing.T) {
	s := NewServer(testCfg(), downStore{}, nil)
	rec := do(t, s, "GET", "/health", "", 0)
	if rec.Code != http.StatusOK {
		t.Fatalf("liveness must not depend on storage, got %d", rec.Code)
	}
}

func TestRateLimitCreate(t *testing.T) {
	c := testCfg()
	c.RateLimit = cfg.RateLimitCfg{RPM: 60, Burst: 2}
	s := newTestServer(t, c)
	for i := 0; i < 2; i++ {
		if rec := do(t, s, "POST", "/api/pastes", `{"content":"x"}`, 0); rec.Code != http.StatusCreated {
			t.Fatalf("request %d: expected 201, got %d", i, rec.Code)
		}
	}
	rec := do(t, s, "POST", "/api/pastes", `{"content":"x"}`, 0)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	// Views are limited separately.
	if rec := do(t, s, "GET", "/api/pastes/missing", "", 0); rec.Code != http.StatusNotFound {
		t.Fatalf("expected view bucket to be independent, got %d", rec.Code)
	}
}

func TestMetricsBasicAuth(t *testing.T) {
	c := testCfg()
	c.MetricsUser = "prom"
	c.MetricsPass = cfg.NewSecret("scrape")
	s := newTestServer(t, c)

	rec := do(t, s, "GET", "/metrics", "", 0)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	req := httptest.NewRequest("GET", "/metrics", nil)
	req.SetBasicAuth("prom", "scrape")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "pastelink_") {
		t.Error("expected pastelink metrics in output")
	}
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	s := newTestServer(t, testCfg())
	rec := do(t, s, "GET", "/api/pastes/missing", "", 0)
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing frame options")
	}
	id := rec.Header().Get("X-Request-ID")
	if id == "" {
		t.Fatal("missing request id header")
	}
	if decode(t, rec)["request_id"] != id {
		t.Errorf("error body should echo request id %q", id)
	}
}

func TestCORS(t *testing.T) {
	c := testCfg()
	c.AllowedOrigins = []string{"https://app.example"}
	s := newTestServer(t, c)

	req := httptest.NewRequest("OPTIONS", "/api/pastes", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Error("allowed origin not echoed")
	}

	req = httptest.NewRequest("GET", "/api/pastes/missing", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unlisted origin must not be allowed")
	}
}

func TestRecovererReturns500(t *testing.T) {
	mw := NewMw(nil, testCfg())
	h := mw.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if decode(t, rec)["error"] != "Internal server error" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}
