package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"recipe-api/internal/api"
	"recipe-api/internal/models"
	"recipe-api/internal/observability/metrics"
	"recipe-api/internal/recipes"
	"recipe-api/internal/storage"
)

const testRecipe = `{"title":"Pancakes","description":"","difficulty":"Easy","cookingTimeInMinutes":20,"defaultServings":4,"tags":[],"instructions":[],"ingredients":[],"image":null,"version":1}`

type testServer struct {
	handler  http.Handler
	recorder *metrics.Recorder
	logs     *bytes.Buffer
}

func newTestServer(t *testing.T, cfg Config) testServer {
	t.Helper()
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	recorder := metrics.New()
	service := recipes.NewService(storage.NewMemoryRepository(), recipes.WithLogger(logger), recipes.WithObserver(recorder))

	cfg.Logger = logger
	cfg.Metrics = recorder
	srv, err := New(api.NewHandler(service), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return testServer{handler: srv.Handler(), recorder: recorder, logs: &logs}
}

func (ts testServer) do(method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.RemoteAddr = "192.0.2.10:4321"
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts testServer) scrape(t *testing.T) string {
	t.Helper()
	rec := ts.do(http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
	return rec.Body.String()
}

func TestNewReturnsErrorWhenHandlerNil(t *testing.T) {
	t.Parallel()

	srv, err := New(nil, Config{})
	if err == nil {
		t.Fatalf("expected error when handler is nil, got server: %#v", srv)
	}
}

func TestNewRejectsMalformedCORSOrigin(t *testing.T) {
	service := recipes.NewService(storage.NewMemoryRepository())
	if _, err := New(api.NewHandler(service), Config{CORS: CORSConfig{AllowedOrigins: []string{"://"}}}); err == nil {
		t.Fatal("expected error for malformed origin")
	}
}

func TestServerRoutesRecipeOperations(t *testing.T) {
	ts := newTestServer(t, Config{})

	rec := ts.do(http.MethodPost, "/api/recipes", testRecipe)
	if rec.Code != http.StatusOK {
		t.Fatalf("create: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var created models.Recipe
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if rec := ts.do(http.MethodGet, "/api/recipes/"+created.ID, ""); rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
	if rec := ts.do(http.MethodPost, "/api/recipes/bulk", "["+testRecipe+"]"); rec.Code != http.StatusOK {
		t.Fatalf("bulk: expected 200, got %d", rec.Code)
	}
	if rec := ts.do(http.MethodGet, "/api/recipes?page=0&size=10", ""); rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	if rec := ts.do(http.MethodGet, "/api/recipes?page=0", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("partial pagination: expected 400, got %d", rec.Code)
	}
	if rec := ts.do(http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rec.Code)
	}

	exposition := ts.scrape(t)
	for _, want := range []string{
		`recipes_operation_outcomes_total{operation="add_one",result="ok"} 1`,
		`recipes_operation_outcomes_total{operation="get_many",result="bad_request"} 1`,
		`recipes_http_requests_total{method="GET",path="/api/recipes/:id",status="200"} 1`,
	} {
		if !strings.Contains(exposition, want) {
			t.Fatalf("expected metrics to contain %q", want)
		}
	}
}

func TestServerSetsRequestIDAndSecurityHeaders(t *testing.T) {
	ts := newTestServer(t, Config{})

	rec := ts.do(http.MethodGet, "/api/recipes/hello", "", "X-Request-Id", "req-123")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Request-Id"); got != "req-123" {
		t.Fatalf("expected request id header, got %q", got)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected security headers, got %q", got)
	}
}

func TestServerLogsCarryRequestID(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.do(http.MethodGet, "/api/recipes/hello", "", "X-Request-Id", "req-456")

	var sawService, sawRequest bool
	for _, line := range strings.Split(strings.TrimSpace(ts.logs.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		if entry["request_id"] != "req-456" {
			t.Fatalf("expected request id on every entry, got %v", entry)
		}
		switch entry["msg"] {
		case "recipe request rejected":
			sawService = entry["component"] == "recipes" && entry["outcome"] == "invalid_input"
		case "request completed":
			sawRequest = entry["level"] == "WARN" && entry["remote_ip"] == "192.0.2.10"
		}
	}
	if !sawService || !sawRequest {
		t.Fatalf("expected service and request log entries, got %s", ts.logs.String())
	}
}

func TestServerGlobalRateLimit(t *testing.T) {
	ts := newTestServer(t, Config{RateLimit: RateLimitConfig{GlobalRPS: 0.001, GlobalBurst: 1}})

	if rec := ts.do(http.MethodGet, "/api/recipes", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rec.Code)
	}
	rec := ts.do(http.MethodGet, "/api/recipes", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if rec := ts.do(http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected health checks to bypass the limiter, got %d", rec.Code)
	}
	if !strings.Contains(ts.scrape(t), `recipes_rate_limited_total{scope="global"} 1`) {
		t.Fatal("expected global rejection to be counted")
	}
}

func TestServerWriteRateLimitSparesReads(t *testing.T) {
	ts := newTestServer(t, Config{RateLimit: RateLimitConfig{WriteLimit: 1}})

	if rec := ts.do(http.MethodPost, "/api/recipes", testRecipe); rec.Code != http.StatusOK {
		t.Fatalf("expected first write to pass, got %d", rec.Code)
	}
	if rec := ts.do(http.MethodPost, "/api/recipes", testRecipe); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second write to be limited, got %d", rec.Code)
	}
	if rec := ts.do(http.MethodPost, "/api/recipes", testRecipe, "X-Forwarded-For", "198.51.100.7"); rec.Code != http.StatusOK {
		t.Fatalf("expected another client to write, got %d", rec.Code)
	}
	for i := 0; i < 3; i++ {
		if rec := ts.do(http.MethodGet, "/api/recipes", ""); rec.Code != http.StatusOK {
			t.Fatalf("expected reads to pass, got %d", rec.Code)
		}
	}
	if !strings.Contains(ts.scrape(t), `recipes_rate_limited_total{scope="write"} 1`) {
		t.Fatal("expected write rejection to be counted")
	}
}

func TestRecoverMiddlewareReturnsInternalError(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	handler := recoverMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/recipes", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Fatalf("expected panic value to stay out of the response, got %q", rec.Body.String())
	}
	if !strings.Contains(logs.String(), "panic recovered") {
		t.Fatalf("expected panic to be logged, got %q", logs.String())
	}
}

func TestExtractClientIP(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "remote addr", remote: "192.0.2.1:1234", want: "192.0.2.1"},
		{name: "forwarded", headers: map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, remote: "10.0.0.1:80", want: "203.0.113.5"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": " 203.0.113.9 "}, remote: "10.0.0.1:80", want: "203.0.113.9"},
		{name: "no port", remote: "192.0.2.8", want: "192.0.2.8"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remote
		for k, v := range tc.headers {
			req.Header.Set(k, v)
		}
		if got := extractClientIP(req); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestServerRunServesUntilCancelled(t *testing.T) {
	service := recipes.NewService(storage.NewMemoryRepository())
	srv, err := New(api.NewHandler(service), Config{
		Addr:    "127.0.0.1:0",
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: metrics.New(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx, time.Second, func(addr net.Addr) { ready <- addr })
	}()

	var addr net.Addr
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("run returned early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr.String() + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("unexpected healthz response %d %v", resp.StatusCode, resp.Header)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
