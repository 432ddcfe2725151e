package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/minihongo/minihongo-agent/internal/agent"
	"github.com/minihongo/minihongo-agent/internal/store"
)

type testEnv struct {
	app     *fiber.App
	runtime *Runtime
	agent   *agent.Agent
	store   store.Store
	origin  *httptest.Server
	methods *atomic.Value
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	methods := &atomic.Value{}
	methods.Store("")
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods.Store(r.Method)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Add("Link", "</style.css>; rel=preload")
		w.Header().Add("Link", "</app.js>; rel=preload")
		w.Write([]byte("<html>page</html>"))
	}))
	t.Cleanup(origin.Close)

	originURL, err := url.Parse(origin.URL)
	if err != nil {
		t.Fatalf("parse origin: %v", err)
	}

	responseStore := store.NewMemoryStore()
	cacheAgent, err := agent.New(agent.Options{
		Version: "abc12345",
		Origin:  originURL,
		Store:   responseStore,
		MaxAge:  time.Minute,
	})
	if err != nil {
		t.Fatalf("build agent: %v", err)
	}
	t.Cleanup(cacheAgent.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	runtime := NewRuntime()
	runtime.Swap(cacheAgent)

	app, err := NewApp(AppOptions{
		Logger:      logger,
		Runtime:     runtime,
		Passthrough: NewPassthrough(origin.Client(), originURL, logger),
		ListenPort:  5000,
	})
	if err != nil {
		t.Fatalf("build app: %v", err)
	}

	return &testEnv{
		app:     app,
		runtime: runtime,
		agent:   cacheAgent,
		store:   responseStore,
		origin:  origin,
		methods: methods,
	}
}

func TestInterceptServesGetThroughAgent(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/kana/", nil)
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "<html>page</html>" {
		t.Fatalf("body mismatch: %s", string(body))
	}
	if resp.Header.Get("X-Cache-Hit") != "false" {
		t.Fatalf("first request must be a miss, header=%s", resp.Header.Get("X-Cache-Hit"))
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}
	if resp.Header.Get(store.CachedAtHeader) != "" {
		t.Fatalf("internal stamp header must never reach clients")
	}

	again, err := env.app.Test(httptest.NewRequest(http.MethodGet, "/kana/", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if again.Header.Get("X-Cache-Hit") != "true" {
		t.Fatalf("second request must hit the cache, header=%s", again.Header.Get("X-Cache-Hit"))
	}
}

func TestInterceptPassesThroughMutatingRequests(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/quiz/answer", nil)
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from origin, got %d", resp.StatusCode)
	}
	if env.methods.Load() != http.MethodPost {
		t.Fatalf("origin must see the original method, got %v", env.methods.Load())
	}

	keys, err := env.store.Keys(req.Context(), env.agent.Version())
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("mutating requests must never be cached, keys=%v", keys)
	}
}

func TestInterceptHeadOmitsBody(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.app.Test(httptest.NewRequest(http.MethodGet, "/kana/", nil)); err != nil {
		t.Fatalf("warm-up failed: %v", err)
	}

	resp, err := env.app.Test(httptest.NewRequest(http.MethodHead, "/kana/", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) != 0 {
		t.Fatalf("head response must not carry a body, got %q", string(body))
	}
}

func TestInterceptServesOfflineWhenMissCannotBeServed(t *testing.T) {
	env := newTestEnv(t)
	env.origin.Close()

	resp, err := env.app.Test(httptest.NewRequest(http.MethodGet, "/kana/", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 offline response, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != agent.OfflineBody {
		t.Fatalf("offline body mismatch: %s", string(body))
	}
}

func TestInterceptFragmentFallsBackToOffline(t *testing.T) {
	env := newTestEnv(t)
	env.origin.Close()

	resp, err := env.app.Test(httptest.NewRequest(http.MethodGet, "/_f/kana/index.html", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 offline response, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != agent.OfflineBody {
		t.Fatalf("offline body mismatch: %s", string(body))
	}
	if resp.Header.Get("X-Cache-Offline") != "true" {
		t.Fatalf("expected offline diagnostics header")
	}
}

func TestInterceptPreservesRepeatedHeaderValues(t *testing.T) {
	env := newTestEnv(t)

	miss, err := env.app.Test(httptest.NewRequest(http.MethodGet, "/kana/", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if got := miss.Header.Values("Link"); len(got) != 2 {
		t.Fatalf("network response must keep every Link value, got %v", got)
	}

	hit, err := env.app.Test(httptest.NewRequest(http.MethodGet, "/kana/", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if hit.Header.Get("X-Cache-Hit") != "true" {
		t.Fatalf("second request must hit the cache")
	}
	if got := hit.Header.Values("Link"); len(got) != 2 {
		t.Fatalf("cached response must keep every Link value, got %v", got)
	}
}

func TestPassthroughPreservesRepeatedHeaderValues(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.app.Test(httptest.NewRequest(http.MethodPost, "/quiz/answer", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if got := resp.Header.Values("Link"); len(got) != 2 {
		t.Fatalf("forwarded response must keep every Link value, got %v", got)
	}
}

func TestInterceptWithoutActiveAgentPassesThrough(t *testing.T) {
	env := newTestEnv(t)
	env.runtime.Swap(nil)

	resp, err := env.app.Test(httptest.NewRequest(http.MethodGet, "/kana/", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected passthrough 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Cache-Hit") != "" {
		t.Fatalf("passthrough must not add cache diagnostics headers")
	}
}
