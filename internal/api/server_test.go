package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/storcube-bridge/internal/bridges/storcube"
	"github.com/nerrad567/storcube-bridge/internal/infrastructure/config"
	"github.com/nerrad567/storcube-bridge/internal/infrastructure/logging"
)

// fakeHealth is a HealthSource returning a fixed message.
type fakeHealth struct {
	mu  sync.Mutex
	msg storcube.HealthMessage
}

func (f *fakeHealth) Health() storcube.HealthMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msg
}

func (f *fakeHealth) set(status storcube.HealthStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msg.Status = status
}

func testServer(t *testing.T, metrics http.Handler) (*Server, *fakeHealth) {
	t.Helper()

	health := &fakeHealth{msg: storcube.HealthMessage{
		BridgeID: "storcube-test",
		Status:   storcube.HealthHealthy,
		State:    "awaiting_message",
	}}
	srv, err := New(Deps{
		Config:  config.APIConfig{Host: "127.0.0.1"},
		Logger:  logging.Discard(),
		Health:  health,
		Metrics: metrics,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, health
}

func serve(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{Health: &fakeHealth{}}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() without health source should fail")
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, nil)

	w := serve(t, srv, http.MethodGet, "/healthz")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
	if resp["bridge_id"] != "storcube-test" {
		t.Errorf("bridge_id = %v, want storcube-test", resp["bridge_id"])
	}
}

func TestHealth_NotHealthyIsUnavailable(t *testing.T) {
	tests := []storcube.HealthStatus{
		storcube.HealthDegraded,
		storcube.HealthStarting,
		storcube.HealthStopping,
	}

	for _, status := range tests {
		t.Run(string(status), func(t *testing.T) {
			srv, health := testServer(t, nil)
			health.set(status)

			w := serve(t, srv, http.MethodGet, "/healthz")
			if w.Code != http.StatusServiceUnavailable {
				t.Errorf("health status = %d, want %d", w.Code, http.StatusServiceUnavailable)
			}
		})
	}
}

func TestMetrics_Mounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "storcube_bridge_up 1\n")
	})
	srv, _ := testServer(t, metrics)

	w := serve(t, srv, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "storcube_bridge_up") {
		t.Errorf("metrics body = %q", w.Body.String())
	}
}

func TestMetrics_AbsentHandler(t *testing.T) {
	srv, _ := testServer(t, nil)

	w := serve(t, srv, http.MethodGet, "/metrics")
	if w.Code != http.StatusNotFound {
		t.Errorf("metrics status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t, nil)

	w := serve(t, srv, http.MethodGet, "/healthz")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t, nil)

	w := serve(t, srv, http.MethodGet, "/nope")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}

	var resp Error
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", resp.Code, ErrCodeNotFound)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := testServer(t, nil)

	w := serve(t, srv, http.MethodPost, "/healthz")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, _ := testServer(t, nil)

	handler := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestServer_StartAndClose(t *testing.T) {
	srv, _ := testServer(t, nil)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}

	// Port 0 picks a free port.
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() after Start error = %v", err)
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + srv.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, body = %s", resp.StatusCode, body)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestServer_CloseWithoutStart(t *testing.T) {
	srv, _ := testServer(t, nil)
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
