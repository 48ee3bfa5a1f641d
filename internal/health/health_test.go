package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func serve(h http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthHandler(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewPingChecker("storage", true, pingerFunc(func(context.Context) error {
		return nil
	})))

	w := serve(handler, "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", response.Status)
	}
	if response.Version != "v1.0.0" {
		t.Errorf("expected version v1.0.0, got %s", response.Version)
	}
	if len(response.Checks) != 1 || !response.Checks[0].Critical {
		t.Errorf("expected one critical check, got %+v", response.Checks)
	}
	if !response.Ready {
		t.Error("handler must be ready by default")
	}
}

func TestHealthHandler_CriticalFailure(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewFuncChecker("storage", true, func(context.Context) error {
		return errors.New("connection refused")
	}))

	w := serve(handler, "/healthz")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", w.Code)
	}

	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != StatusUnhealthy {
		t.Errorf("expected status unhealthy, got %s", response.Status)
	}
	if response.Checks[0].Message != "connection refused" {
		t.Errorf("unexpected message %q", response.Checks[0].Message)
	}
}

func TestHealthHandler_NonCriticalFailureDegrades(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewFuncChecker("storage", true, func(context.Context) error { return nil }))
	handler.RegisterChecker("redis", NewFuncChecker("redis", false, func(context.Context) error {
		return errors.New("timeout")
	}))

	response := handler.Evaluate(context.Background())
	if response.Status != StatusDegraded {
		t.Fatalf("expected status degraded, got %s", response.Status)
	}
	if response.Checks[0].Name != "redis" || response.Checks[1].Name != "storage" {
		t.Errorf("checks must be sorted by name, got %+v", response.Checks)
	}

	if w := serve(handler, "/healthz"); w.Code != http.StatusOK {
		t.Errorf("degraded service must answer 200, got %d", w.Code)
	}
	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("degraded service stays ready, got %d", w.Code)
	}
}

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Errorf("expected body 'ok', got %s", w.Body.String())
	}
}

func TestReadinessHandler(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewFuncChecker("storage", true, func(context.Context) error { return nil }))

	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ready" {
		t.Fatalf("expected 200 ready, got %d %s", w.Code, w.Body.String())
	}

	handler.SetReady(false)
	w = httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable || w.Body.String() != "shutting down" {
		t.Fatalf("expected 503 shutting down, got %d %s", w.Code, w.Body.String())
	}
}

func TestReadinessHandler_NotReady(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewFuncChecker("storage", true, func(context.Context) error {
		return errors.New("down")
	}))

	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable || w.Body.String() != "not ready" {
		t.Fatalf("expected 503 not ready, got %d %s", w.Code, w.Body.String())
	}
}

func TestFuncChecker_ReceivesDeadline(t *testing.T) {
	handler := NewHandler("v1.0.0")
	var hadDeadline bool
	handler.RegisterChecker("storage", NewFuncChecker("storage", true, func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	}))

	handler.Evaluate(context.Background())
	if !hadDeadline {
		t.Error("checks must run under a timeout")
	}
}
