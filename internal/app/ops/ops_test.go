package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakePinger struct{ err error }

func (p fakePinger) PingContext(ctx context.Context) error { return p.err }

func TestHealthzOK(t *testing.T) {
	s := NewServer(":0", fakePinger{}, nil)
	resp := httptest.NewRecorder()
	s.Handler().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected status %q", body["status"])
	}
}

func TestHealthzDegraded(t *testing.T) {
	s := NewServer(":0", fakePinger{err: errors.New("connection refused")}, nil)
	resp := httptest.NewRecorder()
	s.Handler().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "connection refused") {
		t.Fatalf("expected cause in body, got %s", resp.Body.String())
	}
}

func TestHealthzWithoutPinger(t *testing.T) {
	s := NewServer(":0", nil, nil)
	resp := httptest.NewRecorder()
	s.Handler().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestSystemSnapshot(t *testing.T) {
	s := NewServer(":0", nil, nil)
	resp := httptest.NewRecorder()
	s.Handler().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/debug/system", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var snapshot map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := snapshot["goroutines"]; !ok {
		t.Fatal("expected goroutine count")
	}
	if _, ok := snapshot["heap_alloc_bytes"]; !ok {
		t.Fatal("expected heap figure")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := NewServer(":0", nil, nil)
	resp := httptest.NewRecorder()
	s.Handler().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "magicledger_") {
		t.Fatal("expected application metrics in exposition")
	}
}

func TestStopWithoutStart(t *testing.T) {
	s := NewServer(":0", nil, nil)
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop without start: %v", err)
	}
}
