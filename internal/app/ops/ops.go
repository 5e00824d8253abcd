// Package ops serves the operational endpoints on a listener separate from
// the public API: liveness, Prometheus metrics, and a host snapshot.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/merryworks/magicledger/internal/app/metrics"
	"github.com/merryworks/magicledger/internal/app/system"
	"github.com/merryworks/magicledger/pkg/logger"
)

// Pinger checks a dependency's reachability, typically the database.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server exposes /healthz, /metrics, and /debug/system.
type Server struct {
	addr    string
	pinger  Pinger
	log     *logger.Logger
	started time.Time

	mu      sync.Mutex
	srv     *http.Server
	running bool
}

var _ system.Service = (*Server)(nil)

// NewServer builds the ops server. A nil pinger reports healthy without a
// dependency check.
func NewServer(addr string, pinger Pinger, log *logger.Logger) *Server {
	if addr == "" {
		addr = ":9090"
	}
	if log == nil {
		log = logger.NewDefault("ops")
	}
	return &Server{addr: addr, pinger: pinger, log: log}
}

func (s *Server) Name() string { return "ops-server" }

// Handler returns the ops mux without a listener, for embedding and tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthz)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/debug/system", s.systemSnapshot)
	return mux
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	s.started = time.Now()
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.running = true

	go func() {
		s.log.WithField("addr", s.addr).Info("ops server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("ops server failed")
		}
	}()
	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	return s.srv.Shutdown(ctx)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.PingContext(ctx); err != nil {
			status = "degraded: " + err.Error()
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}

// systemSnapshot reports host and process figures for quick diagnosis.
func (s *Server) systemSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot := map[string]any{
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"go_version":     runtime.Version(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		snapshot["memory"] = map[string]any{
			"total_bytes":  vm.Total,
			"used_bytes":   vm.Used,
			"used_percent": vm.UsedPercent,
		}
	}
	if percents, err := cpu.PercentWithContext(r.Context(), 0, false); err == nil && len(percents) > 0 {
		snapshot["cpu_percent"] = percents[0]
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	snapshot["heap_alloc_bytes"] = ms.HeapAlloc

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(snapshot)
}
