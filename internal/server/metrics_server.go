package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/triekv/triekv/internal/health"
	"github.com/triekv/triekv/internal/metrics"
	"github.com/triekv/triekv/internal/model"
	"go.uber.org/zap"
)

// MemberLister lists gossip cluster members
type MemberLister interface {
	Members() []model.MemberInfo
}

// MetricsServer serves Prometheus metrics, health probes and cluster
// membership over HTTP.
type MetricsServer struct {
	httpServer *http.Server
	metrics    *metrics.Metrics
	members    MemberLister
	interval   time.Duration
	logger     *zap.Logger
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// MetricsServerConfig holds configuration for the metrics server
type MetricsServerConfig struct {
	Host            string
	Port            int
	Path            string
	CollectInterval time.Duration
}

// NewMetricsServer creates a new metrics server. checker and members may be nil.
func NewMetricsServer(cfg *MetricsServerConfig, m *metrics.Metrics, checker *health.HealthChecker, members MemberLister, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()

	interval := cfg.CollectInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}

	ms := &MetricsServer{
		httpServer: &http.Server{
			Addr:         net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		metrics:  m,
		members:  members,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}

	mux.Handle(path, promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/cluster/members", ms.membersHandler)
	if checker != nil {
		mux.HandleFunc("/health/live", checker.LivenessHandler)
		mux.HandleFunc("/health/ready", checker.ReadinessHandler)
	}

	return ms
}

// Handler returns the HTTP handler of the server
func (s *MetricsServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the system metrics collector and the HTTP listener
func (s *MetricsServer) Start() error {
	lis, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("Starting metrics server", zap.String("addr", lis.Addr().String()))

	go s.collectSystemMetrics()

	go func() {
		if err := s.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the metrics server
func (s *MetricsServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping metrics server")
	s.stopOnce.Do(func() { close(s.stopChan) })

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	return nil
}

// membersHandler lists gossip members, an empty list when gossip is off
func (s *MetricsServer) membersHandler(w http.ResponseWriter, r *http.Request) {
	members := []model.MemberInfo{}
	if s.members != nil {
		members = append(members, s.members.Members()...)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"members": members,
		"count":   len(members),
	})
}

// collectSystemMetrics periodically collects system-level metrics
func (s *MetricsServer) collectSystemMetrics() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.UpdateSystemMetrics()
	for {
		select {
		case <-ticker.C:
			s.UpdateSystemMetrics()
		case <-s.stopChan:
			return
		}
	}
}

// UpdateSystemMetrics samples heap usage and goroutine count
func (s *MetricsServer) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	s.metrics.UpdateSystemStats(int64(memStats.Alloc), runtime.NumGoroutine())
}
