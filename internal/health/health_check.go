package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/triekv/triekv/internal/model"
	"github.com/triekv/triekv/internal/storage/trie"
	"go.uber.org/zap"
)

// Check statuses
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// MaxGoroutines is the goroutine count above which the node reports a warning
const MaxGoroutines = 10000

// StatsProvider reports the size of the store
type StatsProvider interface {
	Stats() trie.Stats
}

// ConnectionCounter reports connection usage of the store listener
type ConnectionCounter interface {
	ActiveConnections() int
	MaxConnections() int
}

// HealthChecker performs health checks for the store node
type HealthChecker struct {
	nodeID   string
	interval time.Duration
	store    StatsProvider
	conns    ConnectionCounter
	logger   *zap.Logger

	mu          sync.RWMutex
	lastCheck   time.Time
	status      model.NodeStatus
	checks      map[string]CheckResult
	metrics     model.HealthMetrics
	livenessOK  bool
	readinessOK bool
	observers   []func(ready bool)
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthCheckConfig holds configuration for health checks
type HealthCheckConfig struct {
	NodeID        string
	CheckInterval time.Duration
}

// NewHealthChecker creates a new health checker. conns may be nil when the
// store listener is not running in this process.
func NewHealthChecker(cfg *HealthCheckConfig, store StatsProvider, conns ConnectionCounter, logger *zap.Logger) *HealthChecker {
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &HealthChecker{
		nodeID:      cfg.NodeID,
		interval:    interval,
		store:       store,
		conns:       conns,
		logger:      logger,
		checks:      make(map[string]CheckResult),
		livenessOK:  true,
		readinessOK: true,
		status:      model.NodeStatusHealthy,
	}
}

// Start runs the checks periodically until ctx is done
func (h *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.RunChecks()

	for {
		select {
		case <-ticker.C:
			h.RunChecks()
		case <-ctx.Done():
			h.logger.Info("Health checker stopped")
			return
		}
	}
}

// OnReadinessChange registers fn to be called with the readiness after every
// check run and every manual readiness change.
func (h *HealthChecker) OnReadinessChange(fn func(ready bool)) {
	h.mu.Lock()
	h.observers = append(h.observers, fn)
	ready := h.readinessOK
	h.mu.Unlock()
	fn(ready)
}

// RunChecks runs all health checks once
func (h *HealthChecker) RunChecks() {
	results := []CheckResult{
		h.checkStore(),
		h.checkConnections(),
		h.checkGoroutines(),
	}
	metrics := h.collectMetrics()

	h.mu.Lock()
	h.lastCheck = time.Now()
	h.metrics = metrics

	allHealthy := true
	allReady := true
	for _, result := range results {
		h.checks[result.Name] = result
		if result.Status != StatusHealthy {
			allHealthy = false
			if result.Status == StatusCritical {
				allReady = false
			}
		}
	}

	switch {
	case !allReady:
		h.status = model.NodeStatusUnhealthy
	case !allHealthy:
		h.status = model.NodeStatusDegraded
	default:
		h.status = model.NodeStatusHealthy
	}

	// Reaching this point means the process is responsive.
	h.livenessOK = true
	h.readinessOK = allReady
	status := h.status
	observers := append([]func(bool){}, h.observers...)
	h.mu.Unlock()

	h.logger.Debug("Health check completed",
		zap.String("status", string(status)),
		zap.Bool("readiness", allReady))

	for _, fn := range observers {
		fn(allReady)
	}
}

func (h *HealthChecker) checkStore() CheckResult {
	result := CheckResult{Name: "store", Timestamp: time.Now()}
	if h.store == nil {
		result.Status = StatusCritical
		result.Message = "store not attached"
		return result
	}
	stats := h.store.Stats()
	result.Status = StatusHealthy
	result.Message = fmt.Sprintf("keys: %d, nodes: %d, tombstones: %d", stats.Keys, stats.Nodes, stats.Tombstones)
	return result
}

func (h *HealthChecker) checkConnections() CheckResult {
	result := CheckResult{Name: "connections", Status: StatusHealthy, Timestamp: time.Now()}
	if h.conns == nil {
		result.Message = "store listener not tracked"
		return result
	}

	active, limit := h.conns.ActiveConnections(), h.conns.MaxConnections()
	if limit <= 0 {
		result.Message = fmt.Sprintf("active connections: %d, no limit", active)
		return result
	}

	usagePercent := float64(active) / float64(limit) * 100
	if usagePercent >= 90 {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("Connection usage high: %.2f%% (%d/%d)", usagePercent, active, limit)
		return result
	}
	result.Message = fmt.Sprintf("Connection usage: %.2f%% (%d/%d)", usagePercent, active, limit)
	return result
}

func (h *HealthChecker) checkGoroutines() CheckResult {
	n := runtime.NumGoroutine()
	result := CheckResult{Name: "goroutines", Status: StatusHealthy, Timestamp: time.Now()}
	if n > MaxGoroutines {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("Goroutine count high: %d", n)
		return result
	}
	result.Message = fmt.Sprintf("Goroutines: %d", n)
	return result
}

func (h *HealthChecker) collectMetrics() model.HealthMetrics {
	hm := model.HealthMetrics{Goroutines: runtime.NumGoroutine()}
	if h.store != nil {
		stats := h.store.Stats()
		hm.Keys, hm.Nodes, hm.Tombstones = stats.Keys, stats.Nodes, stats.Tombstones
	}
	if h.conns != nil {
		hm.ActiveConnections = h.conns.ActiveConnections()
		hm.MaxConnections = h.conns.MaxConnections()
	}
	return hm
}

// IsLive returns whether the node is live (liveness probe)
func (h *HealthChecker) IsLive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.livenessOK
}

// IsReady returns whether the node is ready (readiness probe)
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readinessOK
}

// GetStatus returns the health status of the last check run
func (h *HealthChecker) GetStatus() model.HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.statusLocked()
}

func (h *HealthChecker) statusLocked() model.HealthStatus {
	return model.HealthStatus{
		NodeID:    h.nodeID,
		Status:    h.status,
		Timestamp: h.lastCheck.Unix(),
		Metrics:   h.metrics,
	}
}

// GetChecks returns a copy of all check results
func (h *HealthChecker) GetChecks() map[string]CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	checks := make(map[string]CheckResult, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	return checks
}

// SetLiveness manually sets liveness status (for testing)
func (h *HealthChecker) SetLiveness(live bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.livenessOK = live
}

// SetReadiness manually sets readiness status (for graceful shutdown)
func (h *HealthChecker) SetReadiness(ready bool) {
	h.mu.Lock()
	h.readinessOK = ready
	observers := append([]func(bool){}, h.observers...)
	h.mu.Unlock()

	for _, fn := range observers {
		fn(ready)
	}
}

// LivenessHandler handles HTTP liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	live := h.livenessOK
	status := h.statusLocked()
	h.mu.RUnlock()

	writeProbe(w, live, map[string]interface{}{
		"healthy": live,
		"status":  status.Status,
	})
}

// ReadinessHandler handles HTTP readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	ready := h.readinessOK
	status := h.statusLocked()
	h.mu.RUnlock()

	writeProbe(w, ready, map[string]interface{}{
		"ready":   ready,
		"status":  status.Status,
		"metrics": status.Metrics,
		"checks":  h.GetChecks(),
	})
}

func writeProbe(w http.ResponseWriter, ok bool, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(body)
}
