package service_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/triekv/triekv/internal/metrics"
	"github.com/triekv/triekv/internal/model"
	"github.com/triekv/triekv/internal/service"
	"go.uber.org/zap"
)

func newGossip(t *testing.T, nodeID, storeAddr string, m *metrics.Metrics) *service.GossipService {
	t.Helper()
	gs, err := service.NewGossipService(&service.GossipConfig{
		Enabled:        true,
		BindAddr:       "127.0.0.1",
		BindPort:       0,
		GossipInterval: 50 * time.Millisecond,
		ProbeTimeout:   200 * time.Millisecond,
		ProbeInterval:  500 * time.Millisecond,
	}, nodeID, storeAddr, m, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gs.Shutdown() })
	return gs
}

func TestGossipService_SingleNode(t *testing.T) {
	m := metrics.NewMetricsWithRegistry("gossip-a", prometheus.NewRegistry())
	gs := newGossip(t, "gossip-a", "127.0.0.1:5000", m)

	members := gs.Members()
	require.Len(t, members, 1)
	assert.Equal(t, "gossip-a", members[0].Name)
	assert.Equal(t, "127.0.0.1:5000", members[0].StoreAddr)
	assert.Equal(t, model.NodeStatusHealthy, members[0].Status)
	assert.Equal(t, 1, gs.NumMembers())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GossipMembersTotal))
}

func TestGossipService_UpdateHealthStatus(t *testing.T) {
	gs := newGossip(t, "gossip-b", "127.0.0.1:5001", nil)

	gs.UpdateHealthStatus(model.HealthMetrics{Keys: 3, ActiveConnections: 95, MaxConnections: 100})
	status := gs.HealthStatus()
	assert.Equal(t, model.NodeStatusDegraded, status.Status)
	assert.Equal(t, 3, status.Metrics.Keys)

	gs.UpdateHealthStatus(model.HealthMetrics{ActiveConnections: 1, MaxConnections: 100})
	assert.Equal(t, model.NodeStatusHealthy, gs.HealthStatus().Status)
}
