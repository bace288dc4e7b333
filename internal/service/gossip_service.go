package service

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"
	"github.com/triekv/triekv/internal/metrics"
	"github.com/triekv/triekv/internal/model"
	"go.uber.org/zap"
)

// GossipService manages cluster membership between store servers. Every node
// advertises the address of its store listener in its memberlist metadata.
type GossipService struct {
	config     *GossipConfig
	memberlist *memberlist.Memberlist
	nodeID     string
	storeAddr  string
	metrics    *metrics.Metrics
	logger     *zap.Logger

	mu         sync.RWMutex
	healthData *model.HealthStatus
}

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	Enabled        bool
	BindAddr       string
	BindPort       int
	SeedNodes      []string
	GossipInterval time.Duration
	ProbeTimeout   time.Duration
	ProbeInterval  time.Duration
}

// nodeMeta is the metadata gossiped for every member
type nodeMeta struct {
	StoreAddr string           `json:"store_addr"`
	Status    model.NodeStatus `json:"status"`
}

// NewGossipService creates a new gossip service. m may be nil.
func NewGossipService(cfg *GossipConfig, nodeID, storeAddr string, m *metrics.Metrics, logger *zap.Logger) (*GossipService, error) {
	gs := &GossipService{
		config:    cfg,
		nodeID:    nodeID,
		storeAddr: storeAddr,
		metrics:   m,
		logger:    logger,
		healthData: &model.HealthStatus{
			NodeID:    nodeID,
			Status:    model.NodeStatusHealthy,
			Timestamp: time.Now().Unix(),
		},
	}

	// Configure memberlist
	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = nodeID
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertisePort = cfg.BindPort
	if cfg.GossipInterval > 0 {
		mlConfig.GossipInterval = cfg.GossipInterval
	}
	if cfg.ProbeTimeout > 0 {
		mlConfig.ProbeTimeout = cfg.ProbeTimeout
	}
	if cfg.ProbeInterval > 0 {
		mlConfig.ProbeInterval = cfg.ProbeInterval
	}
	mlConfig.Delegate = gs
	mlConfig.Events = &GossipEventDelegate{service: gs}
	mlConfig.LogOutput = zap.NewStdLog(logger.Named("memberlist")).Writer()

	// Create memberlist
	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}

	gs.mu.Lock()
	gs.memberlist = ml
	gs.mu.Unlock()
	gs.updateMemberMetrics()

	// Join seed nodes
	if len(cfg.SeedNodes) > 0 {
		joined, err := ml.Join(cfg.SeedNodes)
		if err != nil {
			logger.Warn("Failed to join some seed nodes",
				zap.Int("joined", joined),
				zap.Error(err))
		}
	}

	return gs, nil
}

// NodeMeta implements memberlist.Delegate
func (s *GossipService) NodeMeta(limit int) []byte {
	s.mu.RLock()
	meta := nodeMeta{StoreAddr: s.storeAddr, Status: s.healthData.Status}
	s.mu.RUnlock()

	data, err := json.Marshal(meta)
	if err != nil || len(data) > limit {
		return nil
	}
	return data
}

// NotifyMsg implements memberlist.Delegate
func (s *GossipService) NotifyMsg(data []byte) {
	var healthStatus model.HealthStatus
	if err := json.Unmarshal(data, &healthStatus); err != nil {
		s.logger.Warn("Failed to unmarshal gossip message", zap.Error(err))
		return
	}

	s.logger.Debug("Received health status",
		zap.String("node_id", healthStatus.NodeID),
		zap.String("status", string(healthStatus.Status)))
}

// GetBroadcasts implements memberlist.Delegate
func (s *GossipService) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState implements memberlist.Delegate
func (s *GossipService) LocalState(join bool) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, _ := json.Marshal(s.healthData)
	return data
}

// MergeRemoteState implements memberlist.Delegate
func (s *GossipService) MergeRemoteState(buf []byte, join bool) {
	var remote model.HealthStatus
	if err := json.Unmarshal(buf, &remote); err != nil {
		return
	}
	s.logger.Debug("Merged remote state",
		zap.String("node_id", remote.NodeID),
		zap.Bool("join", join))
}

// UpdateHealthStatus updates the local health status from store figures.
// A node close to its connection limit reports itself degraded.
func (s *GossipService) UpdateHealthStatus(hm model.HealthMetrics) {
	s.mu.Lock()
	s.healthData.Timestamp = time.Now().Unix()
	s.healthData.Metrics = hm

	prev := s.healthData.Status
	if hm.MaxConnections > 0 && hm.ActiveConnections*10 >= hm.MaxConnections*9 {
		s.healthData.Status = model.NodeStatusDegraded
	} else {
		s.healthData.Status = model.NodeStatusHealthy
	}
	changed := prev != s.healthData.Status
	s.mu.Unlock()

	if changed {
		if err := s.memberlist.UpdateNode(s.config.ProbeTimeout); err != nil {
			s.logger.Warn("Failed to propagate node metadata", zap.Error(err))
		}
	}
}

// HealthStatus returns a copy of the local health status
func (s *GossipService) HealthStatus() model.HealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.healthData
}

// Members returns the current cluster members sorted by name
func (s *GossipService) Members() []model.MemberInfo {
	s.mu.RLock()
	ml := s.memberlist
	s.mu.RUnlock()
	if ml == nil {
		return nil
	}

	nodes := ml.Members()
	members := make([]model.MemberInfo, 0, len(nodes))
	for _, node := range nodes {
		info := model.MemberInfo{
			Name: node.Name,
			Addr: node.Address(),
		}
		var meta nodeMeta
		if len(node.Meta) > 0 && json.Unmarshal(node.Meta, &meta) == nil {
			info.StoreAddr = meta.StoreAddr
			info.Status = meta.Status
		}
		members = append(members, info)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Name < members[j].Name })
	return members
}

// NumMembers returns the number of alive members, this node included
func (s *GossipService) NumMembers() int {
	return s.memberlist.NumMembers()
}

// Shutdown leaves the cluster and shuts down the gossip service
func (s *GossipService) Shutdown() error {
	if err := s.memberlist.Leave(s.config.ProbeTimeout); err != nil {
		s.logger.Warn("Failed to leave cluster cleanly", zap.Error(err))
	}
	return s.memberlist.Shutdown()
}

// updateMemberMetrics must not run on a memberlist callback goroutine:
// events are delivered while memberlist holds its node lock.
func (s *GossipService) updateMemberMetrics() {
	s.mu.RLock()
	ml := s.memberlist
	s.mu.RUnlock()
	if s.metrics == nil || ml == nil {
		return
	}
	healthy := 0
	for _, m := range s.Members() {
		if m.Status == "" || m.Status == model.NodeStatusHealthy {
			healthy++
		}
	}
	s.metrics.UpdateGossipStats(ml.NumMembers(), healthy)
}

// GossipEventDelegate handles memberlist events
type GossipEventDelegate struct {
	service *GossipService
}

// NotifyJoin is called when a node joins
func (d *GossipEventDelegate) NotifyJoin(node *memberlist.Node) {
	d.service.logger.Info("Node joined",
		zap.String("node_id", node.Name),
		zap.String("addr", node.Addr.String()))
	go d.service.updateMemberMetrics()
}

// NotifyLeave is called when a node leaves
func (d *GossipEventDelegate) NotifyLeave(node *memberlist.Node) {
	d.service.logger.Info("Node left",
		zap.String("node_id", node.Name))
	go d.service.updateMemberMetrics()
}

// NotifyUpdate is called when a node is updated
func (d *GossipEventDelegate) NotifyUpdate(node *memberlist.Node) {
	d.service.logger.Debug("Node updated",
		zap.String("node_id", node.Name))
	go d.service.updateMemberMetrics()
}
