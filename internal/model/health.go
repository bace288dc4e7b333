package model

// HealthStatus represents the health state of a store node
type HealthStatus struct {
	NodeID    string        `json:"node_id"`
	Status    NodeStatus    `json:"status"`
	Timestamp int64         `json:"timestamp"`
	Metrics   HealthMetrics `json:"metrics"`
}

// NodeStatus defines the operational status of a node
type NodeStatus string

const (
	NodeStatusHealthy   NodeStatus = "healthy"
	NodeStatusDegraded  NodeStatus = "degraded"
	NodeStatusUnhealthy NodeStatus = "unhealthy"
)

// HealthMetrics contains the store figures shared through health probes and gossip
type HealthMetrics struct {
	Keys              int `json:"keys"`
	Nodes             int `json:"nodes"`
	Tombstones        int `json:"tombstones"`
	ActiveConnections int `json:"active_connections"`
	MaxConnections    int `json:"max_connections"`
	Goroutines        int `json:"goroutines"`
}

// MemberInfo describes a gossip cluster member
type MemberInfo struct {
	Name      string     `json:"name"`
	Addr      string     `json:"addr"`
	StoreAddr string     `json:"store_addr,omitempty"`
	Status    NodeStatus `json:"status,omitempty"`
}
