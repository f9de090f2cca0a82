package models

import "time"

// Node is an edge VPN server known to the gateway.
type Node struct {
	// ID is the gateway-side identifier of the node.
	ID uint `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	// ExternalID is the identifier the node declares for itself. Re-registration is keyed by it.
	ExternalID string `json:"external_id" gorm:"column:external_id;uniqueIndex;not null"`
	// Endpoint is the base URL of the node API, e.g. http://203.0.113.7:8000.
	Endpoint string `json:"endpoint" gorm:"column:endpoint;not null"`
	// Name is a human readable name of the node.
	Name string `json:"name" gorm:"column:name"`
	// Country is where the node is located.
	Country string `json:"country" gorm:"column:country"`
	// MaxClients is the capacity declared by the node.
	MaxClients int `json:"max_clients" gorm:"column:max_clients;not null"`
	// CurrentClients is the advisory client counter used for selection.
	CurrentClients int `json:"current_clients" gorm:"column:current_clients;not null"`
	// Active nodes take part in selection. Nodes are never deleted, only deactivated.
	Active bool `json:"active" gorm:"column:active;index"`
	// Token is the bearer credential the gateway presents to the node.
	Token string `json:"-" gorm:"column:token"`

	CPUPercent      float64    `json:"cpu_percent" gorm:"column:cpu_percent"`
	MemoryPercent   float64    `json:"memory_percent" gorm:"column:memory_percent"`
	BytesSentPerSec float64    `json:"bytes_sent_per_sec" gorm:"column:bytes_sent_per_sec"`
	BytesRecvPerSec float64    `json:"bytes_recv_per_sec" gorm:"column:bytes_recv_per_sec"`
	LastSeenAt      *time.Time `json:"last_seen_at,omitempty" gorm:"column:last_seen_at"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

// HasCapacity reports whether the advisory counter allows one more client.
func (n *Node) HasCapacity() bool {
	return n.CurrentClients < n.MaxClients
}

// NodeDescriptor is what a node declares about itself when registering.
type NodeDescriptor struct {
	ExternalID string `json:"server_id" binding:"required"`
	Endpoint   string `json:"endpoint" binding:"required"`
	Name       string `json:"name"`
	Country    string `json:"country"`
	MaxClients int    `json:"max_count_users" binding:"required,min=1"`
}

// NodeStatus is the health report returned by a node.
type NodeStatus struct {
	CPUPercent      float64 `json:"cpu_percent"`
	MemoryPercent   float64 `json:"memory_percent"`
	BytesSentPerSec float64 `json:"bytes_sent_per_sec"`
	BytesRecvPerSec float64 `json:"bytes_recv_per_sec"`
	UsedAddresses   int64   `json:"used_addresses"`
	TotalAddresses  int64   `json:"total_addresses"`
}

// NodeArtifact is a client config rendered by a node.
type NodeArtifact struct {
	ConfigName string `json:"config_name"`
	Address    string `json:"address"`
	PublicKey  string `json:"public_key"`
	Blob       []byte `json:"-"`
}
