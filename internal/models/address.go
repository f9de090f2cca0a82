package models

import "time"

// Address is one entry of a node's address pool.
// Used is true exactly when ClientID is non-zero.
type Address struct {
	ID       uint   `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	IP       string `json:"ip" gorm:"column:ip;uniqueIndex;not null"`
	Used     bool   `json:"used" gorm:"column:used;not null;index"`
	ClientID int64  `json:"client_id" gorm:"column:client_id;not null"`
}

func (Address) TableName() string {
	return "ip_addresses"
}

// Peer is the node-local record of one provisioned WireGuard peer.
type Peer struct {
	ID         uint      `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	ClientID   int64     `json:"client_id" gorm:"column:client_id;not null;uniqueIndex:idx_peer_client_name"`
	ConfigName string    `json:"config_name" gorm:"column:config_name;not null;uniqueIndex:idx_peer_client_name"`
	PublicKey  string    `json:"public_key" gorm:"column:public_key;not null"`
	PrivateKey string    `json:"-" gorm:"column:private_key;not null"`
	AddressID  uint      `json:"address_id" gorm:"column:address_id;not null"`
	IP         string    `json:"ip" gorm:"column:ip;not null"`
	CreatedAt  time.Time `json:"created_at" gorm:"column:created_at"`
}
