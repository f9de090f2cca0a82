package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Viktorio135/vpn/internal/models"
)

func (db *DB) CreateNode(ctx context.Context, node *models.Node) error {
	if err := db.Conn.WithContext(ctx).Create(node).Error; err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}
	return nil
}

func (db *DB) GetNode(ctx context.Context, id uint) (*models.Node, error) {
	var node models.Node
	if err := db.Conn.WithContext(ctx).Where("id = ?", id).First(&node).Error; err != nil {
		return nil, notFound(err, "node")
	}
	return &node, nil
}

func (db *DB) GetNodeByExternalID(ctx context.Context, externalID string) (*models.Node, error) {
	var node models.Node
	if err := db.Conn.WithContext(ctx).Where("external_id = ?", externalID).First(&node).Error; err != nil {
		return nil, notFound(err, "node")
	}
	return &node, nil
}

func (db *DB) ListActiveNodes(ctx context.Context) ([]*models.Node, error) {
	var nodes []*models.Node
	if err := db.Conn.WithContext(ctx).Where("active = ?", true).Order("id asc").Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("failed to list active nodes: %w", err)
	}
	return nodes, nil
}

func (db *DB) ListNodes(ctx context.Context) ([]*models.Node, error) {
	var nodes []*models.Node
	if err := db.Conn.WithContext(ctx).Order("id asc").Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	return nodes, nil
}

func (db *DB) UpdateNodeRegistration(ctx context.Context, id uint, desc models.NodeDescriptor, token string) error {
	res := db.Conn.WithContext(ctx).Model(&models.Node{}).Where("id = ?", id).Updates(map[string]interface{}{
		"endpoint":    desc.Endpoint,
		"name":        desc.Name,
		"country":     desc.Country,
		"max_clients": desc.MaxClients,
		"token":       token,
		"active":      true,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update node registration: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("node %d: %w", id, models.ErrNotFound)
	}
	return nil
}

func (db *DB) UpdateNodeToken(ctx context.Context, id uint, token string) error {
	if err := db.Conn.WithContext(ctx).Model(&models.Node{}).Where("id = ?", id).Update("token", token).Error; err != nil {
		return fmt.Errorf("failed to update node token: %w", err)
	}
	return nil
}

func (db *DB) SetNodeActive(ctx context.Context, id uint, active bool) error {
	if err := db.Conn.WithContext(ctx).Model(&models.Node{}).Where("id = ?", id).Update("active", active).Error; err != nil {
		return fmt.Errorf("failed to set node active flag: %w", err)
	}
	return nil
}

func (db *DB) SaveNodeStatus(ctx context.Context, id uint, status models.NodeStatus, seenAt time.Time) error {
	err := db.Conn.WithContext(ctx).Model(&models.Node{}).Where("id = ?", id).Updates(map[string]interface{}{
		"cpu_percent":        status.CPUPercent,
		"memory_percent":     status.MemoryPercent,
		"bytes_sent_per_sec": status.BytesSentPerSec,
		"bytes_recv_per_sec": status.BytesRecvPerSec,
		"current_clients":    status.UsedAddresses,
		"last_seen_at":       seenAt,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to save node status: %w", err)
	}
	return nil
}

func (db *DB) IncrementNodeClients(ctx context.Context, id uint) error {
	err := db.Conn.WithContext(ctx).Model(&models.Node{}).Where("id = ?", id).
		UpdateColumn("current_clients", gorm.Expr("current_clients + 1")).Error
	if err != nil {
		return fmt.Errorf("failed to increment node clients: %w", err)
	}
	return nil
}

func (db *DB) DecrementNodeClients(ctx context.Context, id uint) error {
	err := db.Conn.WithContext(ctx).Model(&models.Node{}).Where("id = ? AND current_clients > 0", id).
		UpdateColumn("current_clients", gorm.Expr("current_clients - 1")).Error
	if err != nil {
		return fmt.Errorf("failed to decrement node clients: %w", err)
	}
	return nil
}
