package repository

import (
	"context"
	"fmt"

	"github.com/Viktorio135/vpn/internal/models"
)

func (db *DB) CreatePeer(ctx context.Context, peer *models.Peer) error {
	if err := db.Conn.WithContext(ctx).Create(peer).Error; err != nil {
		return fmt.Errorf("failed to create peer: %w", err)
	}
	return nil
}

func (db *DB) GetPeer(ctx context.Context, clientID int64, configName string) (*models.Peer, error) {
	var peer models.Peer
	err := db.Conn.WithContext(ctx).Where("client_id = ? AND config_name = ?", clientID, configName).First(&peer).Error
	if err != nil {
		return nil, notFound(err, "peer")
	}
	return &peer, nil
}

func (db *DB) DeletePeer(ctx context.Context, id uint) error {
	if err := db.Conn.WithContext(ctx).Where("id = ?", id).Delete(&models.Peer{}).Error; err != nil {
		return fmt.Errorf("failed to delete peer: %w", err)
	}
	return nil
}
