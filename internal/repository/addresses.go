package repository

import (
	"context"
	"fmt"

	"github.com/Viktorio135/vpn/internal/models"
)

func (db *DB) CountAddresses(ctx context.Context) (int64, error) {
	var count int64
	if err := db.Conn.WithContext(ctx).Model(&models.Address{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count addresses: %w", err)
	}
	return count, nil
}

func (db *DB) SeedAddresses(ctx context.Context, ips []string) error {
	if len(ips) == 0 {
		return nil
	}
	rows := make([]models.Address, 0, len(ips))
	for _, ip := range ips {
		rows = append(rows, models.Address{IP: ip})
	}
	if err := db.Conn.WithContext(ctx).CreateInBatches(rows, 100).Error; err != nil {
		return fmt.Errorf("failed to seed addresses: %w", err)
	}
	return nil
}

func (db *DB) FirstFreeAddress(ctx context.Context) (*models.Address, error) {
	var addr models.Address
	if err := db.Conn.WithContext(ctx).Where("used = ?", false).Order("id asc").First(&addr).Error; err != nil {
		return nil, notFound(err, "free address")
	}
	return &addr, nil
}

func (db *DB) GetAddress(ctx context.Context, id uint) (*models.Address, error) {
	var addr models.Address
	if err := db.Conn.WithContext(ctx).Where("id = ?", id).First(&addr).Error; err != nil {
		return nil, notFound(err, "address")
	}
	return &addr, nil
}

// ClaimAddress is a compare-and-set: the update only matches while the address is free.
func (db *DB) ClaimAddress(ctx context.Context, id uint, clientID int64) (bool, error) {
	res := db.Conn.WithContext(ctx).Model(&models.Address{}).
		Where("id = ? AND used = ?", id, false).
		Updates(map[string]interface{}{"used": true, "client_id": clientID})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim address: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (db *DB) ReleaseAddress(ctx context.Context, id uint, clientID int64) (bool, error) {
	res := db.Conn.WithContext(ctx).Model(&models.Address{}).
		Where("id = ? AND used = ? AND client_id = ?", id, true, clientID).
		Updates(map[string]interface{}{"used": false, "client_id": 0})
	if res.Error != nil {
		return false, fmt.Errorf("failed to release address: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (db *DB) Occupancy(ctx context.Context) (int64, int64, error) {
	var total, used int64
	conn := db.Conn.WithContext(ctx)
	if err := conn.Model(&models.Address{}).Count(&total).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count addresses: %w", err)
	}
	if err := conn.Model(&models.Address{}).Where("used = ?", true).Count(&used).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count used addresses: %w", err)
	}
	return used, total, nil
}
