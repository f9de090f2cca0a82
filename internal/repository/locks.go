package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/Viktorio135/vpn/internal/models"
)

// AcquireLock takes or extends the named lease. A lease held by someone else is
// only taken over once it expired.
func (db *DB) AcquireLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	conn := db.Conn.WithContext(ctx)

	res := conn.Model(&models.AppLock{}).
		Where("name = ? AND (holder = ? OR expires_at < ?)", name, holder, now).
		Updates(map[string]interface{}{"holder": holder, "expires_at": now.Add(ttl)})
	if res.Error != nil {
		return false, fmt.Errorf("failed to extend lock %s: %w", name, res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	lock := models.AppLock{Name: name, Holder: holder, ExpiresAt: now.Add(ttl)}
	res = conn.Clauses(clause.OnConflict{DoNothing: true}).Create(&lock)
	if res.Error != nil {
		return false, fmt.Errorf("failed to create lock %s: %w", name, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (db *DB) ReleaseLock(ctx context.Context, name, holder string) error {
	err := db.Conn.WithContext(ctx).Where("name = ? AND holder = ?", name, holder).Delete(&models.AppLock{}).Error
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", name, err)
	}
	return nil
}
