package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Viktorio135/vpn/internal/models"
)

func (db *DB) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	if err := db.Conn.WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (db *DB) GetSubscription(ctx context.Context, id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := db.Conn.WithContext(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		return nil, notFound(err, "subscription")
	}
	return &sub, nil
}

func (db *DB) GetSubscriptionByName(ctx context.Context, ownerID int64, name string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := db.Conn.WithContext(ctx).Where("owner_id = ? AND name = ?", ownerID, name).First(&sub).Error; err != nil {
		return nil, notFound(err, "subscription")
	}
	return &sub, nil
}

func (db *DB) ListSubscriptionsByOwner(ctx context.Context, ownerID int64) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	if err := db.Conn.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id asc").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

func (db *DB) ListSubscriptions(ctx context.Context) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	if err := db.Conn.WithContext(ctx).Order("id asc").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

func (db *DB) DeleteSubscription(ctx context.Context, id uint) (bool, error) {
	res := db.Conn.WithContext(ctx).Where("id = ?", id).Delete(&models.Subscription{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete subscription: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (db *DB) UpdateSubscriptionExpiry(ctx context.Context, id uint, expiresAt time.Time) error {
	return updateExpiry(db.Conn.WithContext(ctx), id, expiresAt)
}

func updateExpiry(tx *gorm.DB, id uint, expiresAt time.Time) error {
	res := tx.Model(&models.Subscription{}).Where("id = ?", id).Updates(map[string]interface{}{
		"expires_at":         expiresAt,
		"reminder_sent_at":   nil,
		"expiry_notified_at": nil,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update subscription expiry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("subscription %d: %w", id, models.ErrNotFound)
	}
	return nil
}

func (db *DB) CreatePaidSubscription(ctx context.Context, sub *models.Subscription, transactionID uint, at time.Time) error {
	return db.Conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := markFulfilled(tx, transactionID, at); err != nil {
			return err
		}
		if err := tx.Create(sub).Error; err != nil {
			return fmt.Errorf("failed to create subscription: %w", err)
		}
		return nil
	})
}

func (db *DB) ApplyPaidRenewal(ctx context.Context, id uint, expiresAt time.Time, transactionID uint, at time.Time) error {
	return db.Conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := markFulfilled(tx, transactionID, at); err != nil {
			return err
		}
		return updateExpiry(tx, id, expiresAt)
	})
}

// MarkReminderSent sets the reminder marker unless it is already set.
func (db *DB) MarkReminderSent(ctx context.Context, id uint, at time.Time) (bool, error) {
	res := db.Conn.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND reminder_sent_at IS NULL", id).
		Update("reminder_sent_at", at)
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark reminder sent: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkExpiryNotified sets the expiry marker unless it is already set.
func (db *DB) MarkExpiryNotified(ctx context.Context, id uint, at time.Time) (bool, error) {
	res := db.Conn.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND expiry_notified_at IS NULL", id).
		Update("expiry_notified_at", at)
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark expiry notified: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}
