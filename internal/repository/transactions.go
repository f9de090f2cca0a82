package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Viktorio135/vpn/internal/models"
)

func (db *DB) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	if err := db.Conn.WithContext(ctx).Create(txn).Error; err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (db *DB) GetTransaction(ctx context.Context, id uint) (*models.Transaction, error) {
	var txn models.Transaction
	if err := db.Conn.WithContext(ctx).Where("id = ?", id).First(&txn).Error; err != nil {
		return nil, notFound(err, "transaction")
	}
	return &txn, nil
}

func (db *DB) CloseTransaction(ctx context.Context, id uint, status models.TransactionStatus, externalID *string, comment string, staleBefore time.Time) (bool, error) {
	q := db.Conn.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, models.StatusPending)
	if status == models.StatusFailed {
		q = q.Where("paid_at IS NULL AND (claimed_at IS NULL OR claimed_at < ?)", staleBefore)
	}
	res := q.Updates(map[string]interface{}{
		"status":      status,
		"external_id": externalID,
		"comment":     comment,
		"claimed_at":  nil,
	})
	if res.Error != nil {
		return false, fmt.Errorf("failed to close transaction: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (db *DB) RecordTransactionPayment(ctx context.Context, id uint, externalID string, at time.Time) (bool, error) {
	res := db.Conn.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ? AND (external_id IS NULL OR external_id = ?)", id, models.StatusPending, externalID).
		Updates(map[string]interface{}{
			"external_id": externalID,
			"paid_at":     gorm.Expr("COALESCE(paid_at, ?)", at),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to record payment: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// markFulfilled runs inside the transaction that writes the paid-for change.
func markFulfilled(tx *gorm.DB, id uint, at time.Time) error {
	res := tx.Model(&models.Transaction{}).
		Where("id = ? AND status = ? AND fulfilled_at IS NULL", id, models.StatusPending).
		Update("fulfilled_at", at)
	if res.Error != nil {
		return fmt.Errorf("failed to mark transaction fulfilled: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("transaction %d was already fulfilled: %w", id, models.ErrDuplicateConfirmation)
	}
	return nil
}

func (db *DB) UpdateTransactionComment(ctx context.Context, id uint, comment string) error {
	res := db.Conn.WithContext(ctx).Model(&models.Transaction{}).Where("id = ?", id).Update("comment", comment)
	if res.Error != nil {
		return fmt.Errorf("failed to update transaction comment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("transaction %d: %w", id, models.ErrNotFound)
	}
	return nil
}

func (db *DB) ClaimTransaction(ctx context.Context, id uint, now, staleBefore time.Time) (bool, error) {
	res := db.Conn.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ? AND (claimed_at IS NULL OR claimed_at < ?)", id, models.StatusPending, staleBefore).
		Update("claimed_at", now)
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim transaction: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (db *DB) ReleaseTransaction(ctx context.Context, id uint) error {
	err := db.Conn.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Update("claimed_at", nil).Error
	if err != nil {
		return fmt.Errorf("failed to release transaction: %w", err)
	}
	return nil
}

func (db *DB) ExternalIDInUse(ctx context.Context, externalID string, exceptID uint) (bool, error) {
	var count int64
	err := db.Conn.WithContext(ctx).Model(&models.Transaction{}).
		Where("external_id = ? AND id <> ?", externalID, exceptID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check external id: %w", err)
	}
	return count > 0, nil
}
