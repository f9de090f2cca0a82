package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/Viktorio135/vpn/internal/models"
)

func (db *DB) EnsureUser(ctx context.Context, id int64) (*models.User, bool, error) {
	user := models.User{ID: id}
	res := db.Conn.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&user)
	if res.Error != nil {
		return nil, false, fmt.Errorf("failed to create user: %w", res.Error)
	}
	created := res.RowsAffected == 1

	existing, err := db.GetUser(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return existing, created, nil
}

func (db *DB) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	if err := db.Conn.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, notFound(err, "user")
	}
	return &user, nil
}
