package models

import "time"

// AppLock is a lease on a named background job.
// Used for coordinating work between multiple gateway instances.
type AppLock struct {
	Name      string    `gorm:"column:name;primaryKey;size:255"`
	Holder    string    `gorm:"column:holder;size:255;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index"`
}

// TableName specifies the table name for GORM
func (AppLock) TableName() string {
	return "app_locks"
}
