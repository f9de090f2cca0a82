package models

import "time"

// User is a client of the service, keyed by chat id.
type User struct {
	ID        int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement:false"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
}

// Subscription is a client's provisioned VPN config.
type Subscription struct {
	// ID is the identity of this incarnation of the config. Reinstall creates a new one.
	ID uint `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	// OwnerID is the chat id of the owning user.
	OwnerID int64 `json:"owner_id" gorm:"column:owner_id;not null;uniqueIndex:idx_owner_config_name"`
	// NodeID references the node the peer lives on.
	NodeID uint `json:"node_id" gorm:"column:node_id;not null;index"`
	// Name is chosen by the user and unique per owner.
	Name string `json:"name" gorm:"column:name;not null;uniqueIndex:idx_owner_config_name"`
	// CreatedAt is carried over on reinstall.
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	// ExpiresAt is always normalized to 23:59:59 UTC.
	ExpiresAt time.Time `json:"expires_at" gorm:"column:expires_at;index"`
	// ReminderSentAt is set once the expiring-soon reminder went out.
	ReminderSentAt *time.Time `json:"reminder_sent_at,omitempty" gorm:"column:reminder_sent_at"`
	// ExpiryNotifiedAt is set once the expiry notice went out.
	ExpiryNotifiedAt *time.Time `json:"expiry_notified_at,omitempty" gorm:"column:expiry_notified_at"`
}

// ArtifactName is the file name of the rendered client config.
func (s *Subscription) ArtifactName() string {
	return ArtifactName(s.OwnerID, s.Name)
}

// ProvisionResult is what a successful provisioning hands back to the caller.
type ProvisionResult struct {
	Subscription *Subscription `json:"subscription"`
	// ArtifactPath is the transient on-disk copy of the client config.
	ArtifactPath string `json:"-"`
	Blob         []byte `json:"-"`
	// Degraded is set when the only active node was chosen despite being full.
	Degraded bool `json:"degraded"`
}
