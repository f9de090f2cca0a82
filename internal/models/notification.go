package models

import (
	"fmt"
	"time"
)

// Notification is a user-facing text delivered through the chat front-end.
type Notification struct {
	OwnerID   int64     `json:"owner_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// PaymentEvent announces a closed transaction to the front-end.
type PaymentEvent struct {
	TransactionID  uint              `json:"transaction_id"`
	OwnerID        int64             `json:"owner_id"`
	Type           TransactionType   `json:"type"`
	Method         PaymentMethod     `json:"method"`
	Status         TransactionStatus `json:"status"`
	SubscriptionID uint              `json:"subscription_id,omitempty"`
	ConfigName     string            `json:"config_name,omitempty"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
	// Config is the rendered client config of a paid purchase.
	Config []byte `json:"config,omitempty"`
}

// ArtifactName is the file name of a rendered client config.
func ArtifactName(ownerID int64, configName string) string {
	return fmt.Sprintf("%d_%s.conf", ownerID, configName)
}
