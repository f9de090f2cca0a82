// Package payment settles transactions through the payment rails and turns
// each paid transaction into exactly one provisioning or renewal.
package payment

import (
	"context"

	"github.com/Viktorio135/vpn/internal/models"
)

// Receipt is a rail's proof that a transaction was paid.
type Receipt struct {
	// ExternalID identifies the payment on the rail: invoice id, transfer hash or charge id.
	ExternalID string
	Amount     float64
	Currency   string
}

// Rail is one way of getting paid.
type Rail interface {
	// Open prepares the payment and tells the client how to pay.
	Open(ctx context.Context, txn *models.Transaction) (*models.Checkout, error)
	// Confirm verifies that txn was paid. conf is the inbound confirmation, or
	// nil when the caller asks the rail to look the payment up on its own.
	// Returns models.ErrPaymentNotFound when nothing has arrived yet.
	Confirm(ctx context.Context, txn *models.Transaction, conf *models.PaymentConfirmation) (*Receipt, error)
	// Close releases whatever the rail holds for a transaction that failed.
	Close(ctx context.Context, txn *models.Transaction, comment string) error
}

// Rails looks a rail up by payment method.
type Rails map[models.PaymentMethod]Rail
