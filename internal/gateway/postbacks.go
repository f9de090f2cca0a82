package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Viktorio135/vpn/internal/models"
	"github.com/Viktorio135/vpn/internal/outbox"
)

// handlePostback settles one queued custodial postback.
func (g *Gateway) handlePostback(ctx context.Context, payload []byte) error {
	var pb models.Postback
	if err := json.Unmarshal(payload, &pb); err != nil {
		return fmt.Errorf("failed to decode postback: %w", err)
	}

	outcome, err := g.payments.ConfirmPostback(ctx, pb)
	if err != nil {
		if retryable(err) {
			return fmt.Errorf("%w: order %s: %v", outbox.ErrRetry, pb.OrderID, err)
		}
		g.logger.Warnw("Postback rejected", "order_id", pb.OrderID, "invoice_id", pb.InvoiceID, "status", pb.Status, "error", err)
		return err
	}

	g.logger.Infow("Postback processed",
		"order_id", pb.OrderID,
		"transaction_id", outcome.Transaction.ID,
		"status", outcome.Transaction.Status,
		"duplicate", outcome.Duplicate)
	return nil
}

// retryable reports whether a postback failure may go away on its own. Known
// failures are final: either the postback itself was rejected or fulfilment
// failed and the user was already sent to support.
func retryable(err error) bool {
	for _, final := range []error{
		models.ErrInvalidInput,
		models.ErrInvalidState,
		models.ErrUnauthorized,
		models.ErrNotFound,
		models.ErrAlreadyExists,
		models.ErrAmountMismatch,
		models.ErrCapacityExhausted,
		models.ErrNodeUnreachable,
	} {
		if errors.Is(err, final) {
			return false
		}
	}
	return true
}
