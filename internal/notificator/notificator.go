package notificator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Viktorio135/vpn/internal/models"
	"github.com/Viktorio135/vpn/internal/outbox"
	"github.com/Viktorio135/vpn/pkg/logger"
)

// Sender delivers texts and files into a chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) error
}

const dateLayout = "2006-01-02"

// Notificator delivers the queued user notifications.
type Notificator struct {
	logger *logger.Logger
	sender Sender
}

func NewNotificator(sender Sender, logger *logger.Logger) *Notificator {
	return &Notificator{logger: logger, sender: sender}
}

// Handle is the consumer of the notification queue. A failed delivery is
// retried; a message that cannot be decoded is dropped.
func (n *Notificator) Handle(ctx context.Context, payload []byte) error {
	var notification models.Notification
	if err := json.Unmarshal(payload, &notification); err != nil {
		return fmt.Errorf("failed to decode notification: %w", err)
	}
	if notification.OwnerID == 0 || notification.Text == "" {
		return fmt.Errorf("notification without recipient or text")
	}

	if err := n.sender.SendMessage(ctx, notification.OwnerID, notification.Text); err != nil {
		return fmt.Errorf("%w: failed to send notification to %d: %v", outbox.ErrRetry, notification.OwnerID, err)
	}
	n.logger.Debugw("Notification delivered", "owner_id", notification.OwnerID)
	return nil
}

// HandlePaymentEvent is the consumer of the payment event queue. It hands a
// paid purchase its config and tells the owner of a renewal the new expiry.
// Failed payments were already reported by the reconciler.
func (n *Notificator) HandlePaymentEvent(ctx context.Context, payload []byte) error {
	var event models.PaymentEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("failed to decode payment event: %w", err)
	}
	if event.Status != models.StatusSuccess || event.OwnerID == 0 {
		return nil
	}

	var err error
	switch {
	case len(event.Config) > 0:
		caption := fmt.Sprintf("Your config %s is ready.", event.ConfigName)
		if event.ExpiresAt != nil {
			caption += " It is valid until " + event.ExpiresAt.UTC().Format(dateLayout) + "."
		}
		err = n.sender.SendDocument(ctx, event.OwnerID, models.ArtifactName(event.OwnerID, event.ConfigName), event.Config, caption)
	case event.Type == models.TypeRenewal && event.ExpiresAt != nil:
		err = n.sender.SendMessage(ctx, event.OwnerID, fmt.Sprintf("Config %s is renewed until %s.",
			event.ConfigName, event.ExpiresAt.UTC().Format(dateLayout)))
	default:
		err = n.sender.SendMessage(ctx, event.OwnerID, fmt.Sprintf("Payment for order #%d is complete.", event.TransactionID))
	}
	if err != nil {
		return fmt.Errorf("%w: failed to deliver payment event %d: %v", outbox.ErrRetry, event.TransactionID, err)
	}
	n.logger.Infow("Payment event delivered", "transaction_id", event.TransactionID, "owner_id", event.OwnerID)
	return nil
}
