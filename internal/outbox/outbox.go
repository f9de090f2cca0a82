package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Viktorio135/vpn/internal/metrics"
	"github.com/Viktorio135/vpn/internal/models"
	"github.com/Viktorio135/vpn/pkg/logger"
)

// Queue names.
const (
	// Notifications carries user-facing texts for the chat front-end.
	Notifications = "bot_notifications"
	// Postbacks carries custodial payment webhooks awaiting reconciliation.
	Postbacks = "payment_notifications"
	// PaymentEvents announces closed transactions.
	PaymentEvents = "payment_events"
)

// Outbox publishes messages onto the queues. Publishing never rolls back the
// state change that caused it; the caller only logs a failure.
type Outbox struct {
	logger *logger.Logger
	queue  Queue
	now    func() time.Time
}

func New(queue Queue, logger *logger.Logger) *Outbox {
	return &Outbox{logger: logger, queue: queue, now: time.Now}
}

// Publish queues a text for the user.
func (o *Outbox) Publish(ctx context.Context, ownerID int64, text string) error {
	return o.push(ctx, Notifications, models.Notification{
		OwnerID:   ownerID,
		Text:      text,
		CreatedAt: o.now().UTC(),
	})
}

func (o *Outbox) PublishPaymentEvent(ctx context.Context, event models.PaymentEvent) error {
	return o.push(ctx, PaymentEvents, event)
}

// PublishPostback queues a custodial webhook so it is acknowledged at once and
// reconciled later.
func (o *Outbox) PublishPostback(ctx context.Context, postback models.Postback) error {
	if postback.ReceivedAtUTC == 0 {
		postback.ReceivedAtUTC = o.now().UTC().Unix()
	}
	return o.push(ctx, Postbacks, postback)
}

func (o *Outbox) push(ctx context.Context, queue string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", queue, err)
	}
	// The state change is already done; a cancelled request must not lose its message.
	if err := o.queue.Push(context.WithoutCancel(ctx), queue, payload); err != nil {
		metrics.OutboxPublishedTotal.WithLabelValues(queue, "error").Inc()
		return err
	}
	metrics.OutboxPublishedTotal.WithLabelValues(queue, "ok").Inc()
	o.logger.Debugw("Message queued", "queue", queue)
	return nil
}
