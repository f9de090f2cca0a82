package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Viktorio135/vpn/internal/ledger"
	"github.com/Viktorio135/vpn/internal/metrics"
	"github.com/Viktorio135/vpn/internal/models"
	"github.com/Viktorio135/vpn/pkg/logger"
)

// Fulfiller turns a paid transaction into service. Both calls mark
// transactionID fulfilled together with the change and return
// models.ErrDuplicateConfirmation when it already was.
type Fulfiller interface {
	CreatePaid(ctx context.Context, ownerID int64, name string, months int, transactionID uint) (*models.ProvisionResult, error)
	RenewPaid(ctx context.Context, subscriptionID uint, months int, transactionID uint) (*models.Subscription, error)
}

// Publisher is the outbox.
type Publisher interface {
	Publish(ctx context.Context, ownerID int64, text string) error
	PublishPaymentEvent(ctx context.Context, event models.PaymentEvent) error
}

// ArtifactDiscarder drops a transient config file nobody is going to stream.
type ArtifactDiscarder interface {
	DiscardArtifact(result *models.ProvisionResult)
}

const (
	supportText  = "We received your payment for order #%d but could not complete it. Please contact support."
	mismatchText = "The payment for order #%d does not match the price. Please contact support."
	failedText   = "Payment for order #%d was not completed."
)

// Reconciler closes transactions on the word of a rail and fulfils each paid
// transaction once, however many confirmations arrive.
type Reconciler struct {
	logger *logger.Logger

	ledger    *ledger.Ledger
	subs      models.SubscriptionRepository
	fulfiller Fulfiller
	rails     Rails
	publisher Publisher
	artifacts ArtifactDiscarder
}

func NewReconciler(
	ledger *ledger.Ledger,
	subs models.SubscriptionRepository,
	fulfiller Fulfiller,
	rails Rails,
	publisher Publisher,
	artifacts ArtifactDiscarder,
	logger *logger.Logger,
) *Reconciler {
	return &Reconciler{
		logger:    logger,
		ledger:    ledger,
		subs:      subs,
		fulfiller: fulfiller,
		rails:     rails,
		publisher: publisher,
		artifacts: artifacts,
	}
}

func (r *Reconciler) rail(method models.PaymentMethod) (Rail, error) {
	rail, ok := r.rails[method]
	if !ok {
		return nil, fmt.Errorf("%w: payment method %q is not available", models.ErrInvalidInput, method)
	}
	return rail, nil
}

// Open records a pending transaction and prepares the payment on its rail.
func (r *Reconciler) Open(ctx context.Context, req models.OpenTransactionRequest) (*models.Transaction, *models.Checkout, error) {
	rail, err := r.rail(req.Method)
	if err != nil {
		return nil, nil, err
	}
	if err := r.checkTarget(ctx, req); err != nil {
		return nil, nil, err
	}

	txn, err := r.ledger.Open(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	checkout, err := rail.Open(ctx, txn)
	if err != nil {
		if _, cerr := r.ledger.Close(ctx, txn.ID, models.StatusFailed, "", "checkout failed: "+err.Error()); cerr != nil {
			r.logger.Errorw("Failed to close transaction after checkout error", "transaction_id", txn.ID, "error", cerr)
		}
		return nil, nil, err
	}
	return txn, checkout, nil
}

// checkTarget rejects payments that could not be fulfilled anyway.
func (r *Reconciler) checkTarget(ctx context.Context, req models.OpenTransactionRequest) error {
	switch req.Type {
	case models.TypeRenewal:
		if req.SubscriptionID == nil {
			return nil
		}
		sub, err := r.subs.GetSubscription(ctx, *req.SubscriptionID)
		if err != nil {
			return err
		}
		if sub.OwnerID != req.OwnerID {
			return fmt.Errorf("subscription %d: %w", sub.ID, models.ErrNotFound)
		}
	case models.TypePurchase:
		_, err := r.subs.GetSubscriptionByName(ctx, req.OwnerID, req.ConfigName)
		if err == nil {
			return fmt.Errorf("config %q: %w", req.ConfigName, models.ErrAlreadyExists)
		}
		if !errors.Is(err, models.ErrNotFound) {
			return err
		}
	}
	return nil
}

// Confirm applies an inbound confirmation to its transaction.
func (r *Reconciler) Confirm(ctx context.Context, conf models.PaymentConfirmation) (*models.PaymentOutcome, error) {
	txn, err := r.ledger.Get(ctx, conf.TransactionID)
	if err != nil {
		return nil, err
	}
	if !conf.Paid {
		return r.fail(ctx, txn, conf.ExternalID, conf.Comment)
	}
	if txn.Status != models.StatusPending {
		return closedOutcome(txn, models.StatusSuccess)
	}

	rail, err := r.rail(txn.Method)
	if err != nil {
		return nil, err
	}
	receipt, err := rail.Confirm(ctx, txn, &conf)
	if err != nil {
		return nil, r.rejected(ctx, txn, err)
	}
	return r.settle(ctx, txn, receipt, conf.Comment)
}

// Check asks the transaction's rail whether the payment has arrived.
// models.ErrPaymentNotFound means the caller may check again later. A payment
// that was already recorded is fulfilled without asking the rail again.
func (r *Reconciler) Check(ctx context.Context, id uint) (*models.PaymentOutcome, error) {
	txn, err := r.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.Status != models.StatusPending {
		return closedOutcome(txn, models.StatusSuccess)
	}
	if txn.PaidAt != nil && txn.ExternalID != nil {
		return r.settle(ctx, txn, &Receipt{ExternalID: *txn.ExternalID, Amount: txn.Amount, Currency: txn.Currency}, "")
	}

	rail, err := r.rail(txn.Method)
	if err != nil {
		return nil, err
	}
	receipt, err := rail.Confirm(ctx, txn, nil)
	if err != nil {
		return nil, r.rejected(ctx, txn, err)
	}
	return r.settle(ctx, txn, receipt, "")
}

// Fail closes a pending transaction as failed.
func (r *Reconciler) Fail(ctx context.Context, id uint, comment string) (*models.Transaction, error) {
	txn, err := r.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	outcome, err := r.fail(ctx, txn, "", comment)
	if err != nil {
		return nil, err
	}
	return outcome.Transaction, nil
}

// ConfirmPostback settles a queued custodial postback. Nobody streams the
// config of a purchase paid this way, so it reaches the user through the
// payment event.
func (r *Reconciler) ConfirmPostback(ctx context.Context, pb models.Postback) (*models.PaymentOutcome, error) {
	order, err := ParseOrder(pb.OrderID)
	if err != nil {
		return nil, err
	}
	txn, err := r.ledger.Get(ctx, order.TransactionID)
	if err != nil {
		return nil, err
	}
	if !order.Matches(txn) || txn.Method != models.MethodCustodial {
		return nil, fmt.Errorf("%w: order %s does not belong to transaction %d", models.ErrInvalidInput, pb.OrderID, txn.ID)
	}

	paid := strings.EqualFold(pb.Status, "success")
	var amount float64
	if paid || pb.AmountCrypto != "" {
		amount, err = strconv.ParseFloat(pb.AmountCrypto, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: postback amount %q for order %s", models.ErrInvalidInput, pb.AmountCrypto, pb.OrderID)
		}
	}
	conf := models.PaymentConfirmation{
		TransactionID: txn.ID,
		Paid:          paid,
		ExternalID:    pb.InvoiceID,
		Amount:        amount,
		Currency:      pb.Currency,
		Signature:     pb.Token,
	}
	if !conf.Paid {
		// A failure report must be as authentic as a success.
		rail, err := r.rail(txn.Method)
		if err != nil {
			return nil, err
		}
		if _, err := rail.Confirm(ctx, txn, &conf); err != nil {
			return nil, err
		}
		conf.Comment = "invoice " + pb.Status
	}
	return r.confirmDetached(ctx, conf)
}

// ConfirmInApp settles a Telegram Stars payment.
func (r *Reconciler) ConfirmInApp(ctx context.Context, payload, chargeID string, amount int, currency string) (*models.PaymentOutcome, error) {
	order, err := ParseOrder(payload)
	if err != nil {
		return nil, err
	}
	txn, err := r.ledger.Get(ctx, order.TransactionID)
	if err != nil {
		return nil, err
	}
	if !order.Matches(txn) || txn.Method != models.MethodInApp {
		return nil, fmt.Errorf("%w: payload %s does not belong to transaction %d", models.ErrInvalidInput, payload, txn.ID)
	}
	return r.confirmDetached(ctx, models.PaymentConfirmation{
		TransactionID: txn.ID,
		Paid:          true,
		ExternalID:    chargeID,
		Amount:        float64(amount),
		Currency:      currency,
	})
}

func (r *Reconciler) confirmDetached(ctx context.Context, conf models.PaymentConfirmation) (*models.PaymentOutcome, error) {
	outcome, err := r.Confirm(ctx, conf)
	if outcome != nil && outcome.Provisioned != nil {
		r.artifacts.DiscardArtifact(outcome.Provisioned)
	}
	return outcome, err
}

// settle records the payment, claims the transaction, fulfils it and closes
// it. The recorded payment survives a failed fulfilment so Check can finish the
// job. The claim keeps concurrent confirmations apart and the fulfilment marker
// keeps a stale re-claim from fulfilling twice.
func (r *Reconciler) settle(ctx context.Context, txn *models.Transaction, receipt *Receipt, comment string) (*models.PaymentOutcome, error) {
	used, err := r.ledger.ExternalIDUsed(ctx, receipt.ExternalID, txn.ID)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, fmt.Errorf("payment %s already settled another transaction: %w", receipt.ExternalID, models.ErrAlreadyExists)
	}
	if err := r.ledger.RecordPayment(ctx, txn.ID, receipt.ExternalID); err != nil {
		return nil, err
	}

	claimed, err := r.ledger.Claim(ctx, txn.ID)
	if err != nil {
		if errors.Is(err, models.ErrDuplicateConfirmation) {
			return closedOutcome(claimed, models.StatusSuccess)
		}
		return nil, err
	}

	var outcome *models.PaymentOutcome
	if claimed.FulfilledAt == nil {
		outcome, err = r.fulfil(ctx, claimed)
	}
	if claimed.FulfilledAt != nil || errors.Is(err, models.ErrDuplicateConfirmation) {
		r.logger.Infow("Transaction already fulfilled, closing it", "transaction_id", claimed.ID)
		outcome, err = r.fulfilled(ctx, claimed)
	}
	if err != nil {
		r.ledger.Release(context.WithoutCancel(ctx), claimed.ID)
		metrics.PaymentsTotal.WithLabelValues(string(claimed.Method), "error").Inc()
		r.logger.Errorw("Failed to fulfil paid transaction", "transaction_id", claimed.ID, "error", err)
		r.notify(ctx, claimed.OwnerID, fmt.Sprintf(supportText, claimed.ID))
		return nil, err
	}

	if comment == "" {
		comment = fulfilComment(claimed)
	}
	closed, err := r.ledger.Close(ctx, claimed.ID, models.StatusSuccess, receipt.ExternalID, comment)
	if err != nil && !errors.Is(err, models.ErrDuplicateConfirmation) {
		// The service is delivered; the claim stays until it goes stale.
		r.logger.Errorw("Failed to close fulfilled transaction", "transaction_id", claimed.ID, "error", err)
		return nil, err
	}
	outcome.Transaction = closed
	metrics.PaymentsTotal.WithLabelValues(string(closed.Method), "success").Inc()

	event := paymentEvent(closed)
	if outcome.Subscription != nil {
		event.SubscriptionID = outcome.Subscription.ID
		event.ConfigName = outcome.Subscription.Name
		expires := outcome.Subscription.ExpiresAt
		event.ExpiresAt = &expires
	}
	if outcome.Provisioned != nil {
		event.Config = outcome.Provisioned.Blob
	}
	r.publishEvent(ctx, event)
	return outcome, nil
}

func (r *Reconciler) fulfil(ctx context.Context, txn *models.Transaction) (*models.PaymentOutcome, error) {
	switch txn.Type {
	case models.TypePurchase:
		result, err := r.fulfiller.CreatePaid(ctx, txn.OwnerID, txn.ConfigName, txn.Months, txn.ID)
		if err != nil {
			return nil, err
		}
		return &models.PaymentOutcome{Subscription: result.Subscription, Provisioned: result}, nil
	case models.TypeRenewal:
		if txn.SubscriptionID == nil {
			return nil, fmt.Errorf("%w: renewal %d has no subscription", models.ErrInvalidState, txn.ID)
		}
		sub, err := r.fulfiller.RenewPaid(ctx, *txn.SubscriptionID, txn.Months, txn.ID)
		if err != nil {
			return nil, err
		}
		return &models.PaymentOutcome{Subscription: sub}, nil
	}
	return nil, fmt.Errorf("%w: unknown transaction type %q", models.ErrInvalidState, txn.Type)
}

// fulfilled looks up what an earlier fulfilment of txn produced.
func (r *Reconciler) fulfilled(ctx context.Context, txn *models.Transaction) (*models.PaymentOutcome, error) {
	var (
		sub *models.Subscription
		err error
	)
	switch {
	case txn.Type == models.TypeRenewal && txn.SubscriptionID != nil:
		sub, err = r.subs.GetSubscription(ctx, *txn.SubscriptionID)
	default:
		sub, err = r.subs.GetSubscriptionByName(ctx, txn.OwnerID, txn.ConfigName)
	}
	if err != nil {
		return nil, err
	}
	return &models.PaymentOutcome{Subscription: sub}, nil
}

func fulfilComment(txn *models.Transaction) string {
	if txn.Type == models.TypeRenewal && txn.SubscriptionID != nil {
		return fmt.Sprintf("renewal of subscription %d for %d month(s)", *txn.SubscriptionID, txn.Months)
	}
	return fmt.Sprintf("payment for config %s", txn.ConfigName)
}

// rejected records what a rail refused. An amount mismatch stays pending for
// an operator to resolve.
func (r *Reconciler) rejected(ctx context.Context, txn *models.Transaction, err error) error {
	if !errors.Is(err, models.ErrAmountMismatch) {
		return err
	}
	// The same mismatch is reported once, however often it is checked.
	annotation := "anomaly: " + err.Error()
	if txn.Comment == annotation {
		return err
	}
	metrics.PaymentAnomaliesTotal.WithLabelValues(string(txn.Method)).Inc()
	r.logger.Warnw("Payment amount mismatch", "transaction_id", txn.ID, "error", err)
	if cerr := r.ledger.UpdateComment(ctx, txn.ID, annotation); cerr != nil {
		r.logger.Errorw("Failed to annotate transaction", "transaction_id", txn.ID, "error", cerr)
	}
	r.notify(ctx, txn.OwnerID, fmt.Sprintf(mismatchText, txn.ID))
	return err
}

func (r *Reconciler) fail(ctx context.Context, txn *models.Transaction, externalID, comment string) (*models.PaymentOutcome, error) {
	closed, err := r.ledger.Close(ctx, txn.ID, models.StatusFailed, externalID, comment)
	if err != nil {
		if errors.Is(err, models.ErrDuplicateConfirmation) {
			return &models.PaymentOutcome{Transaction: closed, Duplicate: true}, nil
		}
		return nil, err
	}
	metrics.PaymentsTotal.WithLabelValues(string(closed.Method), "failed").Inc()

	if rail, ok := r.rails[closed.Method]; ok {
		if err := rail.Close(ctx, closed, comment); err != nil {
			r.logger.Warnw("Failed to release payment on rail", "transaction_id", closed.ID, "error", err)
		}
	}
	r.publishEvent(ctx, paymentEvent(closed))
	r.notify(ctx, closed.OwnerID, fmt.Sprintf(failedText, closed.ID))
	return &models.PaymentOutcome{Transaction: closed}, nil
}

// closedOutcome reports a transaction that was closed before this call.
func closedOutcome(txn *models.Transaction, want models.TransactionStatus) (*models.PaymentOutcome, error) {
	if txn.Status != want {
		return nil, fmt.Errorf("transaction %d is already %s: %w", txn.ID, txn.Status, models.ErrInvalidState)
	}
	return &models.PaymentOutcome{Transaction: txn, Duplicate: true}, nil
}

func paymentEvent(txn *models.Transaction) models.PaymentEvent {
	event := models.PaymentEvent{
		TransactionID: txn.ID,
		OwnerID:       txn.OwnerID,
		Type:          txn.Type,
		Method:        txn.Method,
		Status:        txn.Status,
		ConfigName:    txn.ConfigName,
	}
	if txn.SubscriptionID != nil {
		event.SubscriptionID = *txn.SubscriptionID
	}
	return event
}

func (r *Reconciler) publishEvent(ctx context.Context, event models.PaymentEvent) {
	if err := r.publisher.PublishPaymentEvent(ctx, event); err != nil {
		r.logger.Errorw("Failed to publish payment event", "transaction_id", event.TransactionID, "error", err)
	}
}

func (r *Reconciler) notify(ctx context.Context, ownerID int64, text string) {
	if err := r.publisher.Publish(ctx, ownerID, text); err != nil {
		r.logger.Errorw("Failed to publish notification", "owner_id", ownerID, "error", err)
	}
}
