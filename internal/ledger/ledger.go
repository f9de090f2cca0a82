// Package ledger records payment attempts and closes each of them exactly once.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Viktorio135/vpn/internal/models"
	"github.com/Viktorio135/vpn/pkg/logger"
	"github.com/Viktorio135/vpn/pkg/validation"
)

// ClaimTTL is how long a fulfilment claim holds before another caller may take
// the transaction over. It only matters after a crash mid-fulfilment.
const ClaimTTL = 10 * time.Minute

type Ledger struct {
	logger *logger.Logger
	store  models.TransactionRepository
	now    func() time.Time
}

func New(store models.TransactionRepository, logger *logger.Logger) *Ledger {
	return &Ledger{logger: logger, store: store, now: time.Now}
}

// WithClock replaces the time source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Open records a pending transaction.
func (l *Ledger) Open(ctx context.Context, req models.OpenTransactionRequest) (*models.Transaction, error) {
	if err := validateOpen(req); err != nil {
		return nil, err
	}

	txn := &models.Transaction{
		OwnerID:        req.OwnerID,
		Amount:         req.Amount,
		Currency:       strings.ToUpper(req.Currency),
		Method:         req.Method,
		Type:           req.Type,
		Status:         models.StatusPending,
		Months:         req.Months,
		SubscriptionID: req.SubscriptionID,
		ConfigName:     req.ConfigName,
		PayerAddress:   strings.TrimSpace(req.PayerAddress),
	}
	if err := l.store.CreateTransaction(ctx, txn); err != nil {
		return nil, err
	}
	l.logger.Infow("Transaction opened", "transaction_id", txn.ID, "owner_id", txn.OwnerID,
		"method", txn.Method, "type", txn.Type, "amount", txn.Amount, "currency", txn.Currency)
	return txn, nil
}

func validateOpen(req models.OpenTransactionRequest) error {
	switch {
	case req.OwnerID == 0:
		return fmt.Errorf("%w: owner is required", models.ErrInvalidInput)
	case req.Amount <= 0:
		return fmt.Errorf("%w: amount must be positive", models.ErrInvalidInput)
	case req.Currency == "":
		return fmt.Errorf("%w: currency is required", models.ErrInvalidInput)
	case !req.Method.Valid():
		return fmt.Errorf("%w: unknown payment method %q", models.ErrInvalidInput, req.Method)
	case !req.Type.Valid():
		return fmt.Errorf("%w: unknown transaction type %q", models.ErrInvalidInput, req.Type)
	case req.Months < 1:
		return fmt.Errorf("%w: months must be positive", models.ErrInvalidInput)
	}

	switch req.Type {
	case models.TypeRenewal:
		if req.SubscriptionID == nil {
			return fmt.Errorf("%w: renewal needs a subscription", models.ErrInvalidInput)
		}
	case models.TypePurchase:
		if err := validation.ValidateConfigName(req.ConfigName); err != nil {
			return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
		}
	}

	if req.Method == models.MethodOnChain {
		if err := validation.ValidatePayerAddress(req.Currency, req.PayerAddress); err != nil {
			return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
		}
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, id uint) (*models.Transaction, error) {
	return l.store.GetTransaction(ctx, id)
}

// Claim marks the transaction as being fulfilled so concurrent confirmations
// do not fulfil it twice. A closed transaction yields ErrDuplicateConfirmation.
func (l *Ledger) Claim(ctx context.Context, id uint) (*models.Transaction, error) {
	now := l.now().UTC()
	ok, err := l.store.ClaimTransaction(ctx, id, now, now.Add(-ClaimTTL))
	if err != nil {
		return nil, err
	}

	txn, err := l.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if ok {
		return txn, nil
	}
	if txn.Status != models.StatusPending {
		return txn, fmt.Errorf("transaction %d is %s: %w", id, txn.Status, models.ErrDuplicateConfirmation)
	}
	return txn, fmt.Errorf("transaction %d is being processed: %w", id, models.ErrInvalidState)
}

// Release drops a claim after a failed fulfilment so the transaction can be retried.
func (l *Ledger) Release(ctx context.Context, id uint) {
	if err := l.store.ReleaseTransaction(ctx, id); err != nil {
		l.logger.Errorw("Failed to release transaction claim", "transaction_id", id, "error", err)
	}
}

// Close moves a pending transaction to status. It happens once: closing it
// again yields ErrDuplicateConfirmation when the status matches and
// ErrInvalidState otherwise. A transaction whose payment was recorded, or that
// is being fulfilled, cannot fail. An external id may belong to one transaction only.
func (l *Ledger) Close(ctx context.Context, id uint, status models.TransactionStatus, externalID, comment string) (*models.Transaction, error) {
	if status != models.StatusSuccess && status != models.StatusFailed {
		return nil, fmt.Errorf("%w: cannot close with status %q", models.ErrInvalidInput, status)
	}

	var ext *string
	if externalID != "" {
		inUse, err := l.store.ExternalIDInUse(ctx, externalID, id)
		if err != nil {
			return nil, err
		}
		if inUse {
			return nil, fmt.Errorf("external id %s: %w", externalID, models.ErrAlreadyExists)
		}
		ext = &externalID
	}

	closed, err := l.store.CloseTransaction(ctx, id, status, ext, comment, l.now().UTC().Add(-ClaimTTL))
	if err != nil {
		return nil, err
	}
	txn, err := l.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if !closed {
		if txn.Status == models.StatusPending {
			return txn, fmt.Errorf("transaction %d is paid and being fulfilled: %w", id, models.ErrInvalidState)
		}
		if txn.Status == status {
			return txn, fmt.Errorf("transaction %d: %w", id, models.ErrDuplicateConfirmation)
		}
		return txn, fmt.Errorf("transaction %d is already %s: %w", id, txn.Status, models.ErrInvalidState)
	}

	l.logger.Infow("Transaction closed", "transaction_id", id, "status", status, "external_id", externalID)
	return txn, nil
}

// RecordPayment notes the rail's confirmation on a pending transaction ahead of
// fulfilment, so a failed fulfilment can be retried without the rail. A closed
// transaction is left for Claim to report.
func (l *Ledger) RecordPayment(ctx context.Context, id uint, externalID string) error {
	ok, err := l.store.RecordTransactionPayment(ctx, id, externalID, l.now().UTC())
	if err != nil || ok {
		return err
	}
	txn, err := l.store.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if txn.Status != models.StatusPending {
		return nil
	}
	return fmt.Errorf("transaction %d was paid by another payment: %w", id, models.ErrInvalidState)
}

// ExternalIDUsed reports whether a transaction other than id already carries externalID.
func (l *Ledger) ExternalIDUsed(ctx context.Context, externalID string, id uint) (bool, error) {
	return l.store.ExternalIDInUse(ctx, externalID, id)
}

// UpdateComment annotates a transaction. Allowed in any status.
func (l *Ledger) UpdateComment(ctx context.Context, id uint, comment string) error {
	return l.store.UpdateTransactionComment(ctx, id, comment)
}
