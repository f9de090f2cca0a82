// Package lifecycle creates, renews and expires subscriptions.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Viktorio135/vpn/internal/metrics"
	"github.com/Viktorio135/vpn/internal/models"
	"github.com/Viktorio135/vpn/internal/provisioner"
	"github.com/Viktorio135/vpn/pkg/logger"
)

const sweepLockName = "expiry-sweep"

// Provisioner places and removes subscriptions.
type Provisioner interface {
	Provision(ctx context.Context, req provisioner.Request) (*models.ProvisionResult, error)
	Teardown(ctx context.Context, subscriptionID uint) error
}

// Notifier delivers a text to a user.
type Notifier interface {
	Publish(ctx context.Context, ownerID int64, text string) error
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Checked  int
	Reminded int
	Expired  int
	Failed   int
}

type Manager struct {
	logger *logger.Logger

	subs     models.SubscriptionRepository
	locks    models.LockRepository
	prov     Provisioner
	notifier Notifier

	interval time.Duration
	window   time.Duration
	holder   string
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(
	subs models.SubscriptionRepository,
	locks models.LockRepository,
	prov Provisioner,
	notifier Notifier,
	interval, window time.Duration,
	logger *logger.Logger,
) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		logger:   logger,
		subs:     subs,
		locks:    locks,
		prov:     prov,
		notifier: notifier,
		interval: interval,
		window:   window,
		holder:   uuid.NewString(),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// WithClock replaces the time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Create provisions a new subscription lasting months, or the free trial when
// months is zero.
func (m *Manager) Create(ctx context.Context, ownerID int64, name string, months int) (*models.ProvisionResult, error) {
	return m.create(ctx, ownerID, name, months, 0)
}

// CreatePaid is Create for a purchase. The subscription row and the fulfilment
// of transactionID are written together, so a replay yields
// models.ErrDuplicateConfirmation instead of a second config.
func (m *Manager) CreatePaid(ctx context.Context, ownerID int64, name string, months int, transactionID uint) (*models.ProvisionResult, error) {
	return m.create(ctx, ownerID, name, months, transactionID)
}

func (m *Manager) create(ctx context.Context, ownerID int64, name string, months int, transactionID uint) (*models.ProvisionResult, error) {
	if months < 0 {
		return nil, fmt.Errorf("%w: months cannot be negative", models.ErrInvalidInput)
	}
	created := m.now().UTC()
	return m.prov.Provision(ctx, provisioner.Request{
		OwnerID:       ownerID,
		Name:          name,
		CreatedAt:     created,
		ExpiresAt:     ExpiryFor(created, months),
		TransactionID: transactionID,
	})
}

// Renew extends the subscription by months and re-arms its reminders.
func (m *Manager) Renew(ctx context.Context, subscriptionID uint, months int) (*models.Subscription, error) {
	return m.renew(ctx, subscriptionID, months, 0)
}

// RenewPaid is Renew for a paid renewal. It extends the subscription at most
// once per transaction; a replay yields models.ErrDuplicateConfirmation.
func (m *Manager) RenewPaid(ctx context.Context, subscriptionID uint, months int, transactionID uint) (*models.Subscription, error) {
	return m.renew(ctx, subscriptionID, months, transactionID)
}

func (m *Manager) renew(ctx context.Context, subscriptionID uint, months int, transactionID uint) (*models.Subscription, error) {
	if months < 1 {
		return nil, fmt.Errorf("%w: months must be positive", models.ErrInvalidInput)
	}
	sub, err := m.subs.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	expires := Renewed(sub.ExpiresAt, now, months)
	if transactionID != 0 {
		err = m.subs.ApplyPaidRenewal(ctx, sub.ID, expires, transactionID, now.UTC())
	} else {
		err = m.subs.UpdateSubscriptionExpiry(ctx, sub.ID, expires)
	}
	if err != nil {
		return nil, err
	}
	sub.ExpiresAt = expires
	sub.ReminderSentAt = nil
	sub.ExpiryNotifiedAt = nil

	m.logger.Infow("Subscription renewed", "subscription_id", sub.ID, "months", months,
		"expires_at", expires, "transaction_id", transactionID)
	return sub, nil
}

// Sweep reminds owners of subscriptions about to expire and tears down the
// expired ones. Each reminder and expiry notice is sent once. A failure on one
// subscription does not stop the others; a failed teardown is retried on the
// next sweep.
func (m *Manager) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	ok, err := m.locks.AcquireLock(ctx, sweepLockName, m.holder, m.interval*3)
	if err != nil {
		return report, err
	}
	if !ok {
		m.logger.Debug("Sweep lease held by another instance, skipping")
		return report, nil
	}

	subs, err := m.subs.ListSubscriptions(ctx)
	if err != nil {
		return report, err
	}
	metrics.SweepRunsTotal.Inc()

	now := m.now()
	for _, sub := range subs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++

		switch StateAt(sub.ExpiresAt, now, m.window) {
		case StateExpiringSoon:
			sent, err := m.remind(ctx, sub, now)
			if err != nil {
				report.Failed++
				m.logger.Errorw("Failed to send expiry reminder", "subscription_id", sub.ID, "error", err)
			} else if sent {
				report.Reminded++
			}
		case StateExpired:
			if err := m.expire(ctx, sub, now); err != nil {
				report.Failed++
				m.logger.Errorw("Failed to expire subscription", "subscription_id", sub.ID, "error", err)
				continue
			}
			report.Expired++
		}
	}

	if report.Reminded > 0 || report.Expired > 0 || report.Failed > 0 {
		m.logger.Infow("Sweep finished", "checked", report.Checked, "reminded", report.Reminded,
			"expired", report.Expired, "failed", report.Failed)
	}
	return report, nil
}

func (m *Manager) remind(ctx context.Context, sub *models.Subscription, now time.Time) (bool, error) {
	marked, err := m.subs.MarkReminderSent(ctx, sub.ID, now)
	if err != nil || !marked {
		return false, err
	}
	text := fmt.Sprintf("Your config %s expires in %d day(s). Please renew it.", sub.Name, DaysLeft(sub.ExpiresAt, now))
	if err := m.notifier.Publish(ctx, sub.OwnerID, text); err != nil {
		m.logger.Errorw("Failed to publish reminder", "subscription_id", sub.ID, "error", err)
	}
	metrics.RemindersTotal.Inc()
	return true, nil
}

func (m *Manager) expire(ctx context.Context, sub *models.Subscription, now time.Time) error {
	marked, err := m.subs.MarkExpiryNotified(ctx, sub.ID, now)
	if err != nil {
		return err
	}
	if marked {
		text := fmt.Sprintf("Your config %s has expired.", sub.Name)
		if err := m.notifier.Publish(ctx, sub.OwnerID, text); err != nil {
			m.logger.Errorw("Failed to publish expiry notice", "subscription_id", sub.ID, "error", err)
		}
	}
	if err := m.prov.Teardown(ctx, sub.ID); err != nil {
		return err
	}
	metrics.ExpirationsTotal.Inc()
	m.logger.Infow("Subscription expired", "subscription_id", sub.ID, "owner_id", sub.OwnerID, "config_name", sub.Name)
	return nil
}

// Start runs the sweep every interval until Stop is called.
func (m *Manager) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := m.Sweep(m.ctx); err != nil && m.ctx.Err() == nil {
					m.logger.Errorw("Sweep failed", "error", err)
				}
			case <-m.ctx.Done():
				m.logger.Info("Lifecycle sweeper stopped")
				return
			}
		}
	}()
}

func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
	if err := m.locks.ReleaseLock(context.Background(), sweepLockName, m.holder); err != nil {
		m.logger.Errorw("Failed to release sweep lease", "error", err)
	}
}
