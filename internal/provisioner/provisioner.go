// Package provisioner places subscriptions on nodes and tears them down.
package provisioner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/Viktorio135/vpn/internal/metrics"
	"github.com/Viktorio135/vpn/internal/models"
	"github.com/Viktorio135/vpn/internal/registry"
	"github.com/Viktorio135/vpn/pkg/logger"
	"github.com/Viktorio135/vpn/pkg/validation"
)

// maxPlacementAttempts bounds failover to other nodes when a node is unreachable.
const maxPlacementAttempts = 3

// NodeAPI is the remote peer executor on a node.
type NodeAPI interface {
	GenerateConfig(ctx context.Context, node *models.Node, ownerID int64, name string) (*models.NodeArtifact, error)
	DeleteConfig(ctx context.Context, node *models.Node, ownerID int64, name string) error
}

// Selector picks nodes for new subscriptions.
type Selector interface {
	SelectNode(ctx context.Context, excluding map[uint]struct{}) (*models.Node, registry.Selection, error)
	GetNode(ctx context.Context, id uint) (*models.Node, error)
}

// Request describes a subscription to provision.
type Request struct {
	OwnerID   int64
	Name      string
	CreatedAt time.Time
	ExpiresAt time.Time
	// ReminderSentAt and ExpiryNotifiedAt carry the markers over on reinstall.
	ReminderSentAt   *time.Time
	ExpiryNotifiedAt *time.Time
	// TransactionID is the paying transaction, zero for unpaid configs. It is
	// marked fulfilled together with the subscription row.
	TransactionID uint
}

type Provisioner struct {
	logger *logger.Logger

	users     models.UserRepository
	subs      models.SubscriptionRepository
	nodes     models.NodeRepository
	selector  Selector
	api       NodeAPI
	artifacts *ArtifactStore
}

func New(
	users models.UserRepository,
	subs models.SubscriptionRepository,
	nodes models.NodeRepository,
	selector Selector,
	api NodeAPI,
	artifacts *ArtifactStore,
	logger *logger.Logger,
) *Provisioner {
	return &Provisioner{
		logger:    logger,
		users:     users,
		subs:      subs,
		nodes:     nodes,
		selector:  selector,
		api:       api,
		artifacts: artifacts,
	}
}

// Provision places a new peer for the owner and persists the subscription.
// The subscription row and the node counter are only written once the peer
// exists and the artifact is on disk; anything acquired before a failure is
// given back.
func (p *Provisioner) Provision(ctx context.Context, req Request) (result *models.ProvisionResult, err error) {
	defer func() { metrics.ProvisionsTotal.WithLabelValues(metrics.Result(err)).Inc() }()

	if err := validation.ValidateConfigName(req.Name); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	if req.ExpiresAt.Before(req.CreatedAt) {
		return nil, fmt.Errorf("%w: expiry before creation", models.ErrInvalidInput)
	}
	if _, err := p.users.GetUser(ctx, req.OwnerID); err != nil {
		return nil, err
	}
	if _, err := p.subs.GetSubscriptionByName(ctx, req.OwnerID, req.Name); err == nil {
		return nil, fmt.Errorf("config %q: %w", req.Name, models.ErrAlreadyExists)
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	node, sel, artifact, err := p.place(ctx, req.OwnerID, req.Name)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			p.compensateNode(ctx, node, req.OwnerID, req.Name)
		}
	}()

	path, err := p.artifacts.Save(req.OwnerID, req.Name, artifact.Blob)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if rmErr := p.artifacts.removePath(path); rmErr != nil {
				p.logger.Errorw("Failed to remove artifact after failed provisioning", "path", path, "error", rmErr)
			}
		}
	}()

	sub := &models.Subscription{
		OwnerID:          req.OwnerID,
		NodeID:           node.ID,
		Name:             req.Name,
		CreatedAt:        req.CreatedAt.UTC(),
		ExpiresAt:        req.ExpiresAt.UTC(),
		ReminderSentAt:   req.ReminderSentAt,
		ExpiryNotifiedAt: req.ExpiryNotifiedAt,
	}
	if req.TransactionID != 0 {
		err = p.subs.CreatePaidSubscription(ctx, sub, req.TransactionID, time.Now().UTC())
	} else {
		err = p.subs.CreateSubscription(ctx, sub)
	}
	if err != nil {
		return nil, err
	}

	// The counter is advisory and recomputed by the health poll.
	if incErr := p.nodes.IncrementNodeClients(ctx, node.ID); incErr != nil {
		p.logger.Errorw("Failed to increment node clients", "node_id", node.ID, "error", incErr)
	}

	p.logger.Infow("Subscription provisioned",
		"subscription_id", sub.ID, "owner_id", sub.OwnerID, "config_name", sub.Name,
		"node_id", node.ID, "expires_at", sub.ExpiresAt, "degraded", sel.Degraded)
	return &models.ProvisionResult{
		Subscription: sub,
		ArtifactPath: path,
		Blob:         artifact.Blob,
		Degraded:     sel.Degraded,
	}, nil
}

// place asks selected nodes for a peer, moving on to another node only when
// one is unreachable. Capacity errors are returned as they are.
func (p *Provisioner) place(ctx context.Context, ownerID int64, name string) (*models.Node, registry.Selection, *models.NodeArtifact, error) {
	excluding := make(map[uint]struct{})
	var lastErr error
	for attempt := 0; attempt < maxPlacementAttempts; attempt++ {
		node, sel, err := p.selector.SelectNode(ctx, excluding)
		if err != nil {
			if lastErr != nil && errors.Is(err, models.ErrNoCapacity) {
				return nil, sel, nil, fmt.Errorf("%w (last node error: %v)", err, lastErr)
			}
			return nil, sel, nil, err
		}

		artifact, err := p.api.GenerateConfig(ctx, node, ownerID, name)
		if err == nil {
			return node, sel, artifact, nil
		}
		if !errors.Is(err, models.ErrNodeUnreachable) {
			return nil, sel, nil, err
		}
		p.logger.Warnw("Node unreachable during provisioning, trying another", "node_id", node.ID, "error", err)
		excluding[node.ID] = struct{}{}
		lastErr = err
	}
	return nil, registry.Selection{}, nil, lastErr
}

func (p *Provisioner) compensateNode(ctx context.Context, node *models.Node, ownerID int64, name string) {
	if err := p.api.DeleteConfig(context.WithoutCancel(ctx), node, ownerID, name); err != nil {
		p.logger.Errorw("Failed to remove peer after failed provisioning",
			"node_id", node.ID, "owner_id", ownerID, "config_name", name, "error", err)
	}
}

// Teardown removes the peer, the subscription row and the artifact. Each step
// tolerates having been done before, so a teardown interrupted midway can
// simply be repeated. A missing subscription is not an error.
func (p *Provisioner) Teardown(ctx context.Context, subscriptionID uint) (err error) {
	sub, err := p.subs.GetSubscription(ctx, subscriptionID)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { metrics.TeardownsTotal.WithLabelValues(metrics.Result(err)).Inc() }()

	node, err := p.selector.GetNode(ctx, sub.NodeID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		p.logger.Warnw("Subscription node is gone, skipping peer removal", "subscription_id", sub.ID, "node_id", sub.NodeID)
	case err != nil:
		return err
	default:
		if err := p.api.DeleteConfig(ctx, node, sub.OwnerID, sub.Name); err != nil {
			return fmt.Errorf("failed to remove peer for subscription %d: %w", sub.ID, err)
		}
	}

	deleted, delErr := p.subs.DeleteSubscription(ctx, sub.ID)
	if delErr == nil && deleted {
		if decErr := p.nodes.DecrementNodeClients(ctx, sub.NodeID); decErr != nil {
			p.logger.Errorw("Failed to decrement node clients", "node_id", sub.NodeID, "error", decErr)
		}
	}
	err = multierr.Combine(delErr, p.artifacts.Remove(sub.OwnerID, sub.Name))
	if err != nil {
		return err
	}

	p.logger.Infow("Subscription torn down", "subscription_id", sub.ID, "owner_id", sub.OwnerID, "config_name", sub.Name)
	return nil
}

// Reinstall tears the subscription down and provisions it again under the same
// name. The new row keeps the original creation and expiry times and the
// notification markers.
func (p *Provisioner) Reinstall(ctx context.Context, subscriptionID uint) (*models.ProvisionResult, error) {
	sub, err := p.subs.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if err := p.Teardown(ctx, sub.ID); err != nil {
		return nil, err
	}
	return p.Provision(ctx, Request{
		OwnerID:          sub.OwnerID,
		Name:             sub.Name,
		CreatedAt:        sub.CreatedAt,
		ExpiresAt:        sub.ExpiresAt,
		ReminderSentAt:   sub.ReminderSentAt,
		ExpiryNotifiedAt: sub.ExpiryNotifiedAt,
	})
}

// DiscardArtifact removes the on-disk copy once it was delivered.
func (p *Provisioner) DiscardArtifact(result *models.ProvisionResult) {
	if result == nil || result.ArtifactPath == "" {
		return
	}
	if err := p.artifacts.removePath(result.ArtifactPath); err != nil {
		p.logger.Errorw("Failed to discard artifact", "path", result.ArtifactPath, "error", err)
	}
}
