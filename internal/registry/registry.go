// Package registry keeps track of edge nodes: registration, credentials,
// placement and health.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/Viktorio135/vpn/internal/auth"
	"github.com/Viktorio135/vpn/internal/metrics"
	"github.com/Viktorio135/vpn/internal/models"
	"github.com/Viktorio135/vpn/pkg/logger"
)

// Selection describes how a node was picked.
type Selection struct {
	// Degraded is set when the only active node was returned although it is full.
	Degraded bool
}

type Registry struct {
	logger *logger.Logger
	store  models.NodeRepository
	tokens *auth.Issuer

	provisioningSecret string
	singleNodeOverflow bool
}

func New(store models.NodeRepository, tokens *auth.Issuer, provisioningSecret string, singleNodeOverflow bool, logger *logger.Logger) *Registry {
	return &Registry{
		logger:             logger,
		store:              store,
		tokens:             tokens,
		provisioningSecret: provisioningSecret,
		singleNodeOverflow: singleNodeOverflow,
	}
}

// Register creates or updates the node declared by desc and returns its token.
// A new node proves itself with the provisioning secret, a known node with the
// token it was issued before. The record is keyed by external id, so a node
// that changed address updates its row instead of creating a duplicate.
func (r *Registry) Register(ctx context.Context, desc models.NodeDescriptor, proof string) (string, error) {
	if err := validateDescriptor(desc); err != nil {
		return "", err
	}

	existing, err := r.store.GetNodeByExternalID(ctx, desc.ExternalID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return "", err
	}

	if existing == nil {
		if !auth.SecretEqual(proof, r.provisioningSecret) {
			return "", fmt.Errorf("%w: invalid provisioning secret", models.ErrUnauthorized)
		}
		token, err := r.tokens.Issue(desc.ExternalID)
		if err != nil {
			return "", err
		}
		node := &models.Node{
			ExternalID: desc.ExternalID,
			Endpoint:   desc.Endpoint,
			Name:       desc.Name,
			Country:    desc.Country,
			MaxClients: desc.MaxClients,
			Active:     true,
			Token:      token,
		}
		if err := r.store.CreateNode(ctx, node); err != nil {
			return "", err
		}
		r.logger.Infow("Node registered", "node_id", node.ID, "server_id", desc.ExternalID, "endpoint", desc.Endpoint)
		return token, nil
	}

	if err := r.tokens.VerifySignature(proof, desc.ExternalID); err != nil {
		return "", fmt.Errorf("re-registration of %s requires the previously issued token: %w", desc.ExternalID, err)
	}
	token, err := r.tokens.Issue(desc.ExternalID)
	if err != nil {
		return "", err
	}
	if err := r.store.UpdateNodeRegistration(ctx, existing.ID, desc, token); err != nil {
		return "", err
	}
	r.logger.Infow("Node re-registered", "node_id", existing.ID, "server_id", desc.ExternalID, "endpoint", desc.Endpoint)
	return token, nil
}

// Reissue mints and stores a fresh token for node.
func (r *Registry) Reissue(ctx context.Context, node *models.Node) (string, error) {
	token, err := r.tokens.Issue(node.ExternalID)
	if err != nil {
		return "", err
	}
	if err := r.store.UpdateNodeToken(ctx, node.ID, token); err != nil {
		return "", err
	}
	r.logger.Debugw("Node token reissued", "node_id", node.ID)
	return token, nil
}

// SelectNode returns the first active node with spare capacity that is not in
// excluding. When exactly one node is active it is returned even if full, and
// the selection is flagged as degraded.
func (r *Registry) SelectNode(ctx context.Context, excluding map[uint]struct{}) (*models.Node, Selection, error) {
	nodes, err := r.store.ListActiveNodes(ctx)
	if err != nil {
		return nil, Selection{}, err
	}
	metrics.ActiveNodes.Set(float64(len(nodes)))

	for _, n := range nodes {
		if _, skip := excluding[n.ID]; skip {
			continue
		}
		if n.HasCapacity() {
			return n, Selection{}, nil
		}
	}

	if r.singleNodeOverflow && len(nodes) == 1 {
		only := nodes[0]
		if _, skip := excluding[only.ID]; !skip {
			r.logger.Warnw("Only one active node and it is full, placing anyway",
				"node_id", only.ID, "current_clients", only.CurrentClients, "max_clients", only.MaxClients)
			return only, Selection{Degraded: true}, nil
		}
	}
	return nil, Selection{}, models.ErrNoCapacity
}

func (r *Registry) GetNode(ctx context.Context, id uint) (*models.Node, error) {
	return r.store.GetNode(ctx, id)
}

// Statuses lists all nodes with their last reported health.
func (r *Registry) Statuses(ctx context.Context) ([]*models.Node, error) {
	return r.store.ListNodes(ctx)
}

func validateDescriptor(desc models.NodeDescriptor) error {
	if strings.TrimSpace(desc.ExternalID) == "" {
		return fmt.Errorf("%w: server_id is required", models.ErrInvalidInput)
	}
	if desc.MaxClients < 1 {
		return fmt.Errorf("%w: max_count_users must be positive", models.ErrInvalidInput)
	}
	u, err := url.Parse(desc.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: endpoint must be an http(s) URL", models.ErrInvalidInput)
	}
	return nil
}
