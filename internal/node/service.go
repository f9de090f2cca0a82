// Package node implements the edge node: peer provisioning on top of the
// address pool, host status and registration with the gateway.
package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/Viktorio135/vpn/internal/config"
	"github.com/Viktorio135/vpn/internal/metrics"
	"github.com/Viktorio135/vpn/internal/models"
	"github.com/Viktorio135/vpn/internal/pool"
	"github.com/Viktorio135/vpn/internal/wireguard"
	"github.com/Viktorio135/vpn/pkg/logger"
	"github.com/Viktorio135/vpn/pkg/validation"
)

// Service provisions and removes peers on this node.
type Service struct {
	logger *logger.Logger
	cfg    *config.NodeConfig

	pool  *pool.Pool
	peers models.PeerRepository
	wg    wireguard.Executor
}

func NewService(cfg *config.NodeConfig, pool *pool.Pool, peers models.PeerRepository, wg wireguard.Executor, logger *logger.Logger) *Service {
	return &Service{cfg: cfg, pool: pool, peers: peers, wg: wg, logger: logger}
}

// Provision allocates an address, adds the peer and renders the client config.
// Everything acquired is given back if a later step fails.
func (s *Service) Provision(ctx context.Context, clientID int64, name string) (artifact *models.NodeArtifact, err error) {
	if err := validation.ValidateConfigName(name); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	if _, err := s.peers.GetPeer(ctx, clientID, name); err == nil {
		return nil, fmt.Errorf("peer %d/%s: %w", clientID, name, models.ErrAlreadyExists)
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	serverKey, err := s.wg.PublicKey(ctx)
	if err != nil {
		return nil, err
	}

	addr, err := s.pool.Allocate(ctx, clientID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if relErr := s.pool.Release(context.WithoutCancel(ctx), addr); relErr != nil {
				s.logger.Errorw("Failed to release address after failed provisioning", "ip", addr.IP, "error", relErr)
			}
		}
	}()

	keys, err := wireguard.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	if err = s.wg.AddPeer(ctx, keys.PublicKey, addr.IP); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if rmErr := s.wg.RemovePeer(context.WithoutCancel(ctx), keys.PublicKey); rmErr != nil {
				s.logger.Errorw("Failed to remove peer after failed provisioning", "ip", addr.IP, "error", rmErr)
			}
		}
	}()

	blob, err := wireguard.ClientConfig{
		PrivateKey:      keys.PrivateKey,
		Address:         addr.IP,
		DNS:             s.cfg.DNS,
		ServerPublicKey: serverKey,
		Endpoint:        s.cfg.ClientEndpoint,
		AllowedIPs:      s.cfg.AllowedIPs,
		Keepalive:       s.cfg.Keepalive,
	}.Render()
	if err != nil {
		return nil, err
	}

	peer := &models.Peer{
		ClientID:   clientID,
		ConfigName: name,
		PublicKey:  keys.PublicKey,
		PrivateKey: keys.PrivateKey,
		AddressID:  addr.ID,
		IP:         addr.IP,
	}
	if err = s.peers.CreatePeer(ctx, peer); err != nil {
		return nil, err
	}

	metrics.PeersProvisionedTotal.Inc()
	s.logger.Infow("Peer provisioned", "client_id", clientID, "config_name", name, "ip", addr.IP)
	return &models.NodeArtifact{
		ConfigName: name,
		Address:    addr.IP,
		PublicKey:  keys.PublicKey,
		Blob:       blob,
	}, nil
}

// Remove deletes the peer and frees its address. Removing an unknown peer succeeds,
// and every step can be repeated after a partial failure.
func (s *Service) Remove(ctx context.Context, clientID int64, name string) error {
	peer, err := s.peers.GetPeer(ctx, clientID, name)
	if errors.Is(err, models.ErrNotFound) {
		s.logger.Debugw("Peer already removed", "client_id", clientID, "config_name", name)
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.wg.RemovePeer(ctx, peer.PublicKey); err != nil {
		return err
	}

	addr := &models.Address{ID: peer.AddressID, IP: peer.IP, Used: true, ClientID: clientID}
	if err := s.pool.Release(ctx, addr); err != nil {
		return err
	}

	if err := s.peers.DeletePeer(ctx, peer.ID); err != nil {
		return err
	}

	metrics.PeersRemovedTotal.Inc()
	s.logger.Infow("Peer removed", "client_id", clientID, "config_name", name, "ip", peer.IP)
	return nil
}
