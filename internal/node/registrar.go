package node

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Viktorio135/vpn/internal/config"
	"github.com/Viktorio135/vpn/internal/models"
	"github.com/Viktorio135/vpn/pkg/logger"
)

const (
	registerPath = "/api/v1/nodes/register"

	initialBackoff  = 5 * time.Second
	maxBackoff      = 5 * time.Minute
	refreshInterval = time.Hour
)

type registerResponse struct {
	Token string `json:"token"`
}

// Registrar announces this node to the gateway. The first registration proves
// itself with the provisioning secret, later ones with the previously issued token.
type Registrar struct {
	logger   *logger.Logger
	cfg      *config.NodeConfig
	identity *IdentityStore
	client   *http.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRegistrar(cfg *config.NodeConfig, identity *IdentityStore, logger *logger.Logger) *Registrar {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registrar{
		logger:   logger,
		cfg:      cfg,
		identity: identity,
		client:   &http.Client{Timeout: cfg.RegisterTimeout},
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (r *Registrar) descriptor() models.NodeDescriptor {
	return models.NodeDescriptor{
		ExternalID: r.cfg.ExternalID,
		Endpoint:   r.cfg.PublicURL,
		Name:       r.cfg.Name,
		Country:    r.cfg.Country,
		MaxClients: r.cfg.MaxClients,
	}
}

// Register registers with the stored token, or with the provisioning secret
// when there is none, and stores the issued token. A gateway that no longer
// knows the stored token gets one more attempt with the secret.
func (r *Registrar) Register(ctx context.Context) error {
	secret := r.cfg.ProvisioningSecret
	if id := r.identity.Current(); id != nil && id.ExternalID == r.cfg.ExternalID && id.Token != "" {
		err := r.register(ctx, id.Token)
		if err == nil || !errors.Is(err, models.ErrUnauthorized) || secret == "" || secret == id.Token {
			return err
		}
		r.logger.Warnw("Gateway rejected the stored token, falling back to the provisioning secret",
			"server_id", r.cfg.ExternalID, "error", err)
	}
	if secret == "" {
		return fmt.Errorf("no registration proof: REG_TOKEN is unset and no identity is stored")
	}
	return r.register(ctx, secret)
}

func (r *Registrar) register(ctx context.Context, proof string) error {
	body, err := json.Marshal(r.descriptor())
	if err != nil {
		return fmt.Errorf("failed to encode descriptor: %w", err)
	}

	url := strings.TrimRight(r.cfg.GatewayURL, "/") + registerPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+proof)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: gateway rejected registration: %s", models.ErrUnauthorized, string(msg))
		}
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(msg))
	}

	var out registerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("failed to decode registration response: %w", err)
	}
	if out.Token == "" {
		return fmt.Errorf("gateway returned an empty token")
	}

	if err := r.identity.Save(&Identity{
		ExternalID:   r.cfg.ExternalID,
		Token:        out.Token,
		RegisteredAt: time.Now().UTC(),
	}); err != nil {
		return err
	}
	r.logger.Infow("Registered with gateway", "server_id", r.cfg.ExternalID, "gateway", r.cfg.GatewayURL)
	return nil
}

// Start registers in the background, retrying with exponential backoff, then
// refreshes the registration every hour so a deactivated node comes back.
func (r *Registrar) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		backoff := initialBackoff
		for {
			if err := r.Register(r.ctx); err != nil {
				r.logger.Errorw("Failed to register with gateway, retrying...", "error", err, "retry_in", backoff)

				select {
				case <-time.After(backoff):
					backoff = backoff * 2
					if backoff > maxBackoff {
						backoff = maxBackoff
					}
					continue
				case <-r.ctx.Done():
					r.logger.Info("Registrar stopped during initial registration")
					return
				}
			}
			break
		}

		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := r.Register(r.ctx); err != nil {
					r.logger.Errorw("Failed to refresh registration", "error", err)
				}
			case <-r.ctx.Done():
				r.logger.Info("Registrar stopped")
				return
			}
		}
	}()
}

func (r *Registrar) Stop() {
	r.cancel()
	r.wg.Wait()
}
