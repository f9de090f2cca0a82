// Package nodeclient is the gateway's HTTP client for the node API.
package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Viktorio135/vpn/internal/models"
	"github.com/Viktorio135/vpn/pkg/logger"
)

// Credentials hands out node tokens. Reissue replaces a token the node rejected.
type Credentials interface {
	Reissue(ctx context.Context, node *models.Node) (string, error)
}

type configRequest struct {
	UserID     int64  `json:"user_id"`
	ConfigName string `json:"config_name"`
}

type configMeta struct {
	ConfigName string `json:"config_name"`
	Address    string `json:"address"`
	PublicKey  string `json:"public_key"`
}

type nodeError struct {
	Detail string `json:"detail"`
}

// Client talks to node APIs on behalf of the gateway.
type Client struct {
	logger      *logger.Logger
	credentials Credentials
	httpClient  *http.Client
}

func New(credentials Credentials, timeout time.Duration, logger *logger.Logger) *Client {
	return &Client{
		logger:      logger,
		credentials: credentials,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// GenerateConfig asks the node to provision a peer and returns the rendered config.
func (c *Client) GenerateConfig(ctx context.Context, node *models.Node, ownerID int64, name string) (*models.NodeArtifact, error) {
	resp, err := c.do(ctx, node, http.MethodPost, "/client/generate-config/", configRequest{UserID: ownerID, ConfigName: name})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(node, resp); err != nil {
		return nil, err
	}

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("node %s: failed to read config: %w", node.ExternalID, models.ErrNodeUnreachable)
	}

	artifact := &models.NodeArtifact{ConfigName: name, Blob: blob}
	if raw := resp.Header.Get("X-Config-Meta"); raw != "" {
		var meta configMeta
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			c.logger.Warnw("Malformed config metadata from node", "node", node.ExternalID, "error", err)
		} else {
			artifact.Address = meta.Address
			artifact.PublicKey = meta.PublicKey
		}
	}
	return artifact, nil
}

// DeleteConfig removes the peer from the node. Unknown peers are not an error.
func (c *Client) DeleteConfig(ctx context.Context, node *models.Node, ownerID int64, name string) error {
	resp, err := c.do(ctx, node, http.MethodPost, "/client/delete-config/", configRequest{UserID: ownerID, ConfigName: name})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(node, resp)
}

// Status fetches the node's health report. An unreachable node is retried once.
func (c *Client) Status(ctx context.Context, node *models.Node) (*models.NodeStatus, error) {
	status, err := c.status(ctx, node)
	if errors.Is(err, models.ErrNodeUnreachable) && ctx.Err() == nil {
		c.logger.Debugw("Node unreachable, retrying status", "node", node.ExternalID, "error", err)
		status, err = c.status(ctx, node)
	}
	return status, err
}

func (c *Client) status(ctx context.Context, node *models.Node) (*models.NodeStatus, error) {
	resp, err := c.do(ctx, node, http.MethodGet, "/status", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(node, resp); err != nil {
		return nil, err
	}
	var status models.NodeStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("node %s: failed to decode status: %w", node.ExternalID, err)
	}
	return &status, nil
}

// do sends the request with the node's token. A 401 makes it reissue the token
// once and repeat the request.
func (c *Client) do(ctx context.Context, node *models.Node, method, path string, body interface{}) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
	}

	resp, err := c.send(ctx, node, node.Token, method, path, payload)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	detail := readDetail(resp)
	resp.Body.Close()
	c.logger.Infow("Node rejected token, reissuing", "node", node.ExternalID, "detail", detail)

	token, err := c.credentials.Reissue(ctx, node)
	if err != nil {
		return nil, err
	}
	node.Token = token
	return c.send(ctx, node, token, method, path, payload)
}

func (c *Client) send(ctx context.Context, node *models.Node, token, method, path string, payload []byte) (*http.Response, error) {
	url := strings.TrimRight(node.Endpoint, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w: %v", node.ExternalID, models.ErrNodeUnreachable, err)
	}
	return resp, nil
}

func checkStatus(node *models.Node, resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusServiceUnavailable:
		return fmt.Errorf("node %s: %w", node.ExternalID, models.ErrPoolExhausted)
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("node %s: %w: %s", node.ExternalID, models.ErrUnauthorized, readDetail(resp))
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("node %s: %w: %s", node.ExternalID, models.ErrAlreadyExists, readDetail(resp))
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("node %s: %w: %s", node.ExternalID, models.ErrInvalidInput, readDetail(resp))
	case resp.StatusCode >= 500:
		return fmt.Errorf("node %s: %w: status %d: %s", node.ExternalID, models.ErrNodeUnreachable, resp.StatusCode, readDetail(resp))
	default:
		return fmt.Errorf("node %s: unexpected status code %d: %s", node.ExternalID, resp.StatusCode, readDetail(resp))
	}
}

func readDetail(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e nodeError
	if json.Unmarshal(raw, &e) == nil && e.Detail != "" {
		return e.Detail
	}
	return strings.TrimSpace(string(raw))
}
