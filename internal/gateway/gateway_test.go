package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Viktorio135/vpn/internal/auth"
	"github.com/Viktorio135/vpn/internal/config"
	"github.com/Viktorio135/vpn/internal/models"
	"github.com/Viktorio135/vpn/internal/nodeapi"
	"github.com/Viktorio135/vpn/internal/outbox"
	"github.com/Viktorio135/vpn/internal/repository"
	"github.com/Viktorio135/vpn/pkg/logger"
)

const (
	nodeSecret   = "node-secret"
	regSecret    = "reg-secret"
	shopSecret   = "shop-secret"
	nodeExternal = "node-1"
)

type nodePeers struct {
	mu    sync.Mutex
	peers map[string]bool
}

func (p *nodePeers) Provision(ctx context.Context, clientID int64, name string) (*models.NodeArtifact, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := fmt.Sprintf("%d/%s", clientID, name)
	if p.peers[key] {
		return nil, models.ErrAlreadyExists
	}
	p.peers[key] = true
	return &models.NodeArtifact{ConfigName: name, Address: "10.0.0.2", PublicKey: "pub", Blob: []byte("[Interface]\n# " + key + "\n")}, nil
}

func (p *nodePeers) Remove(ctx context.Context, clientID int64, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.peers, fmt.Sprintf("%d/%s", clientID, name))
	return nil
}

func (p *nodePeers) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.peers)
}

type nodeStatus struct{}

func (nodeStatus) Status(ctx context.Context) (*models.NodeStatus, error) {
	return &models.NodeStatus{UsedAddresses: 1, TotalAddresses: 253}, nil
}

type fixture struct {
	gw    *Gateway
	queue *outbox.MemoryQueue
	peers *nodePeers
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	peers := &nodePeers{peers: make(map[string]bool)}
	node := nodeapi.NewHTTPServer(peers, nodeStatus{}, auth.NewIssuer(nodeSecret, time.Hour), nodeExternal, 0, logger.NewNop())
	nodeSrv := httptest.NewServer(node.Handler())
	t.Cleanup(nodeSrv.Close)

	invoices := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"result": map[string]any{"uuid": fmt.Sprintf("INV-%v", req["order_id"]), "link": "https://pay.example/"},
		})
	}))
	t.Cleanup(invoices.Close)

	db, err := repository.NewSQLiteDB(filepath.Join(t.TempDir(), "gateway.db"), logger.NewNop(), repository.GatewayModels...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := &config.GatewayConfig{
		ProvisioningSecret: regSecret,
		NodeTokenSecret:    nodeSecret,
		NodeTokenTTL:       time.Hour,
		NodeRequestTimeout: 5 * time.Second,
		HealthInterval:     time.Hour,
		SingleNodeOverflow: true,
		ConfigsDir:         filepath.Join(t.TempDir(), "configs"),
		SweepInterval:      time.Hour,
		ReminderWindow:     72 * time.Hour,
		CryptoCloudAPIURL:  invoices.URL,
		CryptoCloudAPIKey:  "api-key",
		CryptoCloudShopID:  "shop",
		CryptoCloudSecret:  shopSecret,
		PaymentTolerance:   0.1,
	}
	queue := outbox.NewMemoryQueue()
	gw, err := New(cfg, db, queue, logger.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	token, err := gw.RegisterNode(ctx, models.NodeDescriptor{
		ExternalID: nodeExternal,
		Endpoint:   nodeSrv.URL,
		MaxClients: 10,
	}, regSecret)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	_, created, err := gw.CreateUser(ctx, 42)
	require.NoError(t, err)
	require.True(t, created)

	return &fixture{gw: gw, queue: queue, peers: peers}
}

func TestTrialLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.gw.CreateSubscription(ctx, 42, "", 0)
	require.NoError(t, err)
	assert.Equal(t, "default", result.Subscription.Name)
	assert.Contains(t, string(result.Blob), "42/default")
	assert.Equal(t, 1, f.peers.count())

	_, err = os.Stat(result.ArtifactPath)
	require.NoError(t, err)
	f.gw.DiscardArtifact(result)
	_, err = os.Stat(result.ArtifactPath)
	assert.True(t, os.IsNotExist(err))

	subs, err := f.gw.ListSubscriptions(ctx, 42)
	require.NoError(t, err)
	require.Len(t, subs, 1)

	_, err = f.gw.CreateSubscription(ctx, 42, "default", 0)
	assert.ErrorIs(t, err, models.ErrAlreadyExists)

	require.NoError(t, f.gw.DeleteSubscription(ctx, result.Subscription.ID))
	assert.Equal(t, 0, f.peers.count())
	assert.ErrorIs(t, f.gw.DeleteSubscription(ctx, result.Subscription.ID), models.ErrNotFound)

	nodes, err := f.gw.NodeStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.True(t, nodes[0].Active)
}

func TestListSubscriptionsUnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.gw.ListSubscriptions(context.Background(), 7)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, _, err = f.gw.CreateUser(context.Background(), 0)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestGeneratedConfigName(t *testing.T) {
	assert.Equal(t, "default", configName(0))
	name := configName(3)
	assert.Regexp(t, `^vpn-[0-9a-f]{8}$`, name)
	assert.NotEqual(t, name, configName(3))
}

func signPostback(t *testing.T, invoiceID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  invoiceID,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(shopSecret))
	require.NoError(t, err)
	return token
}

func TestPostbackProvisionsPurchase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txn, checkout, err := f.gw.OpenTransaction(ctx, models.OpenTransactionRequest{
		OwnerID: 42, Amount: 5, Currency: "USD", Method: models.MethodCustodial,
		Type: models.TypePurchase, Months: 1, ConfigName: "laptop",
	})
	require.NoError(t, err)

	payload, err := json.Marshal(models.Postback{
		Status:       "success",
		InvoiceID:    checkout.InvoiceID,
		AmountCrypto: "5.00",
		OrderID:      checkout.OrderID,
		Token:        signPostback(t, checkout.InvoiceID),
	})
	require.NoError(t, err)

	require.NoError(t, f.gw.handlePostback(ctx, payload))
	stored, err := f.gw.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, stored.Status)
	assert.Equal(t, 1, f.peers.count())
	assert.Equal(t, 1, f.queue.Len(outbox.PaymentEvents))

	// A repeated postback changes nothing.
	require.NoError(t, f.gw.handlePostback(ctx, payload))
	assert.Equal(t, 1, f.peers.count())
	assert.Equal(t, 1, f.queue.Len(outbox.PaymentEvents))

	// The paid purchase is delivered through the payment event, so no file is left behind.
	entries, err := os.ReadDir(f.gw.config.ConfigsDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPostbackRejectionIsFinal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.gw.handlePostback(ctx, []byte("{"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, outbox.ErrRetry))

	payload, _ := json.Marshal(models.Postback{Status: "success", OrderID: "42_1_999", InvoiceID: "INV-x", Token: "forged"})
	err = f.gw.handlePostback(ctx, payload)
	require.Error(t, err)
	assert.False(t, errors.Is(err, outbox.ErrRetry))
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("database is locked"), true},
		{fmt.Errorf("node 1: %w", models.ErrNodeUnreachable), false},
		{models.ErrNoCapacity, false},
		{models.ErrTokenExpired, false},
		{fmt.Errorf("order: %w", models.ErrInvalidInput), false},
		{models.ErrInvalidState, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, retryable(tt.err), "%v", tt.err)
	}
}

func TestNotifyQueuesText(t *testing.T) {
	f := newFixture(t)
	f.gw.Notify(context.Background(), 42, "hello")
	assert.Equal(t, 1, f.queue.Len(outbox.Notifications))
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	f.gw.Start()
	f.gw.Stop()
}
