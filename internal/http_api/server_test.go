package http_api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Viktorio135/vpn/internal/models"
	"github.com/Viktorio135/vpn/pkg/logger"
)

const apiKey = "front-end-key"

// fakeGateway records calls and returns canned results.
type fakeGateway struct {
	users       map[int64]*models.User
	subs        map[uint]*models.Subscription
	err         error
	discarded   int
	postbacks   []models.Postback
	notified    []string
	confirmed   []models.PaymentConfirmation
	registered  string
	lastProof   string
	createMonth int
	cancelled   []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{users: make(map[int64]*models.User), subs: make(map[uint]*models.Subscription)}
}

func (f *fakeGateway) Start() {}
func (f *fakeGateway) Stop()  {}

func (f *fakeGateway) CreateUser(ctx context.Context, id int64) (*models.User, bool, error) {
	if u, ok := f.users[id]; ok {
		return u, false, nil
	}
	u := &models.User{ID: id, CreatedAt: time.Now()}
	f.users[id] = u
	return u, true, nil
}

func (f *fakeGateway) GetUser(ctx context.Context, id int64) (*models.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user %d: %w", id, models.ErrNotFound)
}

func (f *fakeGateway) ListSubscriptions(ctx context.Context, ownerID int64) ([]*models.Subscription, error) {
	var out []*models.Subscription
	for _, s := range f.subs {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeGateway) GetSubscription(ctx context.Context, id uint) (*models.Subscription, error) {
	if s, ok := f.subs[id]; ok {
		return s, nil
	}
	return nil, models.ErrNotFound
}

func (f *fakeGateway) CreateSubscription(ctx context.Context, ownerID int64, name string, months int) (*models.ProvisionResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.createMonth = months
	if name == "" {
		name = "default"
	}
	sub := &models.Subscription{
		ID:        uint(len(f.subs) + 1),
		OwnerID:   ownerID,
		Name:      name,
		CreatedAt: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
		ExpiresAt: time.Date(2026, 2, 1, 23, 59, 59, 0, time.UTC),
	}
	f.subs[sub.ID] = sub
	return &models.ProvisionResult{Subscription: sub, Blob: []byte("[Interface]\n")}, nil
}

func (f *fakeGateway) RenewSubscription(ctx context.Context, id uint, months int) (*models.Subscription, error) {
	sub, err := f.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	sub.ExpiresAt = sub.ExpiresAt.AddDate(0, months, 0)
	return sub, nil
}

func (f *fakeGateway) ReinstallSubscription(ctx context.Context, id uint) (*models.ProvisionResult, error) {
	sub, err := f.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.ProvisionResult{Subscription: sub, Blob: []byte("[Interface]\n# reinstalled\n")}, nil
}

func (f *fakeGateway) DeleteSubscription(ctx context.Context, id uint) error {
	if _, ok := f.subs[id]; !ok {
		return models.ErrNotFound
	}
	delete(f.subs, id)
	return nil
}

func (f *fakeGateway) DiscardArtifact(result *models.ProvisionResult) { f.discarded++ }

func (f *fakeGateway) OpenTransaction(ctx context.Context, req models.OpenTransactionRequest) (*models.Transaction, *models.Checkout, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	txn := &models.Transaction{ID: 7, OwnerID: req.OwnerID, Amount: req.Amount, Currency: req.Currency, Method: req.Method, Status: models.StatusPending}
	return txn, &models.Checkout{DepositAddress: "TXYZ", OrderID: "42_1_7", Amount: req.Amount, Currency: req.Currency}, nil
}

func (f *fakeGateway) GetTransaction(ctx context.Context, id uint) (*models.Transaction, error) {
	return nil, models.ErrNotFound
}

func (f *fakeGateway) ConfirmTransaction(ctx context.Context, conf models.PaymentConfirmation) (*models.PaymentOutcome, error) {
	f.confirmed = append(f.confirmed, conf)
	status := models.StatusSuccess
	if !conf.Paid {
		status = models.StatusFailed
	}
	return &models.PaymentOutcome{Transaction: &models.Transaction{ID: conf.TransactionID, Status: status}}, nil
}

func (f *fakeGateway) FailTransaction(ctx context.Context, id uint, comment string) (*models.Transaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.cancelled = append(f.cancelled, comment)
	return &models.Transaction{ID: id, Status: models.StatusFailed, Comment: comment}, nil
}

func (f *fakeGateway) CheckTransaction(ctx context.Context, id uint) (*models.PaymentOutcome, error) {
	return nil, fmt.Errorf("transaction %d: %w", id, models.ErrPaymentNotFound)
}

func (f *fakeGateway) EnqueuePostback(ctx context.Context, postback models.Postback) error {
	f.postbacks = append(f.postbacks, postback)
	return nil
}

func (f *fakeGateway) Notify(ctx context.Context, ownerID int64, text string) {
	f.notified = append(f.notified, text)
}

func (f *fakeGateway) RegisterNode(ctx context.Context, desc models.NodeDescriptor, proof string) (string, error) {
	f.lastProof = proof
	if proof != "reg-secret" {
		return "", models.ErrUnauthorized
	}
	f.registered = desc.ExternalID
	return "node-token", nil
}

func (f *fakeGateway) NodeStatuses(ctx context.Context) ([]*models.Node, error) {
	return []*models.Node{{ID: 1, ExternalID: "node-1", Active: true, MaxClients: 10}}, nil
}

func newTestServer(gw *fakeGateway, postbackRate float64) http.Handler {
	gin.SetMode(gin.TestMode)
	return NewHTTPServer(gw, apiKey, postbackRate, 0, logger.NewNop()).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Error)
	return body.Code
}

func TestAPIKeyRequired(t *testing.T) {
	h := newTestServer(newFakeGateway(), 10)

	w := do(t, h, http.MethodGet, "/api/v1/users/42", nil, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", errorCode(t, w))

	w = do(t, h, http.MethodGet, "/healthz", nil, map[string]string{"X-API-Key": ""})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestUsers(t *testing.T) {
	h := newTestServer(newFakeGateway(), 10)

	w := do(t, h, http.MethodPost, "/api/v1/users", CreateUserRequest{ID: 42}, nil)
	assert.Equal(t, http.StatusCreated, w.Code)
	w = do(t, h, http.MethodPost, "/api/v1/users", CreateUserRequest{ID: 42}, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/users/42", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/users/7", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", errorCode(t, w))

	w = do(t, h, http.MethodGet, "/api/v1/users/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateSubscriptionStreamsConfig(t *testing.T) {
	gw := newFakeGateway()
	h := newTestServer(gw, 10)

	w := do(t, h, http.MethodPost, "/api/v1/users/42/subscriptions", CreateSubscriptionRequest{Months: 0}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "[Interface]\n", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "42_default.conf")
	assert.Equal(t, 1, gw.discarded)
	assert.Equal(t, 0, gw.createMonth)

	var data ConfigData
	require.NoError(t, json.Unmarshal([]byte(w.Header().Get("X-Data")), &data))
	assert.Equal(t, "default", data.ConfigName)
	assert.Equal(t, time.Date(2026, 2, 1, 23, 59, 59, 0, time.UTC), data.ExpiresAt.UTC())

	w = do(t, h, http.MethodGet, "/api/v1/users/42/subscriptions", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var subs []*models.Subscription
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &subs))
	assert.Len(t, subs, 1)

	w = do(t, h, http.MethodPost, "/api/v1/subscriptions/1/reinstall", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "reinstalled")
	assert.Equal(t, 2, gw.discarded)

	w = do(t, h, http.MethodPost, "/api/v1/subscriptions/1/renew", RenewRequest{Months: 1}, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, h, http.MethodPost, "/api/v1/subscriptions/1/renew", map[string]int{"months": 0}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodDelete, "/api/v1/subscriptions/1", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, h, http.MethodDelete, "/api/v1/subscriptions/1", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{models.ErrNoCapacity, http.StatusServiceUnavailable, "no_capacity"},
		{fmt.Errorf("node 3: %w", models.ErrNodeUnreachable), http.StatusServiceUnavailable, "node_unreachable"},
		{fmt.Errorf("config %q: %w", "laptop", models.ErrAlreadyExists), http.StatusConflict, "already_exists"},
		{models.ErrInvalidState, http.StatusConflict, "invalid_state"},
		{models.ErrAmountMismatch, http.StatusPaymentRequired, "amount_mismatch"},
		{models.ErrTokenExpired, http.StatusUnauthorized, "token_expired"},
		{fmt.Errorf("disk full"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		gw := newFakeGateway()
		gw.err = tt.err
		w := do(t, newTestServer(gw, 10), http.MethodPost, "/api/v1/users/42/subscriptions", CreateSubscriptionRequest{}, nil)
		assert.Equal(t, tt.status, w.Code, "%v", tt.err)
		assert.Equal(t, tt.code, errorCode(t, w), "%v", tt.err)
	}
}

func TestInternalErrorIsHidden(t *testing.T) {
	gw := newFakeGateway()
	gw.err = fmt.Errorf("pq: password authentication failed")
	w := do(t, newTestServer(gw, 10), http.MethodPost, "/api/v1/transactions", models.OpenTransactionRequest{
		OwnerID: 42, Amount: 5, Currency: "USDT", Method: models.MethodOnChain, Type: models.TypePurchase, Months: 1,
	}, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "password")
}

func TestTransactions(t *testing.T) {
	gw := newFakeGateway()
	h := newTestServer(gw, 10)

	w := do(t, h, http.MethodPost, "/api/v1/transactions", models.OpenTransactionRequest{
		OwnerID: 42, Amount: 5, Currency: "USDT", Method: models.MethodOnChain, Type: models.TypePurchase,
		Months: 1, ConfigName: "laptop", PayerAddress: "TJRabPrwbZy45sbavfcjinPJC18kjpRTv8",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var opened OpenTransactionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &opened))
	assert.Equal(t, "TXYZ", opened.Checkout.DepositAddress)

	w = do(t, h, http.MethodPost, "/api/v1/transactions", map[string]any{"owner_id": 42}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/api/v1/transactions/7/status", StatusRequest{Paid: false, Comment: "cancelled by user"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, gw.confirmed, 1)
	assert.Equal(t, uint(7), gw.confirmed[0].TransactionID)
	assert.Equal(t, "cancelled by user", gw.confirmed[0].Comment)

	w = do(t, h, http.MethodPost, "/api/v1/transactions/7/check", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "payment_not_found", errorCode(t, w))

	w = do(t, h, http.MethodGet, "/api/v1/transactions/7", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNotifyAndMonitor(t *testing.T) {
	gw := newFakeGateway()
	h := newTestServer(gw, 10)

	w := do(t, h, http.MethodPost, "/api/v1/notifications", NotificationRequest{OwnerID: 42, Text: "hi"}, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"hi"}, gw.notified)

	w = do(t, h, http.MethodGet, "/api/v1/monitor/statuses", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"external_id":"node-1"`)
	assert.NotContains(t, w.Body.String(), "token")
}

func TestRegisterNode(t *testing.T) {
	gw := newFakeGateway()
	h := newTestServer(gw, 10)
	desc := models.NodeDescriptor{ExternalID: "node-1", Endpoint: "http://203.0.113.7:8000", MaxClients: 100}

	w := do(t, h, http.MethodPost, "/api/v1/nodes/register", desc, map[string]string{"X-API-Key": "", "Authorization": "Bearer reg-secret"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "node-token")
	assert.Equal(t, "node-1", gw.registered)

	w = do(t, h, http.MethodPost, "/api/v1/nodes/register", desc, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, h, http.MethodPost, "/api/v1/nodes/register", desc, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func postForm(h http.Handler, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/postback/cryptocloud", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestPostbackIsQueued(t *testing.T) {
	gw := newFakeGateway()
	h := newTestServer(gw, 10)

	w := postForm(h, url.Values{
		"status":        {"success"},
		"invoice_id":    {"INV-ABC"},
		"amount_crypto": {"5.0"},
		"currency":      {"USDT_TRC20"},
		"order_id":      {"42_1_7"},
		"token":         {"jwt"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, gw.postbacks, 1)
	assert.Equal(t, "INV-ABC", gw.postbacks[0].InvoiceID)
	assert.Equal(t, "jwt", gw.postbacks[0].Token)

	w = postForm(h, url.Values{"status": {"success"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostbackRateLimit(t *testing.T) {
	gw := newFakeGateway()
	h := newTestServer(gw, 1)
	form := url.Values{"status": {"success"}, "order_id": {"42_1_7"}}

	assert.Equal(t, http.StatusOK, postForm(h, form).Code)
	assert.Equal(t, http.StatusTooManyRequests, postForm(h, form).Code)
}

func TestCancelTransaction(t *testing.T) {
	gw := newFakeGateway()
	h := newTestServer(gw, 10)

	w := do(t, h, http.MethodPost, "/api/v1/transactions/7/cancel", map[string]string{"comment": "changed my mind"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var txn models.Transaction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &txn))
	assert.Equal(t, models.StatusFailed, txn.Status)
	assert.Equal(t, uint(7), txn.ID)

	w = do(t, h, http.MethodPost, "/api/v1/transactions/7/cancel", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"changed my mind", "cancelled by user"}, gw.cancelled)

	gw.err = fmt.Errorf("transaction 7 is paid and being fulfilled: %w", models.ErrInvalidState)
	w = do(t, h, http.MethodPost, "/api/v1/transactions/7/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_state", errorCode(t, w))

	w = do(t, h, http.MethodPost, "/api/v1/transactions/7/cancel", nil, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
