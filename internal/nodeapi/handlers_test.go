package nodeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Viktorio135/vpn/internal/auth"
	"github.com/Viktorio135/vpn/internal/models"
	"github.com/Viktorio135/vpn/pkg/logger"
)

type fakePeers struct {
	provisionErr error
	removed      []string
}

func (f *fakePeers) Provision(ctx context.Context, clientID int64, name string) (*models.NodeArtifact, error) {
	if f.provisionErr != nil {
		return nil, f.provisionErr
	}
	return &models.NodeArtifact{ConfigName: name, Address: "10.0.0.2", PublicKey: "pub", Blob: []byte("[Interface]\n")}, nil
}

func (f *fakePeers) Remove(ctx context.Context, clientID int64, name string) error {
	f.removed = append(f.removed, fmt.Sprintf("%d/%s", clientID, name))
	return nil
}

type fakeStatus struct{}

func (fakeStatus) Status(ctx context.Context) (*models.NodeStatus, error) {
	return &models.NodeStatus{CPUPercent: 5, UsedAddresses: 1, TotalAddresses: 253}, nil
}

func newTestServer(peers *fakePeers) (*HTTPServer, *auth.Issuer) {
	gin.SetMode(gin.TestMode)
	issuer := auth.NewIssuer("node-secret", time.Hour)
	return NewHTTPServer(peers, fakeStatus{}, issuer, "node-1", 0, logger.NewNop()), issuer
}

func do(t *testing.T, h http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestGenerateConfig(t *testing.T) {
	srv, issuer := newTestServer(&fakePeers{})
	token, err := issuer.Issue("node-1")
	require.NoError(t, err)

	w := do(t, srv.Handler(), http.MethodPost, "/client/generate-config/", token, ConfigRequest{UserID: 42, ConfigName: "laptop"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "[Interface]\n", w.Body.String())

	var meta ConfigMeta
	require.NoError(t, json.Unmarshal([]byte(w.Header().Get("X-Config-Meta")), &meta))
	assert.Equal(t, "10.0.0.2", meta.Address)
	assert.Equal(t, "laptop", meta.ConfigName)
}

func TestTokenRejections(t *testing.T) {
	srv, _ := newTestServer(&fakePeers{})
	body := ConfigRequest{UserID: 42, ConfigName: "laptop"}

	w := do(t, srv.Handler(), http.MethodPost, "/client/generate-config/", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other, err := auth.NewIssuer("node-secret", time.Hour).Issue("node-2")
	require.NoError(t, err)
	w = do(t, srv.Handler(), http.MethodPost, "/client/generate-config/", other, body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid token")

	past := time.Now().Add(-2 * time.Hour)
	expired, err := auth.NewIssuer("node-secret", time.Hour).WithClock(func() time.Time { return past }).Issue("node-1")
	require.NoError(t, err)
	w = do(t, srv.Handler(), http.MethodPost, "/client/generate-config/", expired, body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "token expired")
}

func TestPoolExhaustedIs503(t *testing.T) {
	srv, issuer := newTestServer(&fakePeers{provisionErr: models.ErrPoolExhausted})
	token, err := issuer.Issue("node-1")
	require.NoError(t, err)

	w := do(t, srv.Handler(), http.MethodPost, "/client/generate-config/", token, ConfigRequest{UserID: 42, ConfigName: "laptop"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDeleteConfigAndStatus(t *testing.T) {
	peers := &fakePeers{}
	srv, issuer := newTestServer(peers)
	token, err := issuer.Issue("node-1")
	require.NoError(t, err)

	w := do(t, srv.Handler(), http.MethodPost, "/client/delete-config/", token, ConfigRequest{UserID: 42, ConfigName: "laptop"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"42/laptop"}, peers.removed)

	w = do(t, srv.Handler(), http.MethodGet, "/status", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status models.NodeStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, int64(253), status.TotalAddresses)
}
