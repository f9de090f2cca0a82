package node

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Viktorio135/vpn/internal/config"
	"github.com/Viktorio135/vpn/internal/models"
	"github.com/Viktorio135/vpn/pkg/logger"
)

func TestIdentityStoreRoundTrip(t *testing.T) {
	store := NewIdentityStore(filepath.Join(t.TempDir(), "state", "identity.json"))

	id, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, id)
	assert.Nil(t, store.Current())

	require.NoError(t, store.Save(&Identity{ExternalID: "node-1", Token: "tok"}))

	reopened := NewIdentityStore(store.path)
	id, err = reopened.Load()
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "tok", id.Token)
}

func TestRegisterUsesSecretThenToken(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, registerPath, r.URL.Path)
		seen = append(seen, r.Header.Get("Authorization"))

		var desc models.NodeDescriptor
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&desc))
		assert.Equal(t, "node-1", desc.ExternalID)
		assert.Equal(t, 3, desc.MaxClients)

		_ = json.NewEncoder(w).Encode(registerResponse{Token: "issued-" + time.Now().Format(time.RFC3339Nano)})
	}))
	defer srv.Close()

	cfg := &config.NodeConfig{
		ExternalID:         "node-1",
		PublicURL:          "http://node-1:8000",
		MaxClients:         3,
		GatewayURL:         srv.URL + "/",
		ProvisioningSecret: "reg-secret",
		RegisterTimeout:    5 * time.Second,
	}
	store := NewIdentityStore(filepath.Join(t.TempDir(), "identity.json"))
	reg := NewRegistrar(cfg, store, logger.NewNop())

	require.NoError(t, reg.Register(context.Background()))
	first := store.Current()
	require.NotNil(t, first)

	require.NoError(t, reg.Register(context.Background()))

	require.Len(t, seen, 2)
	assert.Equal(t, "Bearer reg-secret", seen[0])
	assert.Equal(t, "Bearer "+first.Token, seen[1])
}

func TestRegisterRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"invalid token"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := &config.NodeConfig{
		ExternalID:         "node-1",
		GatewayURL:         srv.URL,
		ProvisioningSecret: "wrong",
		RegisterTimeout:    5 * time.Second,
	}
	store := NewIdentityStore(filepath.Join(t.TempDir(), "identity.json"))
	err := NewRegistrar(cfg, store, logger.NewNop()).Register(context.Background())
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Nil(t, store.Current())
}

func TestRegisterFallsBackToSecretWhenTokenRejected(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		seen = append(seen, auth)
		if auth != "Bearer reg-secret" {
			http.Error(w, `{"detail":"unknown node"}`, http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(registerResponse{Token: "fresh-token"})
	}))
	defer srv.Close()

	cfg := &config.NodeConfig{
		ExternalID:         "node-1",
		PublicURL:          "http://node-1:8000",
		MaxClients:         3,
		GatewayURL:         srv.URL,
		ProvisioningSecret: "reg-secret",
		RegisterTimeout:    5 * time.Second,
	}
	store := NewIdentityStore(filepath.Join(t.TempDir(), "identity.json"))
	require.NoError(t, store.Save(&Identity{ExternalID: "node-1", Token: "stale-token"}))

	require.NoError(t, NewRegistrar(cfg, store, logger.NewNop()).Register(context.Background()))
	assert.Equal(t, []string{"Bearer stale-token", "Bearer reg-secret"}, seen)
	require.NotNil(t, store.Current())
	assert.Equal(t, "fresh-token", store.Current().Token)

	// Without a secret there is nothing to fall back to.
	seen = nil
	require.NoError(t, store.Save(&Identity{ExternalID: "node-1", Token: "stale-token"}))
	cfg.ProvisioningSecret = ""
	err := NewRegistrar(cfg, store, logger.NewNop()).Register(context.Background())
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Equal(t, []string{"Bearer stale-token"}, seen)
	assert.Equal(t, "stale-token", store.Current().Token)
}

func TestRegistrarStopsDuringBackoff(t *testing.T) {
	cfg := &config.NodeConfig{
		ExternalID:      "node-1",
		GatewayURL:      "http://127.0.0.1:1",
		RegisterTimeout: time.Second,
	}
	reg := NewRegistrar(cfg, NewIdentityStore(filepath.Join(t.TempDir(), "identity.json")), logger.NewNop())
	reg.Start()

	done := make(chan struct{})
	go func() {
		reg.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("registrar did not stop")
	}
}
