package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Viktorio135/vpn/internal/models"
	"github.com/Viktorio135/vpn/pkg/logger"
)

func newGatewayDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "gateway.db"), logger.NewNop(), GatewayModels...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newNodeDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "node.db"), logger.NewNop(), NodeModels...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestEnsureUser(t *testing.T) {
	db := newGatewayDB(t)
	ctx := context.Background()

	user, created, err := db.EnsureUser(ctx, 42)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(42), user.ID)

	_, created, err = db.EnsureUser(ctx, 42)
	require.NoError(t, err)
	assert.False(t, created)

	_, err = db.GetUser(ctx, 7)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestNodeCounters(t *testing.T) {
	db := newGatewayDB(t)
	ctx := context.Background()

	node := &models.Node{ExternalID: "n1", Endpoint: "http://n1", MaxClients: 2, Active: true}
	require.NoError(t, db.CreateNode(ctx, node))

	require.NoError(t, db.IncrementNodeClients(ctx, node.ID))
	require.NoError(t, db.DecrementNodeClients(ctx, node.ID))
	require.NoError(t, db.DecrementNodeClients(ctx, node.ID))

	got, err := db.GetNode(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentClients, "counter must not go negative")

	require.NoError(t, db.SaveNodeStatus(ctx, node.ID, models.NodeStatus{CPUPercent: 12, UsedAddresses: 2}, time.Now()))
	got, err = db.GetNode(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentClients)
	assert.Equal(t, 12.0, got.CPUPercent)
	assert.NotNil(t, got.LastSeenAt)
}

func TestListActiveNodesSkipsInactive(t *testing.T) {
	db := newGatewayDB(t)
	ctx := context.Background()

	a := &models.Node{ExternalID: "a", Endpoint: "http://a", MaxClients: 1, Active: true}
	b := &models.Node{ExternalID: "b", Endpoint: "http://b", MaxClients: 1, Active: true}
	require.NoError(t, db.CreateNode(ctx, a))
	require.NoError(t, db.CreateNode(ctx, b))
	require.NoError(t, db.SetNodeActive(ctx, a.ID, false))

	nodes, err := db.ListActiveNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "b", nodes[0].ExternalID)
}

func TestCloseTransactionIsOneShot(t *testing.T) {
	db := newGatewayDB(t)
	ctx := context.Background()

	txn := &models.Transaction{OwnerID: 1, Amount: 1.5, Currency: "USDT", Method: models.MethodOnChain, Type: models.TypePurchase, Status: models.StatusPending, Months: 1}
	require.NoError(t, db.CreateTransaction(ctx, txn))

	ext := "hash-1"
	stale := time.Now().UTC().Add(-10 * time.Minute)
	ok, err := db.CloseTransaction(ctx, txn.ID, models.StatusSuccess, &ext, "paid", stale)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.CloseTransaction(ctx, txn.ID, models.StatusFailed, nil, "late", stale)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := db.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, got.Status)
	require.NotNil(t, got.ExternalID)
	assert.Equal(t, "hash-1", *got.ExternalID)

	inUse, err := db.ExternalIDInUse(ctx, "hash-1", 0)
	require.NoError(t, err)
	assert.True(t, inUse)
	inUse, err = db.ExternalIDInUse(ctx, "hash-1", txn.ID)
	require.NoError(t, err)
	assert.False(t, inUse)
}

func TestClaimTransaction(t *testing.T) {
	db := newGatewayDB(t)
	ctx := context.Background()

	txn := &models.Transaction{OwnerID: 1, Amount: 1, Currency: "XTR", Method: models.MethodInApp, Type: models.TypePurchase, Status: models.StatusPending, Months: 1}
	require.NoError(t, db.CreateTransaction(ctx, txn))

	now := time.Now().UTC()
	ok, err := db.ClaimTransaction(ctx, txn.ID, now, now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.ClaimTransaction(ctx, txn.ID, now, now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "a fresh claim blocks a second one")

	later := now.Add(11 * time.Minute)
	ok, err = db.ClaimTransaction(ctx, txn.ID, later, later.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok, "a stale claim can be taken over")

	require.NoError(t, db.ReleaseTransaction(ctx, txn.ID))
	ok, err = db.ClaimTransaction(ctx, txn.ID, now, now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPaidChangesMarkTransactionOnce(t *testing.T) {
	db := newGatewayDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	txn := &models.Transaction{OwnerID: 1, Amount: 1, Currency: "XTR", Method: models.MethodInApp, Type: models.TypePurchase, Status: models.StatusPending, Months: 1}
	require.NoError(t, db.CreateTransaction(ctx, txn))

	sub := &models.Subscription{OwnerID: 1, NodeID: 1, Name: "phone", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, db.CreatePaidSubscription(ctx, sub, txn.ID, now))
	assert.NotZero(t, sub.ID)

	again := &models.Subscription{OwnerID: 1, NodeID: 1, Name: "tablet", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	err := db.CreatePaidSubscription(ctx, again, txn.ID, now)
	assert.ErrorIs(t, err, models.ErrDuplicateConfirmation)
	_, err = db.GetSubscriptionByName(ctx, 1, "tablet")
	assert.ErrorIs(t, err, models.ErrNotFound, "nothing is written for a fulfilled transaction")

	renewal := &models.Transaction{OwnerID: 1, Amount: 1, Currency: "XTR", Method: models.MethodInApp, Type: models.TypeRenewal, Status: models.StatusPending, Months: 1}
	require.NoError(t, db.CreateTransaction(ctx, renewal))
	extended := now.Add(30 * 24 * time.Hour)
	require.NoError(t, db.ApplyPaidRenewal(ctx, sub.ID, extended, renewal.ID, now))
	err = db.ApplyPaidRenewal(ctx, sub.ID, extended.Add(30*24*time.Hour), renewal.ID, now)
	assert.ErrorIs(t, err, models.ErrDuplicateConfirmation)

	got, err := db.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, extended, got.ExpiresAt, time.Second)

	// A failed renewal write leaves the transaction unfulfilled.
	lost := &models.Transaction{OwnerID: 1, Amount: 1, Currency: "XTR", Method: models.MethodInApp, Type: models.TypeRenewal, Status: models.StatusPending, Months: 1}
	require.NoError(t, db.CreateTransaction(ctx, lost))
	err = db.ApplyPaidRenewal(ctx, 999, extended, lost.ID, now)
	assert.ErrorIs(t, err, models.ErrNotFound)
	stored, err := db.GetTransaction(ctx, lost.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.FulfilledAt)
}

func TestReminderMarkersAreSetOnce(t *testing.T) {
	db := newGatewayDB(t)
	ctx := context.Background()

	sub := &models.Subscription{OwnerID: 1, NodeID: 1, Name: "phone", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, db.CreateSubscription(ctx, sub))

	ok, err := db.MarkReminderSent(ctx, sub.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = db.MarkReminderSent(ctx, sub.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.UpdateSubscriptionExpiry(ctx, sub.ID, time.Now().Add(48*time.Hour)))
	got, err := db.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ReminderSentAt, "renewal clears the marker")

	deleted, err := db.DeleteSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = db.DeleteSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestAcquireLock(t *testing.T) {
	db := newGatewayDB(t)
	ctx := context.Background()

	ok, err := db.AcquireLock(ctx, "sweep", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.AcquireLock(ctx, "sweep", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = db.AcquireLock(ctx, "sweep", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "holder can extend its lease")

	require.NoError(t, db.ReleaseLock(ctx, "sweep", "a"))
	ok, err = db.AcquireLock(ctx, "sweep", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAddressClaimAndRelease(t *testing.T) {
	db := newNodeDB(t)
	ctx := context.Background()

	require.NoError(t, db.SeedAddresses(ctx, []string{"10.0.0.2", "10.0.0.3"}))

	addr, err := db.FirstFreeAddress(ctx)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", addr.IP)

	ok, err := db.ClaimAddress(ctx, addr.ID, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = db.ClaimAddress(ctx, addr.ID, 6)
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := db.ReleaseAddress(ctx, addr.ID, 6)
	require.NoError(t, err)
	assert.False(t, released, "only the bound client can release")

	released, err = db.ReleaseAddress(ctx, addr.ID, 5)
	require.NoError(t, err)
	assert.True(t, released)

	used, total, err := db.Occupancy(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), used)
	assert.Equal(t, int64(2), total)
}
