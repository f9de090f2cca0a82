package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Viktorio135/vpn/internal/models"
	"github.com/Viktorio135/vpn/internal/repository"
	"github.com/Viktorio135/vpn/pkg/logger"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	db, err := repository.NewSQLiteDB(filepath.Join(t.TempDir(), "gateway.db"), logger.NewNop(), repository.GatewayModels...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, logger.NewNop())
}

func purchase() models.OpenTransactionRequest {
	return models.OpenTransactionRequest{
		OwnerID:    42,
		Amount:     5,
		Currency:   "usdt",
		Method:     models.MethodCustodial,
		Type:       models.TypePurchase,
		Months:     1,
		ConfigName: "laptop",
	}
}

func TestOpenValidates(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	txn, err := l.Open(ctx, purchase())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, txn.Status)
	assert.Equal(t, "USDT", txn.Currency)
	assert.Nil(t, txn.ExternalID)

	tests := []struct {
		name   string
		mutate func(*models.OpenTransactionRequest)
	}{
		{"zero amount", func(r *models.OpenTransactionRequest) { r.Amount = 0 }},
		{"bad method", func(r *models.OpenTransactionRequest) { r.Method = "cash" }},
		{"bad type", func(r *models.OpenTransactionRequest) { r.Type = "gift" }},
		{"no months", func(r *models.OpenTransactionRequest) { r.Months = 0 }},
		{"bad config name", func(r *models.OpenTransactionRequest) { r.ConfigName = "no spaces" }},
		{"renewal without subscription", func(r *models.OpenTransactionRequest) { r.Type = models.TypeRenewal }},
		{"onchain without payer", func(r *models.OpenTransactionRequest) { r.Method = models.MethodOnChain }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := purchase()
			tt.mutate(&req)
			_, err := l.Open(ctx, req)
			assert.ErrorIs(t, err, models.ErrInvalidInput)
		})
	}
}

func TestCloseExactlyOnce(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	txn, err := l.Open(ctx, purchase())
	require.NoError(t, err)

	closed, err := l.Close(ctx, txn.ID, models.StatusSuccess, "inv-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, closed.Status)
	require.NotNil(t, closed.ExternalID)
	assert.Equal(t, "inv-1", *closed.ExternalID)

	_, err = l.Close(ctx, txn.ID, models.StatusSuccess, "inv-1", "")
	assert.ErrorIs(t, err, models.ErrDuplicateConfirmation)

	_, err = l.Close(ctx, txn.ID, models.StatusFailed, "", "late failure")
	assert.ErrorIs(t, err, models.ErrInvalidState)

	// Comments stay editable.
	require.NoError(t, l.UpdateComment(ctx, txn.ID, "refund requested"))
	got, err := l.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, "refund requested", got.Comment)
	assert.Equal(t, models.StatusSuccess, got.Status)
}

func TestExternalIDIsUnique(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	first, err := l.Open(ctx, purchase())
	require.NoError(t, err)
	second, err := l.Open(ctx, purchase())
	require.NoError(t, err)

	_, err = l.Close(ctx, first.ID, models.StatusSuccess, "hash-1", "")
	require.NoError(t, err)
	_, err = l.Close(ctx, second.ID, models.StatusSuccess, "hash-1", "")
	assert.ErrorIs(t, err, models.ErrAlreadyExists)

	got, err := l.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestConcurrentCloseWinsOnce(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	txn, err := l.Open(ctx, purchase())
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Close(ctx, txn.ID, models.StatusSuccess, "", ""); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestClaim(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	l.WithClock(func() time.Time { return now })

	txn, err := l.Open(ctx, purchase())
	require.NoError(t, err)

	_, err = l.Claim(ctx, txn.ID)
	require.NoError(t, err)
	_, err = l.Claim(ctx, txn.ID)
	assert.ErrorIs(t, err, models.ErrInvalidState, "claim is held")

	l.Release(ctx, txn.ID)
	_, err = l.Claim(ctx, txn.ID)
	require.NoError(t, err, "released claim can be taken again")

	now = now.Add(ClaimTTL + time.Minute)
	_, err = l.Claim(ctx, txn.ID)
	require.NoError(t, err, "stale claim is taken over")

	_, err = l.Close(ctx, txn.ID, models.StatusSuccess, "", "")
	require.NoError(t, err)
	_, err = l.Claim(ctx, txn.ID)
	assert.ErrorIs(t, err, models.ErrDuplicateConfirmation)

	_, err = l.Claim(ctx, 999)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPaidOrClaimedTransactionCannotFail(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	txn, err := l.Open(ctx, purchase())
	require.NoError(t, err)

	_, err = l.Claim(ctx, txn.ID)
	require.NoError(t, err)
	_, err = l.Close(ctx, txn.ID, models.StatusFailed, "", "user cancelled")
	assert.ErrorIs(t, err, models.ErrInvalidState, "fulfilment in flight")
	l.Release(ctx, txn.ID)

	require.NoError(t, l.RecordPayment(ctx, txn.ID, "inv-1"))
	require.NoError(t, l.RecordPayment(ctx, txn.ID, "inv-1"), "same payment again")
	assert.ErrorIs(t, l.RecordPayment(ctx, txn.ID, "inv-2"), models.ErrInvalidState)

	_, err = l.Close(ctx, txn.ID, models.StatusFailed, "", "user cancelled")
	assert.ErrorIs(t, err, models.ErrInvalidState, "payment recorded")

	got, err := l.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	require.NotNil(t, got.PaidAt)
	require.NotNil(t, got.ExternalID)
	assert.Equal(t, "inv-1", *got.ExternalID)

	closed, err := l.Close(ctx, txn.ID, models.StatusSuccess, "inv-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, closed.Status)
	require.NoError(t, l.RecordPayment(ctx, txn.ID, "inv-1"), "closed transactions are left to Claim")

	unpaid, err := l.Open(ctx, purchase())
	require.NoError(t, err)
	failed, err := l.Close(ctx, unpaid.ID, models.StatusFailed, "", "user cancelled")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, failed.Status)
}
