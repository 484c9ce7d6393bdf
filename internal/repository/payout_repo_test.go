package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dumeirei/merch-settlement/internal/models"
	"github.com/dumeirei/merch-settlement/internal/testutil"
)

func createPayout(t *testing.T, repo *PayoutRepository, party models.Party) *models.PayoutRequest {
	t.Helper()
	payout := &models.PayoutRequest{
		PartyType:        party.Type,
		PartyID:          party.ID,
		Amount:           2500,
		Currency:         "USD",
		Status:           models.PayoutStatusRequested,
		ReservationToken: testutil.RandomString(36),
		DestinationRef:   "acct_test",
	}
	require.NoError(t, repo.CreateTx(context.Background(), repo.db, payout))
	return payout
}

func TestPayoutRepository_Lease(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewPayoutRepository(db)
	ctx := context.Background()
	payout := createPayout(t, repo, models.Party{Type: models.PartyBrand, ID: 1})

	now := time.Now()
	ok, err := repo.AcquireLease(ctx, payout.ID, now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	// 租约未过期时不能再次抢占
	ok, err = repo.AcquireLease(ctx, payout.ID, now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	stale, err := repo.ListStaleRequested(ctx, now, now, 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	// 过期后可被扫描
	stale, err = repo.ListStaleRequested(ctx, now.Add(2*time.Minute), now, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, 1, stale[0].Attempts)

	require.NoError(t, repo.ReleaseLease(ctx, payout.ID))
	ok, err = repo.AcquireLease(ctx, payout.ID, now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPayoutRepository_StaleSkipsFreshRequests(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewPayoutRepository(db)
	ctx := context.Background()
	payout := createPayout(t, repo, models.Party{Type: models.PartyBrand, ID: 2})

	now := time.Now()
	// 刚创建、尚未抢占租约
	stale, err := repo.ListStaleRequested(ctx, now, now.Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	stale, err = repo.ListStaleRequested(ctx, now.Add(2*time.Minute), now.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, payout.ID, stale[0].ID)
}

func TestPayoutRepository_Transit(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewPayoutRepository(db)
	ctx := context.Background()
	party := models.Party{Type: models.PartyAffiliate, ID: 3}
	payout := createPayout(t, repo, party)

	ref := "tr_1"
	n, err := repo.Transit(ctx, db, payout.ID, models.PayoutStatusRequested, models.PayoutStatusTransferring,
		map[string]interface{}{"transfer_ref": ref})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.Transit(ctx, db, payout.ID, models.PayoutStatusRequested, models.PayoutStatusCancelled, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := repo.GetByTransferRefForUpdate(ctx, db, ref)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusTransferring, got.Status)

	list, total, err := repo.ListByParty(ctx, party, models.PayoutStatusTransferring, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, list, 1)
}
