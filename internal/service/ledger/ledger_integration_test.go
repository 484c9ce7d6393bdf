//go:build integration

package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dumeirei/merch-settlement/internal/common/cache"
	"github.com/dumeirei/merch-settlement/internal/common/errors"
	"github.com/dumeirei/merch-settlement/internal/models"
	"github.com/dumeirei/merch-settlement/internal/repository"
	"github.com/dumeirei/merch-settlement/internal/testutil"
)

func TestPostgres_ConcurrentReservationsNeverOverdraw(t *testing.T) {
	db := testutil.NewPostgres(t)
	svc := NewService(db, repository.NewLedgerRepository(db), Options{MaxRetries: 5})
	ctx := context.Background()
	party := models.Party{Type: models.PartyBrand, ID: 7}

	require.NoError(t, svc.Post(ctx, []Posting{{
		Party: party, Amount: testutil.USD(t, "50.00"), RefType: models.LedgerRefOrder, RefID: "o-pg", Reason: models.ReasonCommissionBrand,
	}}))

	var ok, insufficient atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reserve(ctx, party, testutil.USD(t, "10.00"))
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, errors.ErrInsufficientBalance):
				insufficient.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), ok.Load())
	assert.Equal(t, int32(7), insufficient.Load())

	avail, err := svc.Available(ctx, party, "USD")
	require.NoError(t, err)
	assert.True(t, avail.IsZero())
}

func TestPostgres_ConcurrentPostingsConserve(t *testing.T) {
	db := testutil.NewPostgres(t)
	svc := NewService(db, repository.NewLedgerRepository(db), Options{MaxRetries: 5})
	ctx := context.Background()
	brand := models.Party{Type: models.PartyBrand, ID: 1}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			orderID := fmt.Sprintf("o-%d", i)
			err := svc.Post(ctx, []Posting{
				{Party: models.PlatformParty(), Amount: testutil.USD(t, "4.00"), RefType: models.LedgerRefOrder, RefID: orderID, Reason: models.ReasonCommissionPlatform},
				{Party: brand, Amount: testutil.USD(t, "6.00"), RefType: models.LedgerRefOrder, RefID: orderID, Reason: models.ReasonCommissionBrand},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	platformBal, err := svc.Balance(ctx, models.PlatformParty(), "USD")
	require.NoError(t, err)
	brandBal, err := svc.Balance(ctx, brand, "USD")
	require.NoError(t, err)
	assert.Equal(t, "80.00", platformBal.Format())
	assert.Equal(t, "120.00", brandBal.Format())
}

func TestRedis_BalanceCacheInvalidatedOnPost(t *testing.T) {
	db := testutil.NewPostgres(t)
	store := cache.NewStore(testutil.NewRedis(t))
	svc := NewService(db, repository.NewLedgerRepository(db), Options{Cache: store})
	ctx := context.Background()
	party := models.Party{Type: models.PartyAffiliate, ID: 3}

	post := func(ref, amount string) {
		require.NoError(t, svc.Post(ctx, []Posting{{
			Party: party, Amount: testutil.USD(t, amount), RefType: models.LedgerRefOrder, RefID: ref, Reason: models.ReasonCommissionAffiliate,
		}}))
	}

	post("o-1", "3.00")
	views, err := svc.CachedBalances(ctx, party)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "3.00", views[0].Balance.Format())

	post("o-2", "2.00")
	views, err = svc.CachedBalances(ctx, party)
	require.NoError(t, err)
	assert.Equal(t, "5.00", views[0].Balance.Format())
}
