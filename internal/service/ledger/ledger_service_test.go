package ledger

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dumeirei/merch-settlement/internal/common/cache"
	"github.com/dumeirei/merch-settlement/internal/common/errors"
	"github.com/dumeirei/merch-settlement/internal/models"
	"github.com/dumeirei/merch-settlement/internal/repository"
	"github.com/dumeirei/merch-settlement/internal/testutil"
	"github.com/dumeirei/merch-settlement/pkg/money"
)

var brand = models.Party{Type: models.PartyBrand, ID: 7}

func setupService(t *testing.T) (*Service, *gorm.DB) {
	db := testutil.NewDB(t)
	return NewService(db, repository.NewLedgerRepository(db), Options{}), db
}

func credit(t *testing.T, svc *Service, party models.Party, amount, orderID string) {
	t.Helper()
	require.NoError(t, svc.Post(context.Background(), []Posting{{
		Party:   party,
		Amount:  testutil.USD(t, amount),
		RefType: models.LedgerRefOrder,
		RefID:   orderID,
		Reason:  models.ReasonCommissionBrand,
	}}))
}

func TestService_PostAndBalance(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	bal, err := svc.Balance(ctx, brand, "USD")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())

	credit(t, svc, brand, "50.00", "o-1")
	credit(t, svc, brand, "12.34", "o-2")

	bal, err = svc.Balance(ctx, brand, "USD")
	require.NoError(t, err)
	assert.Equal(t, "62.34", bal.Format())

	entries, total, err := svc.History(ctx, brand, repository.EntryFilter{}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, "o-2", entries[0].RefID)
}

func TestService_PostSkipsZeroAndRejectsNegative(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	err := svc.Post(ctx, []Posting{{
		Party: brand, Amount: money.Zero("USD"), RefType: models.LedgerRefOrder, RefID: "o-1", Reason: models.ReasonCommissionBrand,
	}})
	require.NoError(t, err)
	_, total, err := svc.History(ctx, brand, repository.EntryFilter{}, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)

	err = svc.Post(ctx, []Posting{{
		Party: brand, Amount: money.New(-100, "USD"), RefType: models.LedgerRefOrder, RefID: "o-2", Reason: models.ReasonCommissionBrand,
	}})
	assert.True(t, errors.Is(err, errors.ErrNegativeBalance))

	err = svc.Post(ctx, []Posting{{
		Party: models.Party{Type: "merchant", ID: 1}, Amount: money.New(100, "USD"), RefType: models.LedgerRefOrder, RefID: "o-3", Reason: models.ReasonCommissionBrand,
	}})
	assert.True(t, errors.Is(err, errors.ErrInvalidParams))
}

func TestService_PostIsAtomic(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	credit(t, svc, brand, "10.00", "o-1")

	platform := models.PlatformParty()
	err := svc.Post(ctx, []Posting{
		{Party: platform, Amount: testutil.USD(t, "10.00"), RefType: models.LedgerRefOrder, RefID: "o-1", Reason: models.ReasonCommissionPlatform},
		{Party: brand, Amount: testutil.USD(t, "10.00"), RefType: models.LedgerRefOrder, RefID: "o-1", Reason: models.ReasonCommissionBrand},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDuplicatePosting))

	// 重复分录导致整批回滚，平台分录也未写入
	bal, err := svc.Balance(ctx, platform, "USD")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
	bal, err = svc.Balance(ctx, brand, "USD")
	require.NoError(t, err)
	assert.Equal(t, "10.00", bal.Format())
}

func TestService_ReserveInsufficient(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	credit(t, svc, brand, "10.00", "o-1")

	_, err := svc.Reserve(ctx, brand, testutil.USD(t, "10.01"))
	assert.True(t, errors.Is(err, errors.ErrInsufficientBalance))

	_, err = svc.Reserve(ctx, brand, money.Zero("USD"))
	assert.True(t, errors.Is(err, errors.ErrInvalidAmount))

	r, err := svc.Reserve(ctx, brand, testutil.USD(t, "4.00"))
	require.NoError(t, err)
	assert.NotEmpty(t, r.Token)

	avail, err := svc.Available(ctx, brand, "USD")
	require.NoError(t, err)
	assert.Equal(t, "6.00", avail.Format())

	// 冻结不改变余额
	bal, err := svc.Balance(ctx, brand, "USD")
	require.NoError(t, err)
	assert.Equal(t, "10.00", bal.Format())
}

func TestService_FullBalanceThenOneCent(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	credit(t, svc, brand, "37.50", "o-1")

	_, err := svc.Reserve(ctx, brand, testutil.USD(t, "37.50"))
	require.NoError(t, err)

	_, err = svc.Reserve(ctx, brand, testutil.USD(t, "0.01"))
	assert.True(t, errors.Is(err, errors.ErrInsufficientBalance))
}

func TestService_ConcurrentReserveExclusivity(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	credit(t, svc, brand, "37.50", "o-1")

	amounts := []string{"30.00", "20.00"}
	errs := make([]error, len(amounts))
	var wg sync.WaitGroup
	for i, a := range amounts {
		wg.Add(1)
		go func(i int, a string) {
			defer wg.Done()
			_, errs[i] = svc.Reserve(ctx, brand, testutil.USD(t, a))
		}(i, a)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, errors.ErrInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)
}

func TestService_ConsumeReleaseReverse(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()
	credit(t, svc, brand, "50.00", "o-1")

	r, err := svc.Reserve(ctx, brand, testutil.USD(t, "20.00"))
	require.NoError(t, err)

	payout := &models.PayoutRequest{ID: 99, PartyType: brand.Type, PartyID: brand.ID, Amount: r.Amount, Currency: "USD"}
	err = db.Transaction(func(tx *gorm.DB) error {
		entry, err := svc.ConsumeAndDebitTx(ctx, tx, r.Token, payout.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(-2000), entry.Delta)
		assert.Equal(t, models.ReasonPayoutDebit, entry.Reason)
		return nil
	})
	require.NoError(t, err)

	bal, err := svc.Balance(ctx, brand, "USD")
	require.NoError(t, err)
	assert.Equal(t, "30.00", bal.Format())

	// 已消耗的冻结不能再次消耗或释放
	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.ConsumeAndDebitTx(ctx, tx, r.Token, payout.ID)
		return err
	})
	assert.True(t, errors.Is(err, errors.ErrReservationInactive))
	assert.True(t, errors.Is(svc.Release(ctx, r.Token), errors.ErrReservationInactive))

	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.ReverseDebitTx(ctx, tx, payout)
		return err
	})
	require.NoError(t, err)
	bal, err = svc.Balance(ctx, brand, "USD")
	require.NoError(t, err)
	assert.Equal(t, "50.00", bal.Format())

	summary, err := svc.Summarize(ctx, brand, "USD")
	require.NoError(t, err)
	assert.Equal(t, "50.00", summary.Earned.Format())
	assert.Equal(t, "0.00", summary.Paid.Format())
	assert.Equal(t, "50.00", summary.Due.Format())
}

func TestService_ReleaseRestoresAvailable(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	credit(t, svc, brand, "10.00", "o-1")

	r, err := svc.Reserve(ctx, brand, testutil.USD(t, "10.00"))
	require.NoError(t, err)
	require.NoError(t, svc.Release(ctx, r.Token))

	avail, err := svc.Available(ctx, brand, "USD")
	require.NoError(t, err)
	assert.Equal(t, "10.00", avail.Format())

	assert.True(t, errors.Is(svc.Release(ctx, "missing"), errors.ErrReservationNotFound))
}

// 随机并发的冻结、扣款、释放、冲正，余额与可用余额始终非负
func TestService_NonNegativeUnderConcurrency(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()
	credit(t, svc, brand, "100.00", "o-seed")

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(w)))
			for i := 0; i < 15; i++ {
				amount := money.New(rng.Int63n(4000)+1, "USD")
				r, err := svc.Reserve(ctx, brand, amount)
				if err != nil {
					continue
				}
				payoutID := int64(w*1000 + i)
				switch rng.Intn(3) {
				case 0:
					_ = svc.Release(ctx, r.Token)
				case 1:
					_ = db.Transaction(func(tx *gorm.DB) error {
						_, err := svc.ConsumeAndDebitTx(ctx, tx, r.Token, payoutID)
						return err
					})
				default:
					_ = db.Transaction(func(tx *gorm.DB) error {
						if _, err := svc.ConsumeAndDebitTx(ctx, tx, r.Token, payoutID); err != nil {
							return err
						}
						_, err := svc.ReverseDebitTx(ctx, tx, &models.PayoutRequest{
							ID: payoutID, PartyType: brand.Type, PartyID: brand.ID, Amount: amount.Amount, Currency: "USD",
						})
						return err
					})
				}
			}
		}(w)
	}
	wg.Wait()

	views, err := svc.Balances(ctx, brand)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.GreaterOrEqual(t, views[0].Balance.Amount, int64(0))
	assert.GreaterOrEqual(t, views[0].Available.Amount, int64(0))
	assert.Zero(t, views[0].Reserved.Amount)
}

func TestService_CachedBalances(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	db := testutil.NewDB(t)
	store := cache.NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	svc := NewService(db, repository.NewLedgerRepository(db), Options{Cache: store})
	ctx := context.Background()

	credit(t, svc, brand, "5.00", "o-1")
	views, err := svc.CachedBalances(ctx, brand)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "5.00", views[0].Balance.Format())
	assert.True(t, mr.Exists(balanceKey(brand)))

	// 新分录提交后缓存失效
	credit(t, svc, brand, "1.00", "o-2")
	assert.False(t, mr.Exists(balanceKey(brand)))

	views, err = svc.CachedBalances(ctx, brand)
	require.NoError(t, err)
	assert.Equal(t, "6.00", views[0].Balance.Format())
}
