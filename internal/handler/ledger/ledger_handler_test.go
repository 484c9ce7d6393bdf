package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dumeirei/merch-settlement/internal/common/cache"
	"github.com/dumeirei/merch-settlement/internal/common/crypto"
	"github.com/dumeirei/merch-settlement/internal/middleware"
	"github.com/dumeirei/merch-settlement/internal/models"
	"github.com/dumeirei/merch-settlement/internal/repository"
	"github.com/dumeirei/merch-settlement/internal/service/commission"
	ledgerService "github.com/dumeirei/merch-settlement/internal/service/ledger"
	partnerService "github.com/dumeirei/merch-settlement/internal/service/partner"
	"github.com/dumeirei/merch-settlement/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const ownerID int64 = 100

type env struct {
	router *gin.Engine
	brand  models.Party
}

func setup(t *testing.T) *env {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	db := testutil.NewDB(t)
	brands := repository.NewBrandRepository(db)
	codes, err := crypto.NewCodeDeriver("test-key")
	require.NoError(t, err)
	partnerSvc := partnerService.NewService(brands, repository.NewAffiliateRepository(db),
		repository.NewReferralRepository(db), commission.DefaultPolicy(), codes, nil)
	ledgerSvc := ledgerService.NewService(db, repository.NewLedgerRepository(db), ledgerService.Options{
		Cache:    cache.NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()})),
		CacheTTL: time.Minute,
	})

	brand := testutil.NewTestBrand(t, db, ownerID, "0.5")
	party := models.Party{Type: models.PartyBrand, ID: brand.ID}
	require.NoError(t, ledgerSvc.Post(context.Background(), []ledgerService.Posting{
		{Party: party, Amount: testutil.USD(t, "12.50"), RefType: models.LedgerRefOrder, RefID: "ord-1", Reason: models.ReasonCommissionBrand},
		{Party: party, Amount: testutil.USD(t, "3.00"), RefType: models.LedgerRefOrder, RefID: "ord-2", Reason: models.ReasonCommissionBrand},
	}))

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if uid := c.GetHeader("X-Test-User"); uid != "" {
			id := ownerID
			if uid != "owner" {
				id = ownerID + 1
			}
			c.Set(middleware.ContextKeyUserID, id)
		}
		c.Next()
	})
	NewHandler(ledgerSvc, partnerSvc).RegisterRoutes(r.Group("/api/v1"))
	return &env{router: r, brand: party}
}

type envelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

func (e *env) get(t *testing.T, path, user string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var resp envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func (e *env) brandQuery(path string) string {
	return fmt.Sprintf("%s?party_type=brand&party_id=%d", path, e.brand.ID)
}

func TestGetBalances_Ownership(t *testing.T) {
	e := setup(t)

	t.Run("品牌所有者可查看", func(t *testing.T) {
		status, resp := e.get(t, e.brandQuery("/api/v1/balances"), "owner")
		assert.Equal(t, http.StatusOK, status)
		require.Equal(t, 0, resp.Code)

		var views []ledgerService.BalanceView
		require.NoError(t, json.Unmarshal(resp.Data, &views))
		require.Len(t, views, 1)
		assert.Equal(t, e.brand, views[0].Party)
		assert.Equal(t, int64(1550), views[0].Balance.Amount)
		assert.Equal(t, int64(1550), views[0].Available.Amount)

		// 第二次读取走缓存，结果一致
		_, cached := e.get(t, e.brandQuery("/api/v1/balances"), "owner")
		assert.JSONEq(t, string(resp.Data), string(cached.Data))
	})

	t.Run("其他用户被拒绝", func(t *testing.T) {
		status, resp := e.get(t, e.brandQuery("/api/v1/balances"), "other")
		assert.Equal(t, http.StatusForbidden, status)
		assert.Equal(t, 403, resp.Code)
	})

	t.Run("未登录", func(t *testing.T) {
		status, _ := e.get(t, e.brandQuery("/api/v1/balances"), "")
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("无效主体", func(t *testing.T) {
		status, _ := e.get(t, "/api/v1/balances?party_type=platform&party_id=1", "owner")
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("不指定主体返回名下全部余额", func(t *testing.T) {
		_, resp := e.get(t, "/api/v1/balances", "owner")
		require.Equal(t, 0, resp.Code)
		var views []ledgerService.BalanceView
		require.NoError(t, json.Unmarshal(resp.Data, &views))

		var found bool
		for _, v := range views {
			if v.Party == e.brand {
				found = true
				assert.Equal(t, int64(1550), v.Balance.Amount)
			}
		}
		assert.True(t, found)
	})
}

func TestListEntries_Ownership(t *testing.T) {
	e := setup(t)

	status, resp := e.get(t, e.brandQuery("/api/v1/ledger/entries"), "other")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, 403, resp.Code)

	_, resp = e.get(t, e.brandQuery("/api/v1/ledger/entries"), "owner")
	require.Equal(t, 0, resp.Code)
	var page struct {
		List  []models.LedgerEntry `json:"list"`
		Total int64                `json:"total"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	assert.Equal(t, int64(2), page.Total)
	assert.Len(t, page.List, 2)

	// 过滤条件
	_, resp = e.get(t, e.brandQuery("/api/v1/ledger/entries")+"&ref_type=payout", "owner")
	require.Equal(t, 0, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	assert.Zero(t, page.Total)

	// 用户本人账户无需主体参数
	_, resp = e.get(t, "/api/v1/ledger/entries", "other")
	require.Equal(t, 0, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	assert.Zero(t, page.Total)
}
