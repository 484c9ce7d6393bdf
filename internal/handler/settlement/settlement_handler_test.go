package settlement

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dumeirei/merch-settlement/internal/common/crypto"
	"github.com/dumeirei/merch-settlement/internal/common/errors"
	"github.com/dumeirei/merch-settlement/internal/common/response"
	"github.com/dumeirei/merch-settlement/internal/middleware"
	"github.com/dumeirei/merch-settlement/internal/repository"
	"github.com/dumeirei/merch-settlement/internal/service/attribution"
	"github.com/dumeirei/merch-settlement/internal/service/commission"
	ledgerService "github.com/dumeirei/merch-settlement/internal/service/ledger"
	partnerService "github.com/dumeirei/merch-settlement/internal/service/partner"
	settlementService "github.com/dumeirei/merch-settlement/internal/service/settlement"
	"github.com/dumeirei/merch-settlement/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const ownerID int64 = 100

func setup(t *testing.T) (*gin.Engine, int64) {
	db := testutil.NewDB(t)
	brands := repository.NewBrandRepository(db)
	affiliates := repository.NewAffiliateRepository(db)
	referrals := repository.NewReferralRepository(db)
	codes, err := crypto.NewCodeDeriver("test-key")
	require.NoError(t, err)

	policy := commission.DefaultPolicy()
	partnerSvc := partnerService.NewService(brands, affiliates, referrals, policy, codes, nil)
	ledgerSvc := ledgerService.NewService(db, repository.NewLedgerRepository(db), ledgerService.Options{})
	resolver := attribution.NewResolver(brands, affiliates, referrals, attribution.ReferralPolicy{RequireCompleted: true}, zap.NewNop())
	settlementSvc := settlementService.NewService(db, repository.NewSettlementRepository(db), brands, affiliates, referrals,
		resolver, policy, ledgerSvc, settlementService.Options{})

	brand := testutil.NewTestBrand(t, db, ownerID, "0.5")

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
	h := NewHandler(settlementSvc, partnerSvc)
	h.RegisterInternalRoutes(r.Group("/api/v1/internal"))
	h.RegisterRoutes(r.Group("/api/v1"))
	return r, brand.ID
}

func do(r *gin.Engine, method, path, user, body string) response.Response {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var resp response.Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return resp
}

func TestOrderCompletedAndVisibility(t *testing.T) {
	r, brandID := setup(t)
	body := `{"order_id":"ORD-100","brand_id":` + strconv.FormatInt(brandID, 10) + `,"total_amount":"100.00","currency":"USD","buyer_id":"b-1"}`

	resp := do(r, http.MethodPost, "/api/v1/internal/orders/completed", "", body)
	require.Equal(t, 0, resp.Code, resp.Message)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, true, data["created"])

	// 重复投递
	resp = do(r, http.MethodPost, "/api/v1/internal/orders/completed", "", body)
	require.Equal(t, 0, resp.Code)
	assert.Equal(t, false, resp.Data.(map[string]interface{})["created"])

	t.Run("品牌方可见", func(t *testing.T) {
		resp := do(r, http.MethodGet, "/api/v1/orders/ORD-100/settlement", "owner", "")
		assert.Equal(t, 0, resp.Code)
	})

	t.Run("无关用户视为不存在", func(t *testing.T) {
		resp := do(r, http.MethodGet, "/api/v1/orders/ORD-100/settlement", "other", "")
		assert.Equal(t, errors.ErrSettlementNotFound.Code, resp.Code)
	})

	t.Run("订单不存在", func(t *testing.T) {
		resp := do(r, http.MethodGet, "/api/v1/orders/NOPE/settlement", "owner", "")
		assert.Equal(t, errors.ErrSettlementNotFound.Code, resp.Code)
	})
}

func TestOrderCompleted_BadPayload(t *testing.T) {
	r, _ := setup(t)
	resp := do(r, http.MethodPost, "/api/v1/internal/orders/completed", "", `{"order_id":`)
	assert.Equal(t, 400, resp.Code)
}
