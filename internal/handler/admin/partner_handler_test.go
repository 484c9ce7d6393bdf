package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/merch-settlement/internal/common/crypto"
	"github.com/dumeirei/merch-settlement/internal/common/jwt"
	"github.com/dumeirei/merch-settlement/internal/common/response"
	"github.com/dumeirei/merch-settlement/internal/middleware"
	"github.com/dumeirei/merch-settlement/internal/models"
	"github.com/dumeirei/merch-settlement/internal/repository"
	"github.com/dumeirei/merch-settlement/internal/service/commission"
	partnerService "github.com/dumeirei/merch-settlement/internal/service/partner"
	"github.com/dumeirei/merch-settlement/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type adminEnv struct {
	db     *gorm.DB
	router *gin.Engine
	audit  *repository.AuditLogRepository
}

const adminID int64 = 1

func setupAdmin(t *testing.T) *adminEnv {
	db := testutil.NewDB(t)
	codes, err := crypto.NewCodeDeriver("test-key")
	require.NoError(t, err)
	partnerSvc := partnerService.NewService(repository.NewBrandRepository(db), repository.NewAffiliateRepository(db),
		repository.NewReferralRepository(db), commission.DefaultPolicy(), codes, nil)
	audit := repository.NewAuditLogRepository(db)

	r := gin.New()
	group := r.Group("/api/admin", func(c *gin.Context) {
		c.Set(middleware.ContextKeyUserID, adminID)
		c.Set(middleware.ContextKeyUserType, jwt.UserTypeAdmin)
		c.Next()
	}, middleware.Audit(audit, zap.NewNop()))
	NewPartnerHandler(partnerSvc).RegisterRoutes(group)
	NewAuditHandler(audit).RegisterRoutes(group)
	return &adminEnv{db: db, router: r, audit: audit}
}

func (e *adminEnv) do(method, path, body string) (*httptest.ResponseRecorder, response.Response) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var resp response.Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestSetBrandRate(t *testing.T) {
	e := setupAdmin(t)
	brand := testutil.NewTestBrand(t, e.db, 100, "0.5")

	t.Run("区间内", func(t *testing.T) {
		w, resp := e.do(http.MethodPut, "/api/admin/brands/"+itoa(brand.ID)+"/rate", `{"commission_rate":"0.6"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 0, resp.Code)

		var got models.Brand
		require.NoError(t, e.db.First(&got, brand.ID).Error)
		assert.Equal(t, int64(600000), got.CommissionRatePPM)
	})

	t.Run("超出区间", func(t *testing.T) {
		w, resp := e.do(http.MethodPut, "/api/admin/brands/"+itoa(brand.ID)+"/rate", `{"commission_rate":"0.95"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NotEmpty(t, resp.Message)
	})

	t.Run("非法比例", func(t *testing.T) {
		w, _ := e.do(http.MethodPut, "/api/admin/brands/"+itoa(brand.ID)+"/rate", `{"commission_rate":"-0.1"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestBanAffiliate_WritesAuditLog(t *testing.T) {
	e := setupAdmin(t)
	brand := testutil.NewTestBrand(t, e.db, 100, "0.5")
	affiliate := testutil.NewTestAffiliate(t, e.db, brand.ID, models.AffiliateStatusApproved, "0.1")

	w, resp := e.do(http.MethodPost, "/api/admin/affiliates/"+itoa(affiliate.ID)+"/ban", `{"reason":"刷单"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, resp.Code)

	var got models.Affiliate
	require.NoError(t, e.db.First(&got, affiliate.ID).Error)
	assert.Equal(t, models.AffiliateStatusBanned, got.Status)

	var logs []*models.AuditLog
	require.Eventually(t, func() bool {
		logs, _, _ = e.audit.List(context.Background(), repository.AuditLogFilter{Module: "affiliates"}, 0, 10)
		return len(logs) == 1
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, "ban", logs[0].Action)
	assert.Equal(t, adminID, logs[0].AdminID)
	require.NotNil(t, logs[0].TargetID)
	assert.Equal(t, affiliate.ID, *logs[0].TargetID)

	// 查询接口本身不写记录
	w, resp = e.do(http.MethodGet, "/api/admin/audit-logs?module=affiliates", "")
	require.Equal(t, http.StatusOK, w.Code)
	page, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 1, page["total"])
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
