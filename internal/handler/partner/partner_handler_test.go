package partner

import (
	"bytes"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dumeirei/merch-settlement/internal/common/crypto"
	"github.com/dumeirei/merch-settlement/internal/common/qrcode"
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

const userID int64 = 100

func setup(t *testing.T) (*gin.Engine, *partnerService.Service) {
	db := testutil.NewDB(t)
	codes, err := crypto.NewCodeDeriver("test-key")
	require.NoError(t, err)
	svc := partnerService.NewService(repository.NewBrandRepository(db), repository.NewAffiliateRepository(db),
		repository.NewReferralRepository(db), commission.DefaultPolicy(), codes, nil)
	svc.SetInviteLinks("https://shop.example.com", qrcode.NewGenerator(qrcode.WithSize(160)))

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.GetHeader("X-Test-Anonymous") == "" {
			c.Set(middleware.ContextKeyUserID, userID)
		}
		c.Next()
	})
	NewHandler(svc).RegisterRoutes(r.Group("/api/v1"))
	return r, svc
}

type envelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

func do(t *testing.T, r *gin.Engine, method, path, body string, anonymous bool) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if anonymous {
		req.Header.Set("X-Test-Anonymous", "1")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var resp envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestGetReferralCode(t *testing.T) {
	r, svc := setup(t)

	w, resp := do(t, r, http.MethodGet, "/api/v1/referrals/code", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 0, resp.Code)

	var invite partnerService.ReferralInvite
	require.NoError(t, json.Unmarshal(resp.Data, &invite))
	assert.Equal(t, svc.ReferralCode(userID), invite.Code)
	assert.Equal(t, "https://shop.example.com/invite/"+invite.Code, invite.Link)
	assert.True(t, strings.HasPrefix(invite.QRCode, "data:image/png;base64,"))

	w, _ = do(t, r, http.MethodGet, "/api/v1/referrals/code", "", true)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetReferralQRCode(t *testing.T) {
	r, _ := setup(t)

	w, _ := do(t, r, http.MethodGet, "/api/v1/referrals/qrcode", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	img, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 160, img.Bounds().Dx())

	w, _ = do(t, r, http.MethodGet, "/api/v1/referrals/qrcode", "", true)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterBrand(t *testing.T) {
	r, _ := setup(t)

	t.Run("默认比例", func(t *testing.T) {
		_, resp := do(t, r, http.MethodPost, "/api/v1/brands", `{"name":"潮玩社"}`, false)
		require.Equal(t, 0, resp.Code)
		var brand models.Brand
		require.NoError(t, json.Unmarshal(resp.Data, &brand))
		assert.Equal(t, userID, brand.OwnerUserID)
		assert.Equal(t, models.BrandStatusPending, brand.Status)
		assert.Equal(t, int64(500000), brand.CommissionRatePPM)
	})

	t.Run("比例越界", func(t *testing.T) {
		w, resp := do(t, r, http.MethodPost, "/api/v1/brands", `{"name":"潮玩社","commission_rate":"0.95"}`, false)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, 400, resp.Code)
	})

	t.Run("缺少名称", func(t *testing.T) {
		w, _ := do(t, r, http.MethodPost, "/api/v1/brands", `{}`, false)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestListParties(t *testing.T) {
	r, _ := setup(t)

	_, resp := do(t, r, http.MethodPost, "/api/v1/brands", `{"name":"潮玩社","commission_rate":"0.6"}`, false)
	require.Equal(t, 0, resp.Code)
	var brand models.Brand
	require.NoError(t, json.Unmarshal(resp.Data, &brand))

	_, resp = do(t, r, http.MethodGet, "/api/v1/parties", "", false)
	require.Equal(t, 0, resp.Code)
	var parties []models.Party
	require.NoError(t, json.Unmarshal(resp.Data, &parties))
	assert.Contains(t, parties, models.Party{Type: models.PartyUser, ID: userID})
	assert.Contains(t, parties, models.Party{Type: models.PartyBrand, ID: brand.ID})
}
