package payout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dumeirei/merch-settlement/internal/common/crypto"
	"github.com/dumeirei/merch-settlement/internal/common/errors"
	"github.com/dumeirei/merch-settlement/internal/common/response"
	"github.com/dumeirei/merch-settlement/internal/middleware"
	"github.com/dumeirei/merch-settlement/internal/models"
	"github.com/dumeirei/merch-settlement/internal/repository"
	"github.com/dumeirei/merch-settlement/internal/service/commission"
	ledgerService "github.com/dumeirei/merch-settlement/internal/service/ledger"
	partnerService "github.com/dumeirei/merch-settlement/internal/service/partner"
	payoutService "github.com/dumeirei/merch-settlement/internal/service/payout"
	"github.com/dumeirei/merch-settlement/internal/testutil"
	"github.com/dumeirei/merch-settlement/pkg/payrail"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type env struct {
	router  *gin.Engine
	ledger  *ledgerService.Service
	gateway *payrail.MockGateway
	brand   *models.Brand
}

const ownerID int64 = 100

func setup(t *testing.T) *env {
	db := testutil.NewDB(t)
	brands := repository.NewBrandRepository(db)
	affiliates := repository.NewAffiliateRepository(db)
	codes, err := crypto.NewCodeDeriver("test-key")
	require.NoError(t, err)

	partnerSvc := partnerService.NewService(brands, affiliates, repository.NewReferralRepository(db), commission.DefaultPolicy(), codes, nil)
	ledgerSvc := ledgerService.NewService(db, repository.NewLedgerRepository(db), ledgerService.Options{})
	gateway := payrail.NewMockGateway(nil)
	payoutSvc := payoutService.NewService(db, repository.NewPayoutRepository(db), repository.NewPayoutAccountRepository(db),
		brands, affiliates, repository.NewTransferEventRepository(db), ledgerSvc, gateway, payoutService.DefaultConfig(), payoutService.Options{})

	brand := testutil.NewTestBrand(t, db, ownerID, "0.5")
	testutil.NewTestPayoutAccount(t, db, models.Party{Type: models.PartyBrand, ID: brand.ID})

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextKeyUserID, ownerID)
		c.Next()
	})
	NewHandler(payoutSvc, partnerSvc).RegisterRoutes(r.Group("/api/v1"))
	return &env{router: r, ledger: ledgerSvc, gateway: gateway, brand: brand}
}

func (e *env) do(method, path, body string) (*httptest.ResponseRecorder, response.Response) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var resp response.Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestCreatePayout_DispatchesImmediately(t *testing.T) {
	e := setup(t)
	party := models.Party{Type: models.PartyBrand, ID: e.brand.ID}
	require.NoError(t, e.ledger.Post(context.Background(), []ledgerService.Posting{{
		Party: party, Amount: testutil.USD(t, "40.00"), RefType: models.LedgerRefOrder, RefID: "o-1", Reason: models.ReasonCommissionBrand,
	}}))

	body := `{"party_type":"brand","party_id":` + jsonInt(e.brand.ID) + `,"amount":"25.00","currency":"USD"}`
	w, resp := e.do(http.MethodPost, "/api/v1/payouts", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 0, resp.Code)
	assert.Contains(t, w.Body.String(), `"status":"transferring"`)
	assert.Len(t, e.gateway.Transfers(), 1)

	bal, err := e.ledger.Balance(context.Background(), party, "USD")
	require.NoError(t, err)
	assert.Equal(t, "15.00", bal.Format())

	w, _ = e.do(http.MethodGet, "/api/v1/payouts?party_type=brand&party_id="+jsonInt(e.brand.ID), "")
	assert.Contains(t, w.Body.String(), `"total":1`)
}

func TestCreatePayout_InsufficientBalance(t *testing.T) {
	e := setup(t)
	body := `{"party_type":"brand","party_id":` + jsonInt(e.brand.ID) + `,"amount":"25.00","currency":"USD"}`
	_, resp := e.do(http.MethodPost, "/api/v1/payouts", body)
	assert.Equal(t, errors.ErrInsufficientBalance.Code, resp.Code)
	assert.Empty(t, e.gateway.Transfers())
}

func TestCreatePayout_ForeignParty(t *testing.T) {
	e := setup(t)
	body := `{"party_type":"brand","party_id":` + jsonInt(e.brand.ID+1) + `,"amount":"25.00","currency":"USD"}`
	w, _ := e.do(http.MethodPost, "/api/v1/payouts", body)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCreatePayout_BadAmount(t *testing.T) {
	e := setup(t)
	body := `{"party_type":"brand","party_id":` + jsonInt(e.brand.ID) + `,"amount":"25.001","currency":"USD"}`
	_, resp := e.do(http.MethodPost, "/api/v1/payouts", body)
	assert.Equal(t, errors.ErrInvalidAmount.Code, resp.Code)
}

func TestCancelPayout_NotFoundForOtherParty(t *testing.T) {
	e := setup(t)
	_, resp := e.do(http.MethodPost, "/api/v1/payouts/999/cancel", "")
	assert.Equal(t, errors.ErrPayoutNotFound.Code, resp.Code)
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
