package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dumeirei/merch-settlement/internal/common/errors"
	"github.com/dumeirei/merch-settlement/internal/common/response"
	"github.com/dumeirei/merch-settlement/internal/middleware"
	"github.com/dumeirei/merch-settlement/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandleError(t *testing.T) {
	t.Run("无错误", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		assert.False(t, HandleError(c, nil))
	})

	t.Run("面向用户的业务错误原样返回", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		err := fmt.Errorf("payout: %w", errors.ErrNeedsAccountSetup)
		assert.True(t, HandleError(c, err))

		resp := decode(t, w)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, errors.ErrNeedsAccountSetup.Code, resp.Code)
		assert.Equal(t, errors.ErrNeedsAccountSetup.Message, resp.Message)
	})

	t.Run("运维错误隐藏细节", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		assert.True(t, HandleError(c, errors.ErrInvalidRate.WithMessage("brand 7 rate 0.95 out of bounds")))

		resp := decode(t, w)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, resp.Message, "0.95")
	})

	t.Run("普通错误", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		assert.True(t, HandleError(c, stderrors.New("dial tcp: refused")))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "refused")
	})
}

func TestParseParamID(t *testing.T) {
	r := gin.New()
	r.GET("/payouts/:id", func(c *gin.Context) {
		id, ok := ParseID(c, "提现申请")
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payouts/15", nil))
	assert.Contains(t, w.Body.String(), `"id":15`)

	for _, bad := range []string{"abc", "0", "-3"} {
		w = httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payouts/"+bad, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
}

func TestRequireUserID(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	_, ok := RequireUserID(c)
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Set(middleware.ContextKeyUserID, int64(9))
	id, ok := RequireUserID(c)
	assert.True(t, ok)
	assert.Equal(t, int64(9), id)
}

func TestBindPagination(t *testing.T) {
	tests := []struct {
		query string
		want  Pagination
	}{
		{"", Pagination{Page: 1, PageSize: 20}},
		{"page=3&page_size=50", Pagination{Page: 3, PageSize: 50}},
		{"page=-1&page_size=1000", Pagination{Page: 1, PageSize: 100}},
		{"page=x", Pagination{Page: 1, PageSize: 20}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			assert.Equal(t, tt.want, BindPagination(c))
		})
	}
}

type ownsBrand struct {
	brandID int64
}

func (o ownsBrand) Owns(_ context.Context, _ int64, party models.Party) (bool, error) {
	return party.Type == models.PartyBrand && party.ID == o.brandID, nil
}

func TestQueryParty(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		status int
		want   models.Party
	}{
		{"缺省为本人", "", http.StatusOK, models.Party{Type: models.PartyUser, ID: 9}},
		{"拥有的品牌", "party_type=brand&party_id=3", http.StatusOK, models.Party{Type: models.PartyBrand, ID: 3}},
		{"他人的品牌", "party_type=brand&party_id=4", http.StatusForbidden, models.Party{}},
		{"平台不可查询", "party_type=platform&party_id=0", http.StatusBadRequest, models.Party{}},
		{"未知主体类型", "party_type=merchant&party_id=3", http.StatusBadRequest, models.Party{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/balances?"+tt.query, nil)
			c.Set(middleware.ContextKeyUserID, int64(9))

			party, ok := QueryParty(c, ownsBrand{brandID: 3})
			assert.Equal(t, tt.status == http.StatusOK, ok)
			assert.Equal(t, tt.want, party)
			if !ok {
				assert.Equal(t, tt.status, w.Code)
			}
		})
	}
}

func TestPagination_Offset(t *testing.T) {
	p := Pagination{Page: 3, PageSize: 20}
	assert.Equal(t, 40, p.GetOffset())
	assert.Equal(t, 20, p.GetLimit())
}
