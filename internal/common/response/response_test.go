package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func perform(fn func(c *gin.Context)) (*httptest.ResponseRecorder, Response) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	fn(c)
	var resp Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestSuccess(t *testing.T) {
	w, resp := perform(func(c *gin.Context) { Success(c, gin.H{"amount": "37.50"}) })
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, resp.Code)
	assert.Equal(t, "success", resp.Message)
}

func TestSuccessPage(t *testing.T) {
	w, _ := perform(func(c *gin.Context) { SuccessPage(c, []int{1, 2}, 12, 2, 2) })
	var body struct {
		Data PageData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(12), body.Data.Total)
	assert.Equal(t, 2, body.Data.Page)
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name   string
		fn     func(c *gin.Context)
		status int
		code   int
	}{
		{"业务错误", func(c *gin.Context) { Error(c, 4000, "可用余额不足") }, http.StatusOK, 4000},
		{"指定状态码", func(c *gin.Context) { ErrorWithStatus(c, http.StatusBadRequest, 6000, "签名错误") }, http.StatusBadRequest, 6000},
		{"参数错误", func(c *gin.Context) { BadRequest(c, "bad") }, http.StatusBadRequest, 400},
		{"未授权", func(c *gin.Context) { Unauthorized(c, "") }, http.StatusUnauthorized, 401},
		{"禁止访问", func(c *gin.Context) { Forbidden(c, "") }, http.StatusForbidden, 403},
		{"不存在", func(c *gin.Context) { NotFound(c, "") }, http.StatusNotFound, 404},
		{"内部错误", func(c *gin.Context) { InternalError(c, "") }, http.StatusInternalServerError, 500},
		{"限流", func(c *gin.Context) { TooManyRequests(c, "") }, http.StatusTooManyRequests, 429},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := perform(tt.fn)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.Message)
		})
	}
}
