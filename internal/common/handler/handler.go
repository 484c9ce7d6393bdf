// Package handler 提供 API Handler 的通用辅助函数
package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dumeirei/merch-settlement/internal/common/errors"
	"github.com/dumeirei/merch-settlement/internal/common/logger"
	"github.com/dumeirei/merch-settlement/internal/common/response"
	"github.com/dumeirei/merch-settlement/internal/middleware"
	"github.com/dumeirei/merch-settlement/internal/models"
)

// operatorOnly 仅运维可见的错误码，对调用方只返回通用提示
var operatorOnly = map[int]struct{}{
	errors.ErrInvalidRate.Code:      {},
	errors.ErrDatabaseError.Code:    {},
	errors.ErrInternalError.Code:    {},
	errors.ErrDuplicatePosting.Code: {},
	errors.ErrNegativeBalance.Code:  {},
}

// HandleError 处理错误并发送响应，返回 true 表示调用方应直接 return
//
//	result, err := svc.Do(ctx)
//	if handler.HandleError(c, err) {
//	    return
//	}
func HandleError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}

	appErr := errors.GetAppError(err)
	if _, hidden := operatorOnly[appErr.Code]; hidden || appErr.Code == errors.ErrUnknown.Code {
		logger.Error("request failed",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		response.InternalError(c, "服务暂时不可用，请稍后再试")
		return true
	}

	response.Error(c, appErr.Code, appErr.Message)
	return true
}

// MustSucceed 有错误则返回错误响应，否则返回成功响应
func MustSucceed(c *gin.Context, err error, data interface{}) {
	if HandleError(c, err) {
		return
	}
	response.Success(c, data)
}

// MustSucceedPage 分页响应版本
func MustSucceedPage(c *gin.Context, err error, list interface{}, total int64, p Pagination) {
	if HandleError(c, err) {
		return
	}
	response.SuccessPage(c, list, total, p.Page, p.PageSize)
}

// RequireUserID 获取当前用户ID，未登录时已发送 401
func RequireUserID(c *gin.Context) (int64, bool) {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		response.Unauthorized(c, "请先登录")
		return 0, false
	}
	return userID, true
}

// ParseID 解析路径参数 "id" 为 int64
func ParseID(c *gin.Context, resourceName string) (int64, bool) {
	return ParseParamID(c, "id", resourceName)
}

// ParseParamID 解析指定路径参数为 int64
func ParseParamID(c *gin.Context, paramName, resourceName string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(paramName), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "无效的"+resourceName+"ID")
		return 0, false
	}
	return id, true
}

// Ownership 判断用户能否访问某账本主体
type Ownership interface {
	Owns(ctx context.Context, userID int64, party models.Party) (bool, error)
}

// RequireParty 校验当前用户对主体的访问权，partyType 为空时取用户本人
func RequireParty(c *gin.Context, owners Ownership, partyType string, partyID int64) (models.Party, bool) {
	userID, ok := RequireUserID(c)
	if !ok {
		return models.Party{}, false
	}
	if partyType == "" {
		return models.Party{Type: models.PartyUser, ID: userID}, true
	}

	party := models.Party{Type: models.PartyType(partyType), ID: partyID}
	if !party.Type.Valid() || party.Type == models.PartyPlatform || party.ID <= 0 {
		response.BadRequest(c, "无效的账户主体")
		return models.Party{}, false
	}
	owned, err := owners.Owns(c.Request.Context(), userID, party)
	if HandleError(c, err) {
		return models.Party{}, false
	}
	if !owned {
		response.Forbidden(c, "无权访问该账户")
		return models.Party{}, false
	}
	return party, true
}

// QueryParty 从 party_type/party_id 查询参数解析主体并校验访问权
func QueryParty(c *gin.Context, owners Ownership) (models.Party, bool) {
	partyID, _ := strconv.ParseInt(c.Query("party_id"), 10, 64)
	return RequireParty(c, owners, c.Query("party_type"), partyID)
}

// Pagination 分页参数
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// BindPagination 从查询参数绑定分页参数，默认 page=1 page_size=20，最大 100
func BindPagination(c *gin.Context) Pagination {
	p := Pagination{}
	p.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	p.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = 20
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
	return p
}

// GetOffset 获取偏移量
func (p Pagination) GetOffset() int {
	return (p.Page - 1) * p.PageSize
}

// GetLimit 获取限制数量
func (p Pagination) GetLimit() int {
	return p.PageSize
}

// BindDateRange 解析 start_date/end_date 查询参数（YYYY-MM-DD），结束日期包含当天
func BindDateRange(c *gin.Context) (start, end *time.Time, ok bool) {
	if s := c.Query("start_date"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			response.BadRequest(c, "无效的开始日期格式")
			return nil, nil, false
		}
		start = &t
	}
	if s := c.Query("end_date"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			response.BadRequest(c, "无效的结束日期格式")
			return nil, nil, false
		}
		t = t.Add(24 * time.Hour)
		end = &t
	}
	return start, end, true
}
