// Package payout 提供提现相关的 HTTP Handler
package payout

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/dumeirei/merch-settlement/internal/common/errors"
	"github.com/dumeirei/merch-settlement/internal/common/handler"
	"github.com/dumeirei/merch-settlement/internal/common/response"
	partnerService "github.com/dumeirei/merch-settlement/internal/service/partner"
	payoutService "github.com/dumeirei/merch-settlement/internal/service/payout"
	"github.com/dumeirei/merch-settlement/pkg/money"
)

// Handler 提现处理器
type Handler struct {
	payoutService  *payoutService.Service
	partnerService *partnerService.Service
}

// NewHandler 创建提现处理器
func NewHandler(payoutSvc *payoutService.Service, partnerSvc *partnerService.Service) *Handler {
	return &Handler{
		payoutService:  payoutSvc,
		partnerService: partnerSvc,
	}
}

// CreatePayoutRequest 发起提现请求
type CreatePayoutRequest struct {
	PartyType string          `json:"party_type"`
	PartyID   int64           `json:"party_id"`
	Amount    decimal.Decimal `json:"amount" swaggertype:"string" example:"25.00"`
	Currency  string          `json:"currency" binding:"required,len=3"`
}

// BindAccountRequest 绑定收款账户请求
type BindAccountRequest struct {
	PartyType      string  `json:"party_type"`
	PartyID        int64   `json:"party_id"`
	Provider       string  `json:"provider"`
	DestinationRef string  `json:"destination_ref" binding:"required,max=64"`
	NotifyPhone    *string `json:"notify_phone" binding:"omitempty,max=20"`
}

// CreatePayout 发起提现
// @Summary 发起提现
// @Description 冻结可用余额后立即调用转账通道，通道不可用时申请置为失败并释放冻结
// @Tags 提现
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body CreatePayoutRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.PayoutRequest}
// @Router /api/v1/payouts [post]
func (h *Handler) CreatePayout(c *gin.Context) {
	var req CreatePayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}
	party, ok := handler.RequireParty(c, h.partnerService, req.PartyType, req.PartyID)
	if !ok {
		return
	}

	amount, err := money.FromDecimal(req.Amount, req.Currency)
	if err != nil {
		handler.HandleError(c, errors.ErrInvalidAmount.WithError(err))
		return
	}

	ctx := c.Request.Context()
	payout, err := h.payoutService.Request(ctx, party, amount)
	if handler.HandleError(c, err) {
		return
	}
	payout, err = h.payoutService.Dispatch(ctx, payout.ID)
	handler.MustSucceed(c, err, payout)
}

// ListPayouts 获取提现记录
// @Summary 获取提现记录
// @Tags 提现
// @Produce json
// @Security Bearer
// @Param party_type query string false "主体类型 user/brand/affiliate"
// @Param party_id query int false "主体ID"
// @Param status query string false "状态"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/v1/payouts [get]
func (h *Handler) ListPayouts(c *gin.Context) {
	party, ok := handler.QueryParty(c, h.partnerService)
	if !ok {
		return
	}

	p := handler.BindPagination(c)
	list, total, err := h.payoutService.List(c.Request.Context(), party, c.Query("status"), p.GetOffset(), p.GetLimit())
	handler.MustSucceedPage(c, err, list, total, p)
}

// GetPayout 获取提现详情
// @Summary 获取提现详情
// @Tags 提现
// @Produce json
// @Security Bearer
// @Param id path int true "提现申请ID"
// @Param party_type query string false "主体类型 user/brand/affiliate"
// @Param party_id query int false "主体ID"
// @Success 200 {object} response.Response{data=models.PayoutRequest}
// @Router /api/v1/payouts/{id} [get]
func (h *Handler) GetPayout(c *gin.Context) {
	id, ok := handler.ParseID(c, "提现申请")
	if !ok {
		return
	}
	party, ok := handler.QueryParty(c, h.partnerService)
	if !ok {
		return
	}

	payout, err := h.payoutService.Get(c.Request.Context(), id, party)
	handler.MustSucceed(c, err, payout)
}

// CancelPayout 取消提现
// @Summary 取消提现
// @Description 仅已申请且未在处理中的提现可以取消，取消后释放冻结余额
// @Tags 提现
// @Produce json
// @Security Bearer
// @Param id path int true "提现申请ID"
// @Param party_type query string false "主体类型 user/brand/affiliate"
// @Param party_id query int false "主体ID"
// @Success 200 {object} response.Response{data=models.PayoutRequest}
// @Router /api/v1/payouts/{id}/cancel [post]
func (h *Handler) CancelPayout(c *gin.Context) {
	id, ok := handler.ParseID(c, "提现申请")
	if !ok {
		return
	}
	party, ok := handler.QueryParty(c, h.partnerService)
	if !ok {
		return
	}

	payout, err := h.payoutService.Cancel(c.Request.Context(), id, party)
	handler.MustSucceed(c, err, payout)
}

// BindAccount 绑定收款账户
// @Summary 绑定收款账户
// @Tags 提现
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body BindAccountRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.PayoutAccount}
// @Router /api/v1/payout-account [put]
func (h *Handler) BindAccount(c *gin.Context) {
	var req BindAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}
	party, ok := handler.RequireParty(c, h.partnerService, req.PartyType, req.PartyID)
	if !ok {
		return
	}

	account, err := h.payoutService.BindAccount(c.Request.Context(), party, req.Provider, req.DestinationRef, req.NotifyPhone)
	handler.MustSucceed(c, err, account)
}

// RegisterRoutes 注册路由，limiters 仅作用于发起提现
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, limiters ...gin.HandlerFunc) {
	payouts := r.Group("/payouts")
	{
		payouts.POST("", append(limiters, h.CreatePayout)...)
		payouts.GET("", h.ListPayouts)
		payouts.GET("/:id", h.GetPayout)
		payouts.POST("/:id/cancel", h.CancelPayout)
	}
	r.PUT("/payout-account", h.BindAccount)
}
