// Package admin 管理端 HTTP Handler
package admin

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/dumeirei/merch-settlement/internal/common/errors"
	"github.com/dumeirei/merch-settlement/internal/common/handler"
	"github.com/dumeirei/merch-settlement/internal/common/response"
	partnerService "github.com/dumeirei/merch-settlement/internal/service/partner"
	"github.com/dumeirei/merch-settlement/pkg/money"
)

// PartnerHandler 合作方管理处理器
type PartnerHandler struct {
	partnerService *partnerService.Service
}

// NewPartnerHandler 创建合作方管理处理器
func NewPartnerHandler(partnerSvc *partnerService.Service) *PartnerHandler {
	return &PartnerHandler{partnerService: partnerSvc}
}

// SetBrandRateRequest 调整品牌分成请求
type SetBrandRateRequest struct {
	CommissionRate decimal.Decimal `json:"commission_rate" swaggertype:"string" example:"0.6"`
}

// BanAffiliateRequest 封禁推广员请求，Until 为空表示永久封禁
type BanAffiliateRequest struct {
	Until  *time.Time `json:"until"`
	Reason string     `json:"reason" binding:"max=255"`
}

// CreateReferralRequest 建立推荐关系请求
type CreateReferralRequest struct {
	ReferrerUserID int64 `json:"referrer_user_id" binding:"required,gt=0"`
	ReferredUserID int64 `json:"referred_user_id" binding:"required,gt=0"`
}

// ListBrands 获取品牌列表
// @Summary 获取品牌列表
// @Tags 管理-合作方
// @Produce json
// @Security Bearer
// @Param status query string false "审核状态"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/admin/brands [get]
func (h *PartnerHandler) ListBrands(c *gin.Context) {
	p := handler.BindPagination(c)
	list, total, err := h.partnerService.ListBrands(c.Request.Context(), c.Query("status"), p.GetOffset(), p.GetLimit())
	handler.MustSucceedPage(c, err, list, total, p)
}

// ApproveBrand 审核通过品牌
// @Summary 审核通过品牌
// @Tags 管理-合作方
// @Produce json
// @Security Bearer
// @Param id path int true "品牌ID"
// @Success 200 {object} response.Response{data=models.Brand}
// @Router /api/admin/brands/{id}/approve [post]
func (h *PartnerHandler) ApproveBrand(c *gin.Context) {
	id, ok := handler.ParseID(c, "品牌")
	if !ok {
		return
	}
	brand, err := h.partnerService.ApproveBrand(c.Request.Context(), id)
	handler.MustSucceed(c, err, brand)
}

// RejectBrand 驳回品牌
// @Summary 驳回品牌
// @Tags 管理-合作方
// @Produce json
// @Security Bearer
// @Param id path int true "品牌ID"
// @Success 200 {object} response.Response{data=models.Brand}
// @Router /api/admin/brands/{id}/reject [post]
func (h *PartnerHandler) RejectBrand(c *gin.Context) {
	id, ok := handler.ParseID(c, "品牌")
	if !ok {
		return
	}
	brand, err := h.partnerService.RejectBrand(c.Request.Context(), id)
	handler.MustSucceed(c, err, brand)
}

// SetBrandRate 调整品牌分成比例
// @Summary 调整品牌分成比例
// @Description 只影响之后结算的订单，已结算记录不变
// @Tags 管理-合作方
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path int true "品牌ID"
// @Param request body SetBrandRateRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.Brand}
// @Router /api/admin/brands/{id}/rate [put]
func (h *PartnerHandler) SetBrandRate(c *gin.Context) {
	id, ok := handler.ParseID(c, "品牌")
	if !ok {
		return
	}
	var req SetBrandRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}
	rate, err := money.RateFromDecimal(req.CommissionRate)
	if err != nil {
		response.BadRequest(c, "无效的分成比例")
		return
	}

	brand, err := h.partnerService.SetBrandRate(c.Request.Context(), id, rate)
	if errors.Is(err, errors.ErrInvalidRate) {
		// 管理员需要看到越界原因
		response.BadRequest(c, errors.GetAppError(err).Message)
		return
	}
	handler.MustSucceed(c, err, brand)
}

// DeleteBrand 删除品牌
// @Summary 删除品牌
// @Description 软删除，品牌账本保留但不可再提现
// @Tags 管理-合作方
// @Produce json
// @Security Bearer
// @Param id path int true "品牌ID"
// @Success 200 {object} response.Response
// @Router /api/admin/brands/{id} [delete]
func (h *PartnerHandler) DeleteBrand(c *gin.Context) {
	id, ok := handler.ParseID(c, "品牌")
	if !ok {
		return
	}
	handler.MustSucceed(c, h.partnerService.DeleteBrand(c.Request.Context(), id), nil)
}

// ListAffiliates 获取推广员列表
// @Summary 获取推广员列表
// @Tags 管理-合作方
// @Produce json
// @Security Bearer
// @Param brand_id query int false "品牌ID"
// @Param status query string false "状态"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/admin/affiliates [get]
func (h *PartnerHandler) ListAffiliates(c *gin.Context) {
	brandID, _ := parseInt64(c.Query("brand_id"))
	p := handler.BindPagination(c)
	list, total, err := h.partnerService.ListAffiliates(c.Request.Context(), brandID, c.Query("status"), p.GetOffset(), p.GetLimit())
	handler.MustSucceedPage(c, err, list, total, p)
}

// ApproveAffiliate 审核通过推广员
// @Summary 审核通过推广员
// @Tags 管理-合作方
// @Produce json
// @Security Bearer
// @Param id path int true "推广员ID"
// @Success 200 {object} response.Response{data=models.Affiliate}
// @Router /api/admin/affiliates/{id}/approve [post]
func (h *PartnerHandler) ApproveAffiliate(c *gin.Context) {
	id, ok := handler.ParseID(c, "推广员")
	if !ok {
		return
	}
	affiliate, err := h.partnerService.ApproveAffiliate(c.Request.Context(), id)
	handler.MustSucceed(c, err, affiliate)
}

// RejectAffiliate 驳回推广员
// @Summary 驳回推广员
// @Tags 管理-合作方
// @Produce json
// @Security Bearer
// @Param id path int true "推广员ID"
// @Success 200 {object} response.Response{data=models.Affiliate}
// @Router /api/admin/affiliates/{id}/reject [post]
func (h *PartnerHandler) RejectAffiliate(c *gin.Context) {
	id, ok := handler.ParseID(c, "推广员")
	if !ok {
		return
	}
	affiliate, err := h.partnerService.RejectAffiliate(c.Request.Context(), id)
	handler.MustSucceed(c, err, affiliate)
}

// BanAffiliate 封禁推广员
// @Summary 封禁推广员
// @Description 封禁期间不再归因新订单，也不可提现
// @Tags 管理-合作方
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path int true "推广员ID"
// @Param request body BanAffiliateRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.Affiliate}
// @Router /api/admin/affiliates/{id}/ban [post]
func (h *PartnerHandler) BanAffiliate(c *gin.Context) {
	id, ok := handler.ParseID(c, "推广员")
	if !ok {
		return
	}
	var req BanAffiliateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}
	affiliate, err := h.partnerService.BanAffiliate(c.Request.Context(), id, req.Until, req.Reason)
	handler.MustSucceed(c, err, affiliate)
}

// UnbanAffiliate 解封推广员
// @Summary 解封推广员
// @Tags 管理-合作方
// @Produce json
// @Security Bearer
// @Param id path int true "推广员ID"
// @Success 200 {object} response.Response{data=models.Affiliate}
// @Router /api/admin/affiliates/{id}/unban [post]
func (h *PartnerHandler) UnbanAffiliate(c *gin.Context) {
	id, ok := handler.ParseID(c, "推广员")
	if !ok {
		return
	}
	affiliate, err := h.partnerService.UnbanAffiliate(c.Request.Context(), id)
	handler.MustSucceed(c, err, affiliate)
}

// CreateReferral 建立推荐关系
// @Summary 建立推荐关系
// @Tags 管理-合作方
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body CreateReferralRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.Referral}
// @Router /api/admin/referrals [post]
func (h *PartnerHandler) CreateReferral(c *gin.Context) {
	var req CreateReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}
	referral, err := h.partnerService.CreateReferral(c.Request.Context(), req.ReferrerUserID, req.ReferredUserID)
	handler.MustSucceed(c, err, referral)
}

// CompleteReferral 推荐关系生效
// @Summary 推荐关系生效
// @Tags 管理-合作方
// @Produce json
// @Security Bearer
// @Param id path int true "推荐关系ID"
// @Success 200 {object} response.Response{data=models.Referral}
// @Router /api/admin/referrals/{id}/complete [post]
func (h *PartnerHandler) CompleteReferral(c *gin.Context) {
	id, ok := handler.ParseID(c, "推荐关系")
	if !ok {
		return
	}
	referral, err := h.partnerService.CompleteReferral(c.Request.Context(), id)
	handler.MustSucceed(c, err, referral)
}

// RegisterRoutes 注册路由
func (h *PartnerHandler) RegisterRoutes(r *gin.RouterGroup) {
	brands := r.Group("/brands")
	{
		brands.GET("", h.ListBrands)
		brands.POST("/:id/approve", h.ApproveBrand)
		brands.POST("/:id/reject", h.RejectBrand)
		brands.PUT("/:id/rate", h.SetBrandRate)
		brands.DELETE("/:id", h.DeleteBrand)
	}

	affiliates := r.Group("/affiliates")
	{
		affiliates.GET("", h.ListAffiliates)
		affiliates.POST("/:id/approve", h.ApproveAffiliate)
		affiliates.POST("/:id/reject", h.RejectAffiliate)
		affiliates.POST("/:id/ban", h.BanAffiliate)
		affiliates.POST("/:id/unban", h.UnbanAffiliate)
	}

	referrals := r.Group("/referrals")
	{
		referrals.POST("", h.CreateReferral)
		referrals.POST("/:id/complete", h.CompleteReferral)
	}
}
