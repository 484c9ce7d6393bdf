// Package partner 提供品牌入驻、推广员申请与推荐码的 HTTP Handler
package partner

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/dumeirei/merch-settlement/internal/common/errors"
	"github.com/dumeirei/merch-settlement/internal/common/handler"
	"github.com/dumeirei/merch-settlement/internal/common/response"
	partnerService "github.com/dumeirei/merch-settlement/internal/service/partner"
	"github.com/dumeirei/merch-settlement/pkg/money"
)

// Handler 合作方处理器
type Handler struct {
	partnerService *partnerService.Service
}

// NewHandler 创建合作方处理器
func NewHandler(partnerSvc *partnerService.Service) *Handler {
	return &Handler{partnerService: partnerSvc}
}

// RegisterBrandRequest 品牌入驻请求
type RegisterBrandRequest struct {
	Name           string           `json:"name" binding:"required,max=100"`
	CommissionRate *decimal.Decimal `json:"commission_rate" swaggertype:"string" example:"0.6"`
}

// ApplyAffiliateRequest 推广员申请请求
type ApplyAffiliateRequest struct {
	BrandID        int64           `json:"brand_id" binding:"required,gt=0"`
	CommissionRate decimal.Decimal `json:"commission_rate" swaggertype:"string" example:"0.1"`
}


// RegisterBrand 品牌入驻
// @Summary 品牌入驻
// @Description 未指定分成比例时使用平台默认比例，提交后等待审核
// @Tags 合作方
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body RegisterBrandRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.Brand}
// @Router /api/v1/brands [post]
func (h *Handler) RegisterBrand(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	var req RegisterBrandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	var rate *money.Rate
	if req.CommissionRate != nil {
		r, err := money.RateFromDecimal(*req.CommissionRate)
		if err != nil {
			response.BadRequest(c, "无效的分成比例")
			return
		}
		rate = &r
	}

	brand, err := h.partnerService.RegisterBrand(c.Request.Context(), userID, req.Name, rate)
	if rejectRate(c, err) {
		return
	}
	handler.MustSucceed(c, err, brand)
}

// ApplyAffiliate 申请成为推广员
// @Summary 申请成为推广员
// @Tags 合作方
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body ApplyAffiliateRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.Affiliate}
// @Router /api/v1/affiliates [post]
func (h *Handler) ApplyAffiliate(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	var req ApplyAffiliateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}
	rate, err := money.RateFromDecimal(req.CommissionRate)
	if err != nil {
		response.BadRequest(c, "无效的分佣比例")
		return
	}

	affiliate, err := h.partnerService.ApplyAffiliate(c.Request.Context(), userID, req.BrandID, rate)
	if rejectRate(c, err) {
		return
	}
	handler.MustSucceed(c, err, affiliate)
}

// GetReferralCode 获取我的推荐码
// @Summary 获取我的推荐码
// @Description 返回推荐码、推荐链接及链接二维码（data URL）
// @Tags 合作方
// @Produce json
// @Security Bearer
// @Success 200 {object} response.Response{data=partnerService.ReferralInvite}
// @Router /api/v1/referrals/code [get]
func (h *Handler) GetReferralCode(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}
	invite, err := h.partnerService.ReferralInvite(userID)
	handler.MustSucceed(c, err, invite)
}

// GetReferralQRCode 获取推荐链接二维码图片
// @Summary 获取推荐链接二维码图片
// @Tags 合作方
// @Produce png
// @Security Bearer
// @Success 200 {file} binary
// @Router /api/v1/referrals/qrcode [get]
func (h *Handler) GetReferralQRCode(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}
	data, err := h.partnerService.ReferralQRCode(userID)
	if handler.HandleError(c, err) {
		return
	}
	c.Header("Cache-Control", "private, max-age=3600")
	c.Data(http.StatusOK, "image/png", data)
}

// ListReferrals 获取我推荐的用户
// @Summary 获取我推荐的用户
// @Tags 合作方
// @Produce json
// @Security Bearer
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/v1/referrals [get]
func (h *Handler) ListReferrals(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	p := handler.BindPagination(c)
	list, total, err := h.partnerService.ListReferrals(c.Request.Context(), userID, p.GetOffset(), p.GetLimit())
	handler.MustSucceedPage(c, err, list, total, p)
}

// ListParties 获取我名下的账本主体
// @Summary 获取我名下的账本主体
// @Tags 合作方
// @Produce json
// @Security Bearer
// @Success 200 {object} response.Response{data=[]models.Party}
// @Router /api/v1/parties [get]
func (h *Handler) ListParties(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	parties, err := h.partnerService.Parties(c.Request.Context(), userID)
	handler.MustSucceed(c, err, parties)
}

// rejectRate 用户提交的比例越界时返回 400，其余结算配置错误仍只对运维可见
func rejectRate(c *gin.Context, err error) bool {
	if err != nil && errors.Is(err, errors.ErrInvalidRate) {
		response.BadRequest(c, errors.GetAppError(err).Message)
		return true
	}
	return false
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/brands", h.RegisterBrand)
	r.POST("/affiliates", h.ApplyAffiliate)
	r.GET("/referrals", h.ListReferrals)
	r.GET("/referrals/code", h.GetReferralCode)
	r.GET("/referrals/qrcode", h.GetReferralQRCode)
	r.GET("/parties", h.ListParties)
}
