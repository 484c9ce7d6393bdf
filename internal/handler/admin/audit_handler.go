package admin

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/dumeirei/merch-settlement/internal/common/handler"
	"github.com/dumeirei/merch-settlement/internal/models"
	"github.com/dumeirei/merch-settlement/internal/repository"
)

// AuditLister 操作记录查询
type AuditLister interface {
	List(ctx context.Context, filter repository.AuditLogFilter, offset, limit int) ([]*models.AuditLog, int64, error)
}

// AuditHandler 操作记录处理器
type AuditHandler struct {
	logs AuditLister
}

// NewAuditHandler 创建操作记录处理器
func NewAuditHandler(logs AuditLister) *AuditHandler {
	return &AuditHandler{logs: logs}
}

// ListAuditLogs 获取管理端操作记录
// @Summary 获取操作记录
// @Tags 管理-审计
// @Produce json
// @Security Bearer
// @Param admin_id query int false "管理员ID"
// @Param module query string false "模块，如 brands、affiliates"
// @Param target_id query int false "目标ID"
// @Param start_date query string false "开始日期 YYYY-MM-DD"
// @Param end_date query string false "结束日期 YYYY-MM-DD"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/admin/audit-logs [get]
func (h *AuditHandler) ListAuditLogs(c *gin.Context) {
	start, end, ok := handler.BindDateRange(c)
	if !ok {
		return
	}
	filter := repository.AuditLogFilter{
		Module: c.Query("module"),
		Start:  start,
		End:    end,
	}
	filter.AdminID, _ = parseInt64(c.Query("admin_id"))
	filter.TargetID, _ = parseInt64(c.Query("target_id"))

	p := handler.BindPagination(c)
	list, total, err := h.logs.List(c.Request.Context(), filter, p.GetOffset(), p.GetLimit())
	handler.MustSucceedPage(c, err, list, total, p)
}

// RegisterRoutes 注册路由
func (h *AuditHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/audit-logs", h.ListAuditLogs)
}
