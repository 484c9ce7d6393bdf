package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	adminHandler "github.com/dumeirei/merch-settlement/internal/handler/admin"
	ledgerHandler "github.com/dumeirei/merch-settlement/internal/handler/ledger"
	partnerHandler "github.com/dumeirei/merch-settlement/internal/handler/partner"
	payoutHandler "github.com/dumeirei/merch-settlement/internal/handler/payout"
	settlementHandler "github.com/dumeirei/merch-settlement/internal/handler/settlement"
	webhookHandler "github.com/dumeirei/merch-settlement/internal/handler/webhook"
	"github.com/dumeirei/merch-settlement/internal/middleware"
)

// maxBodyBytes 请求体上限，Stripe 回调与订单事件都远小于此值
const maxBodyBytes = 1 << 20

// setupRouter 设置路由
func setupRouter(r *gin.Engine, a *app) {
	cfg := a.cfg

	// 初始化处理器
	settlementH := settlementHandler.NewHandler(a.settlement, a.partners)
	ledgerH := ledgerHandler.NewHandler(a.ledger, a.partners)
	payoutH := payoutHandler.NewHandler(a.payouts, a.partners)
	partnerH := partnerHandler.NewHandler(a.partners)
	webhookH := webhookHandler.NewHandler(a.parser, a.payouts, a.log)
	adminPartnerH := adminHandler.NewPartnerHandler(a.partners)
	adminFinanceH := adminHandler.NewFinanceHandler(a.settlement, a.ledger, a.payouts, a.statements)
	adminAuditH := adminHandler.NewAuditHandler(a.auditLogs)

	// 全局中间件
	r.Use(middleware.Recovery(a.log))
	r.Use(middleware.RequestID())
	r.Use(middleware.CORS(&cfg.CORS))
	r.Use(middleware.AccessLog(a.log))
	r.Use(middleware.MaxBodySize(maxBodyBytes))
	if cfg.Metrics.Enabled {
		r.Use(a.metrics.Middleware())
	}
	if cfg.Tracing.Enabled {
		r.Use(middleware.Tracing(cfg.Tracing.ServiceName, "/health", "/ping", "/ready", metricsPath(cfg.Metrics.Path)))
	}

	// 健康检查（不需要认证）
	r.GET("/health", healthHandler)
	r.GET("/ping", pingHandler)
	r.GET("/ready", readyHandler(a.db, a.redisClient, a.mqttClient))
	if cfg.Metrics.Enabled {
		r.GET(metricsPath(cfg.Metrics.Path), a.metrics.Handler())
	}

	// Swagger 文档
	if !cfg.IsRelease() {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	v1 := r.Group("/api/v1")
	{
		// 转账通道回调（验签，不需要认证）
		webhookH.RegisterRoutes(v1)

		// 上游订单服务推送
		internal := v1.Group("/internal")
		internal.Use(middleware.ServiceAuth(a.jwtManager))
		settlementH.RegisterInternalRoutes(internal)

		// 品牌方与推广员接口
		user := v1.Group("")
		user.Use(middleware.UserAuth(a.jwtManager))
		{
			settlementH.RegisterRoutes(user)
			ledgerH.RegisterRoutes(user)
			partnerH.RegisterRoutes(user)

			var limiters []gin.HandlerFunc
			if cfg.RateLimit.Enabled && cfg.RateLimit.PayoutPerMinute > 0 {
				limiters = append(limiters, middleware.RateLimit(a.store, "payout", cfg.RateLimit.PayoutPerMinute, time.Minute))
			}
			payoutH.RegisterRoutes(user, limiters...)
		}
	}

	// 管理后台 API
	admin := r.Group("/api/admin")
	admin.Use(middleware.AdminAuth(a.jwtManager), middleware.Audit(a.auditLogs, a.log))
	{
		adminPartnerH.RegisterRoutes(admin)
		adminFinanceH.RegisterRoutes(admin)
		adminAuditH.RegisterRoutes(admin)
	}

	// 404 处理
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    404,
			"message": "接口不存在",
		})
	})
}

func metricsPath(p string) string {
	if p == "" {
		return "/metrics"
	}
	return p
}
