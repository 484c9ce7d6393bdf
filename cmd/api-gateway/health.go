package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/dumeirei/merch-settlement/internal/common/database"
	"github.com/dumeirei/merch-settlement/pkg/mqtt"
)

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp int64             `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// healthHandler 健康检查（简单版）
func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().Unix(),
	})
}

// pingHandler Ping 检查
func pingHandler(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

// readyHandler 就绪检查，mqttClient 为空表示未启用消息订阅
func readyHandler(db *gorm.DB, redisClient *redis.Client, mqttClient *mqtt.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		checks := make(map[string]string)
		allHealthy := true

		checks["database"] = "ok"
		if err := database.Ping(ctx, db); err != nil {
			checks["database"] = "error: " + err.Error()
			allHealthy = false
		}

		checks["redis"] = "ok"
		if err := redisClient.Ping(ctx).Err(); err != nil {
			checks["redis"] = "error: " + err.Error()
			allHealthy = false
		}

		if mqttClient != nil {
			checks["mqtt"] = "ok"
			if !mqttClient.IsConnected() {
				checks["mqtt"] = "disconnected"
				allHealthy = false
			}
		}

		status := http.StatusOK
		statusText := "ready"
		if !allHealthy {
			status = http.StatusServiceUnavailable
			statusText = "not ready"
		}

		c.JSON(status, HealthResponse{
			Status:    statusText,
			Timestamp: time.Now().Unix(),
			Checks:    checks,
		})
	}
}
