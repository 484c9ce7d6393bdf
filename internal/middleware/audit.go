package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dumeirei/merch-settlement/internal/common/jwt"
	"github.com/dumeirei/merch-settlement/internal/models"
)

// AuditWriter 操作记录落库
type AuditWriter interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

var sensitiveFields = []string{
	"password", "token", "secret", "api_key",
	"destination_ref", "phone",
}

// Audit 记录管理端写操作，需挂在 AdminAuth 之后
func Audit(writer AuditWriter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isWrite(c.Request.Method) {
			c.Next()
			return
		}

		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
		}

		c.Next()

		adminID := GetUserID(c)
		if adminID <= 0 || GetUserType(c) != jwt.UserTypeAdmin {
			return
		}
		entry := buildAuditLog(c, adminID, body)

		// gin.Context 在请求结束后会被复用，这里只传已拷贝的数据
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := writer.Create(ctx, entry); err != nil {
				logger.Warn("write audit log failed",
					zap.String("route", entry.Route),
					zap.Int64("admin_id", entry.AdminID),
					zap.Error(err),
				)
			}
		}()
	}
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func buildAuditLog(c *gin.Context, adminID int64, body []byte) *models.AuditLog {
	route := c.FullPath()
	module, action := routeAction(c.Request.Method, route)
	entry := &models.AuditLog{
		AdminID:   adminID,
		Module:    module,
		Action:    action,
		Route:     c.Request.Method + " " + route,
		Status:    c.Writer.Status(),
		RequestID: GetRequestID(c),
		IP:        c.ClientIP(),
	}
	if ua := c.Request.UserAgent(); ua != "" {
		if len(ua) > 255 {
			ua = ua[:255]
		}
		entry.UserAgent = &ua
	}
	if id, err := strconv.ParseInt(c.Param("id"), 10, 64); err == nil {
		entry.TargetID = &id
	}
	if len(body) > 0 {
		var data interface{}
		if err := json.Unmarshal(body, &data); err == nil {
			if m, ok := maskSensitive(data).(map[string]interface{}); ok {
				entry.Payload = m
			}
		}
	}
	return entry
}

// routeAction 从路由推断模块与动作，如 POST /api/admin/affiliates/:id/ban -> affiliates, ban
func routeAction(method, route string) (string, string) {
	route = strings.TrimPrefix(route, "/api/admin")
	segments := strings.Split(strings.Trim(route, "/"), "/")
	module := "unknown"
	if len(segments) > 0 && segments[0] != "" {
		module = segments[0]
	}
	if last := segments[len(segments)-1]; len(segments) > 1 && !strings.HasPrefix(last, ":") {
		return module, last
	}
	switch method {
	case http.MethodPost:
		return module, "create"
	case http.MethodDelete:
		return module, "delete"
	default:
		return module, "update"
	}
}

func maskSensitive(data interface{}) interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, value := range v {
			if isSensitive(key) {
				out[key] = "***"
				continue
			}
			out[key] = maskSensitive(value)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = maskSensitive(item)
		}
		return out
	default:
		return data
	}
}

func isSensitive(key string) bool {
	key = strings.ToLower(key)
	for _, f := range sensitiveFields {
		if strings.Contains(key, f) {
			return true
		}
	}
	return false
}
