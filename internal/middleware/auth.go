// Package middleware 提供 HTTP 中间件
package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dumeirei/merch-settlement/internal/common/jwt"
	"github.com/dumeirei/merch-settlement/internal/common/response"
)

// 上下文键
const (
	ContextKeyUserID   = "user_id"
	ContextKeyUserType = "user_type"
)

// Auth 认证中间件，userTypes 为空时接受任意主体类型
func Auth(manager *jwt.Manager, userTypes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}

		claims, err := manager.Parse(token)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				response.Unauthorized(c, "登录已过期，请重新登录")
			} else {
				response.Unauthorized(c, "无效的令牌")
			}
			c.Abort()
			return
		}

		if len(userTypes) > 0 && !contains(userTypes, claims.UserType) {
			response.Forbidden(c, "无权访问")
			c.Abort()
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyUserType, claims.UserType)
		c.Next()
	}
}

// UserAuth 用户认证中间件
func UserAuth(manager *jwt.Manager) gin.HandlerFunc {
	return Auth(manager, jwt.UserTypeUser)
}

// AdminAuth 管理员认证中间件
func AdminAuth(manager *jwt.Manager) gin.HandlerFunc {
	return Auth(manager, jwt.UserTypeAdmin)
}

// ServiceAuth 内部服务认证中间件（订单事件推送方）
func ServiceAuth(manager *jwt.Manager) gin.HandlerFunc {
	return Auth(manager, jwt.UserTypeService, jwt.UserTypeAdmin)
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// GetUserID 从上下文获取用户 ID
func GetUserID(c *gin.Context) int64 {
	if v, ok := c.Get(ContextKeyUserID); ok {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return 0
}

// GetUserType 从上下文获取主体类型
func GetUserType(c *gin.Context) string {
	return c.GetString(ContextKeyUserType)
}
