package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dumeirei/merch-settlement/internal/common/cache"
	"github.com/dumeirei/merch-settlement/internal/common/response"
)

// RateLimit 基于 Redis 固定窗口的限流中间件，Redis 故障时放行
func RateLimit(store *cache.Store, scope string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := c.ClientIP()
		if userID := GetUserID(c); userID > 0 {
			subject = strconv.FormatInt(userID, 10)
		}
		key := cache.BuildKey(cache.KeyPrefixRateLimit, scope, subject)

		count, err := store.IncrWindow(c.Request.Context(), key, window)
		if err != nil {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		if int(count) > limit {
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			response.TooManyRequests(c, "请求过于频繁，请稍后再试")
			c.Abort()
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(limit-int(count)))
		c.Next()
	}
}
