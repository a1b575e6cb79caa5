package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AdminKey 校验管理端路由的 X-Admin-Key 头。
//
// 未配置密钥时管理路由整体禁用。
func AdminKey(key string) gin.HandlerFunc {
	key = strings.TrimSpace(key)
	return func(c *gin.Context) {
		if key == "" {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin routes disabled"})
			c.Abort()
			return
		}
		got := c.GetHeader("X-Admin-Key")
		if got == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Admin key required"})
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid admin key"})
			c.Abort()
			return
		}
		c.Next()
	}
}
