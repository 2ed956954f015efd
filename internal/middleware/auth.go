// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"

	"ai-chat-go/internal/identity"

	"github.com/gin-gonic/gin"
)

const principalKey = "principal"

// Identify 为每个请求解析一次主体并存入 Gin 上下文；解析失败不会中止请求。
// cookie 会话可能在此处被刷新，新 cookie 写在响应上。
func Identify(resolver *identity.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if principal := resolver.Resolve(c.Writer, c.Request); principal != nil {
			c.Set(principalKey, principal)
		}
		c.Next()
	}
}

// RequireAuth 拒绝没有主体的 REST 请求。
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if PrincipalFrom(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效或已过期的 token", "data": nil})
			return
		}
		c.Next()
	}
}

// PrincipalFrom 返回 Identify 存入的主体，未认证时为 nil。
func PrincipalFrom(c *gin.Context) *identity.Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	principal, _ := v.(*identity.Principal)
	return principal
}
