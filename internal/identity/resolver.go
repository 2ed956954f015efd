package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"ai-chat-go/internal/config"
	"ai-chat-go/pkg/log"
)

const bearerPrefix = "Bearer "

// 未提供 refresh token 过期时间时 refresh cookie 的存活期
const defaultRefreshCookieAge = 7 * 24 * time.Hour

// Resolver 把请求解析为 Principal。每个请求解析一次，不做缓存。
type Resolver struct {
	provider Provider
	cookie   config.CookieConfig
	now      func() time.Time
}

// NewResolver 创建一个新的 Resolver。
func NewResolver(provider Provider, cookie config.CookieConfig) *Resolver {
	if cookie.AccessName == "" {
		cookie.AccessName = "sb-access-token"
	}
	if cookie.RefreshName == "" {
		cookie.RefreshName = "sb-refresh-token"
	}
	return &Resolver{provider: provider, cookie: cookie, now: time.Now}
}

// Provider 返回底层身份提供方。
func (r *Resolver) Provider() Provider {
	return r.provider
}

// Resolve 解析请求中的主体，解析失败返回 nil 而不是错误。
// 带 Authorization: Bearer 时只看该 token；否则读取会话 cookie，
// access cookie 失效且存在 refresh cookie 时刷新会话并在响应上轮换 cookie。
func (r *Resolver) Resolve(w http.ResponseWriter, req *http.Request) *Principal {
	ctx := req.Context()
	if tokenString := BearerToken(req); tokenString != "" {
		return r.ResolveToken(ctx, tokenString)
	}

	if c, err := req.Cookie(r.cookie.AccessName); err == nil && c.Value != "" {
		if principal := r.ResolveToken(ctx, c.Value); principal != nil {
			return principal
		}
	}

	rc, err := req.Cookie(r.cookie.RefreshName)
	if err != nil || rc.Value == "" {
		return nil
	}
	session, err := r.provider.RefreshSession(ctx, rc.Value)
	if err != nil {
		if !errors.Is(err, ErrInvalidToken) {
			log.Warnf("[Resolver] 刷新会话失败: %v", err)
		}
		r.ClearSessionCookies(w)
		return nil
	}
	r.SetSessionCookies(w, session)
	principal := session.User
	return &principal
}

// ResolveToken 校验单个 access token。
func (r *Resolver) ResolveToken(ctx context.Context, accessToken string) *Principal {
	principal, err := r.provider.GetUser(ctx, accessToken)
	if err != nil {
		if !errors.Is(err, ErrInvalidToken) {
			log.Warnf("[Resolver] 校验 access token 失败: %v", err)
		}
		return nil
	}
	return principal
}

// SetSessionCookies 把会话写入 cookie。
func (r *Resolver) SetSessionCookies(w http.ResponseWriter, s *Session) {
	accessAge := s.ExpiresAt.Sub(r.now())
	refreshAge := defaultRefreshCookieAge
	if !s.RefreshExpiresAt.IsZero() {
		refreshAge = s.RefreshExpiresAt.Sub(r.now())
	}
	http.SetCookie(w, r.newCookie(r.cookie.AccessName, s.AccessToken, accessAge))
	http.SetCookie(w, r.newCookie(r.cookie.RefreshName, s.RefreshToken, refreshAge))
}

// ClearSessionCookies 让客户端删除会话 cookie。
func (r *Resolver) ClearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, r.newCookie(r.cookie.AccessName, "", -1))
	http.SetCookie(w, r.newCookie(r.cookie.RefreshName, "", -1))
}

// RefreshCookie 返回请求携带的 refresh cookie 值。
func (r *Resolver) RefreshCookie(req *http.Request) string {
	if c, err := req.Cookie(r.cookie.RefreshName); err == nil {
		return c.Value
	}
	return ""
}

// AccessToken 返回请求携带的 access token，bearer 优先于 cookie。
func (r *Resolver) AccessToken(req *http.Request) string {
	if tokenString := BearerToken(req); tokenString != "" {
		return tokenString
	}
	if c, err := req.Cookie(r.cookie.AccessName); err == nil {
		return c.Value
	}
	return ""
}

func (r *Resolver) newCookie(name, value string, maxAge time.Duration) *http.Cookie {
	age := int(maxAge / time.Second)
	if maxAge < 0 {
		age = -1
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   r.cookie.Domain,
		MaxAge:   age,
		HttpOnly: true,
		Secure:   r.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// BearerToken 提取 Authorization: Bearer <token> 中的 token。
func BearerToken(req *http.Request) string {
	authHeader := req.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
}
