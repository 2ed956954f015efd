package handler

import (
	"errors"
	"net/http"

	"ai-chat-go/internal/identity"
	"ai-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// AuthHandler 负责处理认证相关的 API 请求，会话同时写入 cookie 与响应体。
type AuthHandler struct {
	resolver *identity.Resolver
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler(resolver *identity.Resolver) *AuthHandler {
	return &AuthHandler{resolver: resolver}
}

// CredentialsRequest 定义了注册与登录 API 的请求体结构。
type CredentialsRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

// RefreshTokenRequest 定义了刷新 token API 的请求体结构，缺省时读取 refresh cookie。
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// SignUp 处理邮箱注册请求。
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("SignUp: Invalid request payload, error: %v", err)
		respond(c, http.StatusBadRequest, "无效的请求负载：需要合法的邮箱和至少 6 位的密码", nil)
		return
	}
	session, err := h.resolver.Provider().SignUp(c.Request.Context(), req.Email, req.Password)
	if errors.Is(err, identity.ErrConfirmationRequired) {
		respond(c, http.StatusAccepted, "Confirmation email sent", nil)
		return
	}
	h.finish(c, session, err, "User registered successfully")
}

// SignIn 处理邮箱密码登录请求。
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("SignIn: Invalid request payload, error: %v", err)
		respond(c, http.StatusBadRequest, "无效的请求负载：邮箱和密码不能为空", nil)
		return
	}
	session, err := h.resolver.Provider().SignInWithPassword(c.Request.Context(), req.Email, req.Password)
	h.finish(c, session, err, "Login successful")
}

// SignInAnonymously 创建一个匿名会话。
func (h *AuthHandler) SignInAnonymously(c *gin.Context) {
	session, err := h.resolver.Provider().SignInAnonymously(c.Request.Context())
	h.finish(c, session, err, "Anonymous session created")
}

// RefreshToken 处理刷新 token 的请求，旧 refresh token 随即失效。
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond(c, http.StatusBadRequest, "无效的请求负载", nil)
			return
		}
	}
	refreshToken := req.RefreshToken
	if refreshToken == "" {
		refreshToken = h.resolver.RefreshCookie(c.Request)
	}
	if refreshToken == "" {
		respond(c, http.StatusBadRequest, "refreshToken 不能为空", nil)
		return
	}
	session, err := h.resolver.Provider().RefreshSession(c.Request.Context(), refreshToken)
	if err != nil {
		h.resolver.ClearSessionCookies(c.Writer)
	}
	h.finish(c, session, err, "Token refreshed successfully")
}

// SignOut 吊销当前 access token 并清除 cookie，未登录时同样返回成功。
func (h *AuthHandler) SignOut(c *gin.Context) {
	if accessToken := h.resolver.AccessToken(c.Request); accessToken != "" {
		if err := h.resolver.Provider().SignOut(c.Request.Context(), accessToken); err != nil && !errors.Is(err, identity.ErrInvalidToken) {
			log.Warnf("SignOut: failed to revoke session, error: %v", err)
		}
	}
	h.resolver.ClearSessionCookies(c.Writer)
	respond(c, http.StatusOK, "Logout successful", nil)
}

func (h *AuthHandler) finish(c *gin.Context, session *identity.Session, err error, message string) {
	if err != nil {
		status, msg := authErrorStatus(err)
		if status == http.StatusInternalServerError {
			log.Error("auth request failed", err)
		} else {
			log.Warnf("auth request rejected: %v", err)
		}
		respond(c, status, msg, nil)
		return
	}
	h.resolver.SetSessionCookies(c.Writer, session)
	log.Infow(message, "userID", session.User.UserID, "anonymous", session.User.IsAnonymous)
	respond(c, http.StatusOK, message, session)
}

func authErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, identity.ErrEmailTaken):
		return http.StatusConflict, "邮箱已被注册"
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized, "邮箱或密码错误"
	case errors.Is(err, identity.ErrInvalidToken):
		return http.StatusUnauthorized, "无效的 refresh token"
	default:
		return http.StatusInternalServerError, "认证服务暂时不可用"
	}
}

// respond 写出统一的 {code, message, data} 响应。
func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": data})
}
