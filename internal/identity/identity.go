// Package identity 负责把入站请求解析为主体（Principal）。
// 认证本身委托给身份提供方：内置的 local 实现或远端的 Supabase (GoTrue)。
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidToken 表示 token 无效、过期或已被吊销。
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrInvalidCredentials 表示邮箱或密码错误。
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailTaken 表示注册邮箱已被占用。
	ErrEmailTaken = errors.New("email already registered")
	// ErrConfirmationRequired 表示注册成功但需要邮箱确认后才能登录。
	ErrConfirmationRequired = errors.New("email confirmation required")
)

// Principal 是与请求关联的已认证身份。
type Principal struct {
	UserID      string         `json:"id"`
	Email       string         `json:"email,omitempty"`
	IsAnonymous bool           `json:"isAnonymous"`
	Role        string         `json:"role,omitempty"`
	Claims      map[string]any `json:"-"`
}

// Session 是一次登录产生的 token 对。
type Session struct {
	AccessToken      string    `json:"token"`
	RefreshToken     string    `json:"refreshToken"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RefreshExpiresAt time.Time `json:"-"`
	User             Principal `json:"user"`
}

// Provider 定义了身份提供方需要提供的能力。
type Provider interface {
	// GetUser 校验 access token 并返回对应主体；无效时返回 ErrInvalidToken。
	GetUser(ctx context.Context, accessToken string) (*Principal, error)
	SignUp(ctx context.Context, email, password string) (*Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignInAnonymously(ctx context.Context) (*Session, error)
	// RefreshSession 用 refresh token 换取新的 token 对（旧 token 轮换失效）。
	RefreshSession(ctx context.Context, refreshToken string) (*Session, error)
	SignOut(ctx context.Context, accessToken string) error
}
