// Package token 提供了用于生成和验证 JSON Web Tokens (JWT) 的功能。
// 声明结构与 Supabase (GoTrue) 签发的 access token 保持一致，
// 因此同一套校验逻辑既能用于内置身份提供方，也能用于本地校验 Supabase token。
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// TypeAccess 与 TypeRefresh 区分两类 token；Supabase 的 access token 不带该字段。
	TypeAccess  = "access"
	TypeRefresh = "refresh"

	// RoleAuthenticated 是已登录主体（含匿名会话）的角色。
	RoleAuthenticated = "authenticated"
	audience          = "authenticated"
)

// ErrWrongTokenType 表示 token 类型与调用场景不符，例如把 refresh token 当作 access token 使用。
var ErrWrongTokenType = errors.New("wrong token type")

// JWTManager 负责管理 JWT 的生成和验证。
type JWTManager struct {
	secretKey       []byte        // secretKey 用于签名和验证 token 的密钥
	accessTokenDur  time.Duration // accessTokenDur 定义了 access token 的有效期
	refreshTokenDur time.Duration // refreshTokenDur 定义了 refresh token 的有效期
	now             func() time.Time
}

// CustomClaims 定义了 JWT 中存储的自定义数据，Subject 为用户 ID。
type CustomClaims struct {
	Email       string `json:"email,omitempty"`
	Role        string `json:"role,omitempty"`
	IsAnonymous bool   `json:"is_anonymous"`
	SessionID   string `json:"session_id,omitempty"`
	TokenType   string `json:"token_type,omitempty"`
	jwt.RegisteredClaims
}

// NewJWTManager 创建一个新的 JWTManager 实例。
func NewJWTManager(secret string, accessTokenDur, refreshTokenDur time.Duration) *JWTManager {
	return &JWTManager{
		secretKey:       []byte(secret),
		accessTokenDur:  accessTokenDur,
		refreshTokenDur: refreshTokenDur,
		now:             time.Now,
	}
}

// AccessTokenDuration 返回 access token 的有效期。
func (m *JWTManager) AccessTokenDuration() time.Duration {
	return m.accessTokenDur
}

// GenerateToken 为用户签发 access token，返回 token 与过期时间。
func (m *JWTManager) GenerateToken(userID, email string, isAnonymous bool, sessionID string) (string, time.Time, error) {
	return m.sign(userID, email, isAnonymous, sessionID, TypeAccess, m.accessTokenDur)
}

// GenerateRefreshToken 签发 refresh token，与 access token 共享 session_id。
func (m *JWTManager) GenerateRefreshToken(userID, email string, isAnonymous bool, sessionID string) (string, time.Time, error) {
	return m.sign(userID, email, isAnonymous, sessionID, TypeRefresh, m.refreshTokenDur)
}

func (m *JWTManager) sign(userID, email string, isAnonymous bool, sessionID, tokenType string, dur time.Duration) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(dur)
	claims := CustomClaims{
		Email:       email,
		Role:        RoleAuthenticated,
		IsAnonymous: isAnonymous,
		SessionID:   sessionID,
		TokenType:   tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        GenerateRandomString(8),
		},
	}
	// 使用 HS256 签名方法创建新的 token 对象
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// VerifyToken 验证给定的 token 字符串（签名、过期时间）。
func (m *JWTManager) VerifyToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		// 检查签名方法是否为 HMAC
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*CustomClaims); ok && token.Valid {
		if claims.Subject == "" {
			return nil, errors.New("token has no subject")
		}
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// VerifyAccessToken 验证 token 并要求其不是 refresh token。
func (m *JWTManager) VerifyAccessToken(tokenString string) (*CustomClaims, error) {
	claims, err := m.VerifyToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType == TypeRefresh {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// VerifyRefreshToken 验证 token 并要求其为 refresh token。
func (m *JWTManager) VerifyRefreshToken(tokenString string) (*CustomClaims, error) {
	claims, err := m.VerifyToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TypeRefresh {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// GenerateRandomString 生成 length 字节随机数的十六进制串。
func GenerateRandomString(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("fallback%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
