package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ai-chat-go/internal/model"
	"ai-chat-go/internal/repository"
	"ai-chat-go/pkg/hash"
	"ai-chat-go/pkg/log"
	"ai-chat-go/pkg/token"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LocalProvider 是内置的身份提供方：账号存于 users 表，token 由 JWTManager 签发。
type LocalProvider struct {
	userRepo   repository.UserRepository
	jwtManager *token.JWTManager
	// blacklist 可为 nil，此时登出只清理客户端 cookie
	blacklist repository.TokenBlacklist
}

// NewLocalProvider 创建一个新的 LocalProvider。
func NewLocalProvider(userRepo repository.UserRepository, jwtManager *token.JWTManager, blacklist repository.TokenBlacklist) *LocalProvider {
	return &LocalProvider{
		userRepo:   userRepo,
		jwtManager: jwtManager,
		blacklist:  blacklist,
	}
}

func (p *LocalProvider) GetUser(ctx context.Context, accessToken string) (*Principal, error) {
	claims, err := p.jwtManager.VerifyAccessToken(accessToken)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if p.revoked(ctx, accessToken) {
		return nil, ErrInvalidToken
	}
	return principalFromClaims(claims), nil
}

func (p *LocalProvider) SignUp(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	// 1. 检查邮箱是否已被注册
	_, err := p.userRepo.FindByEmail(ctx, email)
	if err == nil {
		return nil, ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// 2. 对密码进行哈希处理
	hashed, err := hash.HashPassword(password)
	if err != nil {
		return nil, err
	}

	// 3. 创建用户
	user := &model.User{Email: &email, PasswordHash: &hashed}
	if err := p.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("创建用户失败: %w", err)
	}
	log.Infof("[LocalProvider] 用户注册成功, userID: %s", user.ID)
	return p.issue(user)
}

func (p *LocalProvider) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := p.userRepo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.PasswordHash == nil || !hash.CheckPasswordHash(password, *user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return p.issue(user)
}

func (p *LocalProvider) SignInAnonymously(ctx context.Context) (*Session, error) {
	user := &model.User{IsAnonymous: true}
	if err := p.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("创建匿名用户失败: %w", err)
	}
	log.Infof("[LocalProvider] 匿名会话已创建, userID: %s", user.ID)
	return p.issue(user)
}

func (p *LocalProvider) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	// 1. 验证 refresh token 是否有效
	claims, err := p.jwtManager.VerifyRefreshToken(refreshToken)
	if err != nil || p.revoked(ctx, refreshToken) {
		return nil, ErrInvalidToken
	}

	// 2. 检查用户是否仍然存在
	user, err := p.userRepo.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	// 3. 轮换：旧 refresh token 作废
	if p.blacklist != nil && claims.ExpiresAt != nil {
		if err := p.blacklist.Add(ctx, refreshToken, time.Until(claims.ExpiresAt.Time)); err != nil {
			log.Warnf("[LocalProvider] 吊销旧 refresh token 失败: %v", err)
		}
	}
	return p.issue(user)
}

func (p *LocalProvider) SignOut(ctx context.Context, accessToken string) error {
	claims, err := p.jwtManager.VerifyAccessToken(accessToken)
	if err != nil {
		return ErrInvalidToken
	}
	if p.blacklist == nil || claims.ExpiresAt == nil {
		return nil
	}
	// token 的剩余有效期作为黑名单条目的过期时间
	return p.blacklist.Add(ctx, accessToken, time.Until(claims.ExpiresAt.Time))
}

// issue 为用户签发一对共享 session_id 的 token。
func (p *LocalProvider) issue(user *model.User) (*Session, error) {
	email := ""
	if user.Email != nil {
		email = *user.Email
	}
	sessionID := uuid.NewString()
	access, accessExp, err := p.jwtManager.GenerateToken(user.ID, email, user.IsAnonymous, sessionID)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := p.jwtManager.GenerateRefreshToken(user.ID, email, user.IsAnonymous, sessionID)
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresAt:        accessExp,
		RefreshExpiresAt: refreshExp,
		User: Principal{
			UserID:      user.ID,
			Email:       email,
			IsAnonymous: user.IsAnonymous,
			Role:        token.RoleAuthenticated,
		},
	}, nil
}

func (p *LocalProvider) revoked(ctx context.Context, tokenString string) bool {
	if p.blacklist == nil {
		return false
	}
	found, err := p.blacklist.Contains(ctx, tokenString)
	if err != nil {
		// 黑名单不可用时不阻断认证，只记录
		log.Warnf("[LocalProvider] 查询 token 黑名单失败: %v", err)
		return false
	}
	return found
}

func principalFromClaims(claims *token.CustomClaims) *Principal {
	return &Principal{
		UserID:      claims.Subject,
		Email:       claims.Email,
		IsAnonymous: claims.IsAnonymous,
		Role:        claims.Role,
		Claims: map[string]any{
			"sub":          claims.Subject,
			"email":        claims.Email,
			"role":         claims.Role,
			"is_anonymous": claims.IsAnonymous,
			"session_id":   claims.SessionID,
		},
	}
}
