package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"ai-chat-go/internal/identity"
	"ai-chat-go/internal/model"
	"ai-chat-go/internal/repository"
	"ai-chat-go/pkg/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserService 接口定义了所有与当前用户相关的业务操作。
type UserService interface {
	// Profile 返回当前用户信息，用户行不存在时先镜像。
	Profile(ctx context.Context, p *identity.Principal) (*model.Profile, error)
	UploadAvatar(ctx context.Context, p *identity.Principal, filename string, r io.Reader, size int64, contentType string) (*model.Profile, error)
}

type userService struct {
	userRepo repository.UserRepository
	store    storage.ObjectStore
}

// NewUserService 创建一个新的 UserService 实例，store 可为 nil。
func NewUserService(userRepo repository.UserRepository, store storage.ObjectStore) UserService {
	return &userService{userRepo: userRepo, store: store}
}

func (s *userService) Profile(ctx context.Context, p *identity.Principal) (*model.Profile, error) {
	user, err := s.userRepo.FindByID(ctx, p.UserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err = ensureUser(ctx, s.userRepo, p); err != nil {
			return nil, err
		}
		user, err = s.userRepo.FindByID(ctx, p.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return s.toProfile(ctx, user), nil
}

// UploadAvatar 把头像存入对象存储，用户行只保存对象名。
func (s *userService) UploadAvatar(ctx context.Context, p *identity.Principal, filename string, r io.Reader, size int64, contentType string) (*model.Profile, error) {
	if s.store == nil {
		return nil, ErrStorageDisabled
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, ErrInvalidAvatar
	}
	if err := ensureUser(ctx, s.userRepo, p); err != nil {
		return nil, err
	}

	objectName := fmt.Sprintf("avatars/%s/%s%s", p.UserID, uuid.NewString(), strings.ToLower(path.Ext(filename)))
	if err := s.store.Put(ctx, objectName, r, size, contentType); err != nil {
		return nil, fmt.Errorf("failed to store avatar: %w", err)
	}
	if err := s.userRepo.UpdateAvatar(ctx, p.UserID, objectName); err != nil {
		return nil, fmt.Errorf("failed to update avatar: %w", err)
	}
	return s.Profile(ctx, p)
}

func (s *userService) toProfile(ctx context.Context, user *model.User) *model.Profile {
	profile := &model.Profile{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
		IsAnonymous: user.IsAnonymous,
		CreatedAt:   user.CreatedAt,
	}
	// 外部 URL 原样返回，对象名换成临时签名地址
	if user.AvatarURL != nil && s.store != nil && !strings.Contains(*user.AvatarURL, "://") {
		if u, err := s.store.PresignedURL(ctx, *user.AvatarURL); err == nil {
			profile.AvatarURL = &u
		}
	}
	return profile
}
