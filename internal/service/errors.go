package service

import "errors"

var (
	// ErrConversationNotFound 表示会话不存在。
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrForbidden 表示会话存在但不属于当前用户。
	ErrForbidden = errors.New("conversation belongs to another user")
	// ErrSearchDisabled 表示未配置消息检索后端。
	ErrSearchDisabled = errors.New("message search is not configured")
	// ErrStorageDisabled 表示未配置对象存储。
	ErrStorageDisabled = errors.New("object storage is not configured")
	// ErrInvalidAvatar 表示上传的头像不是图片。
	ErrInvalidAvatar = errors.New("avatar must be an image")
)

// 返回给调用方的生成失败分类。
const (
	GenerationFailed   = "AI generation failed"
	GenerationTimedOut = "AI generation timed out"
)
