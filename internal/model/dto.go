package model

import "time"

// SendMessageResult 是 sendMessage 的返回结构。
// 生成失败不会作为调用失败返回，而是 Success=false 并附带错误分类。
type SendMessageResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// MessageHit 是消息检索的单条结果。
type MessageHit struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	Score          float64   `json:"score"`
}

// Profile 是返回给客户端的当前用户信息。
type Profile struct {
	ID          string    `json:"id"`
	Email       *string   `json:"email"`
	DisplayName *string   `json:"displayName"`
	AvatarURL   *string   `json:"avatarUrl"`
	IsAnonymous bool      `json:"isAnonymous"`
	CreatedAt   time.Time `json:"createdAt"`
}

// EsMessageDocument 定义了存储在 Elasticsearch 中的消息文档结构。
type EsMessageDocument struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}
