package repository

import (
	"context"

	"ai-chat-go/internal/model"

	"gorm.io/gorm"
)

// MessageRepository 定义了消息数据的持久化操作。消息只增不改。
type MessageRepository interface {
	Create(ctx context.Context, message *model.Message) error
	// ListByConversation 按插入时间正序返回会话内的全部消息。
	ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error)
	FindByIDs(ctx context.Context, ids []string) ([]model.Message, error)
	WithTx(tx *gorm.DB) MessageRepository
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建一个新的 MessageRepository 实例。
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) WithTx(tx *gorm.DB) MessageRepository {
	return &messageRepository{db: tx}
}

func (r *messageRepository) Create(ctx context.Context, message *model.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

// 同一时间戳下用户消息排在回复之前，其余按 id 保证结果稳定
const chronological = "created_at ASC, CASE WHEN role = 'user' THEN 0 ELSE 1 END ASC, id ASC"

func (r *messageRepository) ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	messages := make([]model.Message, 0)
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order(chronological).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepository) FindByIDs(ctx context.Context, ids []string) ([]model.Message, error) {
	messages := make([]model.Message, 0, len(ids))
	if len(ids) == 0 {
		return messages, nil
	}
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order(chronological).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}
