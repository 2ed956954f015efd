package repository

import (
	"context"

	"ai-chat-go/internal/model"

	"gorm.io/gorm"
)

// ConversationRepository 定义了会话数据的持久化操作。
type ConversationRepository interface {
	Create(ctx context.Context, conversation *model.Conversation) error
	FindByID(ctx context.Context, conversationID string) (*model.Conversation, error)
	// ListByUser 按创建时间倒序返回用户拥有的全部会话。
	ListByUser(ctx context.Context, userID string) ([]model.Conversation, error)
	// UpdateTitleIfDefault 仅当标题仍为默认值时更新，返回是否发生了更新。
	UpdateTitleIfDefault(ctx context.Context, conversationID, title string) (bool, error)
	WithTx(tx *gorm.DB) ConversationRepository
}

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

// WithTx 返回绑定到给定事务的仓库副本。
func (r *conversationRepository) WithTx(tx *gorm.DB) ConversationRepository {
	return &conversationRepository{db: tx}
}

// Create 插入一个新会话，ID 与时间戳回填到入参。
func (r *conversationRepository) Create(ctx context.Context, conversation *model.Conversation) error {
	return r.db.WithContext(ctx).Create(conversation).Error
}

// FindByID 根据会话 ID 查找会话，不存在时返回 gorm.ErrRecordNotFound。
func (r *conversationRepository) FindByID(ctx context.Context, conversationID string) (*model.Conversation, error) {
	var conversation model.Conversation
	err := r.db.WithContext(ctx).Where("id = ?", conversationID).First(&conversation).Error
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

func (r *conversationRepository) ListByUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	conversations := make([]model.Conversation, 0)
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&conversations).Error
	if err != nil {
		return nil, err
	}
	return conversations, nil
}

func (r *conversationRepository) UpdateTitleIfDefault(ctx context.Context, conversationID, title string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Conversation{}).
		Where("id = ? AND title = ?", conversationID, model.DefaultConversationTitle).
		Update("title", title)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
