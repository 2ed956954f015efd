package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message 是会话中的一轮发言，按 CreatedAt 排序。
type Message struct {
	ID             string        `gorm:"type:varchar(36);primaryKey" json:"id"`
	ConversationID string        `gorm:"type:varchar(36);index;not null" json:"conversationId"`
	Conversation   *Conversation `gorm:"foreignKey:ConversationID;constraint:OnDelete:RESTRICT" json:"-"`
	Role           Role          `gorm:"type:varchar(20);not null" json:"role"`
	Content        string        `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time     `gorm:"autoCreateTime" json:"createdAt"`
}

func (Message) TableName() string {
	return "messages"
}

// BeforeCreate 在主键缺省时生成 UUID。
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// BeforeSave 拒绝不在枚举内的角色。
func (m *Message) BeforeSave(tx *gorm.DB) error {
	if !m.Role.Valid() {
		return fmt.Errorf("invalid message role %q", m.Role)
	}
	return nil
}
