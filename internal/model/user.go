// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User 对应于数据库中的 'users' 表。
// 行由身份提供方创建，或在首次被引用时镜像到本库。
type User struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Email        *string   `gorm:"type:varchar(255);uniqueIndex" json:"email"`
	PasswordHash *string   `gorm:"type:varchar(255)" json:"-"`
	DisplayName  *string   `gorm:"type:varchar(100)" json:"displayName"`
	AvatarURL    *string   `gorm:"type:text" json:"avatarUrl"`
	IsAnonymous  bool      `gorm:"not null;default:false" json:"isAnonymous"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (User) TableName() string {
	return "users"
}

// BeforeCreate 在主键缺省时生成 UUID。
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
