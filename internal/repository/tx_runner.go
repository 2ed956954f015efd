package repository

import (
	"context"

	"gorm.io/gorm"
)

// TxRunner 为跨仓库的写操作提供统一的事务边界。
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type gormTxRunner struct {
	db *gorm.DB
}

// NewTxRunner 返回基于 GORM 事务的 TxRunner。
func NewTxRunner(db *gorm.DB) TxRunner {
	return &gormTxRunner{db: db}
}

// InTx 在事务中执行 fn；fn 返回错误时整体回滚。
func (r *gormTxRunner) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}
