// Package database 负责初始化关系型数据库与 Redis 连接。
package database

import (
	"fmt"
	"strings"
	"time"

	"ai-chat-go/internal/config"
	"ai-chat-go/internal/model"
	"ai-chat-go/pkg/log"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// MySQL 的 datetime 默认只到毫秒，消息时间戳需要微秒精度
const mysqlDatetimePrecision = 6

func newDialector(driver, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "":
		return postgres.Open(normalizePostgresDSN(dsn)), nil
	case "mysql":
		precision := mysqlDatetimePrecision
		return mysql.New(mysql.Config{DSN: dsn, DefaultDatetimePrecision: &precision}), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Open 按驱动名称打开一个 GORM 连接，不做连接池配置。
func Open(driver, dsn string) (*gorm.DB, error) {
	dialector, err := newDialector(driver, dsn)
	if err != nil {
		return nil, err
	}
	return gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Warn),
	})
}

// InitDB 初始化数据库连接并配置连接池，失败时直接退出进程。
func InitDB(cfg config.DatabaseConfig) *gorm.DB {
	db, err := Open(cfg.Driver, cfg.DSN)
	if err != nil {
		log.Fatal("failed to connect database", err)
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("failed to get sql.DB", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Infof("%s database connected successfully", cfg.Driver)
	return db
}

// normalizePostgresDSN 兼容 postgresql+asyncpg:// 一类带方言后缀的连接串。
func normalizePostgresDSN(dsn string) string {
	if i := strings.Index(dsn, "://"); i > 0 {
		scheme := dsn[:i]
		if plus := strings.Index(scheme, "+"); plus > 0 {
			return "postgres" + dsn[i:]
		}
	}
	return dsn
}

// Migrate 按依赖顺序自动迁移全部表结构。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.User{}, &model.Conversation{}, &model.Message{}); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}
