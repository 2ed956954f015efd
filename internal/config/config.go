// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Identity      IdentityConfig      `mapstructure:"identity"`
	Log           LogConfig           `mapstructure:"log"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port        string   `mapstructure:"port"`
	Mode        string   `mapstructure:"mode"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	// Driver 取值 postgres、mysql 或 sqlite。
	Driver       string      `mapstructure:"driver"`
	DSN          string      `mapstructure:"dsn"`
	AutoMigrate  bool        `mapstructure:"auto_migrate"`
	MaxIdleConns int         `mapstructure:"max_idle_conns"`
	MaxOpenConns int         `mapstructure:"max_open_conns"`
	Redis        RedisConfig `mapstructure:"redis"`
}

// RedisConfig 存储 Redis 的配置。Addr 为空表示不启用。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// IdentityConfig 存储身份提供方相关的配置。
type IdentityConfig struct {
	// Provider 取值 local（内置账号体系）或 supabase。
	Provider                 string       `mapstructure:"provider"`
	URL                      string       `mapstructure:"url"`
	AnonKey                  string       `mapstructure:"anon_key"`
	JWTSecret                string       `mapstructure:"jwt_secret"`
	AccessTokenExpireMinutes int          `mapstructure:"access_token_expire_minutes"`
	RefreshTokenExpireDays   int          `mapstructure:"refresh_token_expire_days"`
	Cookie                   CookieConfig `mapstructure:"cookie"`
}

// CookieConfig 描述会话 cookie 的名称与属性。
type CookieConfig struct {
	AccessName  string `mapstructure:"access_name"`
	RefreshName string `mapstructure:"refresh_name"`
	Domain      string `mapstructure:"domain"`
	Secure      bool   `mapstructure:"secure"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	// Provider 取值 gemini、openai 或 deepseek（任意 OpenAI 兼容接口）。
	Provider       string              `mapstructure:"provider"`
	APIKey         string              `mapstructure:"api_key"`
	BaseURL        string              `mapstructure:"base_url"`
	Model          string              `mapstructure:"model"`
	TimeoutSeconds int                 `mapstructure:"timeout_seconds"`
	Generation     LLMGenerationConfig `mapstructure:"generation"`
	TitlePrompt    string              `mapstructure:"title_prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// ChatConfig 存储聊天业务相关的配置。
type ChatConfig struct {
	EnforceOwnership bool   `mapstructure:"enforce_ownership"`
	FallbackMessage  string `mapstructure:"fallback_message"`
}

// KafkaConfig 存储 Kafka 相关的配置。Brokers 为空表示不启用事件管道。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。Addresses 为空表示不启用消息检索。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。Endpoint 为空表示不启用头像上传。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
	PresignMinutes  int    `mapstructure:"presign_minutes"`
}

// DefaultFallbackMessage 是生成失败时写入的助手消息。
const DefaultFallbackMessage = "I apologize, but I encountered an error while processing your request. Please try again."

// 部署环境沿用的变量名，优先级高于 AutomaticEnv 推导出的名字。
var envAliases = map[string][]string{
	"database.dsn":        {"DATABASE_URL", "DATABASE_DSN"},
	"identity.url":        {"SUPABASE_URL", "NEXT_PUBLIC_SUPABASE_URL", "IDENTITY_URL"},
	"identity.anon_key":   {"SUPABASE_ANON_KEY", "NEXT_PUBLIC_SUPABASE_ANON_KEY", "IDENTITY_ANON_KEY"},
	"identity.jwt_secret": {"SUPABASE_JWT_SECRET", "IDENTITY_JWT_SECRET"},
	"llm.api_key":         {"GEMINI_API_KEY", "LLM_API_KEY"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("identity.provider", "local")
	v.SetDefault("identity.access_token_expire_minutes", 60)
	v.SetDefault("identity.refresh_token_expire_days", 7)
	v.SetDefault("identity.cookie.access_name", "sb-access-token")
	v.SetDefault("identity.cookie.refresh_name", "sb-refresh-token")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-1.5-flash")
	v.SetDefault("llm.title_prompt", "Summarize the following message as a short conversation title of at most six words. Reply with the title only.")
	v.SetDefault("chat.enforce_ownership", true)
	v.SetDefault("chat.fallback_message", DefaultFallbackMessage)
	v.SetDefault("kafka.topic", "chat-events")
	v.SetDefault("kafka.group_id", "ai-chat-go-consumer")
	v.SetDefault("elasticsearch.index_name", "chat_messages")
	v.SetDefault("minio.bucket_name", "avatars")
	v.SetDefault("minio.presign_minutes", 60)

	// 无默认值的键也需登记，AutomaticEnv 才能在 Unmarshal 时覆盖它们
	for _, key := range []string{
		"database.redis.addr", "database.redis.password",
		"llm.base_url", "kafka.brokers",
		"elasticsearch.addresses", "elasticsearch.username", "elasticsearch.password",
		"minio.endpoint", "minio.access_key_id", "minio.secret_access_key",
	} {
		v.SetDefault(key, "")
	}
}

// Load 读取配置文件（可缺省）与环境变量，返回解析后的配置。
func Load(configPath string) (*Config, error) {
	// .env 仅用于本地开发，不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("绑定环境变量 %s 失败: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return &cfg, nil
}

// Init 初始化配置加载，并将结果写入全局 Conf 变量。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = *cfg
}
