// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ai-chat-go/internal/config"
	"ai-chat-go/internal/handler"
	"ai-chat-go/internal/identity"
	"ai-chat-go/internal/pipeline"
	"ai-chat-go/internal/repository"
	"ai-chat-go/internal/service"
	"ai-chat-go/pkg/database"
	"ai-chat-go/pkg/es"
	"ai-chat-go/pkg/kafka"
	"ai-chat-go/pkg/llm"
	"ai-chat-go/pkg/log"
	"ai-chat-go/pkg/storage"
	"ai-chat-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	configPath := "./configs/config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		configPath = p
	}
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// 3. 初始化数据库和 Redis
	db := database.InitDB(cfg.Database)
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			log.Fatal("数据库迁移失败", err)
		}
	}
	rdb := database.InitRedis(cfg.Database.Redis)

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	txRunner := repository.NewTxRunner(db)
	var blacklist repository.TokenBlacklist
	var attempts kafka.AttemptCounter
	if rdb != nil {
		blacklist = repository.NewTokenBlacklist(rdb)
		attempts = repository.NewAttemptCounter(rdb)
	}

	// 5. 初始化身份提供方
	provider := newIdentityProvider(cfg.Identity, userRepo, blacklist)
	resolver := identity.NewResolver(provider, cfg.Identity.Cookie)

	// 6. 初始化可选的外部组件：MinIO、Elasticsearch、Kafka
	var store storage.ObjectStore
	if cfg.MinIO.Endpoint != "" {
		minioStore, err := storage.NewMinioStore(rootCtx, cfg.MinIO)
		if err != nil {
			log.Fatal("MinIO 初始化失败", err)
		}
		store = minioStore
	}

	var index *es.MessageIndex
	if cfg.Elasticsearch.Addresses != "" {
		var err error
		index, err = es.NewMessageIndex(cfg.Elasticsearch, nil)
		if err == nil {
			err = index.EnsureIndex(rootCtx)
		}
		if err != nil {
			log.Fatal("Elasticsearch 初始化失败", err)
		}
	}

	llmClient, err := llm.NewClient(rootCtx, cfg.LLM)
	if err != nil {
		log.Fatal("LLM 客户端初始化失败", err)
	}

	chatOpts := service.ChatOptions{}
	if index != nil {
		chatOpts.Searcher = index
	}
	var producer *kafka.Producer
	if cfg.Kafka.Brokers != "" {
		producer = kafka.NewProducer(cfg.Kafka)
		chatOpts.Publisher = producer

		// 启动后台 Kafka 消费者
		var indexer pipeline.MessageIndexer
		if index != nil {
			indexer = index
		}
		processor := pipeline.NewProcessor(indexer, llmClient, cfg.LLM.TitlePrompt, conversationRepo, messageRepo)
		go kafka.StartConsumer(rootCtx, cfg.Kafka, processor, attempts)
	}

	// 7. 初始化 Service (依赖注入)
	chatService := service.NewChatService(txRunner, userRepo, conversationRepo, messageRepo, llmClient, cfg.Chat, cfg.LLM, chatOpts)
	userService := service.NewUserService(userRepo, store)

	// 8. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewEngine(handler.EngineOptions{
		DB:            db,
		Resolver:      resolver,
		ChatService:   chatService,
		UserService:   userService,
		SearchEnabled: index != nil,
		CORSOrigins:   cfg.Server.CORSOrigins,
	})

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	// 停止 Kafka 消费者并刷新生产者
	stop()
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Errorf("关闭 Kafka 生产者失败: %v", err)
		}
	}
	log.Info("服务已优雅关闭")
}

func newIdentityProvider(cfg config.IdentityConfig, userRepo repository.UserRepository, blacklist repository.TokenBlacklist) identity.Provider {
	switch strings.ToLower(cfg.Provider) {
	case "supabase":
		if cfg.URL == "" || cfg.AnonKey == "" {
			log.Fatalf("supabase 身份提供方需要 identity.url 与 identity.anon_key")
		}
		log.Infof("使用 Supabase 身份提供方: %s", cfg.URL)
		return identity.NewSupabaseProvider(cfg, &http.Client{Timeout: 10 * time.Second})
	default:
		if cfg.JWTSecret == "" {
			log.Fatalf("local 身份提供方需要 identity.jwt_secret")
		}
		jwtManager := token.NewJWTManager(
			cfg.JWTSecret,
			time.Duration(cfg.AccessTokenExpireMinutes)*time.Minute,
			time.Duration(cfg.RefreshTokenExpireDays)*24*time.Hour,
		)
		return identity.NewLocalProvider(userRepo, jwtManager, blacklist)
	}
}
