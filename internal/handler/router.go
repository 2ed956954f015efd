package handler

import (
	"net/http"
	"time"

	"ai-chat-go/internal/identity"
	"ai-chat-go/internal/middleware"
	"ai-chat-go/internal/rpc"
	"ai-chat-go/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// EngineOptions 汇总构建 HTTP 引擎所需的依赖。
type EngineOptions struct {
	DB            *gorm.DB
	Resolver      *identity.Resolver
	ChatService   service.ChatService
	UserService   service.UserService
	SearchEnabled bool
	CORSOrigins   []string
}

// NewEngine 创建 Gin 引擎并注册全部路由。
func NewEngine(opts EngineOptions) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     opts.CORSOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.Use(middleware.Identify(opts.Resolver))

	// 过程调用：GET 调用 query，POST 调用 mutation
	appRouter := NewAppRouter(opts.ChatService, opts.UserService, RouterOptions{SearchEnabled: opts.SearchEnabled})
	trpc := rpc.GinHandler(appRouter, NewContextFactory(opts.DB, opts.Resolver.Provider()))
	api.GET("/trpc/:path", trpc)
	api.POST("/trpc/:path", trpc)

	apiV1 := api.Group("/v1")
	{
		authHandler := NewAuthHandler(opts.Resolver)
		auth := apiV1.Group("/auth")
		{
			auth.POST("/signup", authHandler.SignUp)
			auth.POST("/signin", authHandler.SignIn)
			auth.POST("/anonymous", authHandler.SignInAnonymously)
			auth.POST("/refresh", authHandler.RefreshToken)
			auth.POST("/signout", authHandler.SignOut)
		}

		userHandler := NewUserHandler(opts.UserService)
		users := apiV1.Group("/users")
		users.Use(middleware.RequireAuth())
		{
			users.GET("/me", userHandler.GetProfile)
			users.PUT("/me/avatar", userHandler.UploadAvatar)
		}

		// WebSocket 鉴权在 Handle 内完成，以支持 ?token=
		apiV1.GET("/chat/stream", NewChatHandler(opts.ChatService, opts.Resolver).Handle)
	}
	return r
}
