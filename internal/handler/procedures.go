// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"

	"ai-chat-go/internal/identity"
	"ai-chat-go/internal/middleware"
	"ai-chat-go/internal/model"
	"ai-chat-go/internal/rpc"
	"ai-chat-go/internal/service"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// CreateConversationInput 是 chat.createConversation 的输入。省略 title 时使用默认标题，给出时原样保存。
type CreateConversationInput struct {
	Title *string `json:"title" validate:"omitempty,max=255"`
}

// ListMessagesInput 是 chat.listMessages 的输入。
// conversationId 不校验格式，不存在的会话由服务层返回 NOT_FOUND。
type ListMessagesInput struct {
	ConversationID string `json:"conversationId"`
}

// SendMessageInput 是 chat.sendMessage 的输入，message 允许为空串。
// WebSocket 流式通道沿用同一规则。
type SendMessageInput struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
}

// SearchMessagesInput 是 chat.searchMessages 的输入，limit 缺省为 10。
type SearchMessagesInput struct {
	Query string `json:"query" validate:"required"`
	Limit int    `json:"limit" validate:"omitempty,min=1,max=50"`
}

// RouterOptions 控制可选过程的注册。
type RouterOptions struct {
	SearchEnabled bool
}

// NewAppRouter 组装全部过程：chat.* 与 user.*。
func NewAppRouter(chatService service.ChatService, userService service.UserService, opts RouterOptions) *rpc.Router {
	return rpc.NewRouter().
		Merge("chat", newChatRouter(chatService, opts)).
		Merge("user", newUserRouter(userService))
}

func newChatRouter(chatService service.ChatService, opts RouterOptions) *rpc.Router {
	protected := rpc.Protected()
	r := rpc.NewRouter()

	r.Handle("listConversations", rpc.Query(protected, func(c *rpc.Context, _ rpc.Void) ([]model.Conversation, error) {
		out, err := chatService.ListConversations(c.Ctx, c.Principal)
		return out, toRPCError(err)
	}))

	r.Handle("createConversation", rpc.Mutation(protected, func(c *rpc.Context, in CreateConversationInput) (*model.Conversation, error) {
		out, err := chatService.CreateConversation(c.Ctx, c.Principal, in.Title)
		return out, toRPCError(err)
	}))

	r.Handle("listMessages", rpc.Query(protected, func(c *rpc.Context, in ListMessagesInput) ([]model.Message, error) {
		out, err := chatService.ListMessages(c.Ctx, c.Principal, in.ConversationID)
		return out, toRPCError(err)
	}))

	r.Handle("sendMessage", rpc.Mutation(protected, func(c *rpc.Context, in SendMessageInput) (*model.SendMessageResult, error) {
		out, err := chatService.SendMessage(c.Ctx, c.Principal, in.ConversationID, in.Message)
		return out, toRPCError(err)
	}))

	if opts.SearchEnabled {
		r.Handle("searchMessages", rpc.Query(protected, func(c *rpc.Context, in SearchMessagesInput) ([]model.MessageHit, error) {
			limit := in.Limit
			if limit == 0 {
				limit = 10
			}
			out, err := chatService.SearchMessages(c.Ctx, c.Principal, in.Query, limit)
			return out, toRPCError(err)
		}))
	}
	return r
}

func newUserRouter(userService service.UserService) *rpc.Router {
	return rpc.NewRouter().
		Handle("me", rpc.Query(rpc.Protected(), func(c *rpc.Context, _ rpc.Void) (*model.Profile, error) {
			out, err := userService.Profile(c.Ctx, c.Principal)
			return out, toRPCError(err)
		}))
}

// toRPCError 把业务错误映射为过程错误，其余错误保持原样（按内部错误处理）。
func toRPCError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrConversationNotFound):
		return rpc.NewError(rpc.CodeNotFound, "Conversation not found")
	case errors.Is(err, service.ErrForbidden):
		return rpc.NewError(rpc.CodeForbidden, "You do not have access to this conversation")
	case errors.Is(err, service.ErrSearchDisabled):
		return rpc.NewError(rpc.CodeNotFound, "Message search is not enabled")
	}
	return err
}

// NewContextFactory 用 Identify 中间件解析出的主体构造过程上下文。
func NewContextFactory(db *gorm.DB, provider identity.Provider) rpc.ContextFactory {
	return func(c *gin.Context) *rpc.Context {
		return &rpc.Context{
			Ctx:       c.Request.Context(),
			Request:   c.Request,
			Writer:    c.Writer,
			Principal: middleware.PrincipalFrom(c),
			DB:        db,
			Identity:  provider,
		}
	}
}
