package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"ai-chat-go/internal/identity"
	"ai-chat-go/internal/middleware"
	"ai-chat-go/internal/service"
	"ai-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源，跨域由 CORS 配置约束 HTTP 接口
	},
}

// StreamRequest 是客户端发送的一帧。
type StreamRequest struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
}

// StreamChunk 是一段生成内容。
type StreamChunk struct {
	Chunk string `json:"chunk"`
}

// StreamEvent 是完成或错误通知。
type StreamEvent struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// ChatHandler 负责处理 WebSocket 流式聊天连接。
type ChatHandler struct {
	chatService service.ChatService
	resolver    *identity.Resolver
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, resolver *identity.Resolver) *ChatHandler {
	return &ChatHandler{chatService: chatService, resolver: resolver}
}

type inbound struct {
	req StreamRequest
	err error
}

// Handle 处理一个传入的 WebSocket 连接。连接断开会取消正在进行的生成。
func (h *ChatHandler) Handle(c *gin.Context) {
	principal := middleware.PrincipalFrom(c)
	if principal == nil {
		// 浏览器无法为 WebSocket 设置 Authorization 头，允许通过 query 传 token
		if tokenString := c.Query("token"); tokenString != "" {
			principal = h.resolver.ResolveToken(c.Request.Context(), tokenString)
		}
	}
	if principal == nil {
		respond(c, http.StatusUnauthorized, "无效的 token", nil)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infow("WebSocket 连接已建立", "userID", principal.UserID)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	frames := make(chan inbound)
	go func() {
		defer close(frames)
		defer cancel()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warnf("从 WebSocket 读取消息失败: %v", err)
				}
				return
			}
			var req StreamRequest
			err = json.Unmarshal(data, &req)
			select {
			case frames <- inbound{req: req, err: err}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for f := range frames {
		if err := h.serve(ctx, conn, principal, f); err != nil {
			log.Warnf("写入 WebSocket 失败: %v", err)
			return
		}
	}
}

// serve 处理一帧请求，只有写连接失败时返回错误。
func (h *ChatHandler) serve(ctx context.Context, conn *websocket.Conn, principal *identity.Principal, f inbound) error {
	if f.err != nil {
		return conn.WriteJSON(StreamEvent{Type: "error", Code: "BAD_REQUEST", Error: "frame is not valid JSON"})
	}

	var writeErr error
	result, err := h.chatService.StreamMessage(ctx, principal, f.req.ConversationID, f.req.Message, func(chunk string) error {
		writeErr = conn.WriteJSON(StreamChunk{Chunk: chunk})
		return writeErr
	})
	if writeErr != nil {
		return writeErr
	}
	switch {
	case errors.Is(err, service.ErrConversationNotFound):
		return conn.WriteJSON(StreamEvent{Type: "error", Code: "NOT_FOUND", Error: "Conversation not found"})
	case errors.Is(err, service.ErrForbidden):
		return conn.WriteJSON(StreamEvent{Type: "error", Code: "FORBIDDEN", Error: "You do not have access to this conversation"})
	case err != nil:
		log.Error("处理流式响应失败", err)
		return conn.WriteJSON(StreamEvent{Type: "error", Code: "INTERNAL_SERVER_ERROR", Error: "Internal server error"})
	}
	return conn.WriteJSON(StreamEvent{Type: "completion", Success: result.Success, Error: result.Error})
}
