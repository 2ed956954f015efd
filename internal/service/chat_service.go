// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ai-chat-go/internal/config"
	"ai-chat-go/internal/identity"
	"ai-chat-go/internal/model"
	"ai-chat-go/internal/repository"
	"ai-chat-go/pkg/es"
	"ai-chat-go/pkg/llm"
	"ai-chat-go/pkg/log"
	"ai-chat-go/pkg/tasks"

	"gorm.io/gorm"
)

// Clock 返回当前时间，测试中可替换。
type Clock func() time.Time

// EventPublisher 发布已提交的问答事件。
type EventPublisher interface {
	Publish(ctx context.Context, task tasks.MessageExchangedTask) error
}

// MessageSearcher 在用户自己的消息中做全文检索。
type MessageSearcher interface {
	Search(ctx context.Context, userID, query string, size int) ([]es.Hit, error)
}

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	ListConversations(ctx context.Context, p *identity.Principal) ([]model.Conversation, error)
	// CreateConversation 的 title 为 nil 时使用默认标题，否则原样保存（含空串与首尾空白）。
	CreateConversation(ctx context.Context, p *identity.Principal, title *string) (*model.Conversation, error)
	ListMessages(ctx context.Context, p *identity.Principal, conversationID string) ([]model.Message, error)
	// SendMessage 写入用户消息、调用生成接口并写入回复；生成失败时写入兜底回复。
	SendMessage(ctx context.Context, p *identity.Principal, conversationID, message string) (*model.SendMessageResult, error)
	// StreamMessage 与 SendMessage 相同，但逐块回调生成内容，ctx 取消即中止生成。
	StreamMessage(ctx context.Context, p *identity.Principal, conversationID, message string, onChunk llm.ChunkHandler) (*model.SendMessageResult, error)
	SearchMessages(ctx context.Context, p *identity.Principal, query string, limit int) ([]model.MessageHit, error)
}

// ChatOptions 收集 ChatService 的可选依赖。
type ChatOptions struct {
	Publisher EventPublisher
	Searcher  MessageSearcher
	Clock     Clock
}

type chatService struct {
	txRunner         repository.TxRunner
	userRepo         repository.UserRepository
	conversationRepo repository.ConversationRepository
	messageRepo      repository.MessageRepository
	llmClient        llm.Client
	cfg              config.ChatConfig
	timeout          time.Duration
	publisher        EventPublisher
	searcher         MessageSearcher
	now              Clock
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	txRunner repository.TxRunner,
	userRepo repository.UserRepository,
	conversationRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	llmClient llm.Client,
	chatCfg config.ChatConfig,
	llmCfg config.LLMConfig,
	opts ChatOptions,
) ChatService {
	if chatCfg.FallbackMessage == "" {
		chatCfg.FallbackMessage = config.DefaultFallbackMessage
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &chatService{
		txRunner:         txRunner,
		userRepo:         userRepo,
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		llmClient:        llmClient,
		cfg:              chatCfg,
		timeout:          time.Duration(llmCfg.TimeoutSeconds) * time.Second,
		publisher:        opts.Publisher,
		searcher:         opts.Searcher,
		now:              now,
	}
}

func (s *chatService) ListConversations(ctx context.Context, p *identity.Principal) ([]model.Conversation, error) {
	return s.conversationRepo.ListByUser(ctx, p.UserID)
}

// CreateConversation 创建会话；用户行在此处按需镜像，保证外键成立。
func (s *chatService) CreateConversation(ctx context.Context, p *identity.Principal, title *string) (*model.Conversation, error) {
	if err := ensureUser(ctx, s.userRepo, p); err != nil {
		return nil, err
	}
	conversation := &model.Conversation{
		UserID: p.UserID,
		Title:  model.DefaultConversationTitle,
	}
	if title != nil {
		conversation.Title = *title
	}
	if err := s.conversationRepo.Create(ctx, conversation); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conversation, nil
}

func (s *chatService) ListMessages(ctx context.Context, p *identity.Principal, conversationID string) ([]model.Message, error) {
	if err := s.checkOwnership(ctx, s.conversationRepo, p, conversationID); err != nil {
		return nil, err
	}
	return s.messageRepo.ListByConversation(ctx, conversationID)
}

// SendMessage 一旦开始就不受调用方取消影响，生成只受 llm.timeout_seconds 约束。
func (s *chatService) SendMessage(ctx context.Context, p *identity.Principal, conversationID, message string) (*model.SendMessageResult, error) {
	ctx = context.WithoutCancel(ctx)
	return s.exchange(ctx, ctx, p, conversationID, message, func(genCtx context.Context) (string, error) {
		return s.llmClient.Generate(genCtx, message)
	})
}

func (s *chatService) StreamMessage(ctx context.Context, p *identity.Principal, conversationID, message string, onChunk llm.ChunkHandler) (*model.SendMessageResult, error) {
	// 落库使用脱离取消的 ctx，客户端断开后兜底回复仍能提交
	return s.exchange(context.WithoutCancel(ctx), ctx, p, conversationID, message, func(genCtx context.Context) (string, error) {
		return s.llmClient.Stream(genCtx, message, onChunk)
	})
}

// exchange 在一个事务内完成：写用户消息 -> 生成 -> 写回复或兜底。
func (s *chatService) exchange(
	dbCtx, genParent context.Context,
	p *identity.Principal,
	conversationID, message string,
	generate func(ctx context.Context) (string, error),
) (*model.SendMessageResult, error) {
	var (
		result       model.SendMessageResult
		userMsg      model.Message
		assistantMsg model.Message
	)

	err := s.txRunner.InTx(dbCtx, func(tx *gorm.DB) error {
		if err := s.checkOwnership(dbCtx, s.conversationRepo.WithTx(tx), p, conversationID); err != nil {
			return err
		}
		messages := s.messageRepo.WithTx(tx)

		userMsg = model.Message{
			ConversationID: conversationID,
			Role:           model.RoleUser,
			Content:        message,
			CreatedAt:      s.now(),
		}
		if err := messages.Create(dbCtx, &userMsg); err != nil {
			return fmt.Errorf("failed to save user message: %w", err)
		}

		reply, genErr := s.generate(genParent, generate)
		if genErr != nil {
			log.Errorw("生成回复失败，写入兜底消息", "conversation_id", conversationID, "error", genErr)
			reply = s.cfg.FallbackMessage
			result = model.SendMessageResult{Success: false, Error: classify(genErr)}
		} else {
			result = model.SendMessageResult{Success: true}
		}

		assistantMsg = model.Message{
			ConversationID: conversationID,
			Role:           model.RoleAssistant,
			Content:        reply,
			CreatedAt:      s.after(userMsg.CreatedAt),
		}
		if err := messages.Create(dbCtx, &assistantMsg); err != nil {
			return fmt.Errorf("failed to save assistant message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(dbCtx, tasks.MessageExchangedTask{
		Type:               tasks.EventMessageExchanged,
		ConversationID:     conversationID,
		UserID:             p.UserID,
		UserMessageID:      userMsg.ID,
		AssistantMessageID: assistantMsg.ID,
		Fallback:           !result.Success,
		OccurredAt:         assistantMsg.CreatedAt,
	})
	return &result, nil
}

func (s *chatService) generate(parent context.Context, generate func(ctx context.Context) (string, error)) (string, error) {
	ctx := parent
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, s.timeout)
		defer cancel()
	}
	text, err := generate(ctx)
	if err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return text, nil
}

// after 返回至少晚于 t 一毫秒的时间，毫秒精度的时间列上一问一答也不会同刻。
func (s *chatService) after(t time.Time) time.Time {
	now := s.now()
	if now.Sub(t) < time.Millisecond {
		return t.Add(time.Millisecond)
	}
	return now
}

func classify(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return GenerationTimedOut
	}
	return GenerationFailed
}

func (s *chatService) publish(ctx context.Context, task tasks.MessageExchangedTask) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, task); err != nil {
		log.Warnw("发布消息事件失败", "conversation_id", task.ConversationID, "error", err)
	}
}

// checkOwnership 在 enforce_ownership 关闭时不做任何检查。
func (s *chatService) checkOwnership(ctx context.Context, repo repository.ConversationRepository, p *identity.Principal, conversationID string) error {
	if !s.cfg.EnforceOwnership {
		return nil
	}
	conversation, err := repo.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrConversationNotFound
		}
		return fmt.Errorf("failed to load conversation: %w", err)
	}
	if conversation.UserID != p.UserID {
		return ErrForbidden
	}
	return nil
}

func (s *chatService) SearchMessages(ctx context.Context, p *identity.Principal, query string, limit int) ([]model.MessageHit, error) {
	if s.searcher == nil {
		return nil, ErrSearchDisabled
	}
	hits, err := s.searcher.Search(ctx, p.UserID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	out := make([]model.MessageHit, 0, len(hits))
	for _, h := range hits {
		// 索引按 user_id 过滤，这里再校验一次
		if h.Document.UserID != p.UserID {
			continue
		}
		out = append(out, model.MessageHit{
			MessageID:      h.Document.MessageID,
			ConversationID: h.Document.ConversationID,
			Role:           model.Role(h.Document.Role),
			Content:        h.Document.Content,
			CreatedAt:      h.Document.CreatedAt,
			Score:          h.Score,
		})
	}
	return out, nil
}

// ensureUser 把身份提供方的主体镜像为本库用户行，已存在时不做修改。
func ensureUser(ctx context.Context, repo repository.UserRepository, p *identity.Principal) error {
	if _, err := repo.FindByID(ctx, p.UserID); err == nil {
		return nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to load user %s: %w", p.UserID, err)
	}
	user := &model.User{ID: p.UserID, IsAnonymous: p.IsAnonymous}
	if p.Email != "" {
		email := p.Email
		user.Email = &email
	}
	if err := repo.EnsureExists(ctx, user); err != nil {
		return fmt.Errorf("failed to mirror user %s: %w", p.UserID, err)
	}
	return nil
}
