// Package pipeline 定义了问答事件的后台处理流程：消息检索索引与会话自动命名。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"ai-chat-go/internal/model"
	"ai-chat-go/internal/repository"
	"ai-chat-go/pkg/llm"
	"ai-chat-go/pkg/log"
	"ai-chat-go/pkg/tasks"

	"gorm.io/gorm"
)

// 会话标题的最大字符数，与 conversations.title 列宽一致
const maxTitleRunes = 255

// MessageIndexer 把消息写入检索索引。
type MessageIndexer interface {
	Index(ctx context.Context, doc model.EsMessageDocument) error
}

// Processor 封装了事件处理的所有依赖和逻辑。
type Processor struct {
	indexer          MessageIndexer
	titleClient      llm.Client
	titlePrompt      string
	conversationRepo repository.ConversationRepository
	messageRepo      repository.MessageRepository
}

// NewProcessor 创建一个新的 Processor 实例。indexer 或 titleClient 为 nil 时跳过对应步骤。
func NewProcessor(
	indexer MessageIndexer,
	titleClient llm.Client,
	titlePrompt string,
	conversationRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
) *Processor {
	return &Processor{
		indexer:          indexer,
		titleClient:      titleClient,
		titlePrompt:      titlePrompt,
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
	}
}

// Process 是事件处理的主函数，重复处理同一事件是安全的。
func (p *Processor) Process(ctx context.Context, task tasks.MessageExchangedTask) error {
	if task.Type != "" && task.Type != tasks.EventMessageExchanged {
		log.Warnf("[Processor] 忽略未知事件类型: %s", task.Type)
		return nil
	}

	// 1. 读取本轮问答
	messages, err := p.messageRepo.FindByIDs(ctx, []string{task.UserMessageID, task.AssistantMessageID})
	if err != nil {
		return fmt.Errorf("读取消息失败: %w", err)
	}
	if len(messages) == 0 {
		log.Warnf("[Processor] 事件引用的消息不存在, key: %s", task.Key())
		return nil
	}

	// 2. 写入检索索引
	if p.indexer != nil {
		for _, m := range messages {
			doc := model.EsMessageDocument{
				MessageID:      m.ID,
				ConversationID: m.ConversationID,
				UserID:         task.UserID,
				Role:           m.Role.String(),
				Content:        m.Content,
				CreatedAt:      m.CreatedAt,
			}
			if err := p.indexer.Index(ctx, doc); err != nil {
				return fmt.Errorf("索引消息 %s 失败: %w", m.ID, err)
			}
		}
		log.Infof("[Processor] 已索引 %d 条消息, conversation: %s", len(messages), task.ConversationID)
	}

	// 3. 兜底回复不参与命名
	if task.Fallback || p.titleClient == nil {
		return nil
	}
	return p.autoTitle(ctx, task, messages)
}

func (p *Processor) autoTitle(ctx context.Context, task tasks.MessageExchangedTask, messages []model.Message) error {
	conversation, err := p.conversationRepo.FindByID(ctx, task.ConversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("读取会话失败: %w", err)
	}
	if conversation.Title != model.DefaultConversationTitle {
		return nil
	}

	var question string
	for _, m := range messages {
		if m.Role == model.RoleUser {
			question = m.Content
			break
		}
	}
	if question == "" {
		return nil
	}

	raw, err := p.titleClient.Generate(ctx, p.titlePrompt+"\n\n"+question)
	if err != nil {
		return fmt.Errorf("生成会话标题失败: %w", err)
	}
	title := cleanTitle(raw)
	if title == "" {
		return nil
	}
	// 条件更新：用户在此期间改过标题时不会被覆盖
	updated, err := p.conversationRepo.UpdateTitleIfDefault(ctx, task.ConversationID, title)
	if err != nil {
		return fmt.Errorf("更新会话标题失败: %w", err)
	}
	if updated {
		log.Infof("[Processor] 会话已命名, conversation: %s, title: %s", task.ConversationID, title)
	}
	return nil
}

// cleanTitle 取首行，去掉包裹的引号并截断到列宽。
func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	title = strings.Trim(title, "\"'“”` ")
	if utf8.RuneCountInString(title) > maxTitleRunes {
		title = string([]rune(title)[:maxTitleRunes])
	}
	return title
}
