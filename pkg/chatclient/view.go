package chatclient

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"ai-chat-go/internal/model"

	"github.com/google/uuid"
)

// ErrNoConversation 表示尚未选中会话就提交了消息。
var ErrNoConversation = errors.New("no conversation selected")

// State 是 View 的只读快照。
type State struct {
	Conversations []model.Conversation
	Selected      string
	Messages      []model.Message
	Loading       bool
	Err           error
}

// View 维护聊天界面的本地状态，并与服务端对账。
// 任何调用失败只设置 Err 并结束 Loading，已有本地状态保持不变，不自动重试。
type View struct {
	client *Client

	mu    sync.Mutex
	state State
}

// NewView 创建一个空 View。
func NewView(client *Client) *View {
	return &View{client: client}
}

// Snapshot 返回当前状态的副本。
func (v *View) Snapshot() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := v.state
	s.Conversations = append([]model.Conversation(nil), v.state.Conversations...)
	s.Messages = append([]model.Message(nil), v.state.Messages...)
	return s
}

func (v *View) fail(err error) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Err = err
	v.state.Loading = false
	return err
}

// Refresh 重新拉取会话列表；已选中会话时同时拉取消息。
func (v *View) Refresh(ctx context.Context) error {
	conversations, err := v.client.ListConversations(ctx)
	if err != nil {
		return v.fail(err)
	}
	v.mu.Lock()
	v.state.Conversations = conversations
	v.state.Err = nil
	selected := v.state.Selected
	v.mu.Unlock()

	if selected == "" {
		return nil
	}
	return v.reload(ctx, selected)
}

// Select 切换到指定会话并加载其消息。
func (v *View) Select(ctx context.Context, conversationID string) error {
	v.mu.Lock()
	v.state.Selected = conversationID
	v.state.Messages = nil
	v.mu.Unlock()
	return v.reload(ctx, conversationID)
}

// CreateConversation 新建会话，置顶并选中。
func (v *View) CreateConversation(ctx context.Context, title string) (*model.Conversation, error) {
	conversation, err := v.client.CreateConversation(ctx, title)
	if err != nil {
		return nil, v.fail(err)
	}
	v.mu.Lock()
	v.state.Conversations = append([]model.Conversation{*conversation}, v.state.Conversations...)
	v.state.Selected = conversation.ID
	v.state.Messages = nil
	v.state.Err = nil
	v.mu.Unlock()
	return conversation, nil
}

// Submit 先乐观地追加用户消息，再调用 sendMessage，成功后以服务端消息列表为准。
// 生成失败时服务端会写入兜底回复，这里与正常回复一样展示。
func (v *View) Submit(ctx context.Context, text string) (*model.SendMessageResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	v.mu.Lock()
	conversationID := v.state.Selected
	if conversationID == "" {
		v.mu.Unlock()
		return nil, v.fail(ErrNoConversation)
	}
	v.state.Messages = append(v.state.Messages, model.Message{
		ID:             "optimistic-" + uuid.NewString(),
		ConversationID: conversationID,
		Role:           model.RoleUser,
		Content:        text,
		CreatedAt:      time.Now(),
	})
	v.state.Loading = true
	v.state.Err = nil
	v.mu.Unlock()

	result, err := v.client.SendMessage(ctx, conversationID, text)
	if err != nil {
		return nil, v.fail(err)
	}
	if err := v.reload(ctx, conversationID); err != nil {
		return result, err
	}
	return result, nil
}

func (v *View) reload(ctx context.Context, conversationID string) error {
	messages, err := v.client.ListMessages(ctx, conversationID)
	if err != nil {
		return v.fail(err)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	// 期间切换了会话时丢弃过期结果
	if v.state.Selected == conversationID {
		v.state.Messages = messages
	}
	v.state.Loading = false
	v.state.Err = nil
	return nil
}
