// Package tasks 定义了发送到 Kafka 的事件结构。
package tasks

import "time"

// EventMessageExchanged 标识一轮问答已提交。
const EventMessageExchanged = "message.exchanged"

// MessageExchangedTask 在用户消息与回复提交后发布。
type MessageExchangedTask struct {
	Type               string `json:"type"`
	ConversationID     string `json:"conversation_id"`
	UserID             string `json:"user_id"`
	UserMessageID      string `json:"user_message_id"`
	AssistantMessageID string `json:"assistant_message_id"`
	// Fallback 为 true 表示助手消息是生成失败时的兜底文案。
	Fallback   bool      `json:"fallback"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Key 用作 Kafka 消息 key 与失败计数 key，保证同一会话内有序。
func (t MessageExchangedTask) Key() string {
	return t.ConversationID + ":" + t.AssistantMessageID
}
