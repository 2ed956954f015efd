// Package testutil 提供测试使用的数据库与假实现。
package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"ai-chat-go/internal/model"
	"ai-chat-go/pkg/database"
	"ai-chat-go/pkg/llm"
	"ai-chat-go/pkg/tasks"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// DB 返回一个迁移完毕、启用外键的内存 SQLite 数据库，每个测试独立。
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	db, err := database.Open("sqlite", dsn)
	require.NoError(tb, err)

	sqlDB, err := db.DB()
	require.NoError(tb, err)
	// 单连接保证事务与普通查询看到同一个内存库
	sqlDB.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(tb, database.Migrate(db))
	return db
}

// SeedUser 插入一个带邮箱的用户。
func SeedUser(tb testing.TB, db *gorm.DB, email string) *model.User {
	tb.Helper()
	user := &model.User{Email: &email}
	require.NoError(tb, db.Create(user).Error)
	return user
}

// SeedConversation 为用户插入一个会话，title 为空时使用默认标题。
func SeedConversation(tb testing.TB, db *gorm.DB, userID, title string) *model.Conversation {
	tb.Helper()
	if title == "" {
		title = model.DefaultConversationTitle
	}
	conversation := &model.Conversation{UserID: userID, Title: title}
	require.NoError(tb, db.Create(conversation).Error)
	return conversation
}

// SeedMessage 插入一条消息。
func SeedMessage(tb testing.TB, db *gorm.DB, conversationID string, role model.Role, content string, at time.Time) *model.Message {
	tb.Helper()
	message := &model.Message{ConversationID: conversationID, Role: role, Content: content, CreatedAt: at}
	require.NoError(tb, db.Create(message).Error)
	return message
}

// StepClock 每次调用前进固定步长，便于断言消息顺序。
type StepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func NewStepClock(start time.Time, step time.Duration) *StepClock {
	return &StepClock{now: start, step: step}
}

func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

// FakeLLM 按预设返回文本或错误，并记录收到的 prompt。
type FakeLLM struct {
	mu     sync.Mutex
	Reply  string
	Err    error
	Chunks []string
	// Block 为 true 时阻塞到 ctx 结束。
	Block   bool
	Prompts []string
}

var _ llm.Client = (*FakeLLM)(nil)

func (f *FakeLLM) record(prompt string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Prompts = append(f.Prompts, prompt)
}

// Calls 返回已收到的 prompt 数。
func (f *FakeLLM) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Prompts)
}

func (f *FakeLLM) Generate(ctx context.Context, prompt string) (string, error) {
	f.record(prompt)
	if f.Block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.Err != nil {
		return "", f.Err
	}
	return f.Reply, nil
}

func (f *FakeLLM) Stream(ctx context.Context, prompt string, onChunk llm.ChunkHandler) (string, error) {
	f.record(prompt)
	var full strings.Builder
	for _, c := range f.Chunks {
		if err := ctx.Err(); err != nil {
			return full.String(), err
		}
		full.WriteString(c)
		if onChunk != nil {
			if err := onChunk(c); err != nil {
				return full.String(), err
			}
		}
	}
	if f.Block {
		<-ctx.Done()
		return full.String(), ctx.Err()
	}
	if f.Err != nil {
		return full.String(), f.Err
	}
	if len(f.Chunks) == 0 {
		if onChunk != nil && f.Reply != "" {
			if err := onChunk(f.Reply); err != nil {
				return "", err
			}
		}
		return f.Reply, nil
	}
	return full.String(), nil
}

// FakePublisher 记录已发布的事件。
type FakePublisher struct {
	mu     sync.Mutex
	Err    error
	Events []tasks.MessageExchangedTask
}

func (f *FakePublisher) Publish(ctx context.Context, task tasks.MessageExchangedTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Events = append(f.Events, task)
	return nil
}

// Published 返回事件副本。
func (f *FakePublisher) Published() []tasks.MessageExchangedTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tasks.MessageExchangedTask(nil), f.Events...)
}

// FakeStore 是内存对象存储。
type FakeStore struct {
	mu      sync.Mutex
	Objects map[string][]byte
}

func NewFakeStore() *FakeStore {
	return &FakeStore{Objects: map[string][]byte{}}
}

func (f *FakeStore) Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Objects[objectName] = data
	return nil
}

func (f *FakeStore) PresignedURL(ctx context.Context, objectName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Objects[objectName]; !ok {
		return "", errors.New("object not found")
	}
	return "https://objects.test/" + objectName + "?signature=fake", nil
}

// MemoryCounter 是内存版失败计数器。
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: map[string]int64{}}
}

func (c *MemoryCounter) Incr(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	return c.counts[key], nil
}

func (c *MemoryCounter) Reset(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, key)
	return nil
}

// Count 返回 key 的当前计数。
func (c *MemoryCounter) Count(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key]
}

// MemoryBlacklist 是内存版 token 黑名单。
type MemoryBlacklist struct {
	mu     sync.Mutex
	tokens map[string]time.Time
}

func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{tokens: map[string]time.Time{}}
}

func (b *MemoryBlacklist) Add(ctx context.Context, token string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens[token] = time.Now().Add(ttl)
	return nil
}

func (b *MemoryBlacklist) Contains(ctx context.Context, token string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.tokens[token]
	return ok, nil
}
