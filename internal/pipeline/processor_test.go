package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ai-chat-go/internal/model"
	"ai-chat-go/internal/repository"
	"ai-chat-go/internal/testutil"
	"ai-chat-go/pkg/tasks"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingIndexer struct {
	docs []model.EsMessageDocument
	err  error
}

func (r *recordingIndexer) Index(ctx context.Context, doc model.EsMessageDocument) error {
	if r.err != nil {
		return r.err
	}
	r.docs = append(r.docs, doc)
	return nil
}

type exchange struct {
	db   *gorm.DB
	conv *model.Conversation
	task tasks.MessageExchangedTask
}

func seedExchange(t *testing.T, title string) exchange {
	t.Helper()
	db := testutil.DB(t)
	user := testutil.SeedUser(t, db, "u@example.com")
	conv := testutil.SeedConversation(t, db, user.ID, title)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	q := testutil.SeedMessage(t, db, conv.ID, model.RoleUser, "How do I bake sourdough bread?", now)
	a := testutil.SeedMessage(t, db, conv.ID, model.RoleAssistant, "Start with a starter.", now.Add(time.Second))
	return exchange{db: db, conv: conv, task: tasks.MessageExchangedTask{
		Type:               tasks.EventMessageExchanged,
		ConversationID:     conv.ID,
		UserID:             user.ID,
		UserMessageID:      q.ID,
		AssistantMessageID: a.ID,
	}}
}

func newProcessor(db *gorm.DB, indexer MessageIndexer, titler *testutil.FakeLLM) *Processor {
	p := NewProcessor(indexer, nil, "Title:", repository.NewConversationRepository(db), repository.NewMessageRepository(db))
	if titler != nil {
		p.titleClient = titler
	}
	return p
}

func TestProcess_IndexesAndTitles(t *testing.T) {
	ex := seedExchange(t, "")
	indexer := &recordingIndexer{}
	titler := &testutil.FakeLLM{Reply: "\"Baking Sourdough\"\nextra line"}

	require.NoError(t, newProcessor(ex.db, indexer, titler).Process(context.Background(), ex.task))

	require.Len(t, indexer.docs, 2)
	for _, d := range indexer.docs {
		require.Equal(t, ex.task.UserID, d.UserID)
		require.Equal(t, ex.conv.ID, d.ConversationID)
	}
	require.Equal(t, "user", indexer.docs[0].Role)
	require.Len(t, titler.Prompts, 1)
	require.True(t, strings.HasSuffix(titler.Prompts[0], "How do I bake sourdough bread?"))

	var conv model.Conversation
	require.NoError(t, ex.db.First(&conv, "id = ?", ex.conv.ID).Error)
	require.Equal(t, "Baking Sourdough", conv.Title)
}

func TestProcess_KeepsCustomTitle(t *testing.T) {
	ex := seedExchange(t, "My own title")
	titler := &testutil.FakeLLM{Reply: "Other"}

	require.NoError(t, newProcessor(ex.db, nil, titler).Process(context.Background(), ex.task))
	require.Zero(t, titler.Calls())
}

func TestProcess_SkipsTitleForFallback(t *testing.T) {
	ex := seedExchange(t, "")
	ex.task.Fallback = true
	titler := &testutil.FakeLLM{Reply: "Other"}

	require.NoError(t, newProcessor(ex.db, nil, titler).Process(context.Background(), ex.task))
	require.Zero(t, titler.Calls())
}

func TestProcess_IndexFailureIsReturned(t *testing.T) {
	ex := seedExchange(t, "")
	err := newProcessor(ex.db, &recordingIndexer{err: errors.New("es down")}, nil).Process(context.Background(), ex.task)
	require.Error(t, err)
}

func TestCleanTitle(t *testing.T) {
	require.Equal(t, "Hello", cleanTitle("  'Hello'  "))
	require.Equal(t, 255, len([]rune(cleanTitle(strings.Repeat("é", 300)))))
	require.Empty(t, cleanTitle("\n"))
}
