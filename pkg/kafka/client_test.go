package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"ai-chat-go/internal/config"
	"ai-chat-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type stubProcessor struct {
	err   error
	calls int
}

func (s *stubProcessor) Process(ctx context.Context, task tasks.MessageExchangedTask) error {
	s.calls++
	return s.err
}

type mapCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (m *mapCounter) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	return m.counts[key], nil
}

func (m *mapCounter) Reset(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, key)
	return nil
}

func message(t *testing.T) kafka.Message {
	t.Helper()
	value, err := json.Marshal(tasks.MessageExchangedTask{
		Type:               tasks.EventMessageExchanged,
		ConversationID:     "c1",
		AssistantMessageID: "m2",
	})
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func TestHandleMessage_CommitsOnSuccess(t *testing.T) {
	counter := &mapCounter{counts: map[string]int64{"c1:m2": 2}}
	commits := 0
	handleMessage(context.Background(), message(t), &stubProcessor{}, counter, func() error { commits++; return nil })
	require.Equal(t, 1, commits)
	require.Empty(t, counter.counts)
}

func TestHandleMessage_RetriesThenGivesUp(t *testing.T) {
	counter := &mapCounter{counts: map[string]int64{}}
	proc := &stubProcessor{err: errors.New("es down")}
	commits := 0
	commit := func() error { commits++; return nil }

	for i := 0; i < maxAttempts-1; i++ {
		handleMessage(context.Background(), message(t), proc, counter, commit)
		require.Zero(t, commits)
	}
	handleMessage(context.Background(), message(t), proc, counter, commit)
	require.Equal(t, 1, commits)
	require.Equal(t, maxAttempts, proc.calls)
}

func TestHandleMessage_MalformedIsCommitted(t *testing.T) {
	proc := &stubProcessor{}
	commits := 0
	handleMessage(context.Background(), kafka.Message{Value: []byte("not json")}, proc, nil, func() error { commits++; return nil })
	require.Equal(t, 1, commits)
	require.Zero(t, proc.calls)
}

func TestBrokers(t *testing.T) {
	require.Equal(t, []string{"a:9092", "b:9092"}, brokers(configWith(" a:9092 ,b:9092,")))
}

func configWith(b string) config.KafkaConfig {
	return config.KafkaConfig{Brokers: b}
}
