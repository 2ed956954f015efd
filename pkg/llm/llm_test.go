package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"ai-chat-go/internal/config"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func TestOpenAICompatible_Generate(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"pong"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAICompatibleClient(config.LLMConfig{
		APIKey:     "secret",
		BaseURL:    srv.URL + "/v1/",
		Model:      "deepseek-chat",
		Generation: config.LLMGenerationConfig{Temperature: 0.3},
	}, srv.Client())

	text, err := c.Generate(context.Background(), "ping")
	require.NoError(t, err)
	require.Equal(t, "pong", text)
	require.Equal(t, "deepseek-chat", got.Model)
	require.False(t, got.Stream)
	require.Equal(t, []Message{{Role: "user", Content: "ping"}}, got.Messages)
	require.NotNil(t, got.Temperature)
	require.Nil(t, got.TopP)
}

func TestOpenAICompatible_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewOpenAICompatibleClient(config.LLMConfig{BaseURL: srv.URL}, srv.Client())
	var chunks []string
	text, err := c.Stream(context.Background(), "hi", func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "Hello", text)
	require.Equal(t, []string{"Hel", "lo"}, chunks)
}

func TestOpenAICompatible_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewOpenAICompatibleClient(config.LLMConfig{BaseURL: srv.URL}, srv.Client()).Generate(context.Background(), "x")
	require.ErrorContains(t, err, "429")
}

// scriptedModel 是测试用的 langchaingo 模型。
type scriptedModel struct {
	chunks []string
	err    error
	opts   llms.CallOptions
}

func (m *scriptedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, o := range options {
		o(&m.opts)
	}
	if m.err != nil {
		return nil, m.err
	}
	var full string
	for _, c := range m.chunks {
		if m.opts.StreamingFunc != nil {
			if err := m.opts.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
		full += c
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: full}}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestLangchainClient(t *testing.T) {
	model := &scriptedModel{chunks: []string{"a", "b"}}
	maxTokens := 128
	c := NewLangchainClient(model, GenerationParams{MaxTokens: &maxTokens})

	text, err := c.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	require.Equal(t, "ab", text)
	require.Equal(t, 128, model.opts.MaxTokens)

	var chunks []string
	text, err = c.Stream(context.Background(), "prompt", func(s string) error {
		chunks = append(chunks, s)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "ab", text)
	require.Equal(t, []string{"a", "b"}, chunks)
}

func TestLangchainClient_Error(t *testing.T) {
	c := NewLangchainClient(&scriptedModel{err: errors.New("quota")}, GenerationParams{})
	_, err := c.Generate(context.Background(), "prompt")
	require.ErrorContains(t, err, "quota")
}

func TestParamsFromConfig(t *testing.T) {
	gp := ParamsFromConfig(config.LLMGenerationConfig{TopP: 0.9})
	require.Nil(t, gp.Temperature)
	require.Nil(t, gp.MaxTokens)
	require.NotNil(t, gp.TopP)
	require.Equal(t, 0.9, *gp.TopP)
}

func TestNewClient_UnknownProvider(t *testing.T) {
	_, err := NewClient(context.Background(), config.LLMConfig{Provider: "nope"})
	require.Error(t, err)
}
