package llm

import (
	"context"
	"fmt"
	"strings"

	"ai-chat-go/internal/config"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

// langchainClient 把任意 langchaingo 模型适配为 Client。
type langchainClient struct {
	model llms.Model
	gen   GenerationParams
}

func newGoogleAIClient(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	model, err := googleai.New(ctx,
		googleai.WithAPIKey(cfg.APIKey),
		googleai.WithDefaultModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create googleai client: %w", err)
	}
	return NewLangchainClient(model, ParamsFromConfig(cfg.Generation)), nil
}

func newOpenAIClient(cfg config.LLMConfig) (Client, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return NewLangchainClient(model, ParamsFromConfig(cfg.Generation)), nil
}

// NewLangchainClient 包装一个 langchaingo 模型。
func NewLangchainClient(model llms.Model, gen GenerationParams) Client {
	return &langchainClient{model: model, gen: gen}
}

func (c *langchainClient) Generate(ctx context.Context, prompt string) (string, error) {
	text, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt, c.callOptions()...)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	return text, nil
}

func (c *langchainClient) Stream(ctx context.Context, prompt string, onChunk ChunkHandler) (string, error) {
	var full strings.Builder
	opts := append(c.callOptions(), llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		full.Write(chunk)
		if onChunk == nil {
			return nil
		}
		return onChunk(string(chunk))
	}))
	text, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt, opts...)
	if err != nil {
		return full.String(), fmt.Errorf("failed to stream content: %w", err)
	}
	// 部分 provider 不回调流式函数，此时以最终结果为准
	if full.Len() == 0 && text != "" && onChunk != nil {
		if err := onChunk(text); err != nil {
			return text, err
		}
	}
	return text, nil
}

func (c *langchainClient) callOptions() []llms.CallOption {
	var opts []llms.CallOption
	if c.gen.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*c.gen.Temperature))
	}
	if c.gen.TopP != nil {
		opts = append(opts, llms.WithTopP(*c.gen.TopP))
	}
	if c.gen.MaxTokens != nil {
		opts = append(opts, llms.WithMaxTokens(*c.gen.MaxTokens))
	}
	return opts
}
