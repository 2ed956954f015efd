// Package llm 提供托管文本生成服务的客户端。
package llm

import (
	"context"
	"fmt"
	"strings"

	"ai-chat-go/internal/config"
)

// ChunkHandler 在流式响应过程中接收增量文本，返回错误会中止流。
type ChunkHandler func(chunk string) error

// Client 定义了 LLM 客户端接口：输入文本，输出文本，可能失败。
type Client interface {
	// Generate 发送单个 prompt 并等待完整响应。
	Generate(ctx context.Context, prompt string) (string, error)
	// Stream 发送单个 prompt，每个分片回调 onChunk，最后返回完整文本。
	// 取消 ctx 会中止上游请求。
	Stream(ctx context.Context, prompt string, onChunk ChunkHandler) (string, error)
}

// GenerationParams 控制生成行为，nil 字段表示使用服务端默认值。
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// ParamsFromConfig 只注入非零的生成参数。
func ParamsFromConfig(cfg config.LLMGenerationConfig) GenerationParams {
	var gp GenerationParams
	if cfg.Temperature != 0 {
		t := cfg.Temperature
		gp.Temperature = &t
	}
	if cfg.TopP != 0 {
		p := cfg.TopP
		gp.TopP = &p
	}
	if cfg.MaxTokens != 0 {
		m := cfg.MaxTokens
		gp.MaxTokens = &m
	}
	return gp
}

// NewClient 根据配置中的 provider 创建 LLM 客户端。
func NewClient(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "gemini", "googleai", "":
		return newGoogleAIClient(ctx, cfg)
	case "openai":
		return newOpenAIClient(cfg)
	case "deepseek", "openai-compatible":
		return NewOpenAICompatibleClient(cfg, nil), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
