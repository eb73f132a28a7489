package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

const (
	DefaultArkBaseURL = "https://ark.cn-beijing.volces.com/api/v3"
	DefaultArkModel   = "doubao-seed-1-6-flash-250828"
)

// OpenAIConfig 是 OpenAI 兼容接口（方舟、Deepseek 等）的连接参数
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	// Thinking 为 true 时在请求中携带 thinking 字段（方舟专有）
	Thinking bool
}

// OpenAIProvider 通过 OpenAI 兼容的流式接口生成文本，
// 并把 delta 中的 reasoning_content 作为推理片段返回
type OpenAIProvider struct {
	cfg         OpenAIConfig
	client      openai.Client
	logger      *slog.Logger
	initialized bool
}

// NewOpenAIProvider 创建 OpenAI 兼容提供商
func NewOpenAIProvider(cfg OpenAIConfig, logger *slog.Logger) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultArkBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultArkModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIProvider{
		cfg:    cfg,
		logger: logger.With("component", "llm", "provider", "openai", "model", cfg.Model),
	}
}

// Initialize 创建客户端
func (p *OpenAIProvider) Initialize() error {
	if p.cfg.APIKey == "" {
		return errors.New("openai provider: api key is required")
	}
	p.client = openai.NewClient(
		option.WithAPIKey(p.cfg.APIKey),
		option.WithBaseURL(p.cfg.BaseURL),
	)
	p.initialized = true
	return nil
}

// Cleanup 无需释放资源
func (p *OpenAIProvider) Cleanup() error {
	p.initialized = false
	return nil
}

// StreamChat 发起流式补全
func (p *OpenAIProvider) StreamChat(ctx context.Context, messages []Message, opts ChatOptions) (Stream, error) {
	if !p.initialized {
		return nil, ErrNotInitialized
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.cfg.Model),
		Messages: convMessages(messages),
	}
	temperature := p.cfg.Temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}
	if temperature > 0 {
		params.Temperature = openai.Float(temperature)
	}
	maxTokens := p.cfg.MaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
	if p.cfg.Thinking {
		mode := "disabled"
		if opts.DeepThinking {
			mode = "enabled"
		}
		params.SetExtraFields(map[string]any{"thinking": map[string]string{"type": mode}})
	}

	p.logger.Debug("stream chat", "messages", len(messages), "deep_thinking", opts.DeepThinking)
	return &openAIStream{stream: p.client.Chat.Completions.NewStreaming(ctx, params)}, nil
}

func convMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// openAIStream 把 SSE 块拆成正文/推理片段
type openAIStream struct {
	stream  *ssestream.Stream[openai.ChatCompletionChunk]
	pending []*ResponseChunk
}

func (s *openAIStream) Next(ctx context.Context) (*ResponseChunk, error) {
	for len(s.pending) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if field, ok := choice.Delta.JSON.ExtraFields["reasoning_content"]; ok {
			var reasoning string
			if err := json.Unmarshal([]byte(field.Raw()), &reasoning); err == nil && reasoning != "" {
				s.pending = append(s.pending, &ResponseChunk{Kind: ChunkReasoning, Content: reasoning})
			}
		}
		if choice.Delta.Content != "" || choice.FinishReason != "" {
			s.pending = append(s.pending, &ResponseChunk{
				Kind:         ChunkText,
				Content:      choice.Delta.Content,
				FinishReason: choice.FinishReason,
			})
		}
	}
	c := s.pending[0]
	s.pending = s.pending[1:]
	return c, nil
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}
