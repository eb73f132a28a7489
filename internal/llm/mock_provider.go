package llm

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// MockProvider 是一个简单的模拟 LLM 提供商，用于开发和测试
type MockProvider struct {
	name        string
	chunkSize   int
	delay       time.Duration
	initialized bool
}

// NewMockProvider 创建一个新的模拟 LLM 提供商
func NewMockProvider(name string) *MockProvider {
	if name == "" {
		name = "默认模拟模型"
	}
	return &MockProvider{name: name, chunkSize: 10, delay: 50 * time.Millisecond}
}

// StreamChat 把预设回复按固定长度切块，模拟流式输出
func (p *MockProvider) StreamChat(ctx context.Context, messages []Message, opts ChatOptions) (Stream, error) {
	if !p.initialized {
		return nil, ErrNotInitialized
	}

	userMessage := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			userMessage = messages[i].Content
			break
		}
	}

	var chunks []*ResponseChunk
	if opts.DeepThinking {
		chunks = append(chunks, &ResponseChunk{Kind: ChunkReasoning, Content: "用户问的是：" + userMessage})
	}
	for _, c := range splitIntoChunks(generateMockResponse(userMessage), p.chunkSize) {
		chunks = append(chunks, &ResponseChunk{Kind: ChunkText, Content: c})
	}
	if n := len(chunks); n > 0 {
		chunks[n-1].FinishReason = "stop"
	}

	s := NewSliceStream(chunks...)
	s.Delay = p.delay
	return s, nil
}

// Initialize 初始化模拟 LLM 提供商
func (p *MockProvider) Initialize() error {
	p.initialized = true
	return nil
}

// Cleanup 清理模拟 LLM 提供商资源
func (p *MockProvider) Cleanup() error {
	p.initialized = false
	return nil
}

// SliceStream 依次返回预先给定的片段。Err 非空时，片段用完后返回 Err 而不是 io.EOF。
type SliceStream struct {
	Delay time.Duration
	Err   error

	chunks []*ResponseChunk
	closed bool
}

// NewSliceStream 用给定片段创建流
func NewSliceStream(chunks ...*ResponseChunk) *SliceStream {
	return &SliceStream{chunks: chunks}
}

// TextStream 用纯文本片段创建流
func TextStream(fragments ...string) *SliceStream {
	chunks := make([]*ResponseChunk, 0, len(fragments))
	for _, f := range fragments {
		chunks = append(chunks, &ResponseChunk{Kind: ChunkText, Content: f})
	}
	return NewSliceStream(chunks...)
}

// Next 返回下一个片段
func (s *SliceStream) Next(ctx context.Context) (*ResponseChunk, error) {
	if s.closed {
		return nil, io.ErrClosedPipe
	}
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.chunks) == 0 {
		if s.Err != nil {
			return nil, s.Err
		}
		return nil, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

// Close 关闭流
func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

// generateMockResponse 根据用户消息生成模拟响应
func generateMockResponse(userMessage string) string {
	userMessage = strings.ToLower(userMessage)
	switch {
	case strings.Contains(userMessage, "你好") || strings.Contains(userMessage, "hello"):
		return "你好！我是一个模拟的语音助手。我可以陪你聊天，也可以回答简单的问题。有什么可以帮你的吗？"
	case strings.Contains(userMessage, "你是谁"):
		return "我是一个模拟的语音助手，用于测试流式语音合成。{{mock:identity}}我只能给出预设的回答。"
	case strings.Contains(userMessage, "时间") || strings.Contains(userMessage, "几点"):
		return fmt.Sprintf("现在的时间是 %s。这是模拟响应，仅供测试。", time.Now().Format("15:04:05"))
	case strings.Contains(userMessage, "天气"):
		return "今天天气晴朗（看了看窗外），温度大约二十五度。不过这只是模拟的天气信息..."
	}
	return "这是一个模拟的响应。你的消息我已经收到了！在实际部署中，这里会是真实模型生成的内容。"
}

// splitIntoChunks 将字符串按字符数分割成多个小块
func splitIntoChunks(text string, chunkSize int) []string {
	if chunkSize <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	chunks := make([]string, 0, (len(runes)+chunkSize-1)/chunkSize)
	for i := 0; i < len(runes); i += chunkSize {
		end := min(i+chunkSize, len(runes))
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
