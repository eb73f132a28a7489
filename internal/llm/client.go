package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Provider 表示不同的 LLM (大语言模型) 提供商接口
type Provider interface {
	// StreamChat 发起一次流式对话，返回的 Stream 由调用方关闭
	StreamChat(ctx context.Context, messages []Message, opts ChatOptions) (Stream, error)

	// Initialize 初始化 LLM 服务提供商
	Initialize() error

	// Cleanup 清理资源
	Cleanup() error
}

// Message 表示一条对话消息
type Message struct {
	Role    string `json:"role"` // user, assistant, system
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatOptions 单次对话参数，零值使用提供商默认值
type ChatOptions struct {
	Temperature  float64
	MaxTokens    int
	DeepThinking bool
}

// ChunkKind 区分正文和推理过程
type ChunkKind string

const (
	ChunkText      ChunkKind = "text"
	ChunkReasoning ChunkKind = "reasoning"
)

// ResponseChunk 表示流式响应的一个数据块
type ResponseChunk struct {
	Kind         ChunkKind `json:"kind"`
	Content      string    `json:"content"`
	FinishReason string    `json:"finish_reason,omitempty"`
}

// Stream 是一次性的、有限的片段序列。结束时 Next 返回 io.EOF。
type Stream interface {
	Next(ctx context.Context) (*ResponseChunk, error)
	Close() error
}

// ReadAll 读完整个流，返回拼接后的正文
func ReadAll(ctx context.Context, s Stream) (string, error) {
	var sb strings.Builder
	for {
		chunk, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		if chunk.Kind == ChunkText {
			sb.WriteString(chunk.Content)
		}
	}
}

// Manager 管理多个 LLM 提供商
type Manager struct {
	mu              sync.RWMutex
	providers       map[string]Provider
	defaultProvider string
	initialized     bool
	logger          *slog.Logger
}

// NewManager 创建一个新的 LLM 管理器
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		providers: make(map[string]Provider),
		logger:    logger.With("component", "llm"),
	}
}

// RegisterProvider 注册一个 LLM 提供商，第一个注册的成为默认
func (m *Manager) RegisterProvider(name string, provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.providers[name] = provider
	if m.defaultProvider == "" {
		m.defaultProvider = name
	}
	m.logger.Info("registered provider", "provider", name)
}

// SetDefaultProvider 设置默认的 LLM 提供商
func (m *Manager) SetDefaultProvider(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.providers[name]; !ok {
		return ErrProviderNotFound
	}
	m.defaultProvider = name
	return nil
}

// Initialize 初始化所有 LLM 提供商
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, provider := range m.providers {
		if err := provider.Initialize(); err != nil {
			m.logger.Error("failed to initialize provider", "provider", name, "error", err)
			return err
		}
	}
	m.initialized = true
	return nil
}

// Cleanup 释放所有提供商
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, provider := range m.providers {
		if err := provider.Cleanup(); err != nil {
			m.logger.Warn("provider cleanup failed", "provider", name, "error", err)
		}
	}
	m.initialized = false
}

// StreamChat 使用默认提供商进行流式对话
func (m *Manager) StreamChat(ctx context.Context, messages []Message, opts ChatOptions) (Stream, error) {
	m.mu.RLock()
	if !m.initialized {
		m.mu.RUnlock()
		return nil, ErrNotInitialized
	}
	provider, ok := m.providers[m.defaultProvider]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrProviderNotFound
	}
	return provider.StreamChat(ctx, messages, opts)
}

// GetProvider 获取指定的 LLM 提供商
func (m *Manager) GetProvider(name string) (Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	provider, ok := m.providers[name]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return provider, nil
}

// 错误定义
var (
	ErrProviderNotFound = errors.New("llm provider not found")
	ErrNotInitialized   = errors.New("llm manager not initialized")
)
