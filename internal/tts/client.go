package tts

import (
	"context"
	"log/slog"
	"sync"
)

// Options 是单次合成的可选参数，零值表示使用提供商默认值
type Options struct {
	Voice   string
	Speed   float64
	Emotion string
}

// Synthesizer 将一段文本合成为完整音频
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, opts Options) ([]byte, error)
}

// Provider 表示不同的TTS供应商接口
type Provider interface {
	Synthesizer

	// SynthesizeStream 把 texts 中陆续到达的文本放进同一个会话里合成
	SynthesizeStream(ctx context.Context, texts <-chan string, opts Options, onAudio func([]byte) error) error

	// GetVoices 返回可用的声音列表
	GetVoices() []Voice

	// Initialize 初始化TTS服务提供商
	Initialize() error

	// Cleanup 清理资源
	Cleanup() error
}

// Voice 表示一个TTS声音
type Voice struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Gender   string            `json:"gender"`
	Language string            `json:"language"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// Manager 管理多个TTS提供商
type Manager struct {
	mu              sync.RWMutex
	providers       map[string]Provider
	defaultProvider string
	initialized     bool
	logger          *slog.Logger
}

// NewManager 创建一个新的TTS管理器
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		providers: make(map[string]Provider),
		logger:    logger.With("component", "tts"),
	}
}

// RegisterProvider 注册一个TTS提供商，第一个注册的成为默认提供商
func (m *Manager) RegisterProvider(name string, provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.providers[name] = provider
	if m.defaultProvider == "" {
		m.defaultProvider = name
	}
	m.logger.Info("registered provider", "provider", name)
}

// SetDefaultProvider 设置默认的TTS提供商
func (m *Manager) SetDefaultProvider(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.providers[name]; !ok {
		return ErrProviderNotFound
	}
	m.defaultProvider = name
	return nil
}

// Initialize 初始化所有TTS提供商
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

// GetProvider 获取指定的提供商，名称为空时返回默认提供商
func (m *Manager) GetProvider(name string) (Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if name == "" {
		name = m.defaultProvider
	}
	provider, ok := m.providers[name]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return provider, nil
}

// Synthesize 使用默认提供商合成语音，满足 Synthesizer
func (m *Manager) Synthesize(ctx context.Context, text string, opts Options) ([]byte, error) {
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
	return provider.Synthesize(ctx, text, opts)
}
