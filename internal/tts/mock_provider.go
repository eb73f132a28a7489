package tts

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"sync/atomic"
	"time"
)

// MockProvider 是一个简单的模拟TTS提供商，用于开发和测试。
// 输出由文本决定，每个字符产生 BytesPerRune 字节。
type MockProvider struct {
	BytesPerRune int
	Latency      time.Duration

	logger      *slog.Logger
	initialized atomic.Bool
}

// NewMockProvider 创建一个新的模拟TTS提供商
func NewMockProvider(logger *slog.Logger) *MockProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockProvider{
		BytesPerRune: 100,
		logger:       logger.With("component", "tts", "provider", "mock"),
	}
}

// Synthesize 返回伪音频数据
func (p *MockProvider) Synthesize(ctx context.Context, text string, opts Options) ([]byte, error) {
	if !p.initialized.Load() {
		return nil, ErrNotInitialized
	}
	if p.Latency > 0 {
		select {
		case <-time.After(p.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.logger.Debug("synthesizing", "text", text, "voice", opts.Voice)
	return p.fakeAudio(text), nil
}

// SynthesizeStream 逐段返回伪音频
func (p *MockProvider) SynthesizeStream(ctx context.Context, texts <-chan string, opts Options, onAudio func([]byte) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text, ok := <-texts:
			if !ok {
				return nil
			}
			audio, err := p.Synthesize(ctx, text, opts)
			if err != nil {
				return err
			}
			if err := onAudio(audio); err != nil {
				return err
			}
		}
	}
}

func (p *MockProvider) fakeAudio(text string) []byte {
	n := len([]rune(text)) * p.BytesPerRune
	out := make([]byte, 0, n)
	seed := sha256.Sum256([]byte(text))
	for len(out) < n {
		out = append(out, seed[:min(len(seed), n-len(out))]...)
	}
	return out
}

// GetVoices 返回一组模拟的声音
func (p *MockProvider) GetVoices() []Voice {
	return []Voice{
		{ID: "mock-female-1", Name: "小美", Gender: "female", Language: "zh-CN", Tags: map[string]string{"type": "mock"}},
		{ID: "mock-male-1", Name: "小刚", Gender: "male", Language: "zh-CN", Tags: map[string]string{"type": "mock"}},
	}
}

// Initialize 初始化模拟TTS提供商
func (p *MockProvider) Initialize() error {
	p.initialized.Store(true)
	return nil
}

// Cleanup 清理模拟TTS提供商资源
func (p *MockProvider) Cleanup() error {
	p.initialized.Store(false)
	return nil
}
