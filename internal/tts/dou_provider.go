package tts

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// DoubaoConfig 是豆包双向流式 TTS 的连接参数
type DoubaoConfig struct {
	URL          string
	AppID        string
	AccessToken  string
	ResourceID   string
	UserID       string
	Voice        string
	Format       string
	SampleRate   int
	Speed        float64
	Loudness     int
	AckTimeout   time.Duration
	AudioTimeout time.Duration
}

// DoubaoProvider 通过双向 WebSocket 协议调用豆包语音合成。
// 每次合成都新建一个 Session，多个合成可以并发进行。
type DoubaoProvider struct {
	cfg         DoubaoConfig
	dialer      Dialer
	logger      *slog.Logger
	initialized atomic.Bool
}

// voiceSpeeds 部分音色默认更快的语速
var voiceSpeeds = map[string]float64{
	"zh_female_sajiaonvyou_moon_bigtts": 1.2,
	"zh_male_shaonianzixin_moon_bigtts": 1.2,
}

// NewDoubaoProvider 创建豆包 TTS 提供商
func NewDoubaoProvider(cfg DoubaoConfig, dialer Dialer, logger *slog.Logger) *DoubaoProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &DoubaoProvider{
		cfg:    cfg,
		dialer: dialer,
		logger: logger.With("component", "tts", "provider", "doubao"),
	}
}

// Synthesize 单次模式合成整段文本
func (p *DoubaoProvider) Synthesize(ctx context.Context, text string, opts Options) ([]byte, error) {
	if !p.initialized.Load() {
		return nil, ErrNotInitialized
	}
	session := p.NewSession(opts)
	audio, err := session.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("synthesized", "session_id", session.SessionID(), "chars", len([]rune(text)), "bytes", len(audio))
	return audio, nil
}

// SynthesizeStream 增量模式：所有文本共享同一个会话
func (p *DoubaoProvider) SynthesizeStream(ctx context.Context, texts <-chan string, opts Options, onAudio func([]byte) error) error {
	if !p.initialized.Load() {
		return ErrNotInitialized
	}
	return p.NewSession(opts).SynthesizeStream(ctx, texts, onAudio)
}

// NewSession 按配置和本次参数创建一个新会话
func (p *DoubaoProvider) NewSession(opts Options) *Session {
	return NewSession(p.dialer, p.sessionConfig(opts), p.logger)
}

func (p *DoubaoProvider) sessionConfig(opts Options) SessionConfig {
	cfg := SessionConfig{
		URL:          p.cfg.URL,
		AppID:        p.cfg.AppID,
		AccessToken:  p.cfg.AccessToken,
		ResourceID:   p.cfg.ResourceID,
		UserID:       p.cfg.UserID,
		Voice:        p.cfg.Voice,
		Format:       p.cfg.Format,
		SampleRate:   p.cfg.SampleRate,
		Speed:        p.cfg.Speed,
		Loudness:     p.cfg.Loudness,
		Emotion:      opts.Emotion,
		AckTimeout:   p.cfg.AckTimeout,
		AudioTimeout: p.cfg.AudioTimeout,
	}
	if opts.Voice != "" {
		cfg.Voice = opts.Voice
		if speed, ok := voiceSpeeds[opts.Voice]; ok && opts.Speed == 0 {
			cfg.Speed = speed
		}
	}
	if opts.Speed != 0 {
		cfg.Speed = opts.Speed
	}
	return cfg
}

// GetVoices 返回常用的豆包大模型音色
func (p *DoubaoProvider) GetVoices() []Voice {
	return []Voice{
		{ID: DefaultVoice, Name: "魅力女友", Gender: "female", Language: "zh-CN", Tags: map[string]string{"emotion": "true"}},
		{ID: "zh_female_sajiaonvyou_moon_bigtts", Name: "小岚", Gender: "female", Language: "zh-CN", Tags: map[string]string{"speed": "1.2"}},
		{ID: "zh_male_shaonianzixin_moon_bigtts", Name: "小远", Gender: "male", Language: "zh-CN", Tags: map[string]string{"speed": "1.2"}},
		{ID: "zh_female_yuanqinvyou_moon_bigtts", Name: "元气女友", Gender: "female", Language: "zh-CN"},
	}
}

// Initialize 校验凭据
func (p *DoubaoProvider) Initialize() error {
	if p.cfg.AppID == "" || p.cfg.AccessToken == "" {
		return errors.New("doubao tts: app id and access token are required")
	}
	if p.dialer == nil {
		return errors.New("doubao tts: no dialer configured")
	}
	p.initialized.Store(true)
	p.logger.Info("provider initialized", "voice", p.cfg.Voice, "format", p.cfg.Format)
	return nil
}

// Cleanup 无需释放长期资源
func (p *DoubaoProvider) Cleanup() error {
	p.initialized.Store(false)
	return nil
}
