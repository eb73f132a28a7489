package main

import (
	"fmt"
	"log/slog"

	"github.com/xiaozhi-esp32-server/streamtts/internal/config"
	"github.com/xiaozhi-esp32-server/streamtts/internal/conversation"
	"github.com/xiaozhi-esp32-server/streamtts/internal/llm"
	"github.com/xiaozhi-esp32-server/streamtts/internal/pipeline"
	"github.com/xiaozhi-esp32-server/streamtts/internal/tts"
	"github.com/xiaozhi-esp32-server/streamtts/internal/websocket"
)

// services 是 serve 和 say 共用的组件
type services struct {
	tts      *tts.Manager
	llm      *llm.Manager
	pipeline *pipeline.Pipeline
	registry *conversation.Registry
}

// newTTSManager 注册 mock 提供商，配置了豆包时把它设为默认
func newTTSManager(cfg *config.Config, logger *slog.Logger) (*tts.Manager, error) {
	m := tts.NewManager(logger)
	m.RegisterProvider("mock", tts.NewMockProvider(logger))

	if cfg.TTS.Provider == "doubao" {
		provider := tts.NewDoubaoProvider(tts.DoubaoConfig{
			URL:          cfg.TTS.URL,
			AppID:        cfg.TTS.AppID,
			AccessToken:  cfg.TTS.AccessToken,
			ResourceID:   cfg.TTS.ResourceID,
			UserID:       cfg.TTS.UserID,
			Voice:        cfg.TTS.Voice,
			Format:       cfg.TTS.Format,
			SampleRate:   cfg.TTS.SampleRate,
			Speed:        cfg.TTS.Speed,
			Loudness:     cfg.TTS.Loudness,
			AckTimeout:   cfg.TTS.AckTimeout,
			AudioTimeout: cfg.TTS.AudioTimeout,
		}, websocket.NewDialer().TTSDialer(), logger)
		m.RegisterProvider("doubao", provider)
	}
	if err := m.SetDefaultProvider(cfg.TTS.Provider); err != nil {
		return nil, fmt.Errorf("tts provider %q: %w", cfg.TTS.Provider, err)
	}
	if err := m.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize tts: %w", err)
	}
	return m, nil
}

func newLLMManager(cfg *config.Config, logger *slog.Logger) (*llm.Manager, error) {
	m := llm.NewManager(logger)
	if cfg.LLM.Provider == "ark" {
		m.RegisterProvider("ark", llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Thinking:    cfg.LLM.Thinking,
		}, logger))
	} else {
		m.RegisterProvider("mock", llm.NewMockProvider("模拟大语言模型"))
	}
	if err := m.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize llm: %w", err)
	}
	return m, nil
}

func newServices(cfg *config.Config, logger *slog.Logger, withLLM bool) (*services, error) {
	ttsManager, err := newTTSManager(cfg, logger)
	if err != nil {
		return nil, err
	}
	s := &services{
		tts: ttsManager,
		pipeline: pipeline.New(ttsManager,
			pipeline.WithMaxConcurrent(cfg.TTS.MaxConcurrent),
			pipeline.WithLogger(logger)),
		// Speed 为 0 时由提供商按音色决定语速
		registry: conversation.NewRegistry(conversation.Profile{Voice: cfg.TTS.Voice},
			cfg.LLM.SystemPrompt, cfg.LLM.HistoryTurns),
	}
	if withLLM {
		if s.llm, err = newLLMManager(cfg, logger); err != nil {
			ttsManager.Cleanup()
			return nil, err
		}
	}
	return s, nil
}

func (s *services) close() {
	s.tts.Cleanup()
	if s.llm != nil {
		s.llm.Cleanup()
	}
}
