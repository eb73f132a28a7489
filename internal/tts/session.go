package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultURL        = "wss://openspeech.bytedance.com/api/v3/tts/bidirection"
	DefaultResourceID = "volc.service_type.10029"
	DefaultVoice      = "zh_female_meilinvyou_emo_v2_mars_bigtts"
	DefaultFormat     = "wav"
	DefaultSampleRate = 24000

	DefaultAckTimeout   = 10 * time.Second
	DefaultAudioTimeout = 30 * time.Second

	namespace = "BidirectionalTTS"
)

var tracer = otel.Tracer("github.com/xiaozhi-esp32-server/streamtts/internal/tts")

// State 是会话所处的协议阶段
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateSessionStarting
	StateSessionActive
	StateFinishing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSessionStarting:
		return "session_starting"
	case StateSessionActive:
		return "session_active"
	case StateFinishing:
		return "finishing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// SessionConfig 是一次合成会话的参数
type SessionConfig struct {
	URL         string
	AppID       string
	AccessToken string
	ResourceID  string
	UserID      string

	Voice      string
	Format     string
	SampleRate int
	Speed      float64
	Loudness   int
	Emotion    string

	// AckTimeout 约束握手回执，以及单次模式下每次接收的等待时间
	AckTimeout time.Duration
	// AudioTimeout 约束增量模式下每次接收音频的等待时间
	AudioTimeout time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.ResourceID == "" {
		c.ResourceID = DefaultResourceID
	}
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if c.Format == "" {
		c.Format = DefaultFormat
	}
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Speed == 0 {
		c.Speed = 1.0
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.AudioTimeout <= 0 {
		c.AudioTimeout = DefaultAudioTimeout
	}
	if c.UserID == "" {
		c.UserID = "streamtts"
	}
	return c
}

// SpeechRate 把语速倍率映射到服务端的 speech_rate，范围 [-50, 100]
func SpeechRate(speed float64) int {
	rate := int(math.Round((speed - 1.0) * 100))
	return max(-50, min(100, rate))
}

type startSessionPayload struct {
	User      sessionUser   `json:"user"`
	Event     int32         `json:"event"`
	Namespace string        `json:"namespace"`
	ReqParams sessionParams `json:"req_params"`
}

type sessionUser struct {
	UID string `json:"uid"`
}

type sessionParams struct {
	Text        string      `json:"text,omitempty"`
	Speaker     string      `json:"speaker,omitempty"`
	AudioParams *audioParam `json:"audio_params,omitempty"`
}

type audioParam struct {
	Format       string `json:"format"`
	SampleRate   int    `json:"sample_rate"`
	SpeechRate   int    `json:"speech_rate"`
	LoudnessRate int    `json:"loudness_rate"`
	Emotion      string `json:"emotion,omitempty"`
}

type taskPayload struct {
	ReqParams sessionParams `json:"req_params"`
}

var emptyPayload = []byte("{}")

// Session 驱动一次双向流式合成：
// 建立连接 -> 开始会话 -> 发送文本 -> 接收音频 -> 结束会话 -> 结束连接。
// 每个 Session 只能使用一次；每次合成尝试都应创建新的 Session。
type Session struct {
	cfg    SessionConfig
	dialer Dialer
	logger *slog.Logger

	connectID string
	sessionID string

	mu    sync.Mutex
	state State
	conn  Transport
}

// NewSession 创建一个尚未连接的会话
func NewSession(dialer Dialer, cfg SessionConfig, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		cfg:       cfg.withDefaults(),
		dialer:    dialer,
		connectID: uuid.NewString(),
		sessionID: uuid.NewString(),
		state:     StateDisconnected,
	}
	s.logger = logger.With("connection_id", s.connectID, "session_id", s.sessionID)
	return s
}

// State 返回当前状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID 返回会话 ID
func (s *Session) SessionID() string { return s.sessionID }

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	s.logger.Debug("session state", "from", prev.String(), "to", st.String())
}

// Synthesize 单次模式：整段文本作为一个任务发送，收集全部音频后返回。
// 没有音频也不算错误，返回空切片。
func (s *Session) Synthesize(ctx context.Context, text string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "tts.Session.Synthesize")
	span.SetAttributes(attribute.Int("tts.text_length", len([]rune(text))))
	defer span.End()

	var audio []byte
	err := s.run(ctx, func(ctx context.Context) error {
		if err := s.sendTask(ctx, text); err != nil {
			return err
		}
		if err := s.send(ctx, NewEventFrame(EventFinishSession, s.sessionID, emptyPayload)); err != nil {
			return err
		}
		s.setState(StateFinishing)
		return s.receiveAudio(ctx, s.cfg.AckTimeout, func(chunk []byte) error {
			audio = append(audio, chunk...)
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("tts.audio_bytes", len(audio)))
	return audio, nil
}

// SynthesizeStream 增量模式：texts 中的每段文本作为独立任务发送，
// 音频块到达时立即交给 onAudio。texts 关闭后发送 FinishSession。
func (s *Session) SynthesizeStream(ctx context.Context, texts <-chan string, onAudio func([]byte) error) error {
	ctx, span := tracer.Start(ctx, "tts.Session.SynthesizeStream")
	defer span.End()

	err := s.run(ctx, func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		sendCtx, stopSending := context.WithCancel(gctx)
		defer stopSending()
		g.Go(func() error {
			for {
				select {
				case <-sendCtx.Done():
					// 服务端已结束会话
					if gctx.Err() == nil {
						return nil
					}
					return gctx.Err()
				case text, ok := <-texts:
					if !ok {
						if err := s.send(gctx, NewEventFrame(EventFinishSession, s.sessionID, emptyPayload)); err != nil {
							return err
						}
						s.setState(StateFinishing)
						return nil
					}
					if text == "" {
						continue
					}
					if err := s.sendTask(gctx, text); err != nil {
						return err
					}
				}
			}
		})
		g.Go(func() error {
			err := s.receiveAudio(gctx, s.cfg.AudioTimeout, onAudio)
			if err == nil {
				stopSending()
			}
			return err
		})
		return g.Wait()
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// run 完成握手，执行 body，并且无论结果如何都尝试结束连接并关闭传输
func (s *Session) run(ctx context.Context, body func(ctx context.Context) error) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		st := s.state
		s.mu.Unlock()
		return newError(ErrSessionFailed, "session already used, state "+st.String(), nil)
	}
	s.state = StateConnecting
	s.mu.Unlock()

	err := s.connect(ctx)
	if err == nil {
		stop := context.AfterFunc(ctx, func() { s.closeTransport() })
		err = s.startSession(ctx)
		if err == nil {
			err = body(ctx)
		}
		stop()
	}

	if err != nil {
		s.setState(StateFailed)
		s.logger.Warn("tts session failed", "error", err)
	} else {
		s.setState(StateClosed)
	}
	s.finishConnection()
	return err
}

func (s *Session) connect(ctx context.Context) error {
	header := http.Header{}
	header.Set("X-Api-App-Key", s.cfg.AppID)
	header.Set("X-Api-Access-Key", s.cfg.AccessToken)
	header.Set("X-Api-Resource-Id", s.cfg.ResourceID)
	header.Set("X-Api-Connect-Id", s.connectID)

	conn, err := s.dialer.Dial(ctx, s.cfg.URL, header)
	if err != nil {
		return newError(ErrConnectionFailed, "dial", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	if err := s.send(ctx, NewEventFrame(EventStartConnection, "", emptyPayload)); err != nil {
		return err
	}
	f, err := s.awaitFrame(ctx, s.cfg.AckTimeout)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return newError(ErrConnectionFailed, "no ConnectionStarted", err)
		}
		return err
	}
	if f.Event != EventConnectionStarted {
		return &TTSError{Kind: ErrConnectionFailed, Message: "unexpected handshake reply", Event: f.Event}
	}
	s.setState(StateConnected)
	return nil
}

func (s *Session) startSession(ctx context.Context) error {
	s.setState(StateSessionStarting)

	params := sessionParams{
		Speaker: s.cfg.Voice,
		AudioParams: &audioParam{
			Format:       s.cfg.Format,
			SampleRate:   s.cfg.SampleRate,
			SpeechRate:   SpeechRate(s.cfg.Speed),
			LoudnessRate: s.cfg.Loudness,
		},
	}
	if s.cfg.Emotion != "" && s.cfg.Emotion != "neutral" {
		params.AudioParams.Emotion = s.cfg.Emotion
	}
	payload, err := json.Marshal(startSessionPayload{
		User:      sessionUser{UID: s.cfg.UserID},
		Event:     EventStartSession,
		Namespace: namespace,
		ReqParams: params,
	})
	if err != nil {
		return newError(ErrSessionFailed, "encode start session", err)
	}

	if err := s.send(ctx, NewEventFrame(EventStartSession, s.sessionID, payload)); err != nil {
		return err
	}
	f, err := s.awaitFrame(ctx, s.cfg.AckTimeout)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return newError(ErrSessionFailed, "no SessionStarted", err)
		}
		return err
	}
	if f.Event != EventSessionStarted {
		return &TTSError{Kind: ErrSessionFailed, Message: failureDetail(f), Event: f.Event}
	}
	s.setState(StateSessionActive)
	return nil
}

func (s *Session) sendTask(ctx context.Context, text string) error {
	payload, err := json.Marshal(taskPayload{ReqParams: sessionParams{Text: text}})
	if err != nil {
		return newError(ErrSessionFailed, "encode task", err)
	}
	return s.send(ctx, NewEventFrame(EventTaskRequest, s.sessionID, payload))
}

// receiveAudio 接收直到 SessionFinished，每次接收受 timeout 约束
func (s *Session) receiveAudio(ctx context.Context, timeout time.Duration, onAudio func([]byte) error) error {
	for {
		f, err := s.awaitFrame(ctx, timeout)
		if err != nil {
			return err
		}
		switch f.Event {
		case EventTTSResponse:
			chunk := audioPayload(f)
			if len(chunk) == 0 {
				continue
			}
			if err := onAudio(chunk); err != nil {
				return err
			}
		case EventTTSSentenceEnd:
			s.logger.Debug("sentence end")
		case EventSessionFinished:
			return nil
		case EventSessionFailed:
			return &TTSError{Kind: ErrSessionFailed, Message: failureDetail(f), Event: f.Event}
		default:
			if f.MessageType == MsgError {
				return &TTSError{Kind: ErrSessionFailed, Message: fmt.Sprintf("server error %d: %s", f.ErrorCode, f.Payload)}
			}
			s.logger.Debug("ignoring frame", "event", f.Event)
		}
	}
}

// awaitFrame 在 timeout 内等待下一个可解码的帧，无法解码的帧直接跳过
func (s *Session) awaitFrame(ctx context.Context, timeout time.Duration) (*Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		data, err := s.transport().Receive(ctx)
		if err != nil {
			return nil, s.receiveError(ctx, err)
		}
		f, err := Decode(data)
		if err != nil {
			s.logger.Debug("dropping undecodable frame", "bytes", len(data), "error", err)
			continue
		}
		return f, nil
	}
}

func (s *Session) receiveError(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return newError(ErrTimeout, "receive", err)
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return newError(ErrTimeout, "receive", err)
	case errors.Is(err, context.Canceled):
		return err
	}
	return newError(ErrTransport, "receive", err)
}

func (s *Session) send(ctx context.Context, f *Frame) error {
	if err := s.transport().Send(ctx, Encode(f)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return newError(ErrTransport, fmt.Sprintf("send event %d", f.Event), err)
	}
	return nil
}

func (s *Session) transport() Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// finishConnection 尽力发送 FinishConnection 并关闭传输
func (s *Session) finishConnection() {
	conn := s.transport()
	if conn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conn.Send(ctx, Encode(NewEventFrame(EventFinishConnection, "", emptyPayload))); err != nil {
		s.logger.Debug("finish connection", "error", err)
	}
	s.closeTransport()
}

func (s *Session) closeTransport() {
	if conn := s.transport(); conn != nil {
		_ = conn.Close()
	}
}

// audioPayload 取出音频：原始字节，或 {"data": base64} 形式的 JSON
func audioPayload(f *Frame) []byte {
	obj, ok := f.JSON.(map[string]any)
	if !ok {
		if f.JSON != nil {
			return nil
		}
		return f.Payload
	}
	data, ok := obj["data"].(string)
	if !ok {
		return nil
	}
	audio, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil
	}
	return audio
}

func failureDetail(f *Frame) string {
	if obj, ok := f.JSON.(map[string]any); ok {
		if msg, ok := obj["message"].(string); ok {
			return msg
		}
	}
	if len(f.Payload) > 0 {
		return string(f.Payload)
	}
	return "unexpected event"
}
