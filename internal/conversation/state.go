package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xiaozhi-esp32-server/streamtts/internal/llm"
	"github.com/xiaozhi-esp32-server/streamtts/internal/models"
	"github.com/xiaozhi-esp32-server/streamtts/internal/pipeline"
	"github.com/xiaozhi-esp32-server/streamtts/internal/tts"
)

// Conn 是会话写出消息所需的连接能力，*websocket.Conn 满足它
type Conn interface {
	WriteMessage(messageType int, data []byte) error
}

// ChatStreamer 产生 LLM 回复流，*llm.Manager 满足它
type ChatStreamer interface {
	StreamChat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (llm.Stream, error)
}

// EventPublisher 把事件镜像到外部，*mqtt.Client 满足它
type EventPublisher interface {
	PublishEvent(userID string, e pipeline.Event) error
}

// Dependencies 是会话管理器共享的服务
type Dependencies struct {
	LLM         ChatStreamer
	Pipeline    *pipeline.Pipeline
	Registry    *Registry
	Publisher   EventPublisher
	AudioParams models.AudioParams
	Logger      *slog.Logger
}

// ConversationManager 管理与单个客户端的会话状态：
// 每条用户输入驱动一次 LLM → 流水线 → 客户端 的回复。
type ConversationManager struct {
	conn    Conn
	writeMu sync.Mutex

	deps   Dependencies
	userID string
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// 当前回复，同一时间最多一个
	turnMu     sync.Mutex
	turnCancel context.CancelFunc
	turnDone   chan struct{}
}

// NewConversationManager 创建一个新的会话管理器。
// 用户 ID 依次取 deviceID、clientID，都为空时随机生成。
func NewConversationManager(conn Conn, deps Dependencies, deviceID, clientID string) *ConversationManager {
	userID := deviceID
	if userID == "" {
		userID = clientID
	}
	if userID == "" {
		userID = uuid.NewString()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ConversationManager{
		conn:   conn,
		deps:   deps,
		userID: userID,
		logger: logger.With("component", "conversation", "user_id", userID),
		ctx:    ctx,
		cancel: cancel,
	}
}

// UserID 返回会话绑定的用户
func (cm *ConversationManager) UserID() string { return cm.userID }

// Start 发送服务器欢迎消息
func (cm *ConversationManager) Start() {
	sessionID := uuid.NewString()
	err := cm.writeJSON(models.ServerHelloMessage{
		Type:        models.TypeHello,
		Status:      "ok",
		Transport:   "websocket",
		SessionID:   sessionID,
		AudioParams: cm.deps.AudioParams,
	})
	if err != nil {
		cm.logger.Warn("failed to send hello", "error", err)
		return
	}
	cm.logger.Info("conversation started", "session_id", sessionID)
}

// Stop 取消进行中的回复并等待其退出
func (cm *ConversationManager) Stop() {
	cm.cancel()
	cm.abortTurn()
	cm.logger.Info("conversation stopped")
}

// HandleBinaryMessage 目前不处理上行音频
func (cm *ConversationManager) HandleBinaryMessage(data []byte) error {
	cm.logger.Debug("ignoring binary message", "bytes", len(data))
	return nil
}

// HandleTextMessage 处理客户端的 JSON 控制消息
func (cm *ConversationManager) HandleTextMessage(data []byte) error {
	var msg models.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		cm.logger.Debug("ignoring non-JSON message", "error", err)
		return nil
	}

	switch msg.Type {
	case models.TypeHello:
		cm.logger.Debug("client hello", "device_id", msg.DeviceID, "client_id", msg.ClientID)

	case models.TypeChat, models.TypeText:
		if msg.Text == "" {
			return cm.writeError(errors.New("empty text"))
		}
		cm.startTurn(msg.Text)

	case models.TypeSettings:
		p := cm.deps.Registry.Update(cm.userID, func(p *Profile) {
			if msg.Voice != nil {
				p.Voice = *msg.Voice
			}
			if msg.Speed != nil && *msg.Speed > 0 {
				p.Speed = *msg.Speed
			}
			if msg.Emotion != nil {
				p.Emotion = *msg.Emotion
			}
			if msg.DeepThinking != nil {
				p.DeepThinking = *msg.DeepThinking
			}
		})
		return cm.writeJSON(models.SettingsMessage{
			Type:         models.TypeSettings,
			Voice:        p.Voice,
			Speed:        p.Speed,
			Emotion:      p.Emotion,
			DeepThinking: p.DeepThinking,
		})

	case models.TypeClear:
		cm.abortTurn()
		cm.deps.Registry.Clear(cm.userID)
		cm.logger.Info("conversation cleared")
		return cm.writeState(models.StateIdle)

	case models.TypeAbort:
		cm.abortTurn()

	default:
		cm.logger.Debug("unknown message type", "type", msg.Type)
	}
	return nil
}

// startTurn 打断上一轮回复后开始新的一轮
func (cm *ConversationManager) startTurn(text string) {
	cm.abortTurn()

	cm.turnMu.Lock()
	defer cm.turnMu.Unlock()
	ctx, cancel := context.WithCancel(cm.ctx)
	done := make(chan struct{})
	cm.turnCancel = cancel
	cm.turnDone = done

	go func() {
		defer close(done)
		defer cancel()
		cm.respond(ctx, text)
	}()
}

func (cm *ConversationManager) abortTurn() {
	cm.turnMu.Lock()
	cancel, done := cm.turnCancel, cm.turnDone
	cm.turnCancel, cm.turnDone = nil, nil
	cm.turnMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait 阻塞到当前回复结束
func (cm *ConversationManager) Wait() {
	cm.turnMu.Lock()
	done := cm.turnDone
	cm.turnMu.Unlock()
	if done != nil {
		<-done
	}
}

// respond 执行一轮回复
func (cm *ConversationManager) respond(ctx context.Context, text string) {
	profile := cm.deps.Registry.Get(cm.userID)
	messages := cm.deps.Registry.Messages(cm.userID, text)

	cm.writeState(models.StateThinking)
	defer cm.writeState(models.StateIdle)

	stream, err := cm.deps.LLM.StreamChat(ctx, messages, llm.ChatOptions{DeepThinking: profile.DeepThinking})
	if err != nil {
		cm.logger.Error("llm request failed", "error", err)
		cm.writeError(err)
		return
	}
	defer stream.Close()

	speaking := false
	opts := pipeline.RunOptions{
		Synthesis: tts.Options{Voice: profile.Voice, Speed: profile.Speed, Emotion: profile.Emotion},
	}
	err = cm.deps.Pipeline.Run(ctx, stream, opts, func(e pipeline.Event) error {
		cm.publish(e)
		switch e.Type {
		case pipeline.EventText:
			return cm.writeJSON(models.ContentMessage{Type: models.TypeText, Content: e.Content})
		case pipeline.EventReasoning:
			return cm.writeJSON(models.ContentMessage{Type: models.TypeReasoning, Content: e.Content})
		case pipeline.EventAudio:
			if !speaking {
				speaking = true
				if err := cm.writeState(models.StateSpeaking); err != nil {
					return err
				}
			}
			return cm.writeAudio(e)
		case pipeline.EventDone:
			cm.deps.Registry.AppendExchange(cm.userID, text, e.FullText)
			return cm.writeJSON(models.DoneMessage{Type: models.TypeDone, FullText: e.FullText})
		case pipeline.EventError:
			return cm.writeError(e.Err)
		}
		return nil
	})

	switch {
	case err == nil:
	case ctx.Err() != nil:
		cm.logger.Info("reply aborted")
	default:
		cm.logger.Warn("reply failed", "error", err)
	}
}

func (cm *ConversationManager) publish(e pipeline.Event) {
	if cm.deps.Publisher == nil {
		return
	}
	if err := cm.deps.Publisher.PublishEvent(cm.userID, e); err != nil {
		cm.logger.Debug("event not mirrored", "type", e.Type, "error", err)
	}
}

// writeAudio 先发描述消息，再发二进制音频，两者之间不能插入别的消息
func (cm *ConversationManager) writeAudio(e pipeline.Event) error {
	meta, err := json.Marshal(models.AudioMessage{
		Type:          models.TypeAudio,
		Sequence:      e.Sequence,
		TotalExpected: e.TotalExpected,
		Bytes:         len(e.Audio),
	})
	if err != nil {
		return err
	}
	cm.writeMu.Lock()
	defer cm.writeMu.Unlock()
	if err := cm.conn.WriteMessage(websocket.TextMessage, meta); err != nil {
		return err
	}
	return cm.conn.WriteMessage(websocket.BinaryMessage, e.Audio)
}

func (cm *ConversationManager) writeState(state models.ListenState) error {
	return cm.writeJSON(models.ListenMessage{Type: models.TypeListen, State: state})
}

func (cm *ConversationManager) writeError(err error) error {
	return cm.writeJSON(models.ErrorMessage{Type: models.TypeError, Error: err.Error()})
}

func (cm *ConversationManager) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	cm.writeMu.Lock()
	defer cm.writeMu.Unlock()
	if err := cm.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		cm.logger.Debug("write failed", "error", err)
		return err
	}
	return nil
}
