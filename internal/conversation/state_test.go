package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xiaozhi-esp32-server/streamtts/internal/llm"
	"github.com/xiaozhi-esp32-server/streamtts/internal/models"
	"github.com/xiaozhi-esp32-server/streamtts/internal/pipeline"
	"github.com/xiaozhi-esp32-server/streamtts/internal/tts"
)

type written struct {
	kind int
	data []byte
}

type fakeConn struct {
	mu   sync.Mutex
	msgs []written
}

func (c *fakeConn) WriteMessage(kind int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, written{kind: kind, data: append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) snapshot() []written {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]written(nil), c.msgs...)
}

// types 返回文本消息的 type 字段，二进制帧记为 "<binary>"
func (c *fakeConn) types(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, m := range c.snapshot() {
		if m.kind == websocket.BinaryMessage {
			out = append(out, "<binary>")
			continue
		}
		var v struct {
			Type  string `json:"type"`
			State string `json:"state"`
		}
		if err := json.Unmarshal(m.data, &v); err != nil {
			t.Fatalf("invalid JSON %q: %v", m.data, err)
		}
		if v.State != "" {
			out = append(out, v.Type+":"+v.State)
		} else {
			out = append(out, v.Type)
		}
	}
	return out
}

type fakeLLM struct {
	mu      sync.Mutex
	stream  func() llm.Stream
	err     error
	lastMsg []llm.Message
	lastOpt llm.ChatOptions
}

func (f *fakeLLM) StreamChat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (llm.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastMsg, f.lastOpt = messages, opts
	if f.err != nil {
		return nil, f.err
	}
	return f.stream(), nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []pipeline.EventType
}

func (p *fakePublisher) PublishEvent(userID string, e pipeline.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e.Type)
	return nil
}

func newTestManager(t *testing.T, chat *fakeLLM) (*ConversationManager, *fakeConn, *Registry, *fakePublisher) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	synth := tts.NewMockProvider(logger)
	if err := synth.Initialize(); err != nil {
		t.Fatal(err)
	}
	conn := &fakeConn{}
	reg := NewRegistry(Profile{Voice: "v1", Speed: 1.0}, "sys", 10)
	pub := &fakePublisher{}
	cm := NewConversationManager(conn, Dependencies{
		LLM:       chat,
		Pipeline:  pipeline.New(synth, pipeline.WithLogger(logger)),
		Registry:  reg,
		Publisher: pub,
		Logger:    logger,
	}, "device-1", "client-1")
	t.Cleanup(cm.Stop)
	return cm, conn, reg, pub
}

func TestUserIDFallback(t *testing.T) {
	deps := Dependencies{Registry: NewRegistry(Profile{}, "", 10)}
	if id := NewConversationManager(&fakeConn{}, deps, "", "client-1").UserID(); id != "client-1" {
		t.Errorf("UserID() = %q, want client-1", id)
	}
	if id := NewConversationManager(&fakeConn{}, deps, "", "").UserID(); id == "" {
		t.Error("UserID() is empty")
	}
}

func TestStartSendsHello(t *testing.T) {
	cm, conn, _, _ := newTestManager(t, &fakeLLM{})
	cm.Start()

	msgs := conn.snapshot()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	var hello models.ServerHelloMessage
	if err := json.Unmarshal(msgs[0].data, &hello); err != nil {
		t.Fatal(err)
	}
	if hello.Type != models.TypeHello || hello.SessionID == "" {
		t.Errorf("hello = %+v", hello)
	}
}

func TestChatTurn(t *testing.T) {
	chat := &fakeLLM{stream: func() llm.Stream { return llm.TextStream("你好。", "今天天气不错！") }}
	cm, conn, reg, pub := newTestManager(t, chat)

	if err := cm.HandleTextMessage([]byte(`{"type":"chat","text":"嗨"}`)); err != nil {
		t.Fatal(err)
	}
	cm.Wait()

	types := conn.types(t)
	if types[0] != "listen:thinking" || types[len(types)-1] != "listen:idle" {
		t.Errorf("message order = %v", types)
	}

	binaries := 0
	for i, typ := range types {
		if typ != "<binary>" {
			continue
		}
		binaries++
		if i == 0 || types[i-1] != "audio" {
			t.Errorf("binary frame at %d not preceded by audio metadata: %v", i, types)
		}
	}
	if binaries != 2 {
		t.Errorf("got %d audio frames, want 2", binaries)
	}

	var done models.DoneMessage
	for _, m := range conn.snapshot() {
		if m.kind == websocket.TextMessage && json.Unmarshal(m.data, &done) == nil && done.Type == models.TypeDone {
			break
		}
	}
	if done.FullText != "你好。今天天气不错！" {
		t.Errorf("done full_text = %q", done.FullText)
	}

	h := reg.Get("device-1").History
	if len(h) != 2 || h[0].Content != "嗨" || h[1].Content != "你好。今天天气不错！" {
		t.Errorf("history = %+v", h)
	}
	if len(chat.lastMsg) != 2 || chat.lastMsg[0].Role != llm.RoleSystem {
		t.Errorf("llm messages = %+v", chat.lastMsg)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.events) == 0 || pub.events[len(pub.events)-1] != pipeline.EventDone {
		t.Errorf("published events = %v", pub.events)
	}
}

func TestSettingsApplyToNextTurn(t *testing.T) {
	chat := &fakeLLM{stream: func() llm.Stream { return llm.TextStream("好的。") }}
	cm, conn, reg, _ := newTestManager(t, chat)

	if err := cm.HandleTextMessage([]byte(`{"type":"settings","voice":"v2","speed":1.2,"deep_thinking":true}`)); err != nil {
		t.Fatal(err)
	}
	var reply models.SettingsMessage
	if err := json.Unmarshal(conn.snapshot()[0].data, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Voice != "v2" || reply.Speed != 1.2 || !reply.DeepThinking {
		t.Errorf("settings reply = %+v", reply)
	}
	if p := reg.Get("device-1"); p.Voice != "v2" {
		t.Errorf("profile = %+v", p)
	}

	cm.HandleTextMessage([]byte(`{"type":"chat","text":"想一想"}`))
	cm.Wait()
	if !chat.lastOpt.DeepThinking {
		t.Error("deep thinking not forwarded to the LLM")
	}
}

func TestClearResetsProfile(t *testing.T) {
	chat := &fakeLLM{stream: func() llm.Stream { return llm.TextStream("嗯。") }}
	cm, _, reg, _ := newTestManager(t, chat)

	cm.HandleTextMessage([]byte(`{"type":"chat","text":"记住我"}`))
	cm.Wait()
	if reg.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", reg.Len())
	}

	if err := cm.HandleTextMessage([]byte(`{"type":"clear"}`)); err != nil {
		t.Fatal(err)
	}
	if reg.Len() != 0 {
		t.Errorf("Len() after clear = %d, want 0", reg.Len())
	}
}

func TestAbortStopsTurn(t *testing.T) {
	chat := &fakeLLM{stream: func() llm.Stream {
		s := llm.TextStream("第一句。", "第二句。", "第三句。")
		s.Delay = time.Second
		return s
	}}
	cm, conn, reg, _ := newTestManager(t, chat)

	cm.HandleTextMessage([]byte(`{"type":"chat","text":"慢慢说"}`))
	start := time.Now()
	if err := cm.HandleTextMessage([]byte(`{"type":"abort"}`)); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("abort took %v", elapsed)
	}

	types := conn.types(t)
	for _, typ := range types {
		if typ == "done" {
			t.Errorf("aborted turn sent done: %v", types)
		}
	}
	if types[len(types)-1] != "listen:idle" {
		t.Errorf("last message = %v, want listen:idle", types)
	}
	if h := reg.Get("device-1").History; len(h) != 0 {
		t.Errorf("aborted turn recorded history: %+v", h)
	}
}

func TestLLMFailure(t *testing.T) {
	cm, conn, _, _ := newTestManager(t, &fakeLLM{err: errors.New("upstream down")})

	cm.HandleTextMessage([]byte(`{"type":"chat","text":"在吗"}`))
	cm.Wait()

	types := conn.types(t)
	want := []string{"listen:thinking", "error", "listen:idle"}
	if len(types) != len(want) {
		t.Fatalf("messages = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("messages[%d] = %q, want %q", i, types[i], want[i])
		}
	}
}

func TestEmptyChatIsRejected(t *testing.T) {
	cm, conn, _, _ := newTestManager(t, &fakeLLM{})
	if err := cm.HandleTextMessage([]byte(`{"type":"chat"}`)); err != nil {
		t.Fatal(err)
	}
	if types := conn.types(t); len(types) != 1 || types[0] != "error" {
		t.Errorf("messages = %v", types)
	}
	if err := cm.HandleTextMessage([]byte(`not json`)); err != nil {
		t.Errorf("non-JSON message returned %v", err)
	}
}
