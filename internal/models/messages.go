package models

// MessageType 定义了消息类型常量
type MessageType string

// 客户端与服务器之间的 JSON 消息类型
const (
	TypeHello     MessageType = "hello"
	TypeListen    MessageType = "listen"
	TypeChat      MessageType = "chat"
	TypeSettings  MessageType = "settings"
	TypeClear     MessageType = "clear"
	TypeAbort     MessageType = "abort"
	TypeText      MessageType = "text"
	TypeReasoning MessageType = "reasoning"
	TypeAudio     MessageType = "audio"
	TypeDone      MessageType = "done"
	TypeError     MessageType = "error"
)

// ListenState 定义会话中的状态类型
type ListenState string

const (
	StateIdle     ListenState = "idle"
	StateThinking ListenState = "thinking"
	StateSpeaking ListenState = "speaking"
)

// ServerHelloMessage 是服务器发送的欢迎消息
type ServerHelloMessage struct {
	Type        MessageType `json:"type"`
	Status      string      `json:"status"`
	Transport   string      `json:"transport"`
	SessionID   string      `json:"session_id"`
	AudioParams AudioParams `json:"audio_params"`
}

// AudioParams 定义了下行音频参数
type AudioParams struct {
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
}

// ClientMessage 是客户端发来的消息，未用到的字段为零值
type ClientMessage struct {
	Type     MessageType `json:"type"`
	Text     string      `json:"text,omitempty"`
	DeviceID string      `json:"device_id,omitempty"`
	ClientID string      `json:"client_id,omitempty"`

	// settings
	Voice        *string  `json:"voice,omitempty"`
	Speed        *float64 `json:"speed,omitempty"`
	Emotion      *string  `json:"emotion,omitempty"`
	DeepThinking *bool    `json:"deep_thinking,omitempty"`
}

// ListenMessage 定义了状态变化的消息
type ListenMessage struct {
	Type  MessageType `json:"type"`
	State ListenState `json:"state"`
}

// ContentMessage 是 text / reasoning 片段
type ContentMessage struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
}

// AudioMessage 描述紧随其后的一个二进制音频帧
type AudioMessage struct {
	Type          MessageType `json:"type"`
	Sequence      int         `json:"sequence"`
	TotalExpected int         `json:"total_expected"`
	Bytes         int         `json:"bytes"`
}

// DoneMessage 表示一次回复结束
type DoneMessage struct {
	Type     MessageType `json:"type"`
	FullText string      `json:"full_text"`
}

// SettingsMessage 回显当前的用户设置
type SettingsMessage struct {
	Type         MessageType `json:"type"`
	Voice        string      `json:"voice"`
	Speed        float64     `json:"speed"`
	Emotion      string      `json:"emotion,omitempty"`
	DeepThinking bool        `json:"deep_thinking"`
}

// ErrorMessage 定义了错误消息
type ErrorMessage struct {
	Type  MessageType `json:"type"`
	Error string      `json:"error"`
}

// TTSRequest 是 POST /api/tts 的请求体
type TTSRequest struct {
	Text    string  `json:"text"`
	Voice   string  `json:"voice,omitempty"`
	Speed   float64 `json:"speed,omitempty"`
	Emotion string  `json:"emotion,omitempty"`
}
