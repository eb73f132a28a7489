package tts

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// ================== 协议常量 ==================

// MessageType 帧头中的消息类型（高 4 位）
type MessageType byte

// Serialization 负载的序列化方式
type Serialization byte

// Compression 负载的压缩方式
type Compression byte

const (
	protocolVersion byte = 0b0001
	headerWords     byte = 0b0001 // 4 字节帧头

	flagWithEvent byte = 0b0100

	MsgFullClientRequest  MessageType = 0b0001
	MsgFullServerResponse MessageType = 0b1001
	MsgAudioOnlyResponse  MessageType = 0b1011
	MsgError              MessageType = 0b1111

	SerializationRaw  Serialization = 0b0000
	SerializationJSON Serialization = 0b0001

	CompressionNone Compression = 0b0000
	CompressionGzip Compression = 0b0001
)

// 双向流式合成的事件编号
const (
	EventStartConnection   int32 = 1
	EventFinishConnection  int32 = 2
	EventConnectionStarted int32 = 50
	EventStartSession      int32 = 100
	EventFinishSession     int32 = 102
	EventSessionStarted    int32 = 150
	EventSessionFinished   int32 = 152
	EventSessionFailed     int32 = 153
	EventTaskRequest       int32 = 200
	EventTTSSentenceEnd    int32 = 351
	EventTTSResponse       int32 = 352
)

// Frame 是一条协议消息
//
// 帧格式:
//   - Header (4 bytes): version|header_size, message_type|flags,
//     serialization|compression, reserved
//   - [optional] error code (4 bytes, 仅错误帧)
//   - [optional] event (4 bytes)
//   - [optional] session_id (4 bytes len + data)
//   - payload_size (4 bytes) + payload
//
// 所有整数都是大端序。
type Frame struct {
	MessageType   MessageType
	HasEvent      bool
	Event         int32
	SessionID     string
	Serialization Serialization
	Compression   Compression
	ErrorCode     uint32
	Payload       []byte

	// JSON 为解码得到的 JSON 值；负载不是 JSON 时为 nil。
	JSON any
}

// NewEventFrame 创建一个携带事件的客户端 JSON 请求帧
func NewEventFrame(event int32, sessionID string, payload []byte) *Frame {
	return &Frame{
		MessageType:   MsgFullClientRequest,
		HasEvent:      true,
		Event:         event,
		SessionID:     sessionID,
		Serialization: SerializationJSON,
		Payload:       payload,
	}
}

// Encode 将帧序列化为字节。会话 ID 为空时省略会话段。
// 负载按原样写入，Compression 字段只写入帧头。
func Encode(f *Frame) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(16 + len(f.SessionID) + len(f.Payload))

	flags := byte(0)
	if f.HasEvent {
		flags = flagWithEvent
	}
	buf.WriteByte(protocolVersion<<4 | headerWords)
	buf.WriteByte(byte(f.MessageType)<<4 | flags)
	buf.WriteByte(byte(f.Serialization)<<4 | byte(f.Compression)&0x0f)
	buf.WriteByte(0x00)

	var word [4]byte
	if f.MessageType == MsgError {
		binary.BigEndian.PutUint32(word[:], f.ErrorCode)
		buf.Write(word[:])
	}
	if f.HasEvent {
		binary.BigEndian.PutUint32(word[:], uint32(f.Event))
		buf.Write(word[:])
	}
	if f.SessionID != "" {
		binary.BigEndian.PutUint32(word[:], uint32(len(f.SessionID)))
		buf.Write(word[:])
		buf.WriteString(f.SessionID)
	}
	binary.BigEndian.PutUint32(word[:], uint32(len(f.Payload)))
	buf.Write(word[:])
	buf.Write(f.Payload)

	return buf.Bytes()
}

// Decode 解析一帧。输入不完整或格式错误时返回 ErrMalformedFrame，从不 panic。
//
// 帧头不声明会话段是否存在，因此先尝试“带会话 ID”的解释，只有当负载恰好
// 结束于数据末尾时才接受；否则回退为不带会话 ID 的解释，同样要求完全消费。
func Decode(data []byte) (*Frame, error) {
	if len(data) < 4 {
		return nil, malformed("short header: %d bytes", len(data))
	}

	headerSize := int(data[0]&0x0f) * 4
	if headerSize < 4 || len(data) < headerSize {
		return nil, malformed("bad header size %d", headerSize)
	}

	f := &Frame{
		MessageType:   MessageType(data[1] >> 4),
		HasEvent:      data[1]&flagWithEvent != 0,
		Serialization: Serialization(data[2] >> 4),
		Compression:   Compression(data[2] & 0x0f),
	}
	offset := headerSize

	if f.MessageType == MsgError {
		if len(data) < offset+4 {
			return nil, malformed("missing error code")
		}
		f.ErrorCode = binary.BigEndian.Uint32(data[offset:])
		offset += 4
	}

	if f.HasEvent {
		if len(data) < offset+4 {
			return nil, malformed("missing event")
		}
		f.Event = int32(binary.BigEndian.Uint32(data[offset:]))
		offset += 4
	}

	sessionID, payload, ok := splitWithSession(data, offset)
	if !ok {
		payload, ok = lengthPrefixed(data, offset)
		if !ok {
			return nil, malformed("payload length does not match frame size")
		}
	}
	f.SessionID = sessionID

	if f.Compression == CompressionGzip && len(payload) > 0 {
		inflated, err := gunzip(payload)
		if err != nil {
			return nil, malformed("gzip payload: %v", err)
		}
		payload = inflated
	}
	f.Payload = payload

	if f.Serialization == SerializationJSON && len(payload) > 0 {
		var v any
		if err := json.Unmarshal(payload, &v); err == nil {
			f.JSON = v
		}
	}

	return f, nil
}

// splitWithSession 按 [len][session_id][len][payload] 解释剩余数据
func splitWithSession(data []byte, offset int) (string, []byte, bool) {
	if len(data) < offset+8 {
		return "", nil, false
	}
	idLen := int(binary.BigEndian.Uint32(data[offset:]))
	start := offset + 4
	if idLen <= 0 || idLen > len(data)-start {
		return "", nil, false
	}
	payload, ok := lengthPrefixed(data, start+idLen)
	if !ok {
		return "", nil, false
	}
	return string(data[start : start+idLen]), payload, true
}

// lengthPrefixed 读取 [len][payload]，要求负载恰好结束于数据末尾
func lengthPrefixed(data []byte, offset int) ([]byte, bool) {
	if len(data) < offset+4 {
		return nil, false
	}
	n := binary.BigEndian.Uint32(data[offset:])
	start := offset + 4
	if uint64(n) != uint64(len(data)-start) {
		return nil, false
	}
	return data[start:], true
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedFrame, fmt.Sprintf(format, args...))
}
