package tts

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"testing"
)

func TestEncodeHeaderLayout(t *testing.T) {
	data := Encode(NewEventFrame(EventStartSession, "sid", []byte(`{}`)))

	want := []byte{
		0x11, 0x14, 0x10, 0x00, // header
		0x00, 0x00, 0x00, 0x64, // event 100
		0x00, 0x00, 0x00, 0x03, 's', 'i', 'd',
		0x00, 0x00, 0x00, 0x02, '{', '}',
	}
	if !bytes.Equal(data, want) {
		t.Fatalf("Encode() = % x, want % x", data, want)
	}
}

func TestEncodeWithoutEventOrSession(t *testing.T) {
	data := Encode(&Frame{MessageType: MsgAudioOnlyResponse, Payload: []byte("AB")})

	want := []byte{0x11, 0xb0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02, 'A', 'B'}
	if !bytes.Equal(data, want) {
		t.Fatalf("Encode() = % x, want % x", data, want)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		frame *Frame
	}{
		{"start connection", NewEventFrame(EventStartConnection, "", []byte(`{}`))},
		{"task with session", NewEventFrame(EventTaskRequest, "6f1c9f0e-session", []byte(`{"req_params":{"text":"你好"}}`))},
		{"raw audio", &Frame{MessageType: MsgFullServerResponse, HasEvent: true, Event: EventTTSResponse, SessionID: "s1", Payload: []byte{0x00, 0xff, 0x10}}},
		{"empty payload", NewEventFrame(EventFinishSession, "s2", nil)},
		{"no event", &Frame{MessageType: MsgFullServerResponse, Serialization: SerializationJSON, Payload: []byte(`{"a":1}`)}},
		{"payload looks like a length prefix", &Frame{MessageType: MsgFullServerResponse, HasEvent: true, Event: 352, Payload: []byte{0, 0, 0, 1, 'x'}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(Encode(tt.frame))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got.MessageType != tt.frame.MessageType {
				t.Errorf("MessageType = %d, want %d", got.MessageType, tt.frame.MessageType)
			}
			if got.HasEvent != tt.frame.HasEvent || got.Event != tt.frame.Event {
				t.Errorf("event = %v/%d, want %v/%d", got.HasEvent, got.Event, tt.frame.HasEvent, tt.frame.Event)
			}
			if got.SessionID != tt.frame.SessionID {
				t.Errorf("SessionID = %q, want %q", got.SessionID, tt.frame.SessionID)
			}
			if got.Serialization != tt.frame.Serialization {
				t.Errorf("Serialization = %d, want %d", got.Serialization, tt.frame.Serialization)
			}
			if !bytes.Equal(got.Payload, tt.frame.Payload) {
				t.Errorf("Payload = %q, want %q", got.Payload, tt.frame.Payload)
			}
		})
	}
}

func TestDecodeJSONPayload(t *testing.T) {
	f, err := Decode(Encode(NewEventFrame(EventSessionFailed, "s", []byte(`{"message":"quota"}`))))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	obj, ok := f.JSON.(map[string]any)
	if !ok {
		t.Fatalf("JSON = %#v, want object", f.JSON)
	}
	if obj["message"] != "quota" {
		t.Errorf("message = %v, want quota", obj["message"])
	}

	f, err = Decode(Encode(NewEventFrame(EventTTSResponse, "s", []byte("AB"))))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if f.JSON != nil {
		t.Errorf("JSON = %#v, want nil for non-JSON payload", f.JSON)
	}
	if string(f.Payload) != "AB" {
		t.Errorf("Payload = %q, want AB", f.Payload)
	}
}

func TestDecodeMalformed(t *testing.T) {
	valid := Encode(NewEventFrame(EventTaskRequest, "session", []byte(`{"x":1}`)))

	tests := []struct {
		name string
		data []byte
	}{
		{"nil", nil},
		{"three bytes", []byte{0x11, 0x14, 0x10}},
		{"event truncated", []byte{0x11, 0x14, 0x10, 0x00, 0x00, 0x00}},
		{"no payload length", []byte{0x11, 0x10, 0x10, 0x00}},
		{"payload truncated", valid[:len(valid)-1]},
		{"trailing garbage", append(append([]byte{}, valid...), 0x01)},
		{"huge length", []byte{0x11, 0x10, 0x10, 0x00, 0xff, 0xff, 0xff, 0xff, 'a'}},
		{"bad header size", []byte{0x10, 0x10, 0x10, 0x00, 0, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode(tt.data)
			if !errors.Is(err, ErrMalformedFrame) {
				t.Fatalf("Decode() = %+v, %v; want ErrMalformedFrame", f, err)
			}
		})
	}
}

func TestDecodeEveryTruncation(t *testing.T) {
	valid := Encode(NewEventFrame(EventTaskRequest, "abc", []byte(`{"req_params":{"text":"好"}}`)))
	for n := 0; n < len(valid); n++ {
		// 不能 panic；截断的帧要么报错，要么按无会话段解释
		_, _ = Decode(valid[:n])
	}
}

func TestDecodeIgnoresUnknownCompressionBits(t *testing.T) {
	data := Encode(&Frame{MessageType: MsgFullServerResponse, Serialization: SerializationRaw, Compression: 0x0e, Payload: []byte("pcm")})
	f, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if f.Compression != 0x0e || string(f.Payload) != "pcm" {
		t.Errorf("got compression %d payload %q", f.Compression, f.Payload)
	}
}

func TestDecodeGzipPayload(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(`{"message":"zipped"}`))
	zw.Close()

	f, err := Decode(Encode(&Frame{
		MessageType:   MsgFullServerResponse,
		HasEvent:      true,
		Event:         EventSessionFailed,
		SessionID:     "s",
		Serialization: SerializationJSON,
		Compression:   CompressionGzip,
		Payload:       buf.Bytes(),
	}))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if string(f.Payload) != `{"message":"zipped"}` {
		t.Errorf("Payload = %q", f.Payload)
	}
}

func TestDecodeErrorFrame(t *testing.T) {
	payload := []byte(`{"error":"bad token"}`)
	data := []byte{0x11, 0xf0, 0x10, 0x00}
	data = binary.BigEndian.AppendUint32(data, 45000001)
	data = binary.BigEndian.AppendUint32(data, uint32(len(payload)))
	data = append(data, payload...)

	f, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if f.MessageType != MsgError || f.ErrorCode != 45000001 {
		t.Errorf("got type %d code %d", f.MessageType, f.ErrorCode)
	}
	if !bytes.Equal(f.Payload, payload) {
		t.Errorf("Payload = %q", f.Payload)
	}
}
