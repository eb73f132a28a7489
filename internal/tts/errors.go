package tts

import (
	"errors"
	"fmt"
)

// 错误类别，配合 errors.Is 使用
var (
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrConnectionFailed = errors.New("connection failed")
	ErrSessionFailed    = errors.New("session failed")
	ErrTimeout          = errors.New("timed out")
	ErrTransport        = errors.New("transport error")
	ErrSynthesisFailed  = errors.New("synthesis task failed")

	ErrProviderNotFound = errors.New("tts provider not found")
	ErrNotInitialized   = errors.New("tts manager not initialized")
)

// TTSError 表示合成会话中的错误
type TTSError struct {
	Kind    error  // 上面的错误类别之一
	Message string // 附加说明
	Event   int32  // 触发错误的服务端事件，没有时为 0
	Err     error  // 底层错误
}

// Error 实现error接口
func (e *TTSError) Error() string {
	msg := "tts: " + e.Kind.Error()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Event != 0 {
		msg += fmt.Sprintf(" (event %d)", e.Event)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap 同时暴露错误类别和底层错误
func (e *TTSError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, message string, cause error) *TTSError {
	return &TTSError{Kind: kind, Message: message, Err: cause}
}

// AsTTSError 尝试从错误链中取出 *TTSError
func AsTTSError(err error) (*TTSError, bool) {
	var e *TTSError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
