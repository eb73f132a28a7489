package tts

import (
	"context"
	"net/http"
)

// Transport 是一条全双工、面向消息的连接。
// Receive 在 ctx 结束时必须返回 ctx.Err()。
// Send 和 Receive 可以在两个 goroutine 中并发调用，但各自不可重入。
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer 打开到合成服务的连接
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Transport, error)
}

// DialFunc 让普通函数满足 Dialer
type DialFunc func(ctx context.Context, url string, header http.Header) (Transport, error)

// Dial 调用 f(ctx, url, header)
func (f DialFunc) Dial(ctx context.Context, url string, header http.Header) (Transport, error) {
	return f(ctx, url, header)
}
