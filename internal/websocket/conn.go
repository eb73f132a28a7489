// Package websocket 提供基于 gorilla/websocket 的客户端传输，
// 每条消息对应一个二进制协议帧。
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xiaozhi-esp32-server/streamtts/internal/tts"
)

// Dialer 建立到合成服务的 WebSocket 连接
type Dialer struct {
	HandshakeTimeout time.Duration
	ReadLimit        int64
}

// NewDialer 返回带默认握手超时的 Dialer
func NewDialer() *Dialer {
	return &Dialer{HandshakeTimeout: 10 * time.Second}
}

// Dial 连接 url，握手失败时附带 HTTP 状态码
func (d *Dialer) Dial(ctx context.Context, url string, header http.Header) (*Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	if d.ReadLimit > 0 {
		ws.SetReadLimit(d.ReadLimit)
	}
	return &Conn{ws: ws}, nil
}

// TTSDialer 把 d 适配为 tts.Dialer
func (d *Dialer) TTSDialer() tts.Dialer {
	return tts.DialFunc(func(ctx context.Context, url string, header http.Header) (tts.Transport, error) {
		conn, err := d.Dial(ctx, url, header)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

// Conn 包装一条 WebSocket 连接，Send/Receive 受 ctx 约束
type Conn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewConn 包装已建立的连接
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Send 发送一条二进制消息
func (c *Conn) Send(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// Receive 读取下一条消息。ctx 结束时读操作被打断并返回 ctx.Err()；
// 此后连接不可再读。
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	deadline, _ := ctx.Deadline()
	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil, context.DeadlineExceeded
			}
			return nil, err
		}
		if kind != websocket.BinaryMessage && kind != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

// Close 关闭连接，可重复调用
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
