package handlers

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/xiaozhi-esp32-server/streamtts/internal/conversation"
)

// activeConnections 用于跟踪活跃的会话
var (
	activeConnections = make(map[*websocket.Conn]*conversation.ConversationManager)
	connectionsMutex  sync.Mutex
)

// WebsocketUpgrader 配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 允许所有跨域请求（开发环境适用）
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// IngressPublisher 镜像客户端上行的文本消息
type IngressPublisher interface {
	PublishIngress(userID string, payload []byte) error
}

// WebSocketHandler 返回处理 WebSocket 连接的 HTTP 处理函数。
// 每个连接对应一个 ConversationManager，设备 ID 取自 Device-Id 头。
func WebSocketHandler(deps conversation.Dependencies, ingress IngressPublisher, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "websocket")

	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("failed to upgrade connection", "error", err)
			return
		}

		deviceID := r.Header.Get("Device-Id")
		clientID := r.Header.Get("Client-Id")
		cm := conversation.NewConversationManager(ws, deps, deviceID, clientID)
		log := logger.With("remote", ws.RemoteAddr().String(), "user_id", cm.UserID())
		log.Info("new connection", "device_id", deviceID, "client_id", clientID)

		connectionsMutex.Lock()
		activeConnections[ws] = cm
		connectionsMutex.Unlock()

		defer func() {
			connectionsMutex.Lock()
			delete(activeConnections, ws)
			connectionsMutex.Unlock()
			cm.Stop()
			ws.Close()
			log.Info("connection closed")
		}()

		cm.Start()

		for {
			messageType, p, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn("client disconnected unexpectedly", "error", err)
				}
				return
			}

			switch messageType {
			case websocket.TextMessage:
				if err := cm.HandleTextMessage(p); err != nil {
					log.Warn("error handling text message", "error", err)
				}
				if ingress != nil {
					if err := ingress.PublishIngress(cm.UserID(), p); err != nil {
						log.Debug("ingress not mirrored", "error", err)
					}
				}
			case websocket.BinaryMessage:
				if err := cm.HandleBinaryMessage(p); err != nil {
					log.Warn("error handling binary message", "error", err)
				}
			}
		}
	}
}

// GetActiveConnectionsCount 返回当前活跃的 WebSocket 连接数
func GetActiveConnectionsCount() int {
	connectionsMutex.Lock()
	defer connectionsMutex.Unlock()
	return len(activeConnections)
}
