package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/xiaozhi-esp32-server/streamtts/internal/config"
	"github.com/xiaozhi-esp32-server/streamtts/internal/pipeline"
)

// ErrNotConnected 表示客户端尚未连上代理
var ErrNotConnected = errors.New("mqtt client not connected")

const publishTimeout = 2 * time.Second

// Client 是 MQTT 客户端的包装器
type Client struct {
	client    paho.Client
	prefix    string
	connected atomic.Bool
	stop      chan struct{}
	stopOnce  sync.Once
	logger    *slog.Logger
}

// NewClient 创建一个新的 MQTT 客户端并在后台连接
func NewClient(cfg config.MQTTConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mqtt")

	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	logger.Info("connecting to broker", "broker", broker)

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetMaxReconnectInterval(10 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}

	c := &Client{
		prefix: strings.TrimSuffix(cfg.TopicPrefix, "/"),
		stop:   make(chan struct{}),
		logger: logger,
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(_ paho.Client) {
		c.connected.Store(true)
		logger.Info("connected to broker")
	})

	c.client = paho.NewClient(opts)
	go c.connectLoop()
	return c
}

// connectLoop 不断重试直到首次连接成功，之后交给 paho 自动重连
func (c *Client) connectLoop() {
	for {
		token := c.client.Connect()
		token.Wait()
		if token.Error() == nil {
			return
		}
		c.logger.Warn("failed to connect to broker, retrying", "error", token.Error())
		select {
		case <-c.stop:
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// IsConnected 返回客户端是否已连接
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client.IsConnectionOpen()
}

// Publish 向指定的主题发布消息
func (c *Client) Publish(topic string, qos byte, retained bool, payload any) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		c.logger.Warn("publish failed", "topic", topic, "error", err)
		return err
	}
	return nil
}

// EventMessage 是发布到 MQTT 的事件摘要，不含音频本身
type EventMessage struct {
	Type          pipeline.EventType `json:"type"`
	Sequence      int                `json:"sequence,omitempty"`
	TotalExpected int                `json:"total_expected,omitempty"`
	AudioBytes    int                `json:"audio_bytes,omitempty"`
	Content       string             `json:"content,omitempty"`
	Error         string             `json:"error,omitempty"`
	Timestamp     int64              `json:"timestamp"`
}

// NewEventMessage 提取事件的元数据
func NewEventMessage(e pipeline.Event, now time.Time) EventMessage {
	msg := EventMessage{
		Type:          e.Type,
		Sequence:      e.Sequence,
		TotalExpected: e.TotalExpected,
		AudioBytes:    len(e.Audio),
		Timestamp:     now.UnixMilli(),
	}
	switch e.Type {
	case pipeline.EventText, pipeline.EventReasoning:
		msg.Content = e.Content
	case pipeline.EventDone:
		msg.Content = e.FullText
	case pipeline.EventError:
		if e.Err != nil {
			msg.Error = e.Err.Error()
		}
	}
	return msg
}

// EventTopic 返回某个用户的事件主题
func EventTopic(prefix, userID string) string {
	return topic(prefix, userID, "events")
}

// IngressTopic 返回某个用户的客户端消息镜像主题
func IngressTopic(prefix, userID string) string {
	return topic(prefix, userID, "ingress")
}

func topic(prefix, userID, leaf string) string {
	if userID == "" {
		userID = "anonymous"
	}
	// MQTT 通配符不能出现在发布主题中
	userID = strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(userID)
	if prefix == "" {
		return userID + "/" + leaf
	}
	return prefix + "/" + userID + "/" + leaf
}

// PublishEvent 发布一条流水线事件的元数据
func (c *Client) PublishEvent(userID string, e pipeline.Event) error {
	payload, err := json.Marshal(NewEventMessage(e, time.Now()))
	if err != nil {
		return err
	}
	return c.Publish(EventTopic(c.prefix, userID), 0, false, payload)
}

// PublishIngress 镜像客户端发来的文本消息
func (c *Client) PublishIngress(userID string, payload []byte) error {
	return c.Publish(IngressTopic(c.prefix, userID), 0, false, payload)
}

// Disconnect 断开与 MQTT 代理的连接，可以并发或重复调用
func (c *Client) Disconnect(quiesce uint) {
	c.stopOnce.Do(func() { close(c.stop) })
	open := c.client.IsConnectionOpen()
	if c.connected.Swap(false) && open {
		c.client.Disconnect(quiesce)
		c.logger.Info("disconnected from broker")
	}
}
