// Package mqtt 提供 MQTT 客户端封装，用于订单事件投递与结算通知
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Config MQTT 配置
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	AutoReconnect  bool
}

// MessageHandler 消息处理器，返回 nil 时才确认消息，出错的消息由 broker 重投
type MessageHandler func(ctx context.Context, topic string, payload []byte) error

// Client MQTT 客户端
type Client struct {
	config   *Config
	client   mqtt.Client
	handlers map[string]MessageHandler
	mu       sync.RWMutex
	log      *zap.Logger
}

// NewClient 创建 MQTT 客户端
func NewClient(config *Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		config:   config,
		handlers: make(map[string]MessageHandler),
		log:      log.Named("mqtt"),
	}
}

// Connect 连接 MQTT Broker
//
// 关闭 CleanSession 并手动确认，进程重启后 broker 会重投未确认的 QoS 1 消息。
func (c *Client) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(false)
	opts.SetAutoAckDisabled(true)
	opts.SetKeepAlive(c.config.KeepAlive)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetAutoReconnect(c.config.AutoReconnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.client = mqtt.NewClient(opts)

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect error: %w", token.Error())
	}

	c.log.Info("已连接 MQTT broker", zap.String("broker", c.config.Broker))
	return nil
}

// Disconnect 断开连接
func (c *Client) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
		c.log.Info("已断开 MQTT broker")
	}
}

// IsConnected 检查是否已连接
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// Subscribe 订阅主题
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	c.mu.Lock()
	c.handlers[topic] = handler
	c.mu.Unlock()

	if token := c.client.Subscribe(topic, c.config.QoS, c.dispatch); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt subscribe error: %w", token.Error())
	}

	c.log.Info("已订阅主题", zap.String("topic", topic))
	return nil
}

// dispatch 按主题分发消息
func (c *Client) dispatch(_ mqtt.Client, msg mqtt.Message) {
	c.mu.RLock()
	h, ok := c.handlers[msg.Topic()]
	c.mu.RUnlock()
	if !ok {
		msg.Ack()
		return
	}

	if err := h(context.Background(), msg.Topic(), msg.Payload()); err != nil {
		c.log.Warn("消息处理失败，等待重投",
			zap.String("topic", msg.Topic()),
			zap.Uint16("message_id", msg.MessageID()),
			zap.Error(err))
		return
	}
	msg.Ack()
}

// Publish 发布消息，payload 为 []byte 或 string 时原样发送，其余序列化为 JSON
func (c *Client) Publish(ctx context.Context, topic string, payload interface{}) error {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("mqtt marshal payload error: %w", err)
		}
	}

	token := c.client.Publish(topic, c.config.QoS, false, data)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("mqtt publish error: %w", token.Error())
		}
		return nil
	}
}

// onConnect 连接成功回调，重新订阅所有主题
func (c *Client) onConnect(client mqtt.Client) {
	c.mu.RLock()
	topics := make([]string, 0, len(c.handlers))
	for topic := range c.handlers {
		topics = append(topics, topic)
	}
	c.mu.RUnlock()

	for _, topic := range topics {
		if token := client.Subscribe(topic, c.config.QoS, c.dispatch); token.Wait() && token.Error() != nil {
			c.log.Error("重新订阅失败", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}
}

// onConnectionLost 连接断开回调
func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.log.Warn("MQTT 连接断开", zap.Error(err))
}

// onReconnecting 重连回调
func (c *Client) onReconnecting(_ mqtt.Client, _ *mqtt.ClientOptions) {
	c.log.Info("正在重连 MQTT broker")
}
