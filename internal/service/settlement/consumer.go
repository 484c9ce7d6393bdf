package settlement

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/dumeirei/merch-settlement/internal/common/errors"
	"github.com/dumeirei/merch-settlement/pkg/mqtt"
)

// Subscriber 消息订阅
type Subscriber interface {
	Subscribe(topic string, handler mqtt.MessageHandler) error
}

// Subscribe 订阅订单完成主题
func (s *Service) Subscribe(sub Subscriber, topic string) error {
	return sub.Subscribe(topic, s.HandleOrderMessage)
}

// HandleOrderMessage 处理一条订单完成消息
//
// 返回 nil 即确认消息。内容无效的消息记录后确认，避免反复投递；
// 数据库等临时故障返回错误，不确认，由 broker 重投。
func (s *Service) HandleOrderMessage(ctx context.Context, topic string, payload []byte) error {
	s.metrics.RecordMQTTMessage(topic, "in")

	var evt OrderCompletedEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		s.metrics.RecordIngest("invalid")
		s.log.Error("订单完成消息无法解析，已丢弃",
			zap.String("topic", topic), zap.ByteString("payload", payload), zap.Error(err))
		return nil
	}

	_, _, err := s.Ingest(ctx, &evt)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errors.ErrInvalidOrderEvent),
		errors.Is(err, errors.ErrInvalidRate),
		errors.Is(err, errors.ErrInvalidAmount):
		s.log.Error("订单完成消息不可入账，已丢弃",
			zap.String("topic", topic), zap.String("order_id", evt.OrderID), zap.Error(err))
		return nil
	default:
		s.log.Warn("订单入账失败，等待重投",
			zap.String("topic", topic), zap.String("order_id", evt.OrderID), zap.Error(err))
		return err
	}
}
