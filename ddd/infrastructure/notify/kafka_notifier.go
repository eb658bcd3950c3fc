package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"acquisition-service/ddd/domain/gateway"
	"acquisition-service/pkg/logger"
)

// Producer 消息生产者
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte) error
}

// Message 通知消息体
type Message struct {
	Event   string                 `json:"event"`
	Payload map[string]interface{} `json:"payload"`
	SentAt  time.Time              `json:"sentAt"`
}

// KafkaNotifier 把通知写入 Kafka topic，按 requestId 分区
type KafkaNotifier struct {
	producer Producer
	topic    string
}

func NewKafkaNotifier(producer Producer, topic string) gateway.Notifier {
	return &KafkaNotifier{producer: producer, topic: topic}
}

func (n *KafkaNotifier) Notify(ctx context.Context, event string, payload map[string]interface{}) error {
	value, err := json.Marshal(Message{Event: event, Payload: payload, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	key, _ := payload["requestId"].(string)
	if err := n.producer.Produce(ctx, n.topic, []byte(key), value); err != nil {
		return fmt.Errorf("produce notification: %w", err)
	}
	logger.Debugf("notification sent topic=%s event=%s request_id=%s", n.topic, event, key)
	return nil
}

// LogNotifier 未启用 Kafka 时只记录日志
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, event string, payload map[string]interface{}) error {
	logger.Info("notification", map[string]interface{}{"event": event, "payload": payload})
	return nil
}
