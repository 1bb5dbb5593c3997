package mq

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"dm_chat_server/internal/config"
	"dm_chat_server/internal/infrastructure/metrics"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaPublisher 消息事件写 ChatTopic，在线状态事件写 PresenceTopic
type KafkaPublisher struct {
	writer        *kafka.Writer
	chatTopic     string
	presenceTopic string
}

// NewKafkaPublisher 创建 Kafka 写入器，Topic 由每条消息指定
func NewKafkaPublisher(cfg *config.KafkaConfig) *KafkaPublisher {
	timeout := cfg.Timeout * time.Second
	if timeout <= 0 {
		timeout = time.Second
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.HostPort),
		Balancer:               &kafka.Hash{},
		WriteTimeout:           timeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: false,
	}
	zap.L().Info("Kafka 事件发布已启用",
		zap.String("hostPort", cfg.HostPort),
		zap.String("chatTopic", cfg.ChatTopic),
		zap.String("presenceTopic", cfg.PresenceTopic),
	)
	return newKafkaPublisher(w, cfg.ChatTopic, cfg.PresenceTopic)
}

func newKafkaPublisher(w *kafka.Writer, chatTopic, presenceTopic string) *KafkaPublisher {
	return &KafkaPublisher{writer: w, chatTopic: chatTopic, presenceTopic: presenceTopic}
}

// topicFor 按路由键前缀选择主题
func (k *KafkaPublisher) topicFor(routingKey string) string {
	if strings.HasPrefix(routingKey, "presence.") {
		return k.presenceTopic
	}
	return k.chatTopic
}

// buildMessage 组装 kafka.Message，路由键放在 header 中
func (k *KafkaPublisher) buildMessage(routingKey string, event any) (kafka.Message, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	msg := kafka.Message{
		Topic:   k.topicFor(routingKey),
		Value:   body,
		Headers: []kafka.Header{{Key: "routing_key", Value: []byte(routingKey)}},
		Time:    time.Now(),
	}
	if ke, ok := event.(keyed); ok {
		msg.Key = []byte(ke.PartitionKey())
	}
	return msg, nil
}

func (k *KafkaPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	msg, err := k.buildMessage(routingKey, event)
	if err != nil {
		return err
	}
	if err = k.writer.WriteMessages(ctx, msg); err != nil {
		metrics.IncPublishError("kafka")
		zap.L().Warn("kafka publish failed", zap.String("routing_key", routingKey), zap.Error(err))
		return err
	}
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}
