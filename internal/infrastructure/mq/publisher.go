// Package mq 把消息与在线状态事件发布到外部事件流（Kafka 或 RabbitMQ）
// 发布是尽力而为的旁路，失败只记日志和指标，不影响消息投递
package mq

import (
	"context"
	"time"

	"dm_chat_server/internal/config"

	"go.uber.org/zap"
)

// 路由键
const (
	RoutingMessageSent    = "message.sent"
	RoutingPresenceOnline = "presence.online"
	RoutingPresenceOff    = "presence.offline"
)

// Publisher 事件发布接口
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// MessageEvent 一条消息被持久化后发布
type MessageEvent struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Delivered  bool      `json:"delivered"` // 发布时接收方是否在线
}

func (e MessageEvent) PartitionKey() string { return e.ReceiverID }

// PresenceEvent 用户上线或下线
type PresenceEvent struct {
	UserID string    `json:"userId"`
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

func (e PresenceEvent) PartitionKey() string { return e.UserID }

// keyed 事件自带分区键时，Kafka 按它做 Hash 分区，保证同一用户的事件有序
type keyed interface {
	PartitionKey() string
}

// NewPublisher 按 MessageMode 构造发布器，连接失败时退化为 noop
func NewPublisher(kafkaCfg *config.KafkaConfig, amqpCfg *config.RabbitMQConfig) Publisher {
	switch kafkaCfg.MessageMode {
	case "kafka":
		if kafkaCfg.HostPort == "" {
			return newNoop("empty kafka hostPort")
		}
		return NewKafkaPublisher(kafkaCfg)
	case "rabbitmq":
		return NewAMQPPublisher(amqpCfg.URL, amqpCfg.Exchange)
	default:
		return newNoop("messageMode=" + kafkaCfg.MessageMode)
	}
}

type noopPublisher struct {
	reason string
}

func newNoop(reason string) noopPublisher {
	zap.L().Info("事件发布已禁用，使用 noop", zap.String("reason", reason))
	return noopPublisher{reason: reason}
}

func (p noopPublisher) Publish(_ context.Context, routingKey string, _ any) error {
	zap.L().Debug("noop publish", zap.String("routing_key", routingKey))
	return nil
}

func (noopPublisher) Close() error { return nil }

// Mode 发布器类型，用于启动日志
func Mode(p Publisher) string {
	switch p.(type) {
	case *KafkaPublisher:
		return "kafka"
	case *AMQPPublisher:
		return "rabbitmq"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

// NoopReason 返回 noop 的原因，非 noop 时为空
func NoopReason(p Publisher) string {
	if n, ok := p.(noopPublisher); ok {
		return n.reason
	}
	return ""
}
