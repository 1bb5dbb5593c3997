package chat

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"dm_chat_server/internal/dao/mysql/repository"
	myredis "dm_chat_server/internal/dao/redis"
	"dm_chat_server/internal/dto/request"
	"dm_chat_server/internal/infrastructure/metrics"
	"dm_chat_server/internal/infrastructure/mq"
	"dm_chat_server/internal/model"
	"dm_chat_server/internal/service/message"
	"dm_chat_server/internal/service/presence"
	"dm_chat_server/pkg/constants"
	"dm_chat_server/pkg/errorx"
	"dm_chat_server/pkg/protocol"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Limiter 发送频率限制，返回 false 时拒绝本条消息
type Limiter interface {
	Allow(userID string) bool
}

// Sender 发起投递的一方，Session 实现了它
type Sender interface {
	Active() bool
	User() *model.UserInfo
	Send(evt protocol.Event) bool
}

// Delivery 校验、持久化并路由一条消息
type Delivery struct {
	messages  repository.MessageRepository
	directory presence.Directory
	cache     myredis.AsyncCacheService
	publisher mq.Publisher
	limiter   Limiter
}

// DeliveryOption 配置 Delivery 的可选依赖
type DeliveryOption func(*Delivery)

// WithHistoryCache 投递后清除两人聊天记录缓存
func WithHistoryCache(cache myredis.AsyncCacheService) DeliveryOption {
	return func(d *Delivery) { d.cache = cache }
}

// WithEventPublisher 投递后发布 message.sent 事件
func WithEventPublisher(p mq.Publisher) DeliveryOption {
	return func(d *Delivery) { d.publisher = p }
}

func WithLimiter(l Limiter) DeliveryOption {
	return func(d *Delivery) { d.limiter = l }
}

func NewDelivery(messages repository.MessageRepository, directory presence.Directory, opts ...DeliveryOption) *Delivery {
	d := &Delivery{messages: messages, directory: directory}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit 处理一次 sendMessage
//  1. 内容为空或缺少接收方 -> error "Invalid message data"，返回 InvalidPayload
//  2. 未认证 -> 静默丢弃
//  3. 持久化失败 -> error "Failed to send message"，返回 StorageError
//  4. 接收方在线则推送 receiveMessage
//  5. 总是给发送方回 messageSent，带回 tempId
func (d *Delivery) Submit(ctx context.Context, from Sender, req request.SendMessageRequest) error {
	if user := from.User(); user != nil && d.limiter != nil && !d.limiter.Allow(user.Uuid) {
		metrics.IncMessage(metrics.ResultLimited)
		from.Send(protocol.Error(protocol.MsgTooManyMessages))
		return errorx.ErrRateLimited
	}

	content := strings.TrimSpace(req.Content)
	receiverID := strings.TrimSpace(req.ReceiverId)
	if content == "" || receiverID == "" || utf8.RuneCountInString(content) > constants.MAX_CONTENT_LENGTH {
		metrics.IncMessage(metrics.ResultInvalid)
		from.Send(protocol.Error(protocol.MsgInvalidMessage))
		return errorx.ErrInvalidPayload
	}

	user := from.User()
	if !from.Active() || user == nil {
		metrics.IncMessage(metrics.ResultDropped)
		return nil
	}

	ctx, span := tracer.Start(ctx, "chat.deliver")
	defer span.End()
	span.SetAttributes(attribute.String("sender.id", user.Uuid), attribute.String("receiver.id", receiverID))

	msg := &model.Message{
		SenderId:   user.Uuid,
		ReceiverId: receiverID,
		Content:    content,
	}
	if err := d.messages.Append(ctx, msg); err != nil {
		span.SetStatus(codes.Error, err.Error())
		zap.L().Error("消息持久化失败", zap.String("sender_id", user.Uuid), zap.String("receiver_id", receiverID), zap.Error(err))
		metrics.IncMessage(metrics.ResultFailed)
		from.Send(protocol.Error(protocol.MsgSendFailed))
		return errorx.Wrap(err, errorx.CodeDBError, protocol.MsgSendFailed)
	}

	out := protocol.Message{
		Id:        msg.Uuid,
		Sender:    protocol.PeerRef{Id: user.Uuid, Username: user.Username},
		Receiver:  protocol.PeerRef{Id: receiverID},
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
		Read:      false,
	}

	d.invalidateHistory(ctx, msg)

	delivered := false
	if h, ok := d.directory.Route(receiverID); ok {
		delivered = h.Send(protocol.ReceiveMessage(out))
	}
	span.SetAttributes(attribute.Bool("delivered", delivered))
	from.Send(protocol.Sent(out, req.TempId))

	if delivered {
		metrics.IncMessage(metrics.ResultDelivered)
	} else {
		metrics.IncMessage(metrics.ResultStored)
	}
	d.afterDeliver(msg, delivered)
	return nil
}

// invalidateHistory 在确认之前使两人聊天记录缓存失效，确认后的拉取一定包含这条消息
func (d *Delivery) invalidateHistory(ctx context.Context, msg *model.Message) {
	if d.cache == nil {
		return
	}
	if err := message.InvalidateHistory(ctx, d.cache, msg.SenderId, msg.ReceiverId); err != nil {
		zap.L().Warn("聊天记录缓存失效失败", zap.String("sender_id", msg.SenderId), zap.String("receiver_id", msg.ReceiverId), zap.Error(err))
	}
}

// afterDeliver 异步发布事件，失败只记录日志
func (d *Delivery) afterDeliver(msg *model.Message, delivered bool) {
	if d.publisher == nil {
		return
	}
	task := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = d.publisher.Publish(ctx, mq.RoutingMessageSent, mq.MessageEvent{
			ID:         msg.Uuid,
			SenderID:   msg.SenderId,
			ReceiverID: msg.ReceiverId,
			Content:    msg.Content,
			Timestamp:  msg.Timestamp,
			Delivered:  delivered,
		})
	}
	if d.cache != nil {
		d.cache.SubmitTask(task)
		return
	}
	go task()
}
