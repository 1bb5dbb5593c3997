// Package repository 定义数据访问层接口和聚合结构
// 所有 Repository 接口在此文件定义，具体实现在各自的文件中
package repository

import (
	"context"
	"time"

	"dm_chat_server/internal/model"

	"gorm.io/gorm"
)

// UserRepository 用户数据访问接口
type UserRepository interface {
	FindByUuid(ctx context.Context, uuid string) (*model.UserInfo, error)
	FindByUuids(ctx context.Context, uuids []string) ([]model.UserInfo, error)
	FindByEmail(ctx context.Context, email string) (*model.UserInfo, error)
	FindByUsername(ctx context.Context, username string) (*model.UserInfo, error)
	// FindAllExcept 除指定用户外的所有用户，按用户名排序
	FindAllExcept(ctx context.Context, excludeUuid string) ([]model.UserInfo, error)
	Create(ctx context.Context, user *model.UserInfo) error
	// SetOnline 连接认证成功时写入在线状态
	SetOnline(ctx context.Context, uuid string) error
	// SetOffline 连接断开时写入离线状态和最近在线时间
	SetOffline(ctx context.Context, uuid string, lastSeen time.Time) error
}

// PartnerSummary 某个会话对端的聚合结果
type PartnerSummary struct {
	PartnerID   string
	LastMessage model.Message
	UnreadCount int64 // 对端发给自己且未读的条数
}

// MessageRepository 消息数据访问接口（Message Log）
// 消息只追加，唯一的修改是已读标记
type MessageRepository interface {
	// Append 持久化消息，Uuid 和 Timestamp 为空时自动生成
	Append(ctx context.Context, msg *model.Message) error
	// FindByPair 两人之间的全部消息，按时间升序
	FindByPair(ctx context.Context, userA, userB string) ([]model.Message, error)
	// MarkRead 把 sender 发给 receiver 的未读消息标记为已读，返回影响行数
	MarkRead(ctx context.Context, senderID, receiverID string) (int64, error)
	// AggregateLastPerPartner 每个对端一条汇总，按最后一条消息倒序
	AggregateLastPerPartner(ctx context.Context, self string, limit int) ([]PartnerSummary, error)
	// UnreadSenders 有未读消息发给 receiver 的发送者，去重
	UnreadSenders(ctx context.Context, receiverID string) ([]string, error)
}

// Repositories 聚合所有 Repository 实例，Service 层通过它访问数据层
type Repositories struct {
	db      *gorm.DB
	User    UserRepository
	Message MessageRepository
}

// NewRepositories 基于同一个 *gorm.DB 创建全部 Repository
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:      db,
		User:    NewUserRepository(db),
		Message: NewMessageRepository(db),
	}
}

// DB 底层连接，用于关闭和健康检查
func (r *Repositories) DB() *gorm.DB {
	return r.db
}
