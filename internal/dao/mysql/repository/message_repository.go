package repository

import (
	"cmp"
	"context"
	"slices"
	"time"

	"dm_chat_server/internal/model"
	"dm_chat_server/pkg/util/snowflake"

	"gorm.io/gorm"
)

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建消息 Repository
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Append(ctx context.Context, msg *model.Message) error {
	if msg.Uuid == "" {
		msg.Uuid = snowflake.GenerateIDString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return wrapDBError(err, "写入消息")
	}
	return nil
}

func (r *messageRepository) FindByPair(ctx context.Context, userA, userB string) ([]model.Message, error) {
	var messages []model.Message
	err := r.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", userA, userB, userB, userA).
		Order("timestamp ASC").Order("id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, wrapDBErrorf(err, "查询消息 user1=%s user2=%s", userA, userB)
	}
	return messages, nil
}

func (r *messageRepository) MarkRead(ctx context.Context, senderID, receiverID string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND is_read = ?", senderID, receiverID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, wrapDBErrorf(res.Error, "标记已读 sender=%s receiver=%s", senderID, receiverID)
	}
	return res.RowsAffected, nil
}

type partnerLastRow struct {
	PartnerID string
	LastID    uint
}

type unreadCountRow struct {
	SenderID string
	Cnt      int64
}

// AggregateLastPerPartner 分三步完成，兼容 MySQL 和 SQLite：
//  1. 按对端分组取最大自增 ID，即最后一条消息
//  2. 按 ID 取回这些消息
//  3. 统计各对端发给自己的未读数
func (r *messageRepository) AggregateLastPerPartner(ctx context.Context, self string, limit int) ([]PartnerSummary, error) {
	db := r.db.WithContext(ctx)

	var rows []partnerLastRow
	err := db.Raw(`SELECT CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END AS partner_id, MAX(id) AS last_id
		FROM message
		WHERE (sender_id = ? OR receiver_id = ?) AND deleted_at IS NULL
		GROUP BY partner_id
		ORDER BY last_id DESC
		LIMIT ?`, self, self, self, limit).Scan(&rows).Error
	if err != nil {
		return nil, wrapDBErrorf(err, "聚合会话列表 user=%s", self)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]uint, 0, len(rows))
	partners := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.LastID)
		partners = append(partners, row.PartnerID)
	}

	var lastMessages []model.Message
	if err = db.Where("id IN ?", ids).Find(&lastMessages).Error; err != nil {
		return nil, wrapDBErrorf(err, "查询最后一条消息 user=%s", self)
	}
	byID := make(map[uint]model.Message, len(lastMessages))
	for _, m := range lastMessages {
		byID[m.ID] = m
	}

	var counts []unreadCountRow
	err = db.Model(&model.Message{}).
		Select("sender_id, COUNT(*) AS cnt").
		Where("receiver_id = ? AND is_read = ? AND sender_id IN ?", self, false, partners).
		Group("sender_id").
		Scan(&counts).Error
	if err != nil {
		return nil, wrapDBErrorf(err, "统计未读 user=%s", self)
	}
	unread := make(map[string]int64, len(counts))
	for _, c := range counts {
		unread[c.SenderID] = c.Cnt
	}

	summaries := make([]PartnerSummary, 0, len(rows))
	for _, row := range rows {
		msg, ok := byID[row.LastID]
		if !ok {
			continue
		}
		summaries = append(summaries, PartnerSummary{
			PartnerID:   row.PartnerID,
			LastMessage: msg,
			UnreadCount: unread[row.PartnerID],
		})
	}
	slices.SortStableFunc(summaries, func(a, b PartnerSummary) int {
		if c := b.LastMessage.Timestamp.Compare(a.LastMessage.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.LastMessage.ID, a.LastMessage.ID)
	})
	return summaries, nil
}

func (r *messageRepository) UnreadSenders(ctx context.Context, receiverID string) ([]string, error) {
	var senders []string
	err := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("receiver_id = ? AND is_read = ?", receiverID, false).
		Distinct().
		Order("sender_id ASC").
		Pluck("sender_id", &senders).Error
	if err != nil {
		return nil, wrapDBErrorf(err, "查询未读发送者 receiver=%s", receiverID)
	}
	return senders, nil
}
