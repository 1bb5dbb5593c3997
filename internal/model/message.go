package model

import (
	"time"

	"gorm.io/gorm"
)

// Message 单聊消息，对应 message 表
// 创建后只有 Read 会被修改，不支持编辑和删除
type Message struct {
	gorm.Model

	// Uuid 雪花算法生成的消息 ID，对外字段名为 _id
	Uuid string `gorm:"column:uuid;uniqueIndex;type:varchar(32);not null;comment:消息雪花ID"`

	SenderId   string `gorm:"column:sender_id;index:idx_pair_time,priority:1;type:char(20);not null;comment:发送者uuid"`
	ReceiverId string `gorm:"column:receiver_id;index:idx_pair_time,priority:2;index:idx_receiver_read,priority:1;type:char(20);not null;comment:接收者uuid"`

	// Content 已去除首尾空白，非空
	Content string `gorm:"column:content;type:TEXT;not null;comment:消息内容"`

	Timestamp time.Time `gorm:"column:timestamp;index:idx_pair_time,priority:3;not null;comment:发送时间"`

	Read bool `gorm:"column:is_read;index:idx_receiver_read,priority:2;not null;default:false;comment:是否已读"`
}

func (Message) TableName() string {
	return "message"
}
