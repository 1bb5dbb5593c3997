package respond

import (
	"dm_chat_server/internal/model"
	"dm_chat_server/pkg/protocol"
)

// MessageRespond 消息的对外形态
// HTTP 聊天记录、receiveMessage 推送和 messageSent 确认共用
type MessageRespond = protocol.Message

// NewMessageRespond 由持久化的消息构造，sender/receiver 只带 id
func NewMessageRespond(m *model.Message) MessageRespond {
	return MessageRespond{
		Id:        m.Uuid,
		Sender:    protocol.PeerRef{Id: m.SenderId},
		Receiver:  protocol.PeerRef{Id: m.ReceiverId},
		Content:   m.Content,
		Timestamp: m.Timestamp,
		Read:      m.Read,
	}
}
