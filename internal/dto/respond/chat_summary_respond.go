package respond

import "time"

// ChatSummary 会话列表中的一项，每个对端一条
type ChatSummary struct {
	PartnerId            string    `json:"partnerId"`
	PartnerUsername      string    `json:"partnerUsername"`
	PartnerEmail         string    `json:"partnerEmail"`
	IsOnline             bool      `json:"isOnline"`
	LastMessage          string    `json:"lastMessage"`
	LastMessageTimestamp time.Time `json:"lastMessageTimestamp"`
	LastMessageSender    string    `json:"lastMessageSender"`
	UnreadCount          int64     `json:"unreadCount"`
}
