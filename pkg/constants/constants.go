package constants

import "time"

const (
	CHANNEL_SIZE               = 100  // 单个连接的发送缓冲
	REDIS_TIMEOUT              = 1    // 聊天记录缓存有效期（分钟）
	REFRESH_TOKEN_EXPIRY_HOURS = 168  // Refresh Token 有效期（小时），168小时 = 7天
	CHAT_LIST_LIMIT            = 50   // 会话列表最多返回条数
	MAX_CONTENT_LENGTH         = 4096 // 单条消息最大字符数
)

const (
	UnknownUsername = "Unknown User"        // 对端用户已不存在时的展示名
	UnknownEmail    = "unknown@example.com" // 对端用户已不存在时的邮箱
)

// Redis Key 前缀
const (
	RedisKeyUserToken   = "user_token:"    // 用户当前有效的 Refresh Token ID
	RedisKeyMessageList = "message_list_"  // 双人聊天记录缓存，后缀为版本号
	RedisKeyMessageVer  = "message_ver_"   // 双人聊天记录缓存版本号
	RedisKeyOnlineUsers = "online_users"   // 在线用户镜像集合
)

const (
	DefaultAuthTimeout    = 30 * time.Second // 连接建立后等待认证的最长时间
	DefaultPendingTimeout = 10 * time.Second // 客户端乐观消息等待确认的时间
	HistoryVersionTTL     = 24 * time.Hour   // 聊天记录版本号有效期，需远大于缓存有效期
)
