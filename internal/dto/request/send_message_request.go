package request

import "dm_chat_server/pkg/protocol"

// SendMessageRequest sendMessage 事件的载荷 (WebSocket)
// TempId 由客户端生成，服务端在 messageSent 中原样带回
type SendMessageRequest = protocol.SendMessage
