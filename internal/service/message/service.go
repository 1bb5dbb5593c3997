package message

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"dm_chat_server/internal/dao/mysql/repository"
	myredis "dm_chat_server/internal/dao/redis"
	"dm_chat_server/internal/dto/respond"
	"dm_chat_server/internal/model"
	"dm_chat_server/pkg/constants"
	"dm_chat_server/pkg/errorx"
	"dm_chat_server/pkg/protocol"
	"dm_chat_server/pkg/util/random"
)

// OnlineChecker 查询内存在线表
type OnlineChecker interface {
	IsOnline(userID string) bool
}

// messageService 消息业务逻辑实现
type messageService struct {
	repos    *repository.Repositories
	cache    myredis.AsyncCacheService
	presence OnlineChecker
}

// NewMessageService 构造函数，cache 为 nil 时不使用聊天记录缓存
func NewMessageService(repos *repository.Repositories, cache myredis.AsyncCacheService, presence OnlineChecker) *messageService {
	return &messageService{repos: repos, cache: cache, presence: presence}
}

func pairKey(userOneId, userTwoId string) string {
	if userOneId > userTwoId {
		userOneId, userTwoId = userTwoId, userOneId
	}
	return userOneId + "_" + userTwoId
}

// HistoryVersionKey 两人聊天记录的版本号 Key，与参数顺序无关
func HistoryVersionKey(userOneId, userTwoId string) string {
	return constants.RedisKeyMessageVer + pairKey(userOneId, userTwoId)
}

// HistoryCacheKey 某个版本的聊天记录缓存 Key
// 版本号变化后旧 Key 不再被读取，读库期间被并发失效的旧列表即使写回也不可见
func HistoryCacheKey(userOneId, userTwoId string, version int64) string {
	return constants.RedisKeyMessageList + pairKey(userOneId, userTwoId) + ":" + strconv.FormatInt(version, 10)
}

// InvalidateHistory 递增两人聊天记录的版本号，使已有缓存失效
func InvalidateHistory(ctx context.Context, cache myredis.CacheService, userOneId, userTwoId string) error {
	_, err := cache.Incr(ctx, HistoryVersionKey(userOneId, userTwoId), constants.HistoryVersionTTL)
	return err
}

// ChatList 会话列表，每个对端一条，按最后一条消息时间倒序
func (m *messageService) ChatList(ctx context.Context, selfID string) ([]respond.ChatSummary, error) {
	summaries, err := m.repos.Message.AggregateLastPerPartner(ctx, selfID, constants.CHAT_LIST_LIMIT)
	if err != nil {
		zap.L().Error("聚合会话列表失败", zap.String("user_id", selfID), zap.Error(err))
		return nil, errorx.New(errorx.CodeServerBusy, "Failed to fetch chat list")
	}

	partnerIDs := make([]string, 0, len(summaries))
	for _, s := range summaries {
		partnerIDs = append(partnerIDs, s.PartnerID)
	}
	partners, err := m.usersByID(ctx, partnerIDs)
	if err != nil {
		return nil, errorx.New(errorx.CodeServerBusy, "Failed to fetch chat list")
	}

	rsp := make([]respond.ChatSummary, 0, len(summaries))
	for _, s := range summaries {
		item := respond.ChatSummary{
			PartnerId:            s.PartnerID,
			PartnerUsername:      constants.UnknownUsername,
			PartnerEmail:         constants.UnknownEmail,
			LastMessage:          s.LastMessage.Content,
			LastMessageTimestamp: s.LastMessage.Timestamp,
			LastMessageSender:    s.LastMessage.SenderId,
			UnreadCount:          s.UnreadCount,
		}
		if p, ok := partners[s.PartnerID]; ok {
			item.PartnerUsername = p.Username
			item.PartnerEmail = p.Email
			item.IsOnline = p.IsOnline
		}
		if m.presence != nil {
			item.IsOnline = m.presence.IsOnline(s.PartnerID)
		}
		rsp = append(rsp, item)
	}
	return rsp, nil
}

// History 两人之间的聊天记录，按时间升序
// markRead 为 true 时把对端发给自己的未读消息标为已读，返回的列表仍是标记前的状态
func (m *messageService) History(ctx context.Context, selfID, partnerID string, markRead bool) ([]respond.MessageRespond, error) {
	if !random.IsValidUserID(partnerID) {
		return nil, errorx.New(errorx.CodeInvalidParam, "Invalid user ID")
	}
	// 版本号必须在读库之前取得
	cacheKey, cacheOK := m.cacheKey(ctx, selfID, partnerID)

	var rspList []respond.MessageRespond
	hit := false
	if cacheOK {
		rspList, hit = m.loadCache(ctx, cacheKey)
	}
	if !hit {
		var err error
		rspList, err = m.loadDB(ctx, selfID, partnerID)
		if err != nil {
			return nil, err
		}
	}

	var marked int64
	if markRead {
		n, err := m.repos.Message.MarkRead(ctx, partnerID, selfID)
		if err != nil {
			zap.L().Error("标记已读失败", zap.String("user_id", selfID), zap.String("partner_id", partnerID), zap.Error(err))
			return nil, errorx.New(errorx.CodeServerBusy, "Failed to fetch messages")
		}
		marked = n
	}

	switch {
	case marked > 0:
		m.invalidate(ctx, selfID, partnerID)
	case cacheOK && !hit:
		m.storeCache(cacheKey, rspList)
	}
	return rspList, nil
}

// cacheKey 读取当前版本号并拼出缓存 Key，未启用缓存或读取失败时返回 false
func (m *messageService) cacheKey(ctx context.Context, selfID, partnerID string) (string, bool) {
	if m.cache == nil {
		return "", false
	}
	verKey := HistoryVersionKey(selfID, partnerID)
	raw, err := m.cache.Get(ctx, verKey)
	if err != nil {
		zap.L().Warn("读取聊天记录版本号失败", zap.String("key", verKey), zap.Error(err))
		return "", false
	}
	var version int64
	if raw != "" {
		if version, err = strconv.ParseInt(raw, 10, 64); err != nil {
			zap.L().Error("聊天记录版本号格式错误", zap.String("key", verKey), zap.String("value", raw))
			return "", false
		}
	}
	return HistoryCacheKey(selfID, partnerID, version), true
}

func (m *messageService) loadCache(ctx context.Context, key string) ([]respond.MessageRespond, bool) {
	if m.cache == nil {
		return nil, false
	}
	rspString, err := m.cache.Get(ctx, key)
	if err != nil {
		zap.L().Warn("读取聊天记录缓存失败", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if rspString == "" {
		return nil, false
	}
	var rsp []respond.MessageRespond
	if err := json.Unmarshal([]byte(rspString), &rsp); err != nil {
		// 缓存损坏时视同未命中
		zap.L().Error("json unmarshal cache error", zap.Error(err))
		return nil, false
	}
	return rsp, true
}

func (m *messageService) loadDB(ctx context.Context, selfID, partnerID string) ([]respond.MessageRespond, error) {
	messages, err := m.repos.Message.FindByPair(ctx, selfID, partnerID)
	if err != nil {
		zap.L().Error("查询聊天记录失败", zap.Error(err))
		return nil, errorx.New(errorx.CodeServerBusy, "Failed to fetch messages")
	}
	users, err := m.usersByID(ctx, []string{selfID, partnerID})
	if err != nil {
		return nil, errorx.New(errorx.CodeServerBusy, "Failed to fetch messages")
	}

	rspList := make([]respond.MessageRespond, 0, len(messages))
	for i := range messages {
		rsp := respond.NewMessageRespond(&messages[i])
		rsp.Sender = peerRef(users, rsp.Sender.Id)
		rsp.Receiver = peerRef(users, rsp.Receiver.Id)
		rspList = append(rspList, rsp)
	}
	return rspList, nil
}

func (m *messageService) storeCache(key string, rspList []respond.MessageRespond) {
	if m.cache == nil {
		return
	}
	m.cache.SubmitTask(func() {
		jsonBytes, err := json.Marshal(rspList)
		if err != nil {
			zap.L().Error("json marshal error", zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := m.cache.Set(ctx, key, string(jsonBytes), time.Duration(constants.REDIS_TIMEOUT)*time.Minute); err != nil {
			zap.L().Error("redis set key error", zap.Error(err))
		}
	})
}

// invalidate 已读状态变化后同步递增版本号，失败只记录日志
func (m *messageService) invalidate(ctx context.Context, selfID, partnerID string) {
	if m.cache == nil {
		return
	}
	if err := InvalidateHistory(ctx, m.cache, selfID, partnerID); err != nil {
		zap.L().Error("聊天记录缓存失效失败", zap.String("user_id", selfID), zap.String("partner_id", partnerID), zap.Error(err))
	}
}

func (m *messageService) usersByID(ctx context.Context, ids []string) (map[string]model.UserInfo, error) {
	out := make(map[string]model.UserInfo, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	users, err := m.repos.User.FindByUuids(ctx, ids)
	if err != nil {
		zap.L().Error("批量查询用户失败", zap.Error(err))
		return nil, err
	}
	for _, u := range users {
		out[u.Uuid] = u
	}
	return out, nil
}

func peerRef(users map[string]model.UserInfo, id string) protocol.PeerRef {
	ref := protocol.PeerRef{Id: id}
	if u, ok := users[id]; ok {
		ref.Username = u.Username
		ref.Email = u.Email
	}
	return ref
}
