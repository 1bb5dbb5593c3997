package message

import (
	"context"
	"sync"
	"testing"
	"time"

	"dm_chat_server/internal/dao/mysql/mysqltest"
	"dm_chat_server/internal/dao/mysql/repository"
	myredis "dm_chat_server/internal/dao/redis"
	"dm_chat_server/internal/model"
	"dm_chat_server/pkg/constants"
	"dm_chat_server/pkg/errorx"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "U240101aaaaaaaaaaa"
	bob   = "U240101bbbbbbbbbbb"
	ghost = "U240101ggggggggggg"
)

type onlineSet map[string]bool

func (s onlineSet) IsOnline(id string) bool { return s[id] }

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T) *repository.Repositories {
	t.Helper()
	repos := mysqltest.NewRepos(t)
	mysqltest.CreateUser(t, repos, alice, "alice")
	mysqltest.CreateUser(t, repos, bob, "bob")

	ctx := context.Background()
	msgs := []model.Message{
		{SenderId: alice, ReceiverId: bob, Content: "hi bob", Timestamp: base},
		{SenderId: bob, ReceiverId: alice, Content: "hi alice", Timestamp: base.Add(time.Minute)},
		{SenderId: bob, ReceiverId: alice, Content: "you there?", Timestamp: base.Add(2 * time.Minute)},
		{SenderId: ghost, ReceiverId: alice, Content: "boo", Timestamp: base.Add(-time.Hour)},
	}
	for i := range msgs {
		require.NoError(t, repos.Message.Append(ctx, &msgs[i]))
	}
	return repos
}

func newCache(t *testing.T) (*myredis.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := myredis.NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 1, 10)
	t.Cleanup(func() { _ = cache.Close() })
	return cache, mr
}

func TestChatList(t *testing.T) {
	repos := seed(t)
	svc := NewMessageService(repos, nil, onlineSet{bob: true})

	list, err := svc.ChatList(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, bob, list[0].PartnerId)
	assert.Equal(t, "bob", list[0].PartnerUsername)
	assert.Equal(t, "you there?", list[0].LastMessage)
	assert.Equal(t, bob, list[0].LastMessageSender)
	assert.EqualValues(t, 2, list[0].UnreadCount)
	assert.True(t, list[0].IsOnline)

	assert.Equal(t, ghost, list[1].PartnerId)
	assert.Equal(t, constants.UnknownUsername, list[1].PartnerUsername)
	assert.Equal(t, constants.UnknownEmail, list[1].PartnerEmail)
	assert.False(t, list[1].IsOnline)
}

func TestHistoryMarksRead(t *testing.T) {
	repos := seed(t)
	svc := NewMessageService(repos, nil, nil)
	ctx := context.Background()

	msgs, err := svc.History(ctx, alice, bob, true)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "hi bob", msgs[0].Content)
	assert.Equal(t, "alice", msgs[0].Sender.Username)
	assert.Equal(t, "bob@example.com", msgs[0].Receiver.Email)
	assert.False(t, msgs[2].Read)

	senders, err := repos.Message.UnreadSenders(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{ghost}, senders)

	again, err := svc.History(ctx, alice, bob, false)
	require.NoError(t, err)
	assert.True(t, again[2].Read)
}

func TestHistoryWithoutMarkRead(t *testing.T) {
	repos := seed(t)
	svc := NewMessageService(repos, nil, nil)

	_, err := svc.History(context.Background(), alice, bob, false)
	require.NoError(t, err)
	senders, err := repos.Message.UnreadSenders(context.Background(), alice)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{bob, ghost}, senders)
}

func TestHistoryRejectsMalformedID(t *testing.T) {
	svc := NewMessageService(seed(t), nil, nil)
	_, err := svc.History(context.Background(), alice, "not-a-user", true)
	assert.Equal(t, errorx.CodeInvalidParam, errorx.GetCode(err))
}

func TestHistoryCache(t *testing.T) {
	repos := seed(t)
	cache, mr := newCache(t)
	svc := NewMessageService(repos, cache, nil)
	ctx := context.Background()
	assert.Equal(t, HistoryVersionKey(bob, alice), HistoryVersionKey(alice, bob))
	assert.Equal(t, HistoryCacheKey(bob, alice, 3), HistoryCacheKey(alice, bob, 3))

	// 第一次读取会标记已读，版本号递增而不是写入缓存
	_, err := svc.History(ctx, alice, bob, true)
	require.NoError(t, err)
	ver, err := mr.Get(HistoryVersionKey(alice, bob))
	require.NoError(t, err)
	assert.Equal(t, "1", ver)
	assert.False(t, mr.Exists(HistoryCacheKey(alice, bob, 0)))

	key := HistoryCacheKey(alice, bob, 1)
	first, err := svc.History(ctx, alice, bob, true)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return mr.Exists(key) }, time.Second, 10*time.Millisecond)

	// 绕过投递直接写库的消息在缓存有效期内不可见
	require.NoError(t, repos.Message.Append(ctx, &model.Message{SenderId: alice, ReceiverId: bob, Content: "late", Timestamp: base.Add(time.Hour)}))
	cached, err := svc.History(ctx, bob, alice, false)
	require.NoError(t, err)
	require.Len(t, cached, len(first))
	for i := range first {
		assert.Equal(t, first[i].Id, cached[i].Id)
		assert.Equal(t, first[i].Sender.Username, cached[i].Sender.Username)
	}

	// 递增版本号后重新读库
	require.NoError(t, InvalidateHistory(ctx, cache, bob, alice))
	fresh, err := svc.History(ctx, bob, alice, false)
	require.NoError(t, err)
	assert.Len(t, fresh, len(first)+1)
}

// racingMessages 在第一次 FindByPair 读完之后插入一条新消息并使缓存失效，
// 模拟读库期间并发完成的一次投递
type racingMessages struct {
	repository.MessageRepository
	once  sync.Once
	after func()
}

func (r *racingMessages) FindByPair(ctx context.Context, userA, userB string) ([]model.Message, error) {
	msgs, err := r.MessageRepository.FindByPair(ctx, userA, userB)
	r.once.Do(r.after)
	return msgs, err
}

func TestHistoryStaleWriteDoesNotHideNewMessage(t *testing.T) {
	repos := seed(t)
	mr := miniredis.RunT(t)
	cache := myredis.NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 1, 10)
	ctx := context.Background()

	repos.Message = &racingMessages{
		MessageRepository: repos.Message,
		after: func() {
			require.NoError(t, repos.Message.Append(ctx, &model.Message{SenderId: bob, ReceiverId: alice, Content: "new one", Timestamp: base.Add(time.Hour)}))
			require.NoError(t, InvalidateHistory(ctx, cache, alice, bob))
		},
	}
	svc := NewMessageService(repos, cache, nil)

	stale, err := svc.History(ctx, alice, bob, false)
	require.NoError(t, err)
	require.Len(t, stale, 3)
	// 等待旧列表的异步写入完成
	require.NoError(t, cache.Close())
	assert.True(t, mr.Exists(HistoryCacheKey(alice, bob, 0)))

	cache2 := myredis.NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 1, 10)
	t.Cleanup(func() { _ = cache2.Close() })
	svc = NewMessageService(repos, cache2, nil)

	later, err := svc.History(ctx, alice, bob, false)
	require.NoError(t, err)
	require.Len(t, later, 4)
	assert.Equal(t, "new one", later[3].Content)
}
