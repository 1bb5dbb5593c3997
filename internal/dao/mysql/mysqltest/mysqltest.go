// Package mysqltest 为测试提供基于 SQLite 内存库的 Repository
package mysqltest

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"dm_chat_server/internal/config"
	mysqldao "dm_chat_server/internal/dao/mysql"
	"dm_chat_server/internal/dao/mysql/repository"
	"dm_chat_server/internal/model"
)

var seq atomic.Int64

// NewRepos 每次调用得到一个独立的内存库，测试结束时关闭
func NewRepos(t testing.TB) *repository.Repositories {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := mysqldao.Open(&config.MysqlConfig{
		Driver:       "sqlite",
		DatabaseName: fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1)),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return repository.NewRepositories(db)
}

// CreateUser 写入一个密码为 secret123 的用户
func CreateUser(t testing.TB, repos *repository.Repositories, uuid, username string) *model.UserInfo {
	t.Helper()
	u := &model.UserInfo{
		Uuid:        uuid,
		Username:    username,
		Email:       username + "@example.com",
		RawPassword: "secret123",
	}
	if err := repos.User.Create(context.Background(), u); err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}
