// Package model 定义数据库实体模型
package model

import (
	"database/sql"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// UserInfo 用户信息，对应 user_info 表
type UserInfo struct {
	gorm.Model

	// Uuid 用户唯一标识，格式 U + YYMMDD + 11 位随机字符
	Uuid string `gorm:"column:uuid;uniqueIndex;type:char(20);not null;comment:用户唯一id"`

	Username string `gorm:"column:username;uniqueIndex;type:varchar(50);not null;comment:用户名"`
	Email    string `gorm:"column:email;uniqueIndex;type:varchar(100);not null;comment:邮箱"`

	// Password bcrypt 哈希，不存明文
	Password string `gorm:"column:password;type:varchar(100);not null;comment:密码"`

	// IsOnline 最近一次已知的在线状态，连接期间以 Presence Table 为准
	IsOnline bool         `gorm:"column:is_online;not null;default:false;comment:是否在线"`
	LastSeen sql.NullTime `gorm:"column:last_seen;comment:最近离线时间"`

	// RawPassword 明文密码，在 BeforeSave 中加密后清空
	RawPassword string `gorm:"-" json:"-"`
}

func (UserInfo) TableName() string {
	return "user_info"
}

// BeforeSave 在创建和更新前把 RawPassword 哈希到 Password
func (u *UserInfo) BeforeSave(tx *gorm.DB) error {
	if u.RawPassword == "" {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(u.RawPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.Password = string(hash)
	u.RawPassword = ""
	return nil
}

// CheckPassword 校验明文密码
func (u *UserInfo) CheckPassword(plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(plaintext)) == nil
}
