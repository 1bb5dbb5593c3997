package respond

import "time"

// UserRespond 对外展示的用户信息，不含密码
type UserRespond struct {
	Id       string     `json:"id"`
	Username string     `json:"username"`
	Email    string     `json:"email"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}
