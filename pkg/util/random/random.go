package random

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"time"
)

const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// userIDLen 用户 ID 随机部分长度
const userIDLen = 11

var userIDPattern = regexp.MustCompile(`^U[0-9]{6}[a-zA-Z0-9]{11}$`)

// GetNowAndLenRandomString 生成带日期前缀的随机字符串
// 格式: YYMMDD + 字母数字混合，例如 241230AbCdE123456
func GetNowAndLenRandomString(length int) string {
	result := make([]byte, length)
	charsetLen := big.NewInt(int64(len(charset)))
	for i := range result {
		n, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			result[i] = 'x'
			continue
		}
		result[i] = charset[n.Int64()]
	}
	return time.Now().Format("060102") + string(result)
}

// NewUserID 生成用户 ID，例如 U241230AbCdE123456
func NewUserID() string {
	return "U" + GetNowAndLenRandomString(userIDLen)
}

// IsValidUserID 校验用户 ID 格式
func IsValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}
