// Package errorx 定义带业务错误码的错误类型
// 聊天核心的错误分类（未认证、载荷非法、存储失败）都映射到这里的错误码
package errorx

import (
	"errors"
	"fmt"
)

// CodeError 带业务错误码的自定义错误
// 支持 %w 包装底层错误，可被 errors.Is/errors.As 识别
type CodeError struct {
	Code  int    // 业务错误码
	Msg   string // 面向客户端的错误消息
	cause error  // 被包装的底层错误
}

func (e *CodeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.cause)
	}
	return e.Msg
}

// Unwrap 支持 errors.Is/errors.As 向下追溯
func (e *CodeError) Unwrap() error {
	return e.cause
}

// Is 同码即视为同类错误，便于 errors.Is(err, errorx.ErrUnauthenticated)
func (e *CodeError) Is(target error) bool {
	var t *CodeError
	if !errors.As(target, &t) {
		return false
	}
	return t.cause == nil && t.Code == e.Code
}

// New 创建一个新的 CodeError
func New(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

// Newf 创建一个带格式化消息的 CodeError
func Newf(code int, format string, args ...any) *CodeError {
	return &CodeError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap 包装底层错误
// 用法: errorx.Wrap(err, CodeDBError, "写入消息失败")
func Wrap(err error, code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg, cause: err}
}

// Wrapf 包装底层错误，支持格式化消息
func Wrapf(err error, code int, format string, args ...any) *CodeError {
	return &CodeError{Code: code, Msg: fmt.Sprintf(format, args...), cause: err}
}

// GetCode 提取业务错误码，非 CodeError 返回 CodeServerBusy
func GetCode(err error) int {
	var codeErr *CodeError
	if errors.As(err, &codeErr) {
		return codeErr.Code
	}
	return CodeServerBusy
}

// GetMsg 提取面向客户端的消息，非 CodeError 返回默认的服务繁忙
func GetMsg(err error) string {
	var codeErr *CodeError
	if errors.As(err, &codeErr) {
		return codeErr.Msg
	}
	return ErrServerBusy.Msg
}

// 业务状态码
const (
	CodeSuccess         = 1000 // 成功
	CodeInvalidParam    = 1001 // 请求参数错误 / 消息载荷非法
	CodeUserExist       = 1002 // 用户已存在
	CodeUserNotExist    = 1003 // 用户不存在
	CodeInvalidPassword = 1004 // 密码错误
	CodeServerBusy      = 1005 // 服务繁忙
	CodeUnauthorized    = 1006 // 未认证
	CodeRateLimited     = 1007 // 发送过于频繁
	CodeNotFound        = 1008 // 资源不存在
	CodeDBError         = 1010 // 数据库错误（存储失败）
	CodeCacheError      = 1011 // 缓存错误
)

// 预定义错误实例，既可直接返回，也可用于 errors.Is 比较
var (
	ErrInvalidParam    = New(CodeInvalidParam, "请求参数错误")
	ErrServerBusy      = New(CodeServerBusy, "服务繁忙")
	ErrUnauthenticated = New(CodeUnauthorized, "Invalid token")
	ErrInvalidPayload  = New(CodeInvalidParam, "Invalid message data")
	ErrStorage         = New(CodeDBError, "Failed to send message")
	ErrRateLimited     = New(CodeRateLimited, "Too many messages")
)

// IsNotFound 判断是否为"未找到"类错误
func IsNotFound(err error) bool {
	return GetCode(err) == CodeNotFound && err != nil
}
