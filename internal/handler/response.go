package handler

import (
	"errors"
	"net/http"

	"dm_chat_server/pkg/errorx"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// reply 输出统一的 {code, msg, data} 结构
func reply(c *gin.Context, status, code int, msg, data any) {
	c.JSON(status, gin.H{
		"code": code,
		"msg":  msg,
		"data": data,
	})
}

// HandleSuccess 返回成功响应
func HandleSuccess(c *gin.Context, data any) {
	reply(c, http.StatusOK, errorx.CodeSuccess, "success", data)
}

// HandleCreated 创建成功，HTTP 201
func HandleCreated(c *gin.Context, data any) {
	reply(c, http.StatusCreated, errorx.CodeSuccess, "success", data)
}

// httpStatus 业务错误码对应的 HTTP 状态码，未列出的业务错误保持 200
func httpStatus(code int) int {
	switch code {
	case errorx.CodeUnauthorized:
		return http.StatusUnauthorized
	case errorx.CodeInvalidParam:
		return http.StatusBadRequest
	case errorx.CodeServerBusy, errorx.CodeDBError:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

// HandleError 业务错误原样返回错误码和消息，其余错误记日志后按服务繁忙处理
func HandleError(c *gin.Context, err error) {
	var codeErr *errorx.CodeError
	if errors.As(err, &codeErr) {
		reply(c, httpStatus(codeErr.Code), codeErr.Code, codeErr.Msg, nil)
		return
	}

	zap.L().Error("system error",
		zap.String("path", c.Request.URL.Path),
		zap.String("method", c.Request.Method),
		zap.Error(err),
	)
	reply(c, http.StatusInternalServerError, errorx.ErrServerBusy.Code, errorx.ErrServerBusy.Msg, nil)
}

// HandleParamError 参数绑定失败
// validator 错误翻译后按字段返回，JSON 格式错误返回通用文案
func HandleParamError(c *gin.Context, err error) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		reply(c, http.StatusBadRequest, errorx.ErrInvalidParam.Code, RemoveTopStruct(validationErrs.Translate(Trans)), nil)
		return
	}

	zap.L().Warn("param bind error", zap.Error(err))
	reply(c, http.StatusBadRequest, errorx.ErrInvalidParam.Code, errorx.ErrInvalidParam.Msg, nil)
}
