package handler

import (
	"errors"
	"net/http"

	"rigforge/app/logger"
	"rigforge/app/service"

	"github.com/gin-gonic/gin"
)

// ApiResponse 统一响应结构
type ApiResponse struct {
	Code    int    `json:"code"`    // 状态码，0表示成功
	Message string `json:"message"` // 响应消息
	Data    any    `json:"data"`    // 响应数据
}

// responder 各处理器共用的响应方法
type responder struct {
	log *logger.Logger
}

// success 统一成功响应
func (r responder) success(c *gin.Context, data any, message string) {
	c.JSON(http.StatusOK, ApiResponse{Code: 0, Message: message, Data: data})
}

// error 统一错误响应
func (r responder) error(c *gin.Context, statusCode int, errorCode int, message string) {
	c.JSON(statusCode, ApiResponse{Code: errorCode, Message: message, Data: nil})
}

// serviceError 把业务层的哨兵错误映射为 HTTP 状态码。
// 不存在和无权访问统一返回 404。
func (r responder) serviceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrMalformedIdentifier):
		r.error(c, http.StatusBadRequest, 400, "标识符格式错误")
	case errors.Is(err, service.ErrInvalidStatus):
		r.error(c, http.StatusBadRequest, 400, "无效的状态筛选")
	case errors.Is(err, service.ErrNotFoundOrForbidden):
		r.error(c, http.StatusNotFound, 404, "资源不存在或无权访问")
	case errors.Is(err, service.ErrResultNotAvailable):
		r.error(c, http.StatusNotFound, 404, "处理结果不可用")
	case errors.Is(err, service.ErrInvalidToken):
		r.error(c, http.StatusUnauthorized, 401, "下载链接无效或已过期")
	case errors.Is(err, service.ErrJobFinished):
		r.error(c, http.StatusConflict, 409, "任务已结束")
	case errors.Is(err, service.ErrQueueUnavailable):
		r.error(c, http.StatusServiceUnavailable, 503, "处理队列暂不可用")
	default:
		_ = c.Error(err)
		r.log.Errorf("请求处理失败: %s %s: %v", c.Request.Method, c.FullPath(), err)
		r.error(c, http.StatusInternalServerError, 500, "服务器内部错误")
	}
}
