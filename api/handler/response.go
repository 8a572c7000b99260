package handler

import (
	"net/http"

	"github.com/sshcollectorpro/netdev/internal/service"
)

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SuccessResponse 成功响应
type SuccessResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// statusForKind 错误类别对应的 HTTP 状态码
func statusForKind(kind string) int {
	switch kind {
	case "":
		return http.StatusOK
	case service.KindInvalid:
		return http.StatusBadRequest
	case service.KindTimeout:
		return http.StatusGatewayTimeout
	case service.KindConnect, service.KindPromptNotFound, service.KindIO:
		return http.StatusBadGateway
	case service.KindModeTransition, service.KindNotReady:
		return http.StatusConflict
	case service.KindCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
