package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sshcollectorpro/netdev/internal/service"
	"github.com/sshcollectorpro/netdev/pkg/logger"
)

// SessionHandler 设备会话处理器
type SessionHandler struct {
	sessionService *service.SessionService
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// Exec 单台设备执行命令
// @Summary 连接设备并依次执行命令
// @Tags sessions
// @Accept json
// @Produce json
// @Param request body service.ExecRequest true "执行请求"
// @Success 200 {object} service.ExecResponse
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Failure 502 {object} service.ExecResponse "连接或提示符识别失败"
// @Failure 504 {object} service.ExecResponse "命令超时"
// @Router /api/v1/sessions/exec [post]
func (h *SessionHandler) Exec(c *gin.Context) {
	var request service.ExecRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMS", Message: "请求参数无效: " + err.Error()})
		return
	}

	response, err := h.sessionService.Exec(c.Request.Context(), &request)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(statusForKind(response.ErrorKind), response)
}

// Batch 多台设备并发执行
// @Summary 按并发限制对多台设备执行命令，单台失败不影响其他设备
// @Tags sessions
// @Accept json
// @Produce json
// @Param request body service.BatchRequest true "批量请求"
// @Success 200 {object} service.BatchResponse
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Router /api/v1/sessions/batch [post]
func (h *SessionHandler) Batch(c *gin.Context) {
	var request service.BatchRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMS", Message: "请求参数无效: " + err.Error()})
		return
	}

	response, err := h.sessionService.Batch(c.Request.Context(), &request)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

// Cancel 取消执行中的会话
func (h *SessionHandler) Cancel(c *gin.Context) {
	jobID := c.Param("job_id")
	if !h.sessionService.Cancel(jobID) {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "JOB_NOT_RUNNING", Message: "会话不存在或已结束: " + jobID})
		return
	}
	logger.With("job_id", jobID).Info("session cancelled by request")
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "已取消", Data: gin.H{"job_id": jobID}})
}

// Running 执行中的会话
func (h *SessionHandler) Running(c *gin.Context) {
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "获取成功", Data: h.sessionService.Running()})
}

// Stats 服务统计
func (h *SessionHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "获取成功", Data: h.sessionService.GetStats()})
}

// Health 健康检查
func (h *SessionHandler) Health(c *gin.Context) {
	components, err := h.sessionService.Health()
	status := gin.H{"status": "healthy", "running": len(h.sessionService.Running())}
	for k, v := range components {
		status[k] = v
	}
	if err != nil {
		status["status"] = "degraded"
		logger.With("error", err).Warn("health check failed")
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}

func writeServiceError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrInvalidRequest) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "VALIDATION_FAILED", Message: err.Error()})
		return
	}
	logger.With("error", err, "path", c.Request.URL.Path).Error("request failed")
	c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "EXECUTION_FAILED", Message: err.Error()})
}
