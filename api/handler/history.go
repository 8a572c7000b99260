package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sshcollectorpro/netdev/internal/service"
)

// HistoryHandler 执行历史处理器
type HistoryHandler struct {
	store *service.HistoryStore
}

// NewHistoryHandler store 为 nil 表示未启用历史记录
func NewHistoryHandler(store *service.HistoryStore) *HistoryHandler {
	return &HistoryHandler{store: store}
}

// List 分页查询执行历史
// @Router /api/v1/history [get]
func (h *HistoryHandler) List(c *gin.Context) {
	if !h.enabled(c) {
		return
	}
	var filter service.HistoryFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMS", Message: "查询参数无效: " + err.Error()})
		return
	}
	jobs, total, err := h.store.List(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "QUERY_FAILED", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "SUCCESS",
		Message: "获取成功",
		Data:    gin.H{"total": total, "items": jobs},
	})
}

// Get 查询单次执行及命令明细
// @Router /api/v1/history/{id} [get]
func (h *HistoryHandler) Get(c *gin.Context) {
	if !h.enabled(c) {
		return
	}
	job, err := h.store.Get(c.Param("id"))
	if errors.Is(err, service.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "JOB_NOT_FOUND", Message: "记录不存在: " + c.Param("id")})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "QUERY_FAILED", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "获取成功", Data: job})
}

func (h *HistoryHandler) enabled(c *gin.Context) bool {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "HISTORY_DISABLED", Message: "未启用执行历史"})
		return false
	}
	return true
}
