package handler

import (
	"bufio"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sshcollectorpro/netdev/internal/config"
)

// LogsHandler 日志查询处理器
type LogsHandler struct {
	cfg *config.Config
}

func NewLogsHandler(cfg *config.Config) *LogsHandler { return &LogsHandler{cfg: cfg} }

// TailLogs 简易日志Tail查询（按关键字、级别、job_id 过滤，返回末尾N行）
func (h *LogsHandler) TailLogs(c *gin.Context) {
	path := strings.TrimSpace(h.cfg.Log.FilePath)
	if path == "" || h.cfg.Log.Output == "console" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "LOG_FILE_DISABLED", Message: "日志未写入文件"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if limit <= 0 || limit > 1000 { // 安全边界
		limit = 200
	}
	filters := make([]string, 0, 3)
	for _, key := range []string{"q", "job_id"} {
		if v := strings.ToLower(strings.TrimSpace(c.Query(key))); v != "" {
			filters = append(filters, v)
		}
	}
	lvl := strings.ToLower(strings.TrimSpace(c.Query("level")))

	lines, err := readAllLines(path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "READ_FAILED", Message: "读取日志失败: " + err.Error()})
		return
	}

	filtered := make([]string, 0, len(lines))
	for _, ln := range lines {
		lc := strings.ToLower(ln)
		if !containsAll(lc, filters) {
			continue
		}
		// 简易级别匹配：适配 json/text 两种格式
		if lvl != "" && !strings.Contains(lc, `"level":"`+lvl+`"`) && !strings.Contains(lc, "level="+lvl) {
			continue
		}
		filtered = append(filtered, ln)
	}

	// 取尾部
	start := max(len(filtered)-limit, 0)
	tail := filtered[start:]

	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "SUCCESS",
		Message: "获取日志成功",
		Data: gin.H{
			"path":  path,
			"count": len(tail),
			"lines": tail,
		},
	})
}

func containsAll(s string, subs []string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

func readAllLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 64*1024), 10*1024*1024) // up to 10MB per line
	res := make([]string, 0, 1024)
	for s.Scan() {
		res = append(res, s.Text())
	}
	return res, s.Err()
}
