package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sshcollectorpro/netdev/internal/config"
	"github.com/sshcollectorpro/netdev/pkg/netdev"
	"github.com/sshcollectorpro/netdev/pkg/netdev/platforms"
)

// PlatformHandler 平台档案查询
type PlatformHandler struct {
	cfg *config.Config
}

func NewPlatformHandler(cfg *config.Config) *PlatformHandler { return &PlatformHandler{cfg: cfg} }

// PlatformView 平台档案（含配置覆盖后的值）
type PlatformView struct {
	Name                  string        `json:"name"`
	PrivPromptTerminator  string        `json:"priv_prompt_terminator"`
	UnprivTerminator      string        `json:"unpriv_prompt_terminator"`
	PagingDisableCommand  string        `json:"paging_disable_command,omitempty"`
	PrivilegeEnterCommand string        `json:"privilege_enter_command,omitempty"`
	PrivilegeExitCommand  string        `json:"privilege_exit_command,omitempty"`
	ConfigEnterCommand    string        `json:"config_enter_command"`
	ConfigExitCommand     string        `json:"config_exit_command"`
	ConfigModeCheckToken  string        `json:"config_mode_check_token"`
	Timing                netdev.Timing `json:"timing"`
}

func (h *PlatformHandler) view(name string) (PlatformView, error) {
	p, err := h.cfg.Profile(name)
	if err != nil {
		return PlatformView{}, err
	}
	return PlatformView{
		Name:                  p.Name,
		PrivPromptTerminator:  p.PrivPromptTerminator,
		UnprivTerminator:      p.UnprivPromptTerminator,
		PagingDisableCommand:  p.PagingDisableCommand,
		PrivilegeEnterCommand: p.PrivilegeEnterCommand,
		PrivilegeExitCommand:  p.PrivilegeExitCommand,
		ConfigEnterCommand:    p.ConfigEnterCommand,
		ConfigExitCommand:     p.ConfigExitCommand,
		ConfigModeCheckToken:  p.ConfigModeCheckToken,
		Timing:                h.cfg.Timing(p.Name),
	}, nil
}

// List 已注册的平台
// @Router /api/v1/platforms [get]
func (h *PlatformHandler) List(c *gin.Context) {
	names := platforms.Names()
	views := make([]PlatformView, 0, len(names))
	for _, n := range names {
		v, err := h.view(n)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "PLATFORM_INVALID", Message: err.Error()})
			return
		}
		views = append(views, v)
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "获取成功", Data: views})
}

// Get 单个平台，支持别名
// @Router /api/v1/platforms/{name} [get]
func (h *PlatformHandler) Get(c *gin.Context) {
	v, err := h.view(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "PLATFORM_NOT_FOUND", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "获取成功", Data: v})
}
