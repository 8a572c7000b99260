package platforms

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/sshcollectorpro/netdev/pkg/netdev"
)

// DefaultPlatform 未指定平台时使用的档案
const DefaultPlatform = "cisco_ios"

// 注册中心，按平台名称获取厂商档案
var (
	registryMu sync.RWMutex
	registry   = map[string]netdev.VendorProfile{}
	aliases    = map[string]string{}
)

// Register 注册一个厂商档案，同名覆盖
func Register(profile netdev.VendorProfile, alias ...string) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	name := normalize(profile.Name)
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = profile
	for _, a := range alias {
		aliases[normalize(a)] = name
	}
	return nil
}

// MustRegister 注册失败直接 panic，仅用于内置档案
func MustRegister(profile netdev.VendorProfile, alias ...string) {
	if err := Register(profile, alias...); err != nil {
		panic(err)
	}
}

// Get 获取指定平台的档案，空名称返回默认平台
func Get(name string) (netdev.VendorProfile, error) {
	key := normalize(name)
	if key == "" {
		key = DefaultPlatform
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	if a, ok := aliases[key]; ok {
		key = a
	}
	if p, ok := registry[key]; ok {
		return p, nil
	}
	return netdev.VendorProfile{}, fmt.Errorf("unknown platform %q", name)
}

// Names 返回已注册的平台名称（已排序）
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Override 可覆盖的档案字段，空值保持内置值
type Override struct {
	PagingDisableCommand  string `mapstructure:"paging_disable_command" json:"paging_disable_command,omitempty"`
	PrivilegeEnterCommand string `mapstructure:"privilege_enter_command" json:"privilege_enter_command,omitempty"`
	PrivilegeExitCommand  string `mapstructure:"privilege_exit_command" json:"privilege_exit_command,omitempty"`
	ConfigEnterCommand    string `mapstructure:"config_enter_command" json:"config_enter_command,omitempty"`
	ConfigExitCommand     string `mapstructure:"config_exit_command" json:"config_exit_command,omitempty"`
	ConfigModeCheckToken  string `mapstructure:"config_mode_check_token" json:"config_mode_check_token,omitempty"`
	LineTerminator        string `mapstructure:"line_terminator" json:"line_terminator,omitempty"`
	PagingMarkers         string `mapstructure:"paging_markers" json:"paging_markers,omitempty"`
}

// Apply 在档案副本上应用覆盖项并重新校验
func (o Override) Apply(p netdev.VendorProfile) (netdev.VendorProfile, error) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&p.PagingDisableCommand, o.PagingDisableCommand)
	set(&p.PrivilegeEnterCommand, o.PrivilegeEnterCommand)
	set(&p.PrivilegeExitCommand, o.PrivilegeExitCommand)
	set(&p.ConfigEnterCommand, o.ConfigEnterCommand)
	set(&p.ConfigExitCommand, o.ConfigExitCommand)
	set(&p.ConfigModeCheckToken, o.ConfigModeCheckToken)
	set(&p.LineTerminator, o.LineTerminator)
	if o.PagingMarkers != "" {
		re, err := regexp.Compile(o.PagingMarkers)
		if err != nil {
			return p, fmt.Errorf("platform %s: paging markers: %w", p.Name, err)
		}
		p.PagingMarkers = re
	}
	if o.PagingDisableCommand != "" {
		// 显式配置的分页命令优先于内置策略
		p.Paging = nil
	}
	return p, p.Validate()
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
