package netdev

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// VendorProfile 单一设备类型的平台档案
// 按值传递，构造后不再修改，可被任意多个会话共享
type VendorProfile struct {
	Name string

	PrivPromptTerminator   string
	UnprivPromptTerminator string

	PagingDisableCommand string

	// 可选：没有独立特权级别的平台两者留空
	PrivilegeEnterCommand string
	PrivilegeExitCommand  string

	ConfigEnterCommand   string
	ConfigExitCommand    string
	ConfigModeCheckToken string

	// LineTerminator 追加在每条命令之后，默认 "\n"
	LineTerminator string

	// Pattern 构造 BasePattern，为空时使用 DefaultPatternBuilder
	Pattern PatternBuilder
	// Paging 连接时关闭分页，为空时使用 CommandPaging
	Paging PagingStrategy
	// PagingMarkers 从输出中去除的分页标记，为空时使用内置的 "--More--" 系列
	PagingMarkers *regexp.Regexp
}

// Validate 校验必填字段
func (p VendorProfile) Validate() error {
	if len(p.PrivPromptTerminator) != 1 {
		return fmt.Errorf("profile %q: privileged prompt terminator must be one character, got %q", p.Name, p.PrivPromptTerminator)
	}
	if len(p.UnprivPromptTerminator) != 1 {
		return fmt.Errorf("profile %q: unprivileged prompt terminator must be one character, got %q", p.Name, p.UnprivPromptTerminator)
	}
	required := map[string]string{
		"paging disable command": p.PagingDisableCommand,
		"config enter command":   p.ConfigEnterCommand,
		"config exit command":    p.ConfigExitCommand,
		"config check token":     p.ConfigModeCheckToken,
	}
	for name, v := range required {
		if strings.TrimSpace(v) == "" {
			if name == "paging disable command" && p.Paging != nil {
				continue
			}
			return fmt.Errorf("profile %q: %s is empty", p.Name, name)
		}
	}
	return nil
}

func (p VendorProfile) terminators() string {
	if p.PrivPromptTerminator == p.UnprivPromptTerminator {
		return p.PrivPromptTerminator
	}
	return p.PrivPromptTerminator + p.UnprivPromptTerminator
}

func (p VendorProfile) lineTerminator() string {
	if p.LineTerminator == "" {
		return "\n"
	}
	return p.LineTerminator
}

func (p VendorProfile) patternBuilder() PatternBuilder {
	if p.Pattern == nil {
		return DefaultPatternBuilder
	}
	return p.Pattern
}

func (p VendorProfile) pagingStrategy() PagingStrategy {
	if p.Paging == nil {
		return CommandPaging{}
	}
	return p.Paging
}

func (p VendorProfile) pagingMarkers() *regexp.Regexp {
	if p.PagingMarkers == nil {
		return defaultPagingMarkers
	}
	return p.PagingMarkers
}

// PatternBuilder 由 BasePrompt 构造空闲提示符正则
type PatternBuilder interface {
	Build(base string, profile VendorProfile) (*regexp.Regexp, error)
}

// PatternBuilderFunc 函数适配为 PatternBuilder
type PatternBuilderFunc func(base string, profile VendorProfile) (*regexp.Regexp, error)

func (f PatternBuilderFunc) Build(base string, profile VendorProfile) (*regexp.Regexp, error) {
	return f(base, profile)
}

// DefaultPatternBuilder 默认提示符正则：可选的 "[" 或 "<" 视图标记、字面主机名、
// 可选的 "-word" 嵌套后缀、可选的 "(ctx)" 段，以档案终止符结尾
// 作用于清洗后的单行
var DefaultPatternBuilder PatternBuilder = PatternBuilderFunc(func(base string, profile VendorProfile) (*regexp.Regexp, error) {
	if base == "" {
		return nil, fmt.Errorf("empty base prompt")
	}
	expr := `^[\[<]?` + regexp.QuoteMeta(base) +
		`(?P<suffix>-[\w.:/\-]+)?` +
		`(?:\((?P<ctx>[^()\s]*)\))?` +
		`[` + regexp.QuoteMeta(profile.terminators()) + `]\s*$`
	return regexp.Compile(expr)
})

// Sender 分页策略可使用的发送接口
type Sender interface {
	Send(ctx context.Context, command string, opts SendOptions) (*CommandResult, error)
}

// PagingStrategy 每个会话关闭一次分页
type PagingStrategy interface {
	Disable(ctx context.Context, profile VendorProfile, s Sender) error
}

// CommandPaging 发送档案中的关闭分页命令
type CommandPaging struct{}

func (CommandPaging) Disable(ctx context.Context, profile VendorProfile, s Sender) error {
	if profile.PagingDisableCommand == "" {
		return nil
	}
	_, err := s.Send(ctx, profile.PagingDisableCommand, SendOptions{})
	return err
}

// MultiCommandPaging 依次发送多条命令，适用于需同时设置长度和宽度的平台
type MultiCommandPaging []string

func (m MultiCommandPaging) Disable(ctx context.Context, _ VendorProfile, s Sender) error {
	for _, cmd := range m {
		if _, err := s.Send(ctx, cmd, SendOptions{}); err != nil {
			return err
		}
	}
	return nil
}

// NoPaging 不会对脚本会话分页的设备
type NoPaging struct{}

func (NoPaging) Disable(context.Context, VendorProfile, Sender) error { return nil }
