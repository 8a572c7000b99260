package netdev

import (
	"context"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// Mode 由提示符推断出的设备命令行级别
type Mode int

const (
	ModeUnknown Mode = iota
	ModeUnprivileged
	ModePrivileged
	ModeConfig
)

func (m Mode) String() string {
	switch m {
	case ModeUnprivileged:
		return "unprivileged"
	case ModePrivileged:
		return "privileged"
	case ModeConfig:
		return "config"
	default:
		return "unknown"
	}
}

// passwordChallenge 部分平台 enable 时弹出的密码提示
var passwordChallenge = regexp.MustCompile(`(?i)password:?\s*$`)

// modeRetries 每次模式切换的确认重试次数
const modeRetries = 1

// ModeController 根据最近一次提示符跟踪设备模式，并通过 Dispatcher 驱动模式切换
type ModeController struct {
	d       *Dispatcher
	profile VendorProfile
	timing  Timing
	secret  string
	log     *logrus.Entry

	mode   Mode
	depth  int
	prompt string

	// enableExpect 密码提示或 BasePattern，随 BasePattern 变化重建
	enableExpect *regexp.Regexp
}

// NewModeController 创建模式控制器，secret 用于应答 enable 密码
func NewModeController(d *Dispatcher, profile VendorProfile, timing Timing, secret string, log *logrus.Entry) *ModeController {
	return &ModeController{d: d, profile: profile, timing: timing.withDefaults(), secret: secret, log: entryOrDefault(log)}
}

// SetPattern 安装 BasePattern，并一次性构造 enable 的期望模式
func (m *ModeController) SetPattern(p *regexp.Regexp) {
	m.d.SetPattern(p)
	m.enableExpect = nil
	if p != nil {
		m.enableExpect = regexp.MustCompile(`(?:` + passwordChallenge.String() + `)|(?:` + p.String() + `)`)
	}
}

// Mode 最近提示符对应的模式
func (m *ModeController) Mode() Mode { return m.mode }

// Depth 最近提示符的配置嵌套层级
func (m *ModeController) Depth() int { return m.depth }

// Prompt 最近观察到的提示符
func (m *ModeController) Prompt() string { return m.prompt }

// Reset 清空已观察的状态
func (m *ModeController) Reset() {
	m.mode, m.depth, m.prompt = ModeUnknown, 0, ""
}

// Classify 仅依据平台档案参数把提示符归类为模式
func (m *ModeController) Classify(prompt string) Mode {
	p := strings.TrimRight(prompt, " \t")
	switch {
	case p == "":
		return ModeUnknown
	case strings.Contains(p, m.profile.ConfigModeCheckToken):
		return ModeConfig
	case strings.HasSuffix(p, m.profile.PrivPromptTerminator):
		return ModePrivileged
	case strings.HasSuffix(p, m.profile.UnprivPromptTerminator):
		return ModeUnprivileged
	default:
		return ModeUnknown
	}
}

// Observe 记录调用方读到的提示符；空提示符（超时、ExpectPattern 读取）不改变状态
func (m *ModeController) Observe(prompt string) {
	if strings.TrimSpace(prompt) == "" {
		return
	}
	m.prompt = prompt
	m.mode = m.Classify(prompt)
	m.depth = 0
	if m.mode != ModeConfig {
		return
	}
	pattern := m.d.Pattern()
	if pattern == nil {
		return
	}
	info, ok := parsePrompt(pattern, prompt)
	if !ok {
		m.log.WithField("prompt", prompt).Warn("config prompt does not match base pattern")
		return
	}
	m.depth = info.Depth()
	if m.depth > m.timing.MaxConfigDepth {
		m.log.WithFields(logrus.Fields{"prompt": prompt, "depth": m.depth}).Warn("unexpected nested config depth")
	}
}

// CheckConfigMode 检查最近提示符是否含配置模式标记，不做任何 I/O
func (m *ModeController) CheckConfigMode() bool {
	return m.prompt != "" && strings.Contains(m.prompt, m.profile.ConfigModeCheckToken)
}

// EnterPrivileged 提升到特权模式；无特权级别的平台或已在特权模式时直接成功
func (m *ModeController) EnterPrivileged(ctx context.Context) (bool, error) {
	if m.profile.PrivilegeEnterCommand == "" || m.mode == ModePrivileged || m.mode == ModeConfig {
		return true, nil
	}
	from := m.mode
	for attempt := 0; attempt <= modeRetries; attempt++ {
		if err := m.sendEnable(ctx); err != nil {
			return false, err
		}
		if strings.HasSuffix(m.prompt, m.profile.PrivPromptTerminator) {
			m.log.WithField("prompt", m.prompt).Debug("entered privileged mode")
			return true, nil
		}
		m.log.WithFields(logrus.Fields{"attempt": attempt + 1, "prompt": m.prompt}).Debug("privileged mode not confirmed")
	}
	return false, &ModeTransitionError{From: from, To: ModePrivileged, Prompt: m.prompt}
}

func (m *ModeController) sendEnable(ctx context.Context) error {
	expect := m.enableExpect
	if expect == nil {
		expect = passwordChallenge
	}
	res, err := m.d.Send(ctx, m.profile.PrivilegeEnterCommand, SendOptions{ExpectPattern: expect})
	if err != nil {
		return err
	}
	if passwordChallenge.MatchString(lastLine(res.Output)) {
		res, err = m.d.Send(ctx, m.secret, SendOptions{Hidden: true})
		if err != nil {
			return err
		}
	}
	m.Observe(res.Prompt)
	return nil
}

// ExitPrivileged 退回普通模式；平台没有退出命令时返回 false 且不做 I/O
func (m *ModeController) ExitPrivileged(ctx context.Context) (bool, error) {
	if m.profile.PrivilegeExitCommand == "" {
		return false, nil
	}
	if m.mode == ModeUnprivileged {
		return true, nil
	}
	if m.mode == ModeConfig {
		if _, err := m.ExitConfig(ctx); err != nil {
			return false, err
		}
	}
	return m.transition(ctx, m.profile.PrivilegeExitCommand, ModeUnprivileged, func() bool {
		return strings.HasSuffix(m.prompt, m.profile.UnprivPromptTerminator)
	})
}

// EnterConfig 进入配置模式，已在配置模式时仅凭最近提示符确认
func (m *ModeController) EnterConfig(ctx context.Context) (bool, error) {
	if m.mode == ModeConfig && m.CheckConfigMode() {
		return true, nil
	}
	if m.mode == ModeUnprivileged {
		if _, err := m.EnterPrivileged(ctx); err != nil {
			return false, err
		}
	}
	return m.transition(ctx, m.profile.ConfigEnterCommand, ModeConfig, m.CheckConfigMode)
}

// ExitConfig 退出配置模式，不在配置模式时仅凭最近提示符确认
func (m *ModeController) ExitConfig(ctx context.Context) (bool, error) {
	if !m.CheckConfigMode() {
		return true, nil
	}
	return m.transition(ctx, m.profile.ConfigExitCommand, ModePrivileged, func() bool { return !m.CheckConfigMode() })
}

// transition 发送命令并用 ok 确认，失败重试一次
func (m *ModeController) transition(ctx context.Context, command string, to Mode, ok func() bool) (bool, error) {
	from := m.mode
	for attempt := 0; attempt <= modeRetries; attempt++ {
		res, err := m.d.Send(ctx, command, SendOptions{})
		if err != nil {
			return false, err
		}
		m.Observe(res.Prompt)
		if ok() {
			m.log.WithFields(logrus.Fields{"from": from, "to": m.mode, "prompt": m.prompt}).Debug("mode transition confirmed")
			return true, nil
		}
		m.log.WithFields(logrus.Fields{"attempt": attempt + 1, "command": command, "prompt": m.prompt}).Debug("mode transition not confirmed")
	}
	return false, &ModeTransitionError{From: from, To: to, Prompt: m.prompt}
}
