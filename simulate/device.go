package simulate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sshcollectorpro/netdev/pkg/netdev"
)

// promptStyle 设备提示符风格
type promptStyle int

const (
	styleCisco promptStyle = iota // R1> R1# R1(config)# R1(config-if)#
	styleVRP                      // <R1> [R1] [R1-GigabitEthernet0/0/1]
	styleJunos                    // user@R1> user@R1#
)

// Device 单个交互会话内的设备状态机
type Device struct {
	name       string
	hostname   string
	profile    netdev.VendorProfile
	style      promptStyle
	secret     string
	commands   map[string]string
	delays     map[string]time.Duration
	commandDir string

	priv        bool
	config      bool
	contexts    []string
	awaitSecret bool
}

// NewDevice 按平台档案构造模拟设备
func NewDevice(name string, dc DeviceConfig, profile netdev.VendorProfile, secret, commandDir string) *Device {
	d := &Device{
		name:       name,
		hostname:   dc.Hostname,
		profile:    profile,
		secret:     secret,
		commands:   map[string]string{},
		delays:     map[string]time.Duration{},
		commandDir: commandDir,
		priv:       dc.StartPrivileged || profile.PrivilegeEnterCommand == "",
	}
	if d.hostname == "" {
		d.hostname = name
	}
	switch profile.ConfigModeCheckToken {
	case "]":
		d.style = styleVRP
	case ")#":
		d.style = styleCisco
	default:
		d.style = styleJunos
	}
	for k, v := range dc.Commands {
		d.commands[normalizeCommand(k)] = v
	}
	for k, v := range dc.Delays {
		d.delays[normalizeCommand(k)] = v
	}
	return d
}

// Prompt 当前提示符（不含换行）
func (d *Device) Prompt() string {
	switch d.style {
	case styleVRP:
		if !d.config {
			return "<" + d.hostname + ">"
		}
		return "[" + d.hostname + strings.Join(d.contexts, "") + "]"
	case styleJunos:
		if d.config {
			return d.hostname + "#"
		}
		return d.hostname + ">"
	default:
		switch {
		case d.config && len(d.contexts) > 0:
			return d.hostname + "(" + d.contexts[len(d.contexts)-1] + ")#"
		case d.config:
			return d.hostname + "(config)#"
		case d.priv:
			return d.hostname + "#"
		default:
			return d.hostname + ">"
		}
	}
}

// Handle 处理一行输入，返回需写回的文本（回显已由调用方处理）与是否结束会话
func (d *Device) Handle(line string) (out string, delay time.Duration, closed bool) {
	cmd := strings.TrimSpace(line)
	if d.awaitSecret {
		d.awaitSecret = false
		if cmd == d.secret {
			d.priv = true
			return "\r\n" + d.Prompt(), 0, false
		}
		return "\r\n% Access denied\r\n\r\n" + d.Prompt(), 0, false
	}
	if cmd == "" {
		return "\r\n" + d.Prompt(), 0, false
	}
	p := d.profile
	switch {
	case p.PrivilegeEnterCommand != "" && strings.EqualFold(cmd, p.PrivilegeEnterCommand):
		if d.priv {
			return d.Prompt(), 0, false
		}
		if d.secret == "" {
			d.priv = true
			return d.Prompt(), 0, false
		}
		d.awaitSecret = true
		return "Password: ", 0, false
	case p.PrivilegeExitCommand != "" && strings.EqualFold(cmd, p.PrivilegeExitCommand):
		d.priv, d.config, d.contexts = false, false, nil
		return d.Prompt(), 0, false
	case strings.EqualFold(cmd, p.ConfigEnterCommand):
		return d.enterConfig(), 0, false
	case d.config && strings.EqualFold(cmd, p.ConfigExitCommand):
		d.config, d.contexts = false, nil
		return d.Prompt(), 0, false
	case d.isPagingCommand(cmd):
		return d.Prompt(), 0, false
	case equalAny(cmd, "exit", "quit"):
		if d.config {
			if n := len(d.contexts); n > 0 {
				d.contexts = d.contexts[:n-1]
			} else {
				d.config = false
			}
			return d.Prompt(), 0, false
		}
		return "\r\n", 0, true
	case equalAny(cmd, "logout"):
		return "\r\n", 0, true
	case d.config && strings.HasPrefix(strings.ToLower(cmd), "interface "):
		return d.enterInterface(strings.TrimSpace(cmd[len("interface "):])), 0, false
	}

	key := normalizeCommand(cmd)
	if output, ok := d.lookup(key); ok {
		return ensureCRLF(output) + d.Prompt(), d.delays[key], false
	}
	if d.config {
		// 配置命令静默接受
		return d.Prompt(), 0, false
	}
	return d.invalidInput() + d.Prompt(), 0, false
}

func (d *Device) enterConfig() string {
	if d.style == styleCisco && !d.priv {
		return d.invalidInput() + d.Prompt()
	}
	d.config, d.contexts = true, nil
	switch d.style {
	case styleCisco:
		return "Enter configuration commands, one per line.  End with CNTL/Z.\r\n" + d.Prompt()
	case styleVRP:
		return "System View: return to User View with Ctrl+Z.\r\n" + d.Prompt()
	default:
		return "Entering configuration mode\r\n\r\n[edit]\r\n" + d.Prompt()
	}
}

func (d *Device) enterInterface(name string) string {
	switch d.style {
	case styleVRP:
		d.contexts = append(d.contexts, "-"+strings.ReplaceAll(name, " ", ""))
	case styleJunos:
		return "\r\n[edit interfaces " + name + "]\r\n" + d.Prompt()
	default:
		ctx := "config-if"
		if strings.HasPrefix(strings.ToLower(name), "range ") {
			ctx = "config-if-range"
		}
		d.contexts = append(d.contexts, ctx)
	}
	return d.Prompt()
}

func (d *Device) isPagingCommand(cmd string) bool {
	if strings.EqualFold(cmd, d.profile.PagingDisableCommand) {
		return true
	}
	if m, ok := d.profile.Paging.(netdev.MultiCommandPaging); ok {
		for _, c := range m {
			if strings.EqualFold(cmd, c) {
				return true
			}
		}
	}
	return false
}

func (d *Device) invalidInput() string {
	switch d.style {
	case styleVRP:
		return "Error: Unrecognized command found at '^' position.\r\n"
	case styleJunos:
		return "unknown command.\r\n"
	default:
		return "% Invalid input detected at '^' marker.\r\n"
	}
}

// lookup 先查内联命令，再查 <command_dir>/<device>/<command>.txt
func (d *Device) lookup(key string) (string, bool) {
	if out, ok := d.commands[key]; ok {
		return out, true
	}
	if d.commandDir == "" {
		return "", false
	}
	base := filepath.Join(d.commandDir, d.name)
	for _, name := range []string{key, strings.ReplaceAll(key, " ", "_")} {
		if bs, err := os.ReadFile(filepath.Join(base, fmt.Sprintf("%s.txt", name))); err == nil {
			return string(bs), true
		}
	}
	return "", false
}

func normalizeCommand(cmd string) string {
	return strings.ToLower(strings.Join(strings.Fields(cmd), " "))
}

func ensureCRLF(s string) string {
	// 统一为 \r\n，并保证结尾有换行，提示符另起一行
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", "\r\n")
	if s != "" && !strings.HasSuffix(s, "\r\n") {
		s += "\r\n"
	}
	return s
}

func equalAny(s string, opts ...string) bool {
	for _, o := range opts {
		if strings.EqualFold(strings.TrimSpace(s), o) {
			return true
		}
	}
	return false
}

// EchoesInput 等待 enable 密码时不回显
func (d *Device) EchoesInput() bool { return !d.awaitSecret }
