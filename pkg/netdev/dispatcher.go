package netdev

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// CommandResult 单条命令裁剪后的结果
type CommandResult struct {
	Command string        `json:"command"`
	Output  string        `json:"output"`
	Prompt  string        `json:"prompt"`
	Elapsed time.Duration `json:"elapsed"`
	// TimedOut 超时前未见提示符
	TimedOut bool   `json:"timed_out"`
	Raw      []byte `json:"-"`
}

// SendOptions 单次 Send 的选项；零值去除回显与末尾提示符，并等待 BasePattern
type SendOptions struct {
	// ExpectPattern 替代 BasePattern 作为输出结束条件，匹配整段输出及最后一行
	ExpectPattern *regexp.Regexp
	KeepEcho      bool
	KeepPrompt    bool
	// Timeout 覆盖 Timing.CommandTimeout
	Timeout time.Duration
	// Hidden 命令文本不写入日志和结果
	Hidden bool
}

// Dispatcher 写入命令并收集输出直到下一个空闲提示符
// 不发送分页续行按键，分页在连接时已关闭
type Dispatcher struct {
	ch      Channel
	profile VendorProfile
	timing  Timing
	pattern *regexp.Regexp
	log     *logrus.Entry
}

// NewDispatcher 创建分发器；除非每次调用都提供 ExpectPattern，否则 Send 前须先 SetPattern
func NewDispatcher(ch Channel, profile VendorProfile, timing Timing, log *logrus.Entry) *Dispatcher {
	return &Dispatcher{ch: ch, profile: profile, timing: timing.withDefaults(), log: entryOrDefault(log)}
}

// SetPattern 安装识别空闲提示符的 BasePattern
func (d *Dispatcher) SetPattern(p *regexp.Regexp) { d.pattern = p }

// Pattern 当前 BasePattern
func (d *Dispatcher) Pattern() *regexp.Regexp { return d.pattern }

// Send 写入命令与行终止符，读取直到通道空闲且最后一行匹配提示符正则
func (d *Dispatcher) Send(ctx context.Context, command string, opts SendOptions) (*CommandResult, error) {
	if d.pattern == nil && opts.ExpectPattern == nil {
		return nil, fmt.Errorf("send %q: no prompt pattern installed", displayCommand(command, opts))
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = d.timing.CommandTimeout
	}
	log := d.log.WithField("command", displayCommand(command, opts))
	start := time.Now()
	deadline := start.Add(timeout)

	if err := discardPending(ctx, d.ch, d.timing, log); err != nil {
		return nil, err
	}
	if err := d.ch.Write(ctx, []byte(command+d.profile.lineTerminator())); err != nil {
		return nil, wrapIO("write command", ctx, err)
	}

	var raw bytes.Buffer
	idle := 0
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return d.timedOut(command, opts, raw.Bytes(), start, log)
		}
		chunk, err := d.ch.ReadWithTimeout(ctx, min(d.timing.ReadWindow, remaining))
		switch {
		case errors.Is(err, ErrReadTimeout):
			idle++
			if raw.Len() > 0 && d.complete(raw.Bytes(), opts) {
				res := d.frame(command, opts, raw.Bytes())
				res.Elapsed = time.Since(start)
				log.WithFields(logrus.Fields{"prompt": res.Prompt, "elapsed": res.Elapsed}).Debug("command complete")
				return res, nil
			}
			if idle >= d.timing.IdleWindows {
				return d.timedOut(command, opts, raw.Bytes(), start, log)
			}
		case err != nil:
			return nil, wrapIO("read output", ctx, err)
		default:
			raw.Write(chunk)
			idle = 0
		}
	}
}

// maxDiscardReads 设备持续输出时 discardPending 的读取上限
const maxDiscardReads = 50

// discardPending 丢弃上一个提示符之后到达的输出，例如迟到的提示符重绘
func discardPending(ctx context.Context, ch Channel, timing Timing, log *logrus.Entry) error {
	window := min(timing.ReadWindow, 20*time.Millisecond)
	n := 0
	for range maxDiscardReads {
		chunk, err := ch.ReadWithTimeout(ctx, window)
		if errors.Is(err, ErrReadTimeout) {
			break
		}
		if err != nil {
			return wrapIO("discard pending output", ctx, err)
		}
		n += len(chunk)
	}
	if n > 0 {
		log.WithField("bytes", n).Debug("discarded pending output")
	}
	return nil
}

func (d *Dispatcher) complete(raw []byte, opts SendOptions) bool {
	text := Sanitize(raw)
	if opts.ExpectPattern != nil {
		return opts.ExpectPattern.MatchString(text) || opts.ExpectPattern.MatchString(lastLine(text))
	}
	_, ok := parsePrompt(d.pattern, lastLine(text))
	return ok
}

func (d *Dispatcher) timedOut(command string, opts SendOptions, raw []byte, start time.Time, log *logrus.Entry) (*CommandResult, error) {
	partial := append([]byte(nil), raw...)
	res := &CommandResult{
		Command:  displayCommand(command, opts),
		Output:   strings.TrimRight(Sanitize(partial), "\n"),
		Elapsed:  time.Since(start),
		TimedOut: true,
		Raw:      partial,
	}
	log.WithFields(logrus.Fields{"bytes": len(partial), "elapsed": res.Elapsed}).Warn("command timed out waiting for prompt")
	return res, &CommandTimeoutError{Command: res.Command, Partial: partial, Elapsed: res.Elapsed, Result: res}
}

// frame 去除命令回显、末尾提示符与分页标记
func (d *Dispatcher) frame(command string, opts SendOptions, raw []byte) *CommandResult {
	res := &CommandResult{Command: displayCommand(command, opts), Raw: append([]byte(nil), raw...)}
	lines := strings.Split(Sanitize(raw), "\n")

	if d.pattern != nil {
		if i := lastNonBlank(lines); i >= 0 {
			if info, ok := parsePrompt(d.pattern, lines[i]); ok {
				res.Prompt = info.Text
				if !opts.KeepPrompt {
					lines = lines[:i]
				}
			}
		}
	}
	if !opts.KeepEcho {
		if i := firstNonBlank(lines); i >= 0 && d.isEcho(lines[i], command) {
			lines = lines[i+1:]
		}
	}
	lines = stripPagingMarkers(lines, d.profile.pagingMarkers())
	res.Output = strings.TrimRight(strings.Join(lines, "\n"), "\n")
	return res
}

// isEcho 判断该行是否为命令回显（前面可能带有设备重绘的提示符）
func (d *Dispatcher) isEcho(line, command string) bool {
	line = strings.TrimSpace(line)
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return false
	}
	if line == cmd {
		return true
	}
	if d.pattern == nil || !strings.HasSuffix(line, cmd) {
		return false
	}
	_, ok := parsePrompt(d.pattern, strings.TrimSpace(strings.TrimSuffix(line, cmd)))
	return ok
}

func firstNonBlank(lines []string) int {
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			return i
		}
	}
	return -1
}

func lastNonBlank(lines []string) int {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return i
		}
	}
	return -1
}

func displayCommand(command string, opts SendOptions) string {
	if opts.Hidden {
		return "******"
	}
	return command
}
