package netdev

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// PromptInfo 按 BasePattern 拆解后的提示符
type PromptInfo struct {
	Text       string
	Terminator string
	// Suffix 主机名之后的嵌套后缀，不含前导 "-"，顶层为空
	Suffix string
	// Context 括号内的部分，如 "r1(config-if)#" 中的 "config-if"
	Context string
}

// Depth 提示符编码的配置嵌套层级："-word" 后缀每段计一层，括号内每个 "-" 计一层
func (p PromptInfo) Depth() int {
	depth := 0
	if p.Suffix != "" {
		depth += strings.Count(p.Suffix, "-") + 1
	}
	if p.Context != "" {
		depth += strings.Count(p.Context, "-")
	}
	return depth
}

// parsePrompt 用 pattern 匹配并拆解提示符
func parsePrompt(pattern *regexp.Regexp, line string) (PromptInfo, bool) {
	line = strings.TrimRight(line, " \t")
	m := pattern.FindStringSubmatch(line)
	if m == nil {
		return PromptInfo{}, false
	}
	info := PromptInfo{Text: line, Terminator: line[len(line)-1:]}
	for i, name := range pattern.SubexpNames() {
		switch name {
		case "suffix":
			info.Suffix = strings.TrimPrefix(m[i], "-")
		case "ctx":
			info.Context = m[i]
		}
	}
	return info, true
}

// PromptDetector 发现新通道的空闲提示符
type PromptDetector struct {
	ch      Channel
	profile VendorProfile
	timing  Timing
	log     *logrus.Entry
}

// NewPromptDetector 创建提示符探测器
func NewPromptDetector(ch Channel, profile VendorProfile, timing Timing, log *logrus.Entry) *PromptDetector {
	return &PromptDetector{ch: ch, profile: profile, timing: timing.withDefaults(), log: entryOrDefault(log)}
}

// Discover 发送空行探测，直到输出最后一行以档案终止符结尾
// 返回完整提示符及由其得到的 BasePrompt
func (d *PromptDetector) Discover(ctx context.Context) (string, string, error) {
	var last string
	for attempt := 1; attempt <= d.timing.DiscoverRetries; attempt++ {
		if err := d.ch.Write(ctx, []byte(d.profile.lineTerminator())); err != nil {
			return "", "", wrapIO("prompt probe write", ctx, err)
		}
		raw, err := d.readQuiet(ctx)
		if err != nil {
			return "", "", err
		}
		line := lastLine(Sanitize(raw))
		if line != "" {
			last = line
		}
		if strings.ContainsAny(line[max(len(line)-1, 0):], d.profile.terminators()) {
			if base := ExtractBasePrompt(line, d.profile); base != "" {
				d.log.WithFields(logrus.Fields{"prompt": line, "base": base, "attempt": attempt}).Debug("prompt discovered")
				// 之前探测的回显可能仍在路上
				if err := discardPending(ctx, d.ch, d.timing, d.log); err != nil {
					return "", "", err
				}
				return line, base, nil
			}
		}
		d.log.WithFields(logrus.Fields{"attempt": attempt, "line": line}).Debug("no prompt terminator yet")
	}
	return "", "", &PromptNotFoundError{Attempts: d.timing.DiscoverRetries, LastLine: last}
}

// readQuiet 读取直到缓冲以终止符结尾、收到数据后通道静默或单次时限用尽
func (d *PromptDetector) readQuiet(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	deadline := time.Now().Add(d.timing.DiscoverTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return buf.Bytes(), nil
		}
		chunk, err := d.ch.ReadWithTimeout(ctx, min(d.timing.ReadWindow, remaining))
		if errors.Is(err, ErrReadTimeout) {
			if buf.Len() > 0 {
				return buf.Bytes(), nil
			}
			continue
		}
		if err != nil {
			return nil, wrapIO("prompt probe read", ctx, err)
		}
		buf.Write(chunk)
		line := lastLine(Sanitize(buf.Bytes()))
		if line != "" && strings.ContainsAny(line[len(line)-1:], d.profile.terminators()) {
			return buf.Bytes(), nil
		}
	}
}

// ExtractBasePrompt 去掉提示符的终止符、前导 "[" 或 "<" 以及末尾的 "(ctx)" 段
func ExtractBasePrompt(line string, profile VendorProfile) string {
	s := strings.TrimSpace(line)
	s = strings.TrimRight(s, profile.terminators())
	s = strings.TrimLeft(s, "[<")
	if i := strings.IndexByte(s, '('); i > 0 && strings.HasSuffix(s, ")") {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	for _, r := range s {
		if r > 0x7e || r < 0x20 {
			return ""
		}
	}
	return s
}

// BuildPattern 通过档案的 PatternBuilder 编译 BasePattern
func BuildPattern(base string, profile VendorProfile) (*regexp.Regexp, error) {
	return profile.patternBuilder().Build(base, profile)
}
