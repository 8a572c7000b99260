package logger

import (
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
)

// OutputPreview 命令输出的首尾若干行，用于日志摘要
type OutputPreview struct {
	Lines int      `json:"lines"`
	Head  []string `json:"head"`
	Tail  []string `json:"tail"`
}

// Preview 提取输出的首尾各 maxLines 行；行数不足时首尾相同
func Preview(output string, maxLines int) OutputPreview {
	if maxLines <= 0 {
		maxLines = 5
	}
	output = strings.TrimRight(output, "\n")
	if output == "" {
		return OutputPreview{}
	}
	lines := strings.Split(output, "\n")
	n := min(maxLines, len(lines))
	return OutputPreview{
		Lines: len(lines),
		Head:  slices.Clone(lines[:n]),
		Tail:  slices.Clone(lines[len(lines)-n:]),
	}
}

// String 格式化为单行日志文本
func (p OutputPreview) String() string {
	if p.Lines == 0 {
		return ""
	}
	s := "head: [" + strings.Join(p.Head, " ⟩ ") + "]"
	if !slices.Equal(p.Head, p.Tail) {
		s += ", tail: [" + strings.Join(p.Tail, " ⟩ ") + "]"
	}
	return s
}

// DebugOutput 在 debug 级别记录命令输出摘要
func DebugOutput(entry *logrus.Entry, command, output string, maxLines int) {
	if entry == nil || !entry.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	p := Preview(output, maxLines)
	if p.Lines == 0 {
		return
	}
	entry.WithFields(logrus.Fields{"command": command, "lines": p.Lines}).Debugf("command output %s", p)
}
