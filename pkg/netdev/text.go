package netdev

import (
	"bytes"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"
)

// ansiPattern 匹配 CSI 序列、OSC 字符串与双字节转义
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)|\x1b[@-Z\\-_]`)

// defaultPagingMarkers 常见分页续行标记
// （"--More--"、"---- More ----"、" --More-- (q)"、"<--- More --->"）
var defaultPagingMarkers = regexp.MustCompile(`(?i)<?-{2,}\s*\(?more\b[^-]*-{2,}>?(\s*\([^)]*\))?`)

// decodeOutput 转为 UTF-8，依次尝试设备常见的旧编码
func decodeOutput(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	encs := []encoding.Encoding{
		simplifiedchinese.GB18030,
		simplifiedchinese.GBK,
		traditionalchinese.Big5,
		charmap.Windows1252,
		charmap.ISO8859_1,
	}
	for _, enc := range encs {
		reader := transform.NewReader(bytes.NewReader(b), enc.NewDecoder())
		decoded, err := io.ReadAll(reader)
		if err == nil && utf8.Valid(decoded) {
			return string(decoded)
		}
	}
	return string(b)
}

// Sanitize 解码设备原始输出，去除转义序列，处理退格并统一换行为 "\n"
func Sanitize(raw []byte) string {
	s := ansiPattern.ReplaceAllString(decodeOutput(raw), "")
	s = strings.ReplaceAll(s, "\r\n", "\n")

	var b strings.Builder
	b.Grow(len(s))
	line := make([]rune, 0, 128)
	rewind := false
	flush := func() {
		b.WriteString(string(line))
		line = line[:0]
		rewind = false
	}
	for _, r := range s {
		if rewind && r != '\r' && r != '\n' {
			// 单独的 CR 后跟文本表示重绘当前行
			line = line[:0]
			rewind = false
		}
		switch {
		case r == '\n':
			flush()
			b.WriteByte('\n')
		case r == '\r':
			rewind = true
		case r == '\b':
			if len(line) > 0 {
				line = line[:len(line)-1]
			}
		case r == '\t':
			line = append(line, r)
		case r < 0x20 || r == 0x7f:
		default:
			line = append(line, r)
		}
	}
	flush()
	return b.String()
}

// lastLine 最后一个非空行（去除行尾空白）
func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimRight(lines[i], " \t"); strings.TrimSpace(l) != "" {
			return l
		}
	}
	return ""
}

// stripPagingMarkers 去除分页标记，只含标记的行整行删除
func stripPagingMarkers(lines []string, markers *regexp.Regexp) []string {
	if markers == nil {
		return lines
	}
	out := lines[:0]
	for _, l := range lines {
		if !markers.MatchString(l) {
			out = append(out, l)
			continue
		}
		if cleaned := markers.ReplaceAllString(l, ""); strings.TrimSpace(cleaned) != "" {
			out = append(out, strings.TrimLeft(cleaned, " "))
		}
	}
	return out
}
