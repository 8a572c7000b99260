package netdev

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func TestSanitize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"crlf", "line1\r\nline2\r\n", "line1\nline2\n"},
		{"ansi", "\x1b[0m\x1b[1;32mR1#\x1b[K", "R1#"},
		{"backspace", "shoo\bw run", "show run"},
		{"carriage return redraw", "  ---- More ----\r              \rinterface Gi1", "interface Gi1"},
		{"double cr", "R1#\r\r\nnext", "R1#\nnext"},
		{"bell and nul", "a\x07b\x00c", "abc"},
		{"tabs kept", "Gi0/0\tup", "Gi0/0\tup"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Sanitize([]byte(tc.in)))
		})
	}
}

func TestSanitize_DecodesLegacyEncoding(t *testing.T) {
	gbk, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("接口状态\r\n<R1>"))
	assert.NoError(t, err)
	assert.Equal(t, "接口状态\n<R1>", Sanitize(gbk))
}

func TestLastLine(t *testing.T) {
	assert.Equal(t, "R1#", lastLine("show clock\n10:00\nR1#  \n\n"))
	assert.Equal(t, "", lastLine("\n \n"))
}

func TestStripPagingMarkers(t *testing.T) {
	lines := []string{"a", " --More-- ", "  ---- More ----b", "c"}
	assert.Equal(t, []string{"a", "b", "c"}, stripPagingMarkers(lines, defaultPagingMarkers))
	assert.Equal(t, []string{"x"}, stripPagingMarkers([]string{"x"}, nil))
}
