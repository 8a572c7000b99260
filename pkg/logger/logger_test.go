package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_JSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "netdev.log")
	require.NoError(t, Init(Config{Level: "debug", Format: "json", Output: "file", FilePath: path, MaxSize: 1}))
	assert.Equal(t, logrus.DebugLevel, GetLogger().GetLevel())
	assert.DirExists(t, filepath.Dir(path))
}

func TestWith(t *testing.T) {
	require.NoError(t, Init(Config{Level: "info", Format: "json"}))
	var buf bytes.Buffer
	GetLogger().SetOutput(&buf)

	With("device", "10.0.0.1", "port", 22, "dangling").Info("connected")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "10.0.0.1", line["device"])
	assert.EqualValues(t, 22, line["port"])
	assert.Contains(t, line, "dangling")
	assert.Equal(t, "connected", line["msg"])
}

func TestSetLevel(t *testing.T) {
	require.NoError(t, Init(Config{Level: "info"}))
	require.NoError(t, SetLevel("warn"))
	assert.Equal(t, logrus.WarnLevel, GetLogger().GetLevel())
	assert.Error(t, SetLevel("loud"))
}

func TestPreview(t *testing.T) {
	p := Preview("a\nb\nc\nd\n", 2)
	assert.Equal(t, 4, p.Lines)
	assert.Equal(t, []string{"a", "b"}, p.Head)
	assert.Equal(t, []string{"c", "d"}, p.Tail)
	assert.Equal(t, "head: [a ⟩ b], tail: [c ⟩ d]", p.String())

	short := Preview("only", 5)
	assert.Equal(t, "head: [only]", short.String())
	assert.Zero(t, Preview("", 5).Lines)
}
