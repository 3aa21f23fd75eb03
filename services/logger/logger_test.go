package logsvc

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-dash/core"
)

func TestConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(&buf, &core.Config{AppName: "Masomo"}, "API")

	logger.Debug("hidden")
	logger.Warn("feed failed", errors.New("connection reset"), map[string]interface{}{"path": "/v1/collections/students"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "feed failed", entry["message"])
	assert.Equal(t, "connection reset", entry["error"])
	assert.Equal(t, "/v1/collections/students", entry["path"])
	assert.Equal(t, "API", entry["component"])
	assert.Equal(t, "Masomo", entry["app"])
}

func TestConsoleLogger_Fatal(t *testing.T) {
	var code int
	exit := exitFunc
	exitFunc = func(c int) { code = c }
	defer func() { exitFunc = exit }()

	var buf bytes.Buffer
	NewConsoleLogger(&buf, &core.Config{}, "DB").Fatal("boom", 42)

	assert.Equal(t, 1, code)
	assert.Contains(t, buf.String(), `"level":"fatal"`)
	assert.Contains(t, buf.String(), `"arg0":42`)
}

func TestRollbarLogger_prepare(t *testing.T) {
	err := errors.New("boom")
	extra := map[string]interface{}{"op": "list"}
	got := RollbarLogger{}.prepare("msg", []interface{}{err, 42, extra})
	assert.Equal(t, []interface{}{"msg", err, extra}, got)
}
