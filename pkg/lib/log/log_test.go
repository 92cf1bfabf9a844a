package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", LevelInfo},
		{"info", LevelInfo},
		{"DEBUG", LevelDebug},
		{" warn ", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc", TruncateID("abc", 8))
	assert.Equal(t, "01234567", TruncateID("0123456789", 8))
	assert.Equal(t, "", TruncateID("", 8))
}

func TestLoggerFollowsSetup(t *testing.T) {
	defer Setup(nil, "text", LevelInfo)

	l := Logger("btpnips/test")

	var buf bytes.Buffer
	Setup(&buf, "json", LevelDebug)
	l.Debug("第一条", "k", 1)
	assert.Contains(t, buf.String(), `"component":"btpnips/test"`)

	buf.Reset()
	Setup(&buf, "text", LevelWarn)
	l.Info("被过滤")
	l.Warn("第二条")
	out := buf.String()
	assert.False(t, strings.Contains(out, "被过滤"))
	assert.Contains(t, out, "component=btpnips/test")
}
