package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"tempmail/relay/internal/config"
)

func TestNewLogger(t *testing.T) {
	t.Run("非法级别回落到 info", func(t *testing.T) {
		log, err := NewLogger(&config.LogConfig{Level: "loud"})
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("写入日志文件", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "relay.log")
		log, err := NewLogger(&config.LogConfig{
			Level:      "debug",
			File:       path,
			MaxSize:    1,
			MaxBackups: 1,
		})
		require.NoError(t, err)

		log.Info("poll cycle finished")
		_ = log.Sync()

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"message":"poll cycle finished"`)
		assert.Contains(t, string(data), `"logger":"relay"`)
	})
}
