package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routepay/internal/platform/config"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.Config{LogLevel: "chatty"})
	assert.Error(t, err)
}

func TestNewWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routepay.log")
	log, err := New(config.Config{
		Environment:   "production",
		LogLevel:      "info",
		LogFile:       path,
		LogMaxSizeMB:  1,
		LogMaxBackups: 1,
		LogMaxAgeDays: 1,
	})
	require.NoError(t, err)

	log.Debug("dropped below level")
	log.Info("pay run computed")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"pay run computed"`)
	assert.Contains(t, string(data), `"env":"production"`)
	assert.NotContains(t, string(data), "dropped below level")
}
