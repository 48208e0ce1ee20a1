package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RedKier/crypto-trading-bot/internal/config"
)

func TestNewWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "trader.log")

	logger, closer, err := New(config.LoggingConfig{Level: "debug", Format: "json", File: path, MaxSize: 1})
	require.NoError(t, err)

	logger.WithField("symbol", "BTCUSDT").Debug("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"symbol":"BTCUSDT"`)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
}

func TestNewFallsBackToInfo(t *testing.T) {
	logger, closer, err := New(config.LoggingConfig{Level: "loud", Format: "text"})
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	_, isText := logger.Formatter.(*logrus.TextFormatter)
	assert.True(t, isText)
}
