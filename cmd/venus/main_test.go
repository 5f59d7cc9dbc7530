package main

import (
	"log/slog"
	"testing"

	"venus/internal/logger"

	"github.com/stretchr/testify/assert"
)

func TestApplyLogLevel_FollowsEveryReload(t *testing.T) {
	prev := logger.Level()
	t.Cleanup(func() { logger.SetLevel(prev.String()) })
	logger.SetLevel("info")

	assert.True(t, applyLogLevel("debug"))
	assert.Equal(t, slog.LevelDebug, logger.Level())
	assert.True(t, applyLogLevel("info"))
	assert.Equal(t, slog.LevelInfo, logger.Level())
	assert.False(t, applyLogLevel("INFO"))
	assert.True(t, applyLogLevel("debug"))
	assert.Equal(t, slog.LevelDebug, logger.Level())
}
