package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, 8090, cfg.Port)
	assert.Equal(t, "ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 50, cfg.ScanBatchSize)
	assert.Equal(t, 640, cfg.ThumbnailMaxEdge)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("POLL_INTERVAL", "10s")
	t.Setenv("SCAN_BATCH_SIZE", "25")
	t.Setenv("MAINTENANCE_SCHEDULE", "0 3 * * *")

	cfg := Load()
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, 25, cfg.ScanBatchSize)
	assert.Equal(t, "0 3 * * *", cfg.MaintenanceSpec)
}

func TestLoadIgnoresGarbage(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	t.Setenv("POLL_INTERVAL", "-5s")

	cfg := Load()
	assert.Equal(t, 8090, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
}
