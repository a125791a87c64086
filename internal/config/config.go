package config

import (
	"os"
	"time"

	"github.com/spf13/cast"
)

type Config struct {
	Port             int
	CatalogURL       string
	CatalogAPIKey    string
	OperatorToken    string
	FFmpegPath       string
	FFprobePath      string
	WorkDir          string
	PollInterval     time.Duration
	ScanBatchSize    int
	MaintenanceSpec  string
	ThumbnailMaxEdge int
}

func Load() *Config {
	return &Config{
		Port:             envInt("PORT", 8090),
		CatalogURL:       env("CATALOG_URL", "http://localhost:8080"),
		CatalogAPIKey:    env("CATALOG_API_KEY", ""),
		OperatorToken:    env("OPERATOR_TOKEN", ""),
		FFmpegPath:       env("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:      env("FFPROBE_PATH", "ffprobe"),
		WorkDir:          env("WORK_DIR", os.TempDir()),
		PollInterval:     envDuration("POLL_INTERVAL", 5*time.Second),
		ScanBatchSize:    envInt("SCAN_BATCH_SIZE", 50),
		MaintenanceSpec:  env("MAINTENANCE_SCHEDULE", ""),
		ThumbnailMaxEdge: envInt("THUMBNAIL_MAX_EDGE", 640),
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := cast.ToIntE(v); err == nil {
			return i
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := cast.ToDurationE(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
