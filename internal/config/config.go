package config

import (
	"os"
	"strconv"
	"time"
)

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port int

	// Session
	SessionDir string  // asset dir; empty means a fresh temp dir
	BPM        float64 // starting tempo
	FFmpegPath string
	Watch      bool // reload tracks when their files change

	// Encoding
	ExportBitrate string // mp3 mixdowns
	CommitBitrate string // mp3 re-encodes after EQ/trim apply

	// UI feeds
	MeterInterval    time.Duration
	PositionInterval time.Duration

	// Monitoring
	Speaker       bool // play the live mix on the local audio device
	StreamBitrate int  // Opus bitrate for WebRTC listeners, bits/s
	MP3Bitrate    string
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port: envInt("STEMDECK_PORT", 8080),

		SessionDir: envStr("STEMDECK_SESSION_DIR", ""),
		BPM:        envFloat("STEMDECK_BPM", 120),
		FFmpegPath: envStr("STEMDECK_FFMPEG", "ffmpeg"),
		Watch:      envBool("STEMDECK_WATCH", true),

		ExportBitrate: envStr("STEMDECK_EXPORT_BITRATE", "192k"),
		CommitBitrate: envStr("STEMDECK_COMMIT_BITRATE", "320k"),

		MeterInterval:    envMillis("STEMDECK_METER_INTERVAL_MS", 100),
		PositionInterval: envMillis("STEMDECK_POSITION_INTERVAL_MS", 500),

		Speaker:       envBool("STEMDECK_SPEAKER", false),
		StreamBitrate: envInt("STEMDECK_STREAM_BITRATE", 128000),
		MP3Bitrate:    envStr("STEMDECK_MP3_STREAM_BITRATE", "192k"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}
