package playback

import (
	"fmt"
	"math"
)

// Level is one meter reading, ready for display.
type Level struct {
	Percent float64
	Text    string
}

// Loudness maps a track's RMS and channel volume to 0..1.
func Loudness(rms, volume float64) float64 {
	return math.Min(rms/1000, 1) * volume
}

// LevelOf formats a loudness value as percent and "<n> dB".
func LevelOf(loudness float64) Level {
	if loudness <= 0 {
		return Level{Percent: 0, Text: "-∞ dB"}
	}
	// Round off float error first so exact decades truncate to -20, -40, ...
	db := math.Round(20*math.Log10(loudness)*1e6) / 1e6
	return Level{
		Percent: loudness * 100,
		Text:    fmt.Sprintf("%d dB", int(db)),
	}
}
