package audio

import (
	"fmt"
	"time"
)

// Monitor output: the live mix is rendered as 20ms frames of 48kHz stereo
// int16 so the same frames can feed Opus, the MP3 stream and the speaker.
const (
	MonitorRate     = 48000
	MonitorChannels = 2
	MonitorBitDepth = 16
	FrameDuration   = 20 * time.Millisecond
	FrameSize       = 960                         // samples per channel per 20ms frame
	FrameSamples    = FrameSize * MonitorChannels // total interleaved samples per frame
	FrameBytes      = FrameSamples * 2            // bytes per frame (int16 = 2 bytes)
)

const (
	// CanonicalRate is the rate every tempo-scaled buffer is normalized to.
	CanonicalRate = 44100
	// ReferenceBPM is the tempo at which a track plays unscaled.
	ReferenceBPM = 120
	// MinBPM and MaxBPM bound the global tempo.
	MinBPM = 40
	MaxBPM = 240
)

// CheckBPM rejects a tempo outside [MinBPM, MaxBPM], NaN included.
func CheckBPM(bpm float64) error {
	if !(bpm >= MinBPM && bpm <= MaxBPM) {
		return InvalidRange("BPM %v outside %d-%d", bpm, MinBPM, MaxBPM)
	}
	return nil
}

// MixFormat is used for mixdown renders and exports.
var MixFormat = Format{SampleRate: CanonicalRate, Channels: 2, SampleWidth: 2}

// MonitorFormat is the format of buffers staged on the output bus.
var MonitorFormat = Format{SampleRate: MonitorRate, Channels: MonitorChannels, SampleWidth: MonitorBitDepth / 8}

// FormatClock renders a duration as m:ss, truncating fractional seconds.
func FormatClock(d time.Duration) string {
	secs := int(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
