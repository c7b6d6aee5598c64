package dsp

import (
	"time"

	"github.com/satindergrewal/stemdeck/internal/audio"
)

// Trim returns the [start, end) range of buf. Bounds are compared in frames
// so that trimming to (0, Duration) returns the whole buffer.
func Trim(buf *audio.Buffer, start, end time.Duration) (*audio.Buffer, error) {
	if start < 0 {
		return nil, audio.InvalidRange("Start time must not be negative.")
	}
	if start >= end {
		return nil, audio.InvalidRange("Start time must be less than end time.")
	}
	f := buf.Format()
	s, e := f.FramesFor(start), f.FramesFor(end)
	if e > buf.FrameCount() {
		return nil, audio.InvalidRange("End time exceeds track duration.")
	}
	if s >= e {
		return nil, audio.InvalidRange("Trim range is shorter than one sample.")
	}
	return buf.Slice(s, e), nil
}
