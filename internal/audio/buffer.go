package audio

import (
	"fmt"
	"math"
	"time"
)

// Format describes interleaved integer PCM.
type Format struct {
	SampleRate  int
	Channels    int // 1 or 2
	SampleWidth int // bytes per sample, 1..4
}

// BitDepth returns the sample width in bits.
func (f Format) BitDepth() int { return f.SampleWidth * 8 }

// Validate checks that f describes PCM the engine can hold.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return InvalidRange("sample rate %d must be positive", f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return FormatMismatch("%d channels not supported, want 1 or 2", f.Channels)
	}
	if f.SampleWidth < 1 || f.SampleWidth > 4 {
		return FormatMismatch("sample width %d not supported, want 1-4 bytes", f.SampleWidth)
	}
	return nil
}

// FramesFor converts a duration to a frame count at f's sample rate, rounding
// to the nearest frame.
func (f Format) FramesFor(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((int64(d)*int64(f.SampleRate) + int64(time.Second)/2) / int64(time.Second))
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitDepth())
}

func (f Format) maxSample() int64 { return int64(1)<<(8*f.SampleWidth-1) - 1 }
func (f Format) minSample() int64 { return -(int64(1) << (8*f.SampleWidth - 1)) }

// saturate clips v to the signed range of the format's sample width.
func (f Format) saturate(v int64) int32 {
	if hi := f.maxSample(); v > hi {
		return int32(hi)
	}
	if lo := f.minSample(); v < lo {
		return int32(lo)
	}
	return int32(v)
}

// Buffer is an immutable clip of decoded PCM. Every operation returns a new
// Buffer; samples are never modified after construction, so buffers may be
// shared freely between goroutines.
type Buffer struct {
	format  Format
	samples []int32
}

// NewBuffer wraps interleaved samples. The caller hands over ownership of
// samples and must not modify them afterwards.
func NewBuffer(format Format, samples []int32) (*Buffer, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if len(samples)%format.Channels != 0 {
		return nil, FormatMismatch("%d samples not aligned to %d channels", len(samples), format.Channels)
	}
	return &Buffer{format: format, samples: samples}, nil
}

// Silence returns d worth of zero samples.
func Silence(format Format, d time.Duration) *Buffer {
	return SilenceFrames(format, format.FramesFor(d))
}

// SilenceFrames returns n frames of zero samples.
func SilenceFrames(format Format, n int) *Buffer {
	if n < 0 {
		n = 0
	}
	return &Buffer{format: format, samples: make([]int32, n*format.Channels)}
}

func (b *Buffer) Format() Format   { return b.format }
func (b *Buffer) SampleRate() int  { return b.format.SampleRate }
func (b *Buffer) Channels() int    { return b.format.Channels }
func (b *Buffer) SampleWidth() int { return b.format.SampleWidth }

// Samples exposes the interleaved samples. Callers must treat them as read-only.
func (b *Buffer) Samples() []int32 { return b.samples }

// FrameCount is the number of sample frames (samples per channel).
func (b *Buffer) FrameCount() int { return len(b.samples) / b.format.Channels }

// Duration is FrameCount / SampleRate.
func (b *Buffer) Duration() time.Duration {
	return time.Duration(int64(b.FrameCount()) * int64(time.Second) / int64(b.format.SampleRate))
}

// Seconds is Duration as a float.
func (b *Buffer) Seconds() float64 {
	return float64(b.FrameCount()) / float64(b.format.SampleRate)
}

// Equal reports whether both buffers have the same format and samples.
func (b *Buffer) Equal(o *Buffer) bool {
	if b == nil || o == nil {
		return b == o
	}
	if b.format != o.format || len(b.samples) != len(o.samples) {
		return false
	}
	for i := range b.samples {
		if b.samples[i] != o.samples[i] {
			return false
		}
	}
	return true
}

// Slice returns frames [start, end), clamped to the buffer.
func (b *Buffer) Slice(start, end int) *Buffer {
	n := b.FrameCount()
	start = max(0, min(start, n))
	end = max(start, min(end, n))
	ch := b.format.Channels
	return &Buffer{format: b.format, samples: b.samples[start*ch : end*ch]}
}

// SliceDuration returns the [start, end) time range, clamped to the buffer.
func (b *Buffer) SliceDuration(start, end time.Duration) *Buffer {
	return b.Slice(b.format.FramesFor(start), b.format.FramesFor(end))
}

// From returns everything from start onwards.
func (b *Buffer) From(start time.Duration) *Buffer {
	return b.Slice(b.format.FramesFor(start), b.FrameCount())
}

// PadTo right-pads with silence up to n frames. Longer buffers are returned as is.
func (b *Buffer) PadTo(n int) *Buffer {
	if b.FrameCount() >= n {
		return b
	}
	out := make([]int32, n*b.format.Channels)
	copy(out, b.samples)
	return &Buffer{format: b.format, samples: out}
}

// WithFrameRate reinterprets the same samples at another rate, which changes
// both speed and pitch.
func (b *Buffer) WithFrameRate(rate int) *Buffer {
	f := b.format
	f.SampleRate = rate
	return &Buffer{format: f, samples: b.samples}
}

// Gain scales every sample by db decibels, saturating at full scale.
// Negative infinity yields silence.
func (b *Buffer) Gain(db float64) *Buffer {
	if db == 0 {
		return b
	}
	out := make([]int32, len(b.samples))
	if math.IsInf(db, -1) {
		return &Buffer{format: b.format, samples: out}
	}
	factor := math.Pow(10, db/20)
	for i, s := range b.samples {
		out[i] = b.format.saturate(int64(float64(s) * factor))
	}
	return &Buffer{format: b.format, samples: out}
}

// Overlay mixes o into b starting at offset frames. The result keeps b's
// length; samples of o past the end are dropped. Both buffers must share
// rate, channel count and sample width.
func (b *Buffer) Overlay(o *Buffer, offset int) (*Buffer, error) {
	if offset < 0 {
		return nil, InvalidRange("overlay offset %d is negative", offset)
	}
	if b.format.Channels != o.format.Channels || b.format.SampleWidth != o.format.SampleWidth {
		return nil, FormatMismatch("cannot overlay %s onto %s", o.format, b.format)
	}
	if b.format.SampleRate != o.format.SampleRate {
		return nil, FormatMismatch("cannot overlay %s onto %s", o.format, b.format)
	}
	out := make([]int32, len(b.samples))
	copy(out, b.samples)
	start := offset * b.format.Channels
	for i, s := range o.samples {
		j := start + i
		if j >= len(out) {
			break
		}
		out[j] = b.format.saturate(int64(out[j]) + int64(s))
	}
	return &Buffer{format: b.format, samples: out}, nil
}

// WithChannels converts between mono and stereo. Stereo to mono averages
// both sides; mono to stereo duplicates.
func (b *Buffer) WithChannels(n int) (*Buffer, error) {
	if n == b.format.Channels {
		return b, nil
	}
	f := b.format
	f.Channels = n
	if err := f.Validate(); err != nil {
		return nil, err
	}
	frames := b.FrameCount()
	out := make([]int32, frames*n)
	switch n {
	case 1:
		for i := 0; i < frames; i++ {
			out[i] = int32((int64(b.samples[2*i]) + int64(b.samples[2*i+1])) / 2)
		}
	case 2:
		for i := 0; i < frames; i++ {
			out[2*i] = b.samples[i]
			out[2*i+1] = b.samples[i]
		}
	}
	return &Buffer{format: f, samples: out}, nil
}

// WithSampleWidth rescales samples to another width in bytes.
func (b *Buffer) WithSampleWidth(w int) (*Buffer, error) {
	if w == b.format.SampleWidth {
		return b, nil
	}
	f := b.format
	f.SampleWidth = w
	if err := f.Validate(); err != nil {
		return nil, err
	}
	shift := 8 * (w - b.format.SampleWidth)
	out := make([]int32, len(b.samples))
	for i, s := range b.samples {
		if shift > 0 {
			out[i] = int32(int64(s) << shift)
		} else {
			out[i] = int32(int64(s) >> -shift)
		}
	}
	return &Buffer{format: f, samples: out}, nil
}

// RMS is the root mean square of all samples in native integer units.
func (b *Buffer) RMS() float64 {
	if len(b.samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range b.samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(b.samples)))
}

// Peak is the largest absolute sample value.
func (b *Buffer) Peak() int64 {
	var peak int64
	for _, s := range b.samples {
		v := int64(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}

// Float64s returns the samples scaled to [-1, 1).
func (b *Buffer) Float64s() []float64 {
	scale := float64(int64(1) << (8*b.format.SampleWidth - 1))
	out := make([]float64, len(b.samples))
	for i, s := range b.samples {
		out[i] = float64(s) / scale
	}
	return out
}

// FromFloat64s builds a buffer from interleaved [-1, 1] samples, clipping
// anything beyond full scale.
func FromFloat64s(format Format, samples []float64) (*Buffer, error) {
	scale := float64(int64(1) << (8*format.SampleWidth - 1))
	out := make([]int32, len(samples))
	for i, v := range samples {
		out[i] = format.saturate(int64(math.Round(v * scale)))
	}
	return NewBuffer(format, out)
}

// Int16s returns 16-bit samples, converting the width if needed.
func (b *Buffer) Int16s() []int16 {
	c, _ := b.WithSampleWidth(2)
	out := make([]int16, len(c.samples))
	for i, s := range c.samples {
		out[i] = int16(s)
	}
	return out
}

// FromInt16s builds a 16-bit buffer from interleaved samples.
func FromInt16s(rate, channels int, samples []int16) (*Buffer, error) {
	out := make([]int32, len(samples))
	for i, s := range samples {
		out[i] = int32(s)
	}
	return NewBuffer(Format{SampleRate: rate, Channels: channels, SampleWidth: 2}, out)
}
