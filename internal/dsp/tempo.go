// Package dsp holds the pure buffer transforms applied to tracks: tempo
// scaling, three-band equalisation and trimming.
package dsp

import (
	"math"

	"github.com/gopxl/beep/v2"

	"github.com/satindergrewal/stemdeck/internal/audio"
)

// ResampleQuality is the beep resampler quality used for every rate change.
const ResampleQuality = 4

// Ratio converts a project BPM into a playback-rate ratio.
func Ratio(bpm float64) float64 {
	return bpm / audio.ReferenceBPM
}

// Scale changes speed and pitch together by ratio: the samples are
// reinterpreted at rate*ratio and then resampled back to CanonicalRate.
func Scale(buf *audio.Buffer, ratio float64) (*audio.Buffer, error) {
	if ratio <= 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return nil, audio.InvalidRange("tempo ratio %v must be positive", ratio)
	}
	rate := int(float64(buf.SampleRate()) * ratio)
	if rate <= 0 {
		return nil, audio.InvalidRange("tempo ratio %v too small for %d Hz", ratio, buf.SampleRate())
	}
	if rate == buf.SampleRate() && rate == audio.CanonicalRate {
		return buf, nil
	}
	return Resample(buf.WithFrameRate(rate), audio.CanonicalRate)
}

// Resample converts buf to rate without changing its duration. The output
// length is rounded to the nearest frame.
func Resample(buf *audio.Buffer, rate int) (*audio.Buffer, error) {
	if rate <= 0 {
		return nil, audio.InvalidRange("sample rate %d must be positive", rate)
	}
	if buf.SampleRate() == rate {
		return buf, nil
	}

	ch := buf.Channels()
	want := int(math.Round(float64(buf.FrameCount()) * float64(rate) / float64(buf.SampleRate())))
	out := make([]float64, 0, want*ch)

	r := beep.Resample(ResampleQuality, beep.SampleRate(buf.SampleRate()), beep.SampleRate(rate), newBufferStreamer(buf))
	block := make([][2]float64, 1024)
	for len(out) < want*ch {
		n, ok := r.Stream(block)
		for _, s := range block[:n] {
			out = append(out, s[0])
			if ch == 2 {
				out = append(out, s[1])
			}
		}
		if !ok || n == 0 {
			break
		}
	}

	if len(out) > want*ch {
		out = out[:want*ch]
	}
	for len(out) < want*ch {
		out = append(out, 0)
	}

	f := buf.Format()
	f.SampleRate = rate
	return audio.FromFloat64s(f, out)
}

// bufferStreamer feeds a buffer to beep, duplicating mono into both sides.
type bufferStreamer struct {
	samples  []float64
	channels int
	pos      int
}

func newBufferStreamer(buf *audio.Buffer) *bufferStreamer {
	return &bufferStreamer{samples: buf.Float64s(), channels: buf.Channels()}
}

func (s *bufferStreamer) Stream(out [][2]float64) (int, bool) {
	frames := len(s.samples) / s.channels
	if s.pos >= frames {
		return 0, false
	}
	n := min(len(out), frames-s.pos)
	for i := 0; i < n; i++ {
		base := (s.pos + i) * s.channels
		l := s.samples[base]
		r := l
		if s.channels == 2 {
			r = s.samples[base+1]
		}
		out[i] = [2]float64{l, r}
	}
	s.pos += n
	return n, true
}

func (s *bufferStreamer) Err() error { return nil }
