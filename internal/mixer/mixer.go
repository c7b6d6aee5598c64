// Package mixer renders several buffers into one: the full-mix export and
// the timeline grid render.
package mixer

import (
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/stemdeck/internal/audio"
	"github.com/satindergrewal/stemdeck/internal/dsp"
	"github.com/satindergrewal/stemdeck/internal/timeline"
)

// Input is one buffer placed on the mix.
type Input struct {
	Buffer *audio.Buffer
	Gain   float64 // linear, 0..1
	Offset time.Duration
}

// GainDB converts a linear gain to decibels; zero or less is -Inf.
func GainDB(gain float64) float64 {
	if gain <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(gain)
}

// Conform converts buf to format's rate, channel count and sample width.
func Conform(buf *audio.Buffer, format audio.Format) (*audio.Buffer, error) {
	out, err := dsp.Resample(buf, format.SampleRate)
	if err != nil {
		return nil, err
	}
	if out, err = out.WithChannels(format.Channels); err != nil {
		return nil, err
	}
	return out.WithSampleWidth(format.SampleWidth)
}

// MixDown overlays every input onto total worth of silence. Inputs are
// conformed to format first; whatever runs past total is cut.
func MixDown(inputs []Input, total time.Duration, format audio.Format) (*audio.Buffer, error) {
	conformed := make([]*audio.Buffer, len(inputs))
	var g errgroup.Group
	for i, in := range inputs {
		if in.Buffer == nil {
			continue
		}
		g.Go(func() error {
			c, err := Conform(in.Buffer, format)
			if err != nil {
				return err
			}
			conformed[i] = c.Gain(GainDB(in.Gain))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := audio.Silence(format, total)
	for i, in := range inputs {
		if conformed[i] == nil {
			continue
		}
		var err error
		if out, err = out.Overlay(conformed[i], format.FramesFor(in.Offset)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MixAll mixes every non-nil buffer from the start at its gain. The result
// is as long as the longest buffer.
func MixAll(buffers []*audio.Buffer, gains []float64, format audio.Format) (*audio.Buffer, error) {
	var (
		inputs []Input
		total  time.Duration
	)
	for i, b := range buffers {
		if b == nil {
			continue
		}
		gain := 1.0
		if i < len(gains) {
			gain = gains[i]
		}
		inputs = append(inputs, Input{Buffer: b, Gain: gain})
		total = max(total, b.Duration())
	}
	return MixDown(inputs, total, format)
}

// RenderGrid renders the timeline: every active cell places the first
// IntervalDuration of its row's buffer at the start of its column. Rows
// without a buffer are skipped.
func RenderGrid(cells timeline.Cells, buffers [timeline.Rows]*audio.Buffer, format audio.Format) (*audio.Buffer, error) {
	var inputs []Input
	for col := 0; col < timeline.Columns; col++ {
		for _, row := range cells.ActiveRows(col) {
			b := buffers[row]
			if b == nil {
				continue
			}
			segment := b.SliceDuration(0, timeline.IntervalDuration).PadTo(b.Format().FramesFor(timeline.IntervalDuration))
			inputs = append(inputs, Input{Buffer: segment, Gain: 1, Offset: timeline.IntervalStart(col)})
		}
	}
	return MixDown(inputs, timeline.Length(), format)
}
