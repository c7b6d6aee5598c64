package dsp

import (
	"math"

	"github.com/satindergrewal/stemdeck/internal/audio"
)

// MaxBandGain bounds each band's gain in dB.
const MaxBandGain = 18.0

// Bands holds per-band gains in dB.
type Bands struct {
	Low  float64 `json:"low"`
	Mid  float64 `json:"mid"`
	High float64 `json:"high"`
}

// Clamp limits every band to ±MaxBandGain.
func (b Bands) Clamp() Bands {
	c := func(v float64) float64 { return math.Max(-MaxBandGain, math.Min(MaxBandGain, v)) }
	return Bands{Low: c(b.Low), Mid: c(b.Mid), High: c(b.High)}
}

// FilterBank splits one channel of [-1, 1] samples into three bands.
type FilterBank interface {
	Split(samples []float64, rate int) (low, mid, high []float64, err error)
}

// Equalize filters each channel of buf through bank, applies the band gains
// and sums the bands. The result is scaled down uniformly only if its peak
// exceeds full scale. The output keeps buf's format.
func Equalize(buf *audio.Buffer, bands Bands, bank FilterBank) (*audio.Buffer, error) {
	bands = bands.Clamp()
	gl := math.Pow(10, bands.Low/20)
	gm := math.Pow(10, bands.Mid/20)
	gh := math.Pow(10, bands.High/20)

	ch := buf.Channels()
	frames := buf.FrameCount()
	in := buf.Float64s()
	out := make([]float64, len(in))

	channel := make([]float64, frames)
	for c := 0; c < ch; c++ {
		for i := 0; i < frames; i++ {
			channel[i] = in[i*ch+c]
		}
		low, mid, high, err := bank.Split(channel, buf.SampleRate())
		if err != nil {
			return nil, err
		}
		for i := 0; i < frames; i++ {
			out[i*ch+c] = low[i]*gl + mid[i]*gm + high[i]*gh
		}
	}

	var peak float64
	for _, v := range out {
		peak = math.Max(peak, math.Abs(v))
	}
	if peak > 1 {
		for i := range out {
			out[i] /= peak
		}
	}
	return audio.FromFloat64s(buf.Format(), out)
}
