package dsp

import (
	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"

	"github.com/satindergrewal/stemdeck/internal/audio"
)

// Default crossover points of the three-band equaliser, in Hz.
const (
	LowCutoff     = 200.0
	MidLowCutoff  = 500.0
	MidHighCutoff = 2000.0
	HighCutoff    = 5000.0
	FilterOrder   = 6
)

// filter runs a fresh cascade over a copy of in with zero initial state.
func filter(in []float64, stages ...[]biquad.Coefficients) []float64 {
	out := make([]float64, len(in))
	copy(out, in)
	for _, coeffs := range stages {
		biquad.NewChain(coeffs).ProcessBlock(out)
	}
	return out
}

// ButterworthBank splits a signal into low, mid and high bands with
// cascaded Butterworth biquad sections. The mid band is a high-pass at MidLow
// followed by a low-pass at MidHigh.
type ButterworthBank struct {
	Low, MidLow, MidHigh, High float64
	Order                      int
}

// NewButterworthBank returns the 200 / 500-2000 / 5000 Hz bank of order 6.
func NewButterworthBank() *ButterworthBank {
	return &ButterworthBank{
		Low:     LowCutoff,
		MidLow:  MidLowCutoff,
		MidHigh: MidHighCutoff,
		High:    HighCutoff,
		Order:   FilterOrder,
	}
}

// Split filters one channel of samples at rate.
func (b *ButterworthBank) Split(samples []float64, rate int) (low, mid, high []float64, err error) {
	if b.Order <= 0 || b.Order%2 != 0 {
		return nil, nil, nil, audio.InvalidRange("filter order %d must be even and positive", b.Order)
	}
	nyquist := float64(rate) / 2
	for _, f := range []float64{b.Low, b.MidLow, b.MidHigh, b.High} {
		if f <= 0 || f >= nyquist {
			return nil, nil, nil, audio.InvalidRange("cutoff %.0f Hz outside (0, %.0f) for %d Hz audio", f, nyquist, rate)
		}
	}

	sr := float64(rate)
	low = filter(samples, design.ButterworthLP(b.Low, b.Order, sr))
	mid = filter(samples,
		design.ButterworthHP(b.MidLow, b.Order, sr),
		design.ButterworthLP(b.MidHigh, b.Order, sr))
	high = filter(samples, design.ButterworthHP(b.High, b.Order, sr))
	return low, mid, high, nil
}
