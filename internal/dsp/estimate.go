package dsp

import (
	"math"

	"github.com/satindergrewal/stemdeck/internal/audio"
)

// Tempo search range for EstimateTempo, in BPM.
const (
	MinTempo = 60.0
	MaxTempo = 200.0
)

// envelopeRate is the onset envelope resolution in Hz.
const envelopeRate = 100

// EstimateTempo guesses the tempo of buf by autocorrelating its onset
// strength envelope. Buffers shorter than a few beats return InvalidRange.
func EstimateTempo(buf *audio.Buffer) (float64, error) {
	hop := buf.SampleRate() / envelopeRate
	if hop <= 0 {
		return 0, audio.InvalidRange("sample rate %d too low to estimate tempo", buf.SampleRate())
	}
	ch := buf.Channels()
	samples := buf.Float64s()
	frames := buf.FrameCount()

	// energy per hop
	n := frames / hop
	energy := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for j := i * hop * ch; j < (i+1)*hop*ch; j++ {
			sum += samples[j] * samples[j]
		}
		energy[i] = math.Log1p(sum)
	}

	// half-wave rectified difference
	onset := make([]float64, n)
	for i := 1; i < n; i++ {
		onset[i] = math.Max(0, energy[i]-energy[i-1])
	}

	minLag := int(math.Floor(60 * envelopeRate / MaxTempo))
	maxLag := int(math.Ceil(60 * envelopeRate / MinTempo))
	if n < 2*maxLag {
		return 0, audio.InvalidRange("%s of audio is too short to estimate tempo", audio.FormatClock(buf.Duration()))
	}

	bestLag, best := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var sum float64
		for i := lag; i < n; i++ {
			sum += onset[i] * onset[i-lag]
		}
		if sum > best {
			best, bestLag = sum, lag
		}
	}
	if bestLag == 0 {
		return 0, audio.InvalidRange("no rhythmic content found")
	}
	return math.Round(60*envelopeRate/float64(bestLag)*10) / 10, nil
}
