// Package playback schedules buffers onto the output bus: transport state,
// metering, position updates, timeline and preview playback.
package playback

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/satindergrewal/stemdeck/internal/audio"
)

const (
	// TrackChannels is one bus channel per track slot.
	TrackChannels = 10
	// PreviewChannel carries EQ and trim previews.
	PreviewChannel = TrackChannels
	NumChannels    = TrackChannels + 1
)

// Cue starts pcm (monitor format) on a channel.
type Cue struct {
	Channel int
	PCM     []int16
	Volume  float64
}

type channel struct {
	samples []int16
	pos     int
	volume  float64
	paused  bool
}

func (c *channel) busy() bool { return c.pos < len(c.samples) }

func (c *channel) stop() {
	c.samples = nil
	c.pos = 0
	c.paused = false
}

// Bus mixes its channels into 20ms monitor frames at real-time rate.
type Bus struct {
	clk     clock.Clock
	frameCh chan []int16

	mu       sync.Mutex
	channels [NumChannels]channel
	acc      []int32
}

// NewBus creates a bus driven by clk.
func NewBus(clk clock.Clock) *Bus {
	b := &Bus{
		clk:     clk,
		frameCh: make(chan []int16, 100),
		acc:     make([]int32, audio.FrameSamples),
	}
	for i := range b.channels {
		b.channels[i].volume = 1
	}
	return b
}

// Frames returns the channel of outgoing PCM frames (20ms each).
func (b *Bus) Frames() <-chan []int16 {
	return b.frameCh
}

func checkChannel(ch int) error {
	if ch < 0 || ch >= NumChannels {
		return audio.InvalidRange("channel %d outside 0-%d", ch, NumChannels-1)
	}
	return nil
}

// Play replaces whatever ch was playing.
func (b *Bus) Play(cue Cue) error {
	if err := checkChannel(cue.Channel); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.start(cue)
	return nil
}

func (b *Bus) start(cue Cue) {
	c := &b.channels[cue.Channel]
	c.stop()
	c.samples = cue.PCM
	c.volume = cue.Volume
}

// PlayOn stops every track channel and starts cues in one step.
func (b *Bus) PlayOn(cues []Cue) error {
	for _, c := range cues {
		if err := checkChannel(c.Channel); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopTracks()
	for _, c := range cues {
		b.start(c)
	}
	return nil
}

// Stop silences one channel.
func (b *Bus) Stop(ch int) {
	if checkChannel(ch) != nil {
		return
	}
	b.mu.Lock()
	b.channels[ch].stop()
	b.mu.Unlock()
}

// StopAll silences every track channel. The preview channel is left alone.
func (b *Bus) StopAll() {
	b.mu.Lock()
	b.stopTracks()
	b.mu.Unlock()
}

func (b *Bus) stopTracks() {
	for i := 0; i < TrackChannels; i++ {
		b.channels[i].stop()
	}
}

// SetVolume changes a channel's gain while it plays.
func (b *Bus) SetVolume(ch int, v float64) {
	if checkChannel(ch) != nil {
		return
	}
	b.mu.Lock()
	b.channels[ch].volume = v
	b.mu.Unlock()
}

// Volume returns a channel's gain.
func (b *Bus) Volume(ch int) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channels[ch].volume
}

// PauseActive pauses every busy track channel and returns their indices.
func (b *Bus) PauseActive() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	var paused []int
	for i := 0; i < TrackChannels; i++ {
		c := &b.channels[i]
		if c.busy() && !c.paused {
			c.paused = true
			paused = append(paused, i)
		}
	}
	return paused
}

// UnpausePaused resumes every paused track channel and returns their indices.
func (b *Bus) UnpausePaused() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	var resumed []int
	for i := 0; i < TrackChannels; i++ {
		if b.channels[i].paused {
			b.channels[i].paused = false
			resumed = append(resumed, i)
		}
	}
	return resumed
}

// Busy reports whether ch still has samples to play, paused or not.
func (b *Bus) Busy(ch int) bool {
	if checkChannel(ch) != nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channels[ch].busy()
}

// Audible reports whether ch is busy and not paused.
func (b *Bus) Audible(ch int) bool {
	if checkChannel(ch) != nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channels[ch].busy() && !b.channels[ch].paused
}

// AnyBusy reports whether any track channel is busy.
func (b *Bus) AnyBusy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < TrackChannels; i++ {
		if b.channels[i].busy() {
			return true
		}
	}
	return false
}

// mix advances every audible channel by one frame and returns the sum.
func (b *Bus) mix() []int16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.acc)
	for i := range b.channels {
		c := &b.channels[i]
		if !c.busy() || c.paused {
			continue
		}
		end := min(c.pos+audio.FrameSamples, len(c.samples))
		audio.MixFrame(b.acc, c.samples[c.pos:end], c.volume)
		c.pos = end
		if !c.busy() {
			c.samples = nil
			c.pos = 0
		}
	}
	return audio.ClipFrame(b.acc)
}

// Run emits one frame per FrameDuration until ctx is cancelled. Silence is
// emitted while nothing plays so listeners stay connected.
func (b *Bus) Run(ctx context.Context) {
	defer close(b.frameCh)

	ticker := b.clk.Ticker(audio.FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		select {
		case b.frameCh <- b.mix():
		case <-ctx.Done():
			return
		}
	}
}
