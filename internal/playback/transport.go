package playback

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/stemdeck/internal/audio"
	"github.com/satindergrewal/stemdeck/internal/mixer"
	"github.com/satindergrewal/stemdeck/internal/timeline"
)

// State is the transport state.
type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

// Source is a buffer to play on a track channel.
type Source struct {
	Channel int
	Buffer  *audio.Buffer
	Volume  float64
	RMS     float64
}

// Hooks receive transport events. They are called from worker goroutines
// and must not block on anything that calls back into the Transport.
type Hooks struct {
	Meter    func(ch int, level Level)
	Position func(pos time.Duration)
	Step     func(col int)
}

// Options configures a Transport.
type Options struct {
	MeterInterval    time.Duration
	PositionInterval time.Duration
	Hooks            Hooks
}

// Transport drives play, pause, resume, seek and the timeline on a Bus.
type Transport struct {
	clk    clock.Clock
	bus    *Bus
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	state         State
	cursor        time.Duration
	playStart     time.Time
	pausedElapsed time.Duration
	restage       bool
	rms           [TrackChannels]float64
	meter         *Periodic
	position      *Periodic
	timeline      *Periodic
}

// NewTransport creates a stopped transport at 0:00.
func NewTransport(clk clock.Clock, bus *Bus, opts Options) *Transport {
	if opts.MeterInterval <= 0 {
		opts.MeterInterval = 100 * time.Millisecond
	}
	if opts.PositionInterval <= 0 {
		opts.PositionInterval = 500 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{clk: clk, bus: bus, opts: opts, ctx: ctx, cancel: cancel}
}

// Bus returns the output bus.
func (t *Transport) Bus() *Bus { return t.bus }

// Close stops every worker and silences the bus.
func (t *Transport) Close() {
	t.StopTimeline()
	t.Stop()
	t.StopPreview()
	t.cancel()
}

// ToMonitor converts a buffer to the bus's PCM format.
func ToMonitor(buf *audio.Buffer) ([]int16, error) {
	c, err := mixer.Conform(buf, audio.MonitorFormat)
	if err != nil {
		return nil, err
	}
	return c.Int16s(), nil
}

// stage converts each source, starting at from, into a cue.
func stage(sources []Source, from time.Duration) ([]Cue, error) {
	cues := make([]Cue, len(sources))
	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			pcm, err := ToMonitor(src.Buffer.From(from))
			if err != nil {
				return err
			}
			cues[i] = Cue{Channel: src.Channel, PCM: pcm, Volume: src.Volume}
			return nil
		})
	}
	return cues, g.Wait()
}

// Play restarts every track channel from the cursor.
func (t *Transport) Play(sources []Source) error {
	t.mu.Lock()
	cursor := t.cursor
	t.mu.Unlock()

	cues, err := stage(sources, cursor)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLoops()
	if err := t.bus.PlayOn(cues); err != nil {
		return err
	}
	t.rms = [TrackChannels]float64{}
	for _, src := range sources {
		if src.Channel < TrackChannels {
			t.rms[src.Channel] = src.RMS
		}
	}
	t.state = Playing
	t.playStart = t.clk.Now()
	t.pausedElapsed = 0
	t.restage = false
	t.startLoops()
	return nil
}

// Pause holds every playing channel. It reports false when nothing was playing.
func (t *Transport) Pause() bool {
	t.mu.Lock()
	if t.state != Playing {
		t.mu.Unlock()
		return false
	}
	t.bus.PauseActive()
	t.pausedElapsed = t.clk.Now().Sub(t.playStart)
	t.playStart = time.Time{}
	t.state = Paused
	t.position.Stop()
	t.position = nil
	pos := t.cursor + t.pausedElapsed
	t.mu.Unlock()

	t.emitPosition(pos)
	return true
}

// Resume continues after Pause. After a Seek while paused the channels are
// empty, so sources are staged again from the new cursor. It reports false
// when not paused.
func (t *Transport) Resume(sources []Source) (bool, error) {
	t.mu.Lock()
	if t.state != Paused {
		t.mu.Unlock()
		return false, nil
	}
	if t.restage {
		t.mu.Unlock()
		return true, t.Play(sources)
	}
	defer t.mu.Unlock()
	t.cursor += t.pausedElapsed
	t.pausedElapsed = 0
	t.bus.UnpausePaused()
	t.playStart = t.clk.Now()
	t.state = Playing
	t.stopLoops()
	t.startLoops()
	return true, nil
}

// Stop silences every track channel and rewinds to 0:00.
func (t *Transport) Stop() {
	t.mu.Lock()
	t.bus.StopAll()
	t.stopLoops()
	t.reset(0)
	t.mu.Unlock()

	t.emitMeterZero()
	t.emitPosition(0)
}

// Seek moves the cursor to target, which must lie within [0, limit], and
// stops every channel. A paused transport stays Paused and restages from the
// new cursor on Resume. Otherwise it is left Stopped and the caller restarts
// playback when wasPlaying is true.
func (t *Transport) Seek(target, limit time.Duration) (wasPlaying bool, err error) {
	if target < 0 || target > limit {
		return false, audio.InvalidRange("seek position %s outside 0:00-%s", audio.FormatClock(target), audio.FormatClock(limit))
	}
	t.mu.Lock()
	wasPlaying = t.state == Playing
	paused := t.state == Paused
	t.bus.StopAll()
	t.stopLoops()
	t.reset(target)
	if paused {
		t.state = Paused
		t.restage = true
	}
	t.mu.Unlock()

	t.emitPosition(target)
	return wasPlaying, nil
}

func (t *Transport) reset(cursor time.Duration) {
	t.state = Stopped
	t.cursor = cursor
	t.playStart = time.Time{}
	t.pausedElapsed = 0
	t.restage = false
}

// Position is cursor plus the time since Play while playing, else cursor.
func (t *Transport) Position() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.positionLocked()
}

func (t *Transport) positionLocked() time.Duration {
	if t.state == Playing && !t.playStart.IsZero() {
		return t.cursor + t.clk.Now().Sub(t.playStart)
	}
	return t.cursor
}

// Cursor returns the position playback (re)starts from.
func (t *Transport) Cursor() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursor
}

// State returns the current transport state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetVolume updates a channel's live gain.
func (t *Transport) SetVolume(ch int, v float64) { t.bus.SetVolume(ch, v) }

// --- Loops ---

func (t *Transport) startLoops() {
	t.meter = StartPeriodic(t.ctx, t.clk, t.opts.MeterInterval, t.meterTick)
	t.position = StartPeriodic(t.ctx, t.clk, t.opts.PositionInterval, t.positionTick)
}

func (t *Transport) stopLoops() {
	t.meter.Stop()
	t.position.Stop()
	t.meter, t.position = nil, nil
}

func (t *Transport) meterTick() bool {
	if !t.bus.AnyBusy() {
		t.emitMeterZero()
		return false
	}
	if t.opts.Hooks.Meter == nil {
		return true
	}
	t.mu.Lock()
	rms := t.rms
	t.mu.Unlock()
	for ch := 0; ch < TrackChannels; ch++ {
		loud := 0.0
		if t.bus.Audible(ch) {
			loud = Loudness(rms[ch], t.bus.Volume(ch))
		}
		t.opts.Hooks.Meter(ch, LevelOf(loud))
	}
	return true
}

func (t *Transport) positionTick() bool {
	t.mu.Lock()
	if t.state != Playing {
		t.mu.Unlock()
		return false
	}
	if !t.bus.AnyBusy() {
		// every channel ran out
		t.reset(0)
		t.mu.Unlock()
		t.emitPosition(0)
		return false
	}
	pos := t.positionLocked()
	t.mu.Unlock()

	t.emitPosition(pos)
	return true
}

func (t *Transport) emitPosition(pos time.Duration) {
	if t.opts.Hooks.Position != nil {
		t.opts.Hooks.Position(pos)
	}
}

func (t *Transport) emitMeterZero() {
	if t.opts.Hooks.Meter == nil {
		return
	}
	for ch := 0; ch < TrackChannels; ch++ {
		t.opts.Hooks.Meter(ch, LevelOf(0))
	}
}

// --- Preview ---

// Preview plays buf on the preview channel, replacing any earlier preview.
func (t *Transport) Preview(buf *audio.Buffer) error {
	pcm, err := ToMonitor(buf)
	if err != nil {
		return err
	}
	return t.bus.Play(Cue{Channel: PreviewChannel, PCM: pcm, Volume: 1})
}

// StopPreview cuts the preview channel.
func (t *Transport) StopPreview() { t.bus.Stop(PreviewChannel) }

// PreviewPlaying reports whether a preview is still sounding.
func (t *Transport) PreviewPlaying() bool { return t.bus.Busy(PreviewChannel) }

// --- Timeline ---

// PlayTimeline steps through the grid columns: each step stops every
// channel, starts that column's sources from their beginning and waits one
// interval. Any previous timeline run is stopped first.
func (t *Transport) PlayTimeline(steps [timeline.Columns][]Source) error {
	var unique []*audio.Buffer
	seen := make(map[*audio.Buffer]bool)
	for _, col := range steps {
		for _, src := range col {
			if !seen[src.Buffer] {
				seen[src.Buffer] = true
				unique = append(unique, src.Buffer)
			}
		}
	}
	var (
		mu     sync.Mutex
		g      errgroup.Group
		staged = make(map[*audio.Buffer][]int16, len(unique))
	)
	for _, buf := range unique {
		g.Go(func() error {
			pcm, err := ToMonitor(buf)
			if err != nil {
				return err
			}
			mu.Lock()
			staged[buf] = pcm
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var cues [timeline.Columns][]Cue
	for col, srcs := range steps {
		for _, src := range srcs {
			cues[col] = append(cues[col], Cue{Channel: src.Channel, PCM: staged[src.Buffer], Volume: src.Volume})
		}
	}

	t.StopTimeline()
	job := startJob(t.ctx, func(ctx context.Context) {
		for col := range cues {
			if ctx.Err() != nil {
				return
			}
			t.bus.PlayOn(cues[col])
			if t.opts.Hooks.Step != nil {
				t.opts.Hooks.Step(col)
			}
			timer := t.clk.Timer(timeline.IntervalDuration)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		t.bus.StopAll()
	})

	t.mu.Lock()
	t.timeline = job
	t.mu.Unlock()
	return nil
}

// StopTimeline cancels a timeline run, waits for it to exit and silences
// the track channels.
func (t *Transport) StopTimeline() {
	t.mu.Lock()
	job := t.timeline
	t.timeline = nil
	t.mu.Unlock()
	if job == nil {
		return
	}
	job.Stop()
	job.Wait()
	t.bus.StopAll()
}

// TimelineRunning reports whether a timeline run is in progress.
func (t *Transport) TimelineRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timeline.Running()
}
