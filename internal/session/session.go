// Package session owns every piece of mixer state: the ten tracks, tempo,
// volumes, timeline grid and transport. Callers drive it through methods
// and observe it through an Observer.
package session

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"

	"github.com/satindergrewal/stemdeck/internal/audio"
	"github.com/satindergrewal/stemdeck/internal/dsp"
	"github.com/satindergrewal/stemdeck/internal/playback"
	"github.com/satindergrewal/stemdeck/internal/timeline"
	"github.com/satindergrewal/stemdeck/internal/track"
)

// Severity grades a user-facing message.
type Severity string

const (
	Info    Severity = "info"
	Warning Severity = "warning"
	Error   Severity = "error"
)

// Observer receives pre-formatted updates. Methods may be called from any
// goroutine and must not call back into the Session.
type Observer interface {
	TrackLabel(index int, text string)
	Meter(index int, percent float64, db string)
	Position(text string)
	Message(title, body string, severity Severity)
}

// NopObserver discards every update.
type NopObserver struct{}

func (NopObserver) TrackLabel(int, string)            {}
func (NopObserver) Meter(int, float64, string)        {}
func (NopObserver) Position(string)                   {}
func (NopObserver) Message(string, string, Severity) {}

// TempoEstimator guesses the tempo of an audio file in BPM.
type TempoEstimator func(path string) (float64, error)

// Options configures a Session. AssetDir is required.
type Options struct {
	AssetDir string
	Codec    audio.Codec
	Bank     dsp.FilterBank
	Clock    clock.Clock
	Observer Observer
	// Estimator is optional; EstimateBPM fails without one.
	Estimator TempoEstimator

	BPM              float64
	CommitBitrate    string
	ExportBitrate    string
	MeterInterval    time.Duration
	PositionInterval time.Duration
}

// Session is safe for concurrent use; operations are serialised.
type Session struct {
	opts      Options
	obs       Observer
	grid      *timeline.Grid
	transport *playback.Transport

	mu     sync.Mutex
	tracks [track.Slots]*track.Track
	bpm    float64

	watchMu  sync.Mutex
	watcher  *fsnotify.Watcher
	debounce map[string]*clock.Timer
}

// New creates a session over opts.AssetDir, creating the directory if needed.
func New(opts Options) (*Session, error) {
	if opts.AssetDir == "" {
		return nil, fmt.Errorf("session: asset dir required")
	}
	if err := os.MkdirAll(opts.AssetDir, 0o755); err != nil {
		return nil, audio.IOError(err, "create "+opts.AssetDir)
	}
	if opts.Codec == nil {
		opts.Codec = audio.NewFileCodec("")
	}
	if opts.Bank == nil {
		opts.Bank = dsp.NewButterworthBank()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.BPM == 0 {
		opts.BPM = audio.ReferenceBPM
	}
	if err := audio.CheckBPM(opts.BPM); err != nil {
		return nil, err
	}
	if opts.CommitBitrate == "" {
		opts.CommitBitrate = "320k"
	}
	if opts.ExportBitrate == "" {
		opts.ExportBitrate = "192k"
	}

	s := &Session{
		opts:     opts,
		obs:      opts.Observer,
		grid:     timeline.NewGrid(),
		bpm:      opts.BPM,
		debounce: map[string]*clock.Timer{},
	}
	for i := range s.tracks {
		s.tracks[i] = track.Empty()
	}

	bus := playback.NewBus(opts.Clock)
	s.transport = playback.NewTransport(opts.Clock, bus, playback.Options{
		MeterInterval:    opts.MeterInterval,
		PositionInterval: opts.PositionInterval,
		Hooks: playback.Hooks{
			Meter: func(ch int, l playback.Level) {
				s.obs.Meter(ch, l.Percent, l.Text)
			},
			Position: func(pos time.Duration) {
				s.obs.Position(audio.FormatClock(pos))
			},
			Step: func(col int) {
				s.obs.Position(fmt.Sprintf("Interval %d/%d", col+1, timeline.Columns))
			},
		},
	})
	return s, nil
}

// Bus returns the output bus feeding the monitor streams.
func (s *Session) Bus() *playback.Bus { return s.transport.Bus() }

// AssetDir returns the session's working directory.
func (s *Session) AssetDir() string { return s.opts.AssetDir }

// Close stops playback and the watcher.
func (s *Session) Close() {
	s.transport.Close()
	s.watchMu.Lock()
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
	for _, t := range s.debounce {
		t.Stop()
	}
	s.watchMu.Unlock()
}

// report shows err to the user and returns it.
func (s *Session) report(title string, err error) error {
	log.Printf("%s: %v", title, err)
	sev := Error
	if audio.IsKind(err, audio.KindInvalidRange) {
		sev = Warning
	}
	s.obs.Message(title, audio.Describe(err), sev)
	return err
}

// warn reports a recoverable failure as a warning whatever its kind.
func (s *Session) warn(title string, err error) {
	log.Printf("%s: %v", title, err)
	s.obs.Message(title, audio.Describe(err), Warning)
}

func checkSlot(i int) error {
	if i < 0 || i >= track.Slots {
		return audio.InvalidRange("track %d outside 1-%d", i+1, track.Slots)
	}
	return nil
}

// loaded returns slot i or an error if it is empty. Callers hold s.mu.
func (s *Session) loaded(i int) (*track.Track, error) {
	if err := checkSlot(i); err != nil {
		return nil, err
	}
	tr := s.tracks[i]
	if !tr.Loaded() {
		return nil, audio.InvalidRange("No audio loaded in Track %d.", i+1)
	}
	return tr, nil
}

func (s *Session) ratio() float64 { return dsp.Ratio(s.bpm) }

// setTrack stores tr in slot i and publishes its label. Callers hold s.mu.
func (s *Session) setTrack(i int, tr *track.Track) {
	s.tracks[i] = tr
	s.obs.TrackLabel(i, tr.Label(i))
}

// --- Status ---

// TrackStatus describes one slot.
type TrackStatus struct {
	Index            int     `json:"index"`
	Label            string  `json:"label"`
	Loaded           bool    `json:"loaded"`
	Path             string  `json:"path,omitempty"`
	Volume           float64 `json:"volume"`
	Duration         float64 `json:"duration"`
	OriginalDuration float64 `json:"original_duration"`
}

// Status is a point-in-time view of the whole session.
type Status struct {
	Tracks          []TrackStatus  `json:"tracks"`
	BPM             float64        `json:"bpm"`
	State           string         `json:"state"`
	Position        string         `json:"position"`
	PositionSeconds float64        `json:"position_seconds"`
	Grid            timeline.Cells `json:"grid"`
	TimelineRunning bool           `json:"timeline_running"`
	PreviewPlaying  bool           `json:"preview_playing"`
	AssetDir        string         `json:"asset_dir"`
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := s.transport.Position()
	st := Status{
		BPM:             s.bpm,
		State:           s.transport.State().String(),
		Position:        audio.FormatClock(pos),
		PositionSeconds: pos.Seconds(),
		Grid:            s.grid.Snapshot(),
		TimelineRunning: s.transport.TimelineRunning(),
		PreviewPlaying:  s.transport.PreviewPlaying(),
		AssetDir:        s.opts.AssetDir,
	}
	for i, tr := range s.tracks {
		st.Tracks = append(st.Tracks, TrackStatus{
			Index:            i,
			Label:            tr.Label(i),
			Loaded:           tr.Loaded(),
			Path:             tr.SourcePath,
			Volume:           tr.Volume,
			Duration:         tr.Duration().Seconds(),
			OriginalDuration: tr.OriginalDuration().Seconds(),
		})
	}
	return st
}

// Track returns the current value of slot i.
func (s *Session) Track(i int) (*track.Track, error) {
	if err := checkSlot(i); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracks[i], nil
}

// BPM returns the current tempo.
func (s *Session) BPM() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bpm
}
