package session

import (
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/satindergrewal/stemdeck/internal/audio"
	"github.com/satindergrewal/stemdeck/internal/dsp"
	"github.com/satindergrewal/stemdeck/internal/playback"
)

// recorder is an Observer that keeps everything it is told.
type recorder struct {
	mu       sync.Mutex
	labels   map[int]string
	messages []message
}

type message struct {
	title, body string
	severity    Severity
}

func newRecorder() *recorder { return &recorder{labels: map[int]string{}} }

func (r *recorder) TrackLabel(i int, text string) {
	r.mu.Lock()
	r.labels[i] = text
	r.mu.Unlock()
}

func (r *recorder) Meter(int, float64, string) {}
func (r *recorder) Position(string)            {}

func (r *recorder) Message(title, body string, sev Severity) {
	r.mu.Lock()
	r.messages = append(r.messages, message{title, body, sev})
	r.mu.Unlock()
}

func (r *recorder) label(i int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.labels[i]
}

func (r *recorder) has(title string, sev Severity) bool {
	return r.count(title, sev) > 0
}

func (r *recorder) count(title string, sev Severity) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.messages {
		if m.title == title && m.severity == sev {
			n++
		}
	}
	return n
}

// passBank routes the whole signal through the low band.
type passBank struct{}

func (passBank) Split(x []float64, rate int) (low, mid, high []float64, err error) {
	return append([]float64(nil), x...), make([]float64, len(x)), make([]float64, len(x)), nil
}

func writeWAV(t *testing.T, path string, d time.Duration, amp float64) {
	t.Helper()
	f := audio.MixFormat
	frames := f.FramesFor(d)
	samples := make([]float64, frames*f.Channels)
	for i := range samples {
		samples[i] = amp * math.Sin(2*math.Pi*440*float64(i/2)/float64(f.SampleRate))
	}
	buf, err := audio.FromFloat64s(f, samples)
	if err != nil {
		t.Fatal(err)
	}
	if err := audio.EncodeWAV(buf, path); err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
}

type fixture struct {
	s    *Session
	obs  *recorder
	mock *clock.Mock
	src  string // directory for source files outside the session
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{obs: newRecorder(), mock: clock.NewMock(), src: filepath.Join(root, "src")}
	if err := os.MkdirAll(f.src, 0o755); err != nil {
		t.Fatal(err)
	}
	opts.AssetDir = filepath.Join(root, "assets")
	opts.Clock = f.mock
	opts.Observer = f.obs
	if opts.Bank == nil {
		opts.Bank = passBank{}
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	f.s = s
	return f
}

// load writes a source WAV of length d and loads it into slot i.
func (f *fixture) load(t *testing.T, i int, name string, d time.Duration) {
	t.Helper()
	p := filepath.Join(f.src, name)
	writeWAV(t, p, d, 0.25)
	if err := f.s.LoadTrack(i, p); err != nil {
		t.Fatalf("LoadTrack(%d): %v", i, err)
	}
}

// --- Tracks ---

func TestNewSessionDefaults(t *testing.T) {
	f := newFixture(t, Options{})
	st := f.s.Status()
	if st.BPM != 120 || st.State != "stopped" || st.Position != "0:00" {
		t.Errorf("status = bpm %v state %s pos %s, want 120 stopped 0:00", st.BPM, st.State, st.Position)
	}
	if len(st.Tracks) != 10 {
		t.Fatalf("tracks = %d, want 10", len(st.Tracks))
	}
	for i, tr := range st.Tracks {
		if tr.Loaded || tr.Volume != 1 {
			t.Errorf("track %d = %+v, want empty at volume 1", i, tr)
		}
	}
	if st.Tracks[3].Label != "Track 4" {
		t.Errorf("label = %q, want Track 4", st.Tracks[3].Label)
	}
}

func TestNewRejectsBPMOutOfRange(t *testing.T) {
	if _, err := New(Options{AssetDir: t.TempDir(), BPM: 400}); !audio.IsKind(err, audio.KindInvalidRange) {
		t.Errorf("err = %v, want INVALID_RANGE", err)
	}
}

func TestLoadTrackCopiesIntoAssetDir(t *testing.T) {
	f := newFixture(t, Options{})
	f.load(t, 2, "bass.wav", time.Second)

	tr, _ := f.s.Track(2)
	want := filepath.Join(f.s.AssetDir(), "track_3_bass.wav")
	if tr.SourcePath != want {
		t.Errorf("SourcePath = %q, want %q", tr.SourcePath, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("copy missing: %v", err)
	}
	if got := f.obs.label(2); got != "track_3_bass.wav (0:01)" {
		t.Errorf("label = %q, want %q", got, "track_3_bass.wav (0:01)")
	}
	if tr.Duration() != time.Second {
		t.Errorf("duration = %v, want 1s", tr.Duration())
	}
}

func TestLoadTrackMissingFile(t *testing.T) {
	f := newFixture(t, Options{})
	err := f.s.LoadTrack(0, filepath.Join(f.src, "nope.wav"))
	if !audio.IsKind(err, audio.KindIO) {
		t.Errorf("err = %v, want IO_ERROR", err)
	}
	if !f.obs.has("Load Audio", Error) {
		t.Error("expected a Load Audio error message")
	}
	if tr, _ := f.s.Track(0); tr.Loaded() {
		t.Error("slot should stay empty")
	}
}

func TestLoadTrackBadSlot(t *testing.T) {
	f := newFixture(t, Options{})
	if err := f.s.LoadTrack(10, "x.wav"); !audio.IsKind(err, audio.KindInvalidRange) {
		t.Errorf("err = %v, want INVALID_RANGE", err)
	}
}

func TestClearTrackKeepsVolume(t *testing.T) {
	f := newFixture(t, Options{})
	f.load(t, 0, "a.wav", time.Second)
	f.s.SetVolume(0, 0.4)
	if err := f.s.ClearTrack(0); err != nil {
		t.Fatalf("ClearTrack: %v", err)
	}
	tr, _ := f.s.Track(0)
	if tr.Loaded() || tr.Volume != 0.4 {
		t.Errorf("after clear loaded=%v volume=%v, want false 0.4", tr.Loaded(), tr.Volume)
	}
	if got := f.obs.label(0); got != "Track 1" {
		t.Errorf("label = %q, want Track 1", got)
	}
}

func TestSetVolume(t *testing.T) {
	f := newFixture(t, Options{})
	if err := f.s.SetVolume(1, 0.25); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	if v := f.s.Bus().Volume(1); v != 0.25 {
		t.Errorf("bus volume = %v, want 0.25", v)
	}
	if err := f.s.SetVolume(1, 1.5); !audio.IsKind(err, audio.KindInvalidRange) {
		t.Errorf("err = %v, want INVALID_RANGE", err)
	}
	if !f.obs.has("Volume", Warning) {
		t.Error("rejected volume was not reported")
	}
	if tr, _ := f.s.Track(1); tr.Volume != 0.25 {
		t.Errorf("volume after rejected change = %v, want 0.25", tr.Volume)
	}
}

func TestSetBPMRederives(t *testing.T) {
	f := newFixture(t, Options{})
	f.load(t, 0, "a.wav", time.Second)

	if err := f.s.SetBPM(240); err != nil {
		t.Fatalf("SetBPM: %v", err)
	}
	tr, _ := f.s.Track(0)
	if tr.Duration() != 500*time.Millisecond {
		t.Errorf("duration at 240 BPM = %v, want 500ms", tr.Duration())
	}
	if tr.OriginalDuration() != time.Second {
		t.Errorf("original duration = %v, want 1s", tr.OriginalDuration())
	}

	for _, bpm := range []float64{0, 0.2, 39.9, 240.1, 1e9, math.NaN(), math.Inf(1)} {
		if err := f.s.SetBPM(bpm); !audio.IsKind(err, audio.KindInvalidRange) {
			t.Errorf("SetBPM(%v) err = %v, want INVALID_RANGE", bpm, err)
		}
	}
	if f.s.BPM() != 240 {
		t.Errorf("BPM = %v, want 240 after rejected change", f.s.BPM())
	}
}

func TestEstimateBPM(t *testing.T) {
	f := newFixture(t, Options{Estimator: func(string) (float64, error) { return 128, nil }})
	f.load(t, 0, "a.wav", time.Second)
	bpm, err := f.s.EstimateBPM(0)
	if err != nil || bpm != 128 {
		t.Errorf("EstimateBPM = %v, %v, want 128", bpm, err)
	}
	if !f.obs.has("Estimate Tempo", Info) {
		t.Error("expected an info message")
	}

	bare := newFixture(t, Options{})
	bare.load(t, 0, "a.wav", time.Second)
	if _, err := bare.s.EstimateBPM(0); err == nil {
		t.Error("EstimateBPM without an estimator should fail")
	}
}

// --- Edits ---

func TestApplyTrimRewritesFile(t *testing.T) {
	f := newFixture(t, Options{})
	f.load(t, 0, "a.wav", 2*time.Second)

	if err := f.s.ApplyTrim(0, 500*time.Millisecond, 1500*time.Millisecond); err != nil {
		t.Fatalf("ApplyTrim: %v", err)
	}
	tr, _ := f.s.Track(0)
	if tr.OriginalDuration() != time.Second || tr.Duration() != time.Second {
		t.Errorf("durations = %v / %v, want 1s", tr.OriginalDuration(), tr.Duration())
	}
	onDisk, err := audio.DecodeWAV(tr.SourcePath)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if onDisk.FrameCount() != 44100 {
		t.Errorf("file frames = %d, want 44100", onDisk.FrameCount())
	}
	info, _ := os.Stat(tr.SourcePath)
	if !info.ModTime().Equal(tr.ModTime) {
		t.Error("mod time not updated after commit")
	}
	if !f.obs.has("Trim", Info) {
		t.Error("expected a success message")
	}
}

func TestApplyTrimInvalidRangeLeavesTrack(t *testing.T) {
	f := newFixture(t, Options{})
	f.load(t, 0, "a.wav", time.Second)
	before, _ := f.s.Track(0)

	err := f.s.ApplyTrim(0, 800*time.Millisecond, 200*time.Millisecond)
	if !audio.IsKind(err, audio.KindInvalidRange) {
		t.Errorf("err = %v, want INVALID_RANGE", err)
	}
	if after, _ := f.s.Track(0); after != before {
		t.Error("failed trim replaced the track")
	}
	if !f.obs.has("Trim", Warning) {
		t.Error("expected a warning message")
	}
}

func TestEditEmptySlot(t *testing.T) {
	f := newFixture(t, Options{})
	if err := f.s.PreviewTrim(4, 0, time.Second); !audio.IsKind(err, audio.KindInvalidRange) {
		t.Errorf("err = %v, want INVALID_RANGE", err)
	}
}

func TestPreviewTrimLeavesTrack(t *testing.T) {
	f := newFixture(t, Options{})
	f.load(t, 0, "a.wav", 2*time.Second)
	before, _ := f.s.Track(0)

	if err := f.s.PreviewTrim(0, 0, time.Second); err != nil {
		t.Fatalf("PreviewTrim: %v", err)
	}
	if after, _ := f.s.Track(0); after != before {
		t.Error("preview replaced the track")
	}
	if !f.s.Bus().Busy(playback.PreviewChannel) {
		t.Error("preview channel should be playing")
	}
	f.s.StopPreview()
	if f.s.Bus().Busy(playback.PreviewChannel) {
		t.Error("preview channel still playing after StopPreview")
	}
}

func TestApplyEqualizer(t *testing.T) {
	f := newFixture(t, Options{})
	f.load(t, 0, "a.wav", time.Second)
	before, _ := f.s.Track(0)

	// +6.02 dB on the low band doubles the signal through passBank
	if err := f.s.ApplyEqualizer(0, dsp.Bands{Low: 20 * math.Log10(2)}); err != nil {
		t.Fatalf("ApplyEqualizer: %v", err)
	}
	after, _ := f.s.Track(0)
	ratio := float64(after.Original.Peak()) / float64(before.Original.Peak())
	if math.Abs(ratio-2) > 0.01 {
		t.Errorf("peak ratio = %.3f, want 2", ratio)
	}
	onDisk, err := audio.DecodeWAV(after.SourcePath)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if !onDisk.Equal(after.Original) {
		t.Error("file on disk differs from the committed buffer")
	}
}

// --- Transport ---

func TestPlayPauseResumeStop(t *testing.T) {
	f := newFixture(t, Options{})
	f.load(t, 0, "a.wav", 2*time.Second)

	if err := f.s.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if f.s.State() != playback.Playing {
		t.Fatalf("state = %v, want playing", f.s.State())
	}
	f.mock.Add(300 * time.Millisecond)
	if !f.s.Pause() {
		t.Fatal("Pause returned false")
	}
	if f.s.State() != playback.Paused {
		t.Errorf("state = %v, want paused", f.s.State())
	}
	if ok, err := f.s.Resume(); !ok || err != nil {
		t.Fatalf("Resume = %v, %v; want true, nil", ok, err)
	}
	f.mock.Add(200 * time.Millisecond)
	if pos := f.s.Position(); pos != 500*time.Millisecond {
		t.Errorf("position = %v, want 500ms", pos)
	}
	f.s.Stop()
	if f.s.State() != playback.Stopped || f.s.Position() != 0 {
		t.Errorf("after Stop state=%v pos=%v, want stopped 0", f.s.State(), f.s.Position())
	}
}

func TestPlayWithoutTracks(t *testing.T) {
	f := newFixture(t, Options{})
	if err := f.s.Play(); !audio.IsKind(err, audio.KindInvalidRange) {
		t.Errorf("err = %v, want INVALID_RANGE", err)
	}
	if f.s.State() != playback.Stopped {
		t.Errorf("state = %v, want stopped", f.s.State())
	}
}

func TestSeek(t *testing.T) {
	f := newFixture(t, Options{})
	f.load(t, 0, "a.wav", time.Second)

	if err := f.s.Seek(5 * time.Second); !audio.IsKind(err, audio.KindInvalidRange) {
		t.Errorf("seek past end err = %v, want INVALID_RANGE", err)
	}

	f.s.Play()
	if err := f.s.Seek(500 * time.Millisecond); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if f.s.State() != playback.Playing {
		t.Errorf("state = %v, want playing after seek while playing", f.s.State())
	}
	if pos := f.s.Position(); pos != 500*time.Millisecond {
		t.Errorf("position = %v, want 500ms", pos)
	}

	f.s.Stop()
	f.s.Seek(250 * time.Millisecond)
	if f.s.State() != playback.Stopped || f.s.Position() != 250*time.Millisecond {
		t.Errorf("stopped seek: state=%v pos=%v, want stopped 250ms", f.s.State(), f.s.Position())
	}
}

func TestSeekWhilePaused(t *testing.T) {
	f := newFixture(t, Options{})
	f.load(t, 0, "a.wav", time.Second)

	f.s.Play()
	f.mock.Add(300 * time.Millisecond)
	f.s.Pause()
	if err := f.s.Seek(500 * time.Millisecond); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if f.s.State() != playback.Paused || f.s.Position() != 500*time.Millisecond {
		t.Errorf("paused seek: state=%v pos=%v, want paused 500ms", f.s.State(), f.s.Position())
	}

	if ok, err := f.s.Resume(); !ok || err != nil {
		t.Fatalf("Resume = %v, %v; want true, nil", ok, err)
	}
	f.mock.Add(100 * time.Millisecond)
	if f.s.State() != playback.Playing || f.s.Position() != 600*time.Millisecond {
		t.Errorf("after Resume: state=%v pos=%v, want playing 600ms", f.s.State(), f.s.Position())
	}
}

func TestToggleCell(t *testing.T) {
	f := newFixture(t, Options{})
	on, err := f.s.ToggleCell(3, 1)
	if err != nil || !on {
		t.Fatalf("ToggleCell = %v, %v, want true", on, err)
	}
	if !f.s.Grid()[3][1] {
		t.Error("grid cell not set")
	}
	if _, err := f.s.ToggleCell(10, 0); !audio.IsKind(err, audio.KindInvalidRange) {
		t.Errorf("err = %v, want INVALID_RANGE", err)
	}
}

func TestPlayTimelineStopsTransport(t *testing.T) {
	f := newFixture(t, Options{})
	f.load(t, 0, "a.wav", time.Second)
	f.s.ToggleCell(0, 0)
	f.s.Play()

	if err := f.s.PlayTimeline(); err != nil {
		t.Fatalf("PlayTimeline: %v", err)
	}
	if f.s.State() != playback.Stopped {
		t.Errorf("state = %v, want stopped while the timeline runs", f.s.State())
	}
	if !f.s.Status().TimelineRunning {
		t.Error("timeline should be running")
	}
	f.s.StopTimeline()
	if f.s.Status().TimelineRunning {
		t.Error("timeline still running after StopTimeline")
	}
}

// --- Export ---

func TestExportMix(t *testing.T) {
	f := newFixture(t, Options{})
	f.load(t, 0, "a.wav", time.Second)
	f.load(t, 1, "b.wav", 2*time.Second)

	out := filepath.Join(t.TempDir(), "mix.wav")
	if err := f.s.ExportMix(out, ""); err != nil {
		t.Fatalf("ExportMix: %v", err)
	}
	mix, err := audio.DecodeWAV(out)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if mix.Duration() != 2*time.Second || mix.Format() != audio.MixFormat {
		t.Errorf("mix = %v %v, want 2s %v", mix.Duration(), mix.Format(), audio.MixFormat)
	}
	if !f.obs.has("Export Project", Info) {
		t.Error("expected a success message")
	}
}

func TestExportNothingLoaded(t *testing.T) {
	f := newFixture(t, Options{})
	out := filepath.Join(t.TempDir(), "mix.wav")
	if err := f.s.ExportMix(out, ""); err == nil {
		t.Fatal("export with no tracks should fail")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("failed export left a file behind")
	}
	if !f.obs.has("Export Project", Warning) {
		t.Error("expected a warning message")
	}
}

func TestExportTimelineLength(t *testing.T) {
	f := newFixture(t, Options{})
	f.load(t, 0, "a.wav", time.Second)
	f.s.ToggleCell(0, 2)

	out := filepath.Join(t.TempDir(), "grid.wav")
	if err := f.s.ExportTimeline(out, ""); err != nil {
		t.Fatalf("ExportTimeline: %v", err)
	}
	mix, err := audio.DecodeWAV(out)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if mix.Duration() != 80*time.Second {
		t.Errorf("duration = %v, want 80s", mix.Duration())
	}
}

// --- Project ---

func TestProjectRoundTrip(t *testing.T) {
	f := newFixture(t, Options{})
	f.load(t, 0, "a.wav", time.Second)
	f.load(t, 4, "b.wav", 2*time.Second)
	f.s.SetVolume(4, 0.3)
	f.s.SetBPM(100)

	jsonPath, err := f.s.SaveProject(filepath.Join(t.TempDir(), "song.json"))
	if err != nil {
		t.Fatalf("SaveProject: %v", err)
	}

	f.s.ClearTrack(0)
	f.s.ClearTrack(4)
	f.s.SetVolume(4, 1)
	f.s.SetBPM(140)
	f.s.ToggleCell(2, 2)

	if err := f.s.LoadProject(jsonPath); err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	if f.s.BPM() != 100 {
		t.Errorf("BPM = %v, want 100", f.s.BPM())
	}
	a, _ := f.s.Track(0)
	b, _ := f.s.Track(4)
	if !a.Loaded() || !b.Loaded() {
		t.Fatal("tracks not restored")
	}
	if b.Volume != 0.3 || b.OriginalDuration() != 2*time.Second {
		t.Errorf("track 5 = volume %v length %v, want 0.3 2s", b.Volume, b.OriginalDuration())
	}
	if filepath.Dir(a.SourcePath) != f.s.AssetDir() {
		t.Errorf("track path %q not in asset dir", a.SourcePath)
	}
	if !f.s.Grid()[2][2] {
		t.Error("grid should survive project load")
	}
}

func TestLoadProjectSkipsBadTrack(t *testing.T) {
	f := newFixture(t, Options{})
	f.load(t, 0, "a.wav", time.Second)
	f.load(t, 1, "b.wav", time.Second)
	jsonPath, err := f.s.SaveProject(filepath.Join(t.TempDir(), "song.json"))
	if err != nil {
		t.Fatalf("SaveProject: %v", err)
	}
	os.Remove(filepath.Join(filepath.Dir(jsonPath), "session_audios", "track_2_b.wav"))

	if err := f.s.LoadProject(jsonPath); err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	if tr, _ := f.s.Track(0); !tr.Loaded() {
		t.Error("track 1 should load")
	}
	if tr, _ := f.s.Track(1); tr.Loaded() {
		t.Error("track 2 should be empty")
	}
	if f.obs.has("Load Project", Error) {
		t.Error("a missing track should not be reported as an error")
	}
	// one for the missing track, one for the replaced session audio
	if n := f.obs.count("Load Project", Warning); n != 2 {
		t.Errorf("warnings = %d, want 2", n)
	}
}

// --- Watch ---

func TestRefreshReloadsChangedFile(t *testing.T) {
	f := newFixture(t, Options{})
	f.load(t, 0, "a.wav", time.Second)
	f.s.SetVolume(0, 0.6)
	tr, _ := f.s.Track(0)

	f.s.refresh(filepath.Clean(tr.SourcePath))
	if same, _ := f.s.Track(0); same != tr {
		t.Error("unchanged file was reloaded")
	}

	writeWAV(t, tr.SourcePath, 3*time.Second, 0.1)
	later := tr.ModTime.Add(time.Minute)
	os.Chtimes(tr.SourcePath, later, later)

	f.s.refresh(filepath.Clean(tr.SourcePath))
	got, _ := f.s.Track(0)
	if got.OriginalDuration() != 3*time.Second {
		t.Errorf("duration = %v, want 3s after reload", got.OriginalDuration())
	}
	if got.Volume != 0.6 {
		t.Errorf("volume = %v, want 0.6 kept across reload", got.Volume)
	}
}

func TestScheduleDebounces(t *testing.T) {
	f := newFixture(t, Options{})
	f.load(t, 0, "a.wav", time.Second)
	tr, _ := f.s.Track(0)

	writeWAV(t, tr.SourcePath, 2*time.Second, 0.1)
	later := tr.ModTime.Add(time.Minute)
	os.Chtimes(tr.SourcePath, later, later)

	path := filepath.Clean(tr.SourcePath)
	f.s.schedule(path)
	f.mock.Add(WatchDebounce / 2)
	f.s.schedule(path)
	f.mock.Add(WatchDebounce / 2)
	if got, _ := f.s.Track(0); got != tr {
		t.Fatal("reloaded before the file went quiet")
	}

	f.mock.Add(WatchDebounce)
	deadline := time.Now().Add(5 * time.Second)
	for {
		got, _ := f.s.Track(0)
		if got.OriginalDuration() == 2*time.Second {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("track not reloaded after debounce")
		}
		time.Sleep(time.Millisecond)
	}
}
