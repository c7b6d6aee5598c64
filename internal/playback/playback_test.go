package playback

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/satindergrewal/stemdeck/internal/audio"
	"github.com/satindergrewal/stemdeck/internal/timeline"
)

func constantPCM(n int, v int16) []int16 {
	pcm := make([]int16, n)
	for i := range pcm {
		pcm[i] = v
	}
	return pcm
}

func buffer(t *testing.T, d time.Duration, v int32) *audio.Buffer {
	t.Helper()
	samples := make([]int32, audio.MixFormat.FramesFor(d)*2)
	for i := range samples {
		samples[i] = v
	}
	b, err := audio.NewBuffer(audio.MixFormat, samples)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// eventually advances the mock clock in small steps until cond holds.
func eventually(t *testing.T, mock *clock.Mock, step time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		mock.Add(step)
		time.Sleep(time.Millisecond)
	}
}

// --- Bus ---

func TestBusMixesAndDrains(t *testing.T) {
	b := NewBus(clock.NewMock())
	b.Play(Cue{Channel: 0, PCM: constantPCM(audio.FrameSamples*3/2, 1000), Volume: 0.5})
	b.Play(Cue{Channel: 3, PCM: constantPCM(audio.FrameSamples, 200), Volume: 1})

	f := b.mix()
	if len(f) != audio.FrameSamples {
		t.Fatalf("frame length = %d, want %d", len(f), audio.FrameSamples)
	}
	if f[0] != 700 {
		t.Errorf("frame[0] = %d, want 700", f[0])
	}
	if b.Busy(3) {
		t.Error("channel 3 should have drained after one frame")
	}

	f = b.mix()
	if f[0] != 500 || f[audio.FrameSamples-1] != 0 {
		t.Errorf("second frame = %d..%d, want 500..0", f[0], f[audio.FrameSamples-1])
	}
	if b.AnyBusy() {
		t.Error("bus should be idle")
	}
}

func TestBusClips(t *testing.T) {
	b := NewBus(clock.NewMock())
	b.Play(Cue{Channel: 0, PCM: constantPCM(audio.FrameSamples, 30000), Volume: 1})
	b.Play(Cue{Channel: 1, PCM: constantPCM(audio.FrameSamples, 30000), Volume: 1})
	if f := b.mix(); f[0] != 32767 {
		t.Errorf("frame[0] = %d, want 32767", f[0])
	}
}

func TestBusPauseUnpause(t *testing.T) {
	b := NewBus(clock.NewMock())
	b.Play(Cue{Channel: 2, PCM: constantPCM(audio.FrameSamples*2, 100), Volume: 1})
	b.Play(Cue{Channel: PreviewChannel, PCM: constantPCM(audio.FrameSamples*2, 7), Volume: 1})

	paused := b.PauseActive()
	if len(paused) != 1 || paused[0] != 2 {
		t.Fatalf("PauseActive = %v, want [2]", paused)
	}
	if f := b.mix(); f[0] != 7 {
		t.Errorf("paused mix frame[0] = %d, want 7 (preview only)", f[0])
	}
	if !b.Busy(2) || b.Audible(2) {
		t.Error("paused channel should be busy but not audible")
	}

	resumed := b.UnpausePaused()
	if len(resumed) != 1 || resumed[0] != 2 {
		t.Fatalf("UnpausePaused = %v, want [2]", resumed)
	}
	if f := b.mix(); f[0] != 107 {
		t.Errorf("resumed mix frame[0] = %d, want 107", f[0])
	}
}

func TestBusPlayOnReplacesTracksOnly(t *testing.T) {
	b := NewBus(clock.NewMock())
	b.Play(Cue{Channel: 1, PCM: constantPCM(10, 1), Volume: 1})
	b.Play(Cue{Channel: PreviewChannel, PCM: constantPCM(10, 1), Volume: 1})

	if err := b.PlayOn([]Cue{{Channel: 4, PCM: constantPCM(10, 1), Volume: 1}}); err != nil {
		t.Fatalf("PlayOn: %v", err)
	}
	if b.Busy(1) || !b.Busy(4) || !b.Busy(PreviewChannel) {
		t.Errorf("busy = ch1 %v ch4 %v preview %v, want false true true",
			b.Busy(1), b.Busy(4), b.Busy(PreviewChannel))
	}
	if err := b.PlayOn([]Cue{{Channel: NumChannels}}); !audio.IsKind(err, audio.KindInvalidRange) {
		t.Errorf("bad channel: err = %v, want INVALID_RANGE", err)
	}
}

func TestBusRunEmitsFrames(t *testing.T) {
	mock := clock.NewMock()
	b := NewBus(mock)
	b.Play(Cue{Channel: 0, PCM: constantPCM(audio.FrameSamples, 42), Volume: 1})

	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)

	var frame []int16
	eventually(t, mock, audio.FrameDuration, func() bool {
		select {
		case frame = <-b.Frames():
			return true
		default:
			return false
		}
	})
	if frame[0] != 42 {
		t.Errorf("frame[0] = %d, want 42", frame[0])
	}

	cancel()
	for range b.Frames() {
	}
}

// --- Periodic ---

func TestPeriodicStopsWhenFnReturnsFalse(t *testing.T) {
	mock := clock.NewMock()
	var calls atomic.Int32
	p := StartPeriodic(context.Background(), mock, 100*time.Millisecond, func() bool {
		return calls.Add(1) < 3
	})
	eventually(t, mock, 100*time.Millisecond, func() bool { return !p.Running() })
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestPeriodicStop(t *testing.T) {
	mock := clock.NewMock()
	p := StartPeriodic(context.Background(), mock, time.Second, func() bool { return true })
	p.Stop()
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("Stop did not end the task")
	}
	var nilTask *Periodic
	nilTask.Stop()
	if nilTask.Running() {
		t.Error("nil task reports running")
	}
}

// --- Meter ---

func TestMeterLevels(t *testing.T) {
	tests := []struct {
		rms, volume float64
		percent     float64
		text        string
	}{
		{0, 1, 0, "-∞ dB"},
		{500, 0, 0, "-∞ dB"},
		{1000, 1, 100, "0 dB"},
		{5000, 1, 100, "0 dB"},
		{500, 1, 50, "-6 dB"},
		{1000, 0.1, 10, "-20 dB"},
		{1000, 0.01, 1, "-40 dB"},
		{1000, 0.001, 0.1, "-60 dB"},
	}
	for _, tt := range tests {
		got := LevelOf(Loudness(tt.rms, tt.volume))
		if got.Text != tt.text || got.Percent != tt.percent {
			t.Errorf("rms %v vol %v = %+v, want %v%% %q", tt.rms, tt.volume, got, tt.percent, tt.text)
		}
	}
}

// --- Transport ---

func newTransport(mock *clock.Mock, hooks Hooks) *Transport {
	return NewTransport(mock, NewBus(mock), Options{Hooks: hooks})
}

func TestTransportPlayPauseResume(t *testing.T) {
	mock := clock.NewMock()
	tr := newTransport(mock, Hooks{})
	defer tr.Close()

	src := []Source{{Channel: 0, Buffer: buffer(t, 10*time.Second, 100), Volume: 1, RMS: 100}}
	if err := tr.Play(src); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if tr.State() != Playing {
		t.Fatalf("State = %v, want playing", tr.State())
	}

	mock.Add(3 * time.Second)
	if pos := tr.Position(); pos != 3*time.Second {
		t.Errorf("Position = %v, want 3s", pos)
	}

	if !tr.Pause() {
		t.Fatal("Pause returned false")
	}
	if tr.State() != Paused || tr.Bus().Audible(0) {
		t.Error("channel 0 should be paused")
	}
	mock.Add(5 * time.Second)
	if tr.Pause() {
		t.Error("second Pause should report false")
	}

	if ok, err := tr.Resume(nil); !ok || err != nil {
		t.Fatalf("Resume = %v, %v; want true, nil", ok, err)
	}
	if tr.Cursor() != 3*time.Second {
		t.Errorf("Cursor = %v, want 3s", tr.Cursor())
	}
	mock.Add(time.Second)
	if pos := tr.Position(); pos != 4*time.Second {
		t.Errorf("Position = %v, want 4s", pos)
	}
	if !tr.Bus().Audible(0) {
		t.Error("channel 0 should be audible after Resume")
	}
}

func TestTransportPlayStartsAtCursor(t *testing.T) {
	mock := clock.NewMock()
	tr := newTransport(mock, Hooks{})
	defer tr.Close()

	buf := buffer(t, 2*time.Second, 100)
	if _, err := tr.Seek(time.Second, buf.Duration()); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if err := tr.Play([]Source{{Channel: 5, Buffer: buf, Volume: 1}}); err != nil {
		t.Fatalf("Play: %v", err)
	}
	// one second of 48kHz stereo left
	frames := 0
	for tr.Bus().Busy(5) {
		tr.Bus().mix()
		frames++
	}
	if frames != 50 {
		t.Errorf("frames played = %d, want 50", frames)
	}
}

func TestTransportSeek(t *testing.T) {
	mock := clock.NewMock()
	tr := newTransport(mock, Hooks{})
	defer tr.Close()

	if _, err := tr.Seek(11*time.Second, 10*time.Second); !audio.IsKind(err, audio.KindInvalidRange) {
		t.Errorf("Seek past end err = %v, want INVALID_RANGE", err)
	}
	if _, err := tr.Seek(-time.Second, 10*time.Second); !audio.IsKind(err, audio.KindInvalidRange) {
		t.Errorf("negative Seek err = %v, want INVALID_RANGE", err)
	}
	if tr.Cursor() != 0 {
		t.Errorf("failed Seek moved cursor to %v", tr.Cursor())
	}

	tr.Play([]Source{{Channel: 0, Buffer: buffer(t, 10*time.Second, 1), Volume: 1}})
	mock.Add(2 * time.Second)
	wasPlaying, err := tr.Seek(7*time.Second, 10*time.Second)
	if err != nil || !wasPlaying {
		t.Fatalf("Seek = %v, %v; want true, nil", wasPlaying, err)
	}
	if tr.State() != Stopped || tr.Position() != 7*time.Second || tr.Bus().AnyBusy() {
		t.Errorf("after Seek: state %v position %v busy %v", tr.State(), tr.Position(), tr.Bus().AnyBusy())
	}

	tr.Stop()
	if wasPlaying, _ := tr.Seek(3*time.Second, 10*time.Second); wasPlaying || tr.State() != Stopped {
		t.Errorf("Seek while stopped: wasPlaying %v state %v, want false stopped", wasPlaying, tr.State())
	}
}

func TestTransportSeekWhilePaused(t *testing.T) {
	mock := clock.NewMock()
	tr := newTransport(mock, Hooks{})
	defer tr.Close()

	src := []Source{{Channel: 0, Buffer: buffer(t, 10*time.Second, 1), Volume: 1}}
	tr.Play(src)
	mock.Add(time.Second)
	tr.Pause()
	wasPlaying, err := tr.Seek(2*time.Second, 10*time.Second)
	if err != nil || wasPlaying {
		t.Fatalf("Seek = %v, %v; want false, nil", wasPlaying, err)
	}
	if tr.State() != Paused || tr.Position() != 2*time.Second || tr.Bus().AnyBusy() {
		t.Errorf("after Seek: state %v position %v busy %v, want paused 2s idle", tr.State(), tr.Position(), tr.Bus().AnyBusy())
	}

	// pausedElapsed is dropped and the channels restart at the new cursor
	if ok, err := tr.Resume(src); !ok || err != nil {
		t.Fatalf("Resume = %v, %v; want true, nil", ok, err)
	}
	if tr.State() != Playing || !tr.Bus().Audible(0) {
		t.Errorf("after Resume: state %v audible %v, want playing true", tr.State(), tr.Bus().Audible(0))
	}
	mock.Add(500 * time.Millisecond)
	if pos := tr.Position(); pos != 2500*time.Millisecond {
		t.Errorf("Position = %v, want 2.5s", pos)
	}
}

func TestTransportStop(t *testing.T) {
	mock := clock.NewMock()
	tr := newTransport(mock, Hooks{})
	defer tr.Close()

	tr.Play([]Source{{Channel: 0, Buffer: buffer(t, time.Second, 1), Volume: 1}})
	mock.Add(500 * time.Millisecond)
	tr.Stop()
	if tr.State() != Stopped || tr.Position() != 0 || tr.Bus().AnyBusy() {
		t.Errorf("after Stop: state %v position %v busy %v", tr.State(), tr.Position(), tr.Bus().AnyBusy())
	}
}

func TestTransportReportsPositionAndMeters(t *testing.T) {
	mock := clock.NewMock()
	var (
		mu        sync.Mutex
		positions []time.Duration
		levels    = map[int]Level{}
	)
	tr := newTransport(mock, Hooks{
		Position: func(p time.Duration) {
			mu.Lock()
			positions = append(positions, p)
			mu.Unlock()
		},
		Meter: func(ch int, l Level) {
			mu.Lock()
			levels[ch] = l
			mu.Unlock()
		},
	})
	defer tr.Close()

	tr.Play([]Source{{Channel: 1, Buffer: buffer(t, 10*time.Second, 1), Volume: 0.5, RMS: 2000}})
	eventually(t, mock, 100*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(positions) >= 2 && levels[1].Percent == 50
	})

	mu.Lock()
	defer mu.Unlock()
	if levels[1].Text != "-6 dB" {
		t.Errorf("meter text = %q, want -6 dB", levels[1].Text)
	}
	if levels[0].Text != "-∞ dB" {
		t.Errorf("idle channel meter = %q, want -∞ dB", levels[0].Text)
	}
	if positions[1] <= positions[0] {
		t.Errorf("positions not increasing: %v", positions)
	}
}

func TestTransportStopsWhenChannelsRunOut(t *testing.T) {
	mock := clock.NewMock()
	tr := newTransport(mock, Hooks{})
	defer tr.Close()

	buf := buffer(t, time.Second, 1)
	tr.Seek(time.Second, time.Second)
	tr.Play([]Source{{Channel: 0, Buffer: buf, Volume: 1}})

	eventually(t, mock, 100*time.Millisecond, func() bool { return tr.State() == Stopped })
	if tr.Cursor() != 0 {
		t.Errorf("Cursor = %v, want 0 after playback ran out", tr.Cursor())
	}
}

// --- Preview ---

func TestPreviewIsIndependentOfTransport(t *testing.T) {
	mock := clock.NewMock()
	tr := newTransport(mock, Hooks{})
	defer tr.Close()

	if err := tr.Preview(buffer(t, time.Second, 5)); err != nil {
		t.Fatalf("Preview: %v", err)
	}
	tr.Stop()
	if !tr.PreviewPlaying() {
		t.Error("transport Stop cut the preview")
	}
	tr.StopPreview()
	if tr.PreviewPlaying() {
		t.Error("StopPreview left the preview playing")
	}
}

// --- Timeline ---

func TestTimelineSteps(t *testing.T) {
	mock := clock.NewMock()
	stepCh := make(chan int, timeline.Columns)
	tr := newTransport(mock, Hooks{Step: func(col int) { stepCh <- col }})
	defer tr.Close()

	a := buffer(t, 20*time.Second, 10)
	var steps [timeline.Columns][]Source
	steps[0] = []Source{{Channel: 0, Buffer: a, Volume: 1}}
	steps[2] = []Source{{Channel: 0, Buffer: a, Volume: 1}, {Channel: 3, Buffer: buffer(t, time.Second, 20), Volume: 1}}

	if err := tr.PlayTimeline(steps); err != nil {
		t.Fatalf("PlayTimeline: %v", err)
	}

	var seen []int
	eventually(t, mock, time.Second, func() bool {
		for {
			select {
			case col := <-stepCh:
				seen = append(seen, col)
				if col == 0 && !tr.Bus().Busy(0) {
					t.Error("step 0 did not start channel 0")
				}
			default:
				return len(seen) == timeline.Columns && !tr.TimelineRunning()
			}
		}
	})
	for i, col := range seen {
		if col != i {
			t.Errorf("steps = %v, want 0..4 in order", seen)
			break
		}
	}
	if tr.Bus().AnyBusy() {
		t.Error("channels still busy after the timeline finished")
	}
}

func TestStopTimeline(t *testing.T) {
	mock := clock.NewMock()
	stepCh := make(chan int, timeline.Columns)
	tr := newTransport(mock, Hooks{Step: func(col int) { stepCh <- col }})
	defer tr.Close()

	var steps [timeline.Columns][]Source
	steps[0] = []Source{{Channel: 2, Buffer: buffer(t, 20*time.Second, 10), Volume: 1}}
	tr.PlayTimeline(steps)

	select {
	case <-stepCh:
	case <-time.After(2 * time.Second):
		t.Fatal("first step never ran")
	}
	tr.StopTimeline()
	if tr.TimelineRunning() || tr.Bus().AnyBusy() {
		t.Errorf("after StopTimeline: running %v busy %v", tr.TimelineRunning(), tr.Bus().AnyBusy())
	}
}
