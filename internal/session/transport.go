package session

import (
	"time"

	"github.com/satindergrewal/stemdeck/internal/audio"
	"github.com/satindergrewal/stemdeck/internal/playback"
	"github.com/satindergrewal/stemdeck/internal/timeline"
)

// sources lists every loaded track at its current volume. Callers hold s.mu.
func (s *Session) sources() []playback.Source {
	var out []playback.Source
	for i, tr := range s.tracks {
		if !tr.Loaded() {
			continue
		}
		out = append(out, playback.Source{Channel: i, Buffer: tr.Processed, Volume: tr.Volume, RMS: tr.RMS})
	}
	return out
}

// longest is the duration of the longest processed track. Callers hold s.mu.
func (s *Session) longest() time.Duration {
	var d time.Duration
	for _, tr := range s.tracks {
		d = max(d, tr.Duration())
	}
	return d
}

// Play starts every loaded track from the cursor at the current tempo.
func (s *Session) Play() error {
	s.transport.StopTimeline()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playLocked()
}

func (s *Session) playLocked() error {
	if err := s.rederive(); err != nil {
		return s.report("Play", err)
	}
	srcs := s.sources()
	if len(srcs) == 0 {
		return s.report("Play", audio.InvalidRange("No tracks loaded to play."))
	}
	if err := s.transport.Play(srcs); err != nil {
		return s.report("Play", err)
	}
	return nil
}

// Pause holds playback. It reports false when nothing was playing.
func (s *Session) Pause() bool {
	return s.transport.Pause()
}

// Resume continues after Pause. It reports false when not paused.
func (s *Session) Resume() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok, err := s.transport.Resume(s.sources())
	if err != nil {
		return ok, s.report("Resume", err)
	}
	return ok, nil
}

// Stop silences every track and rewinds to 0:00.
func (s *Session) Stop() {
	s.transport.StopTimeline()
	s.transport.Stop()
}

// Seek moves playback to pos, restarting it there if it was playing. A
// paused session stays paused at pos.
func (s *Session) Seek(pos time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasPlaying, err := s.transport.Seek(pos, s.longest())
	if err != nil {
		return s.report("Seek", err)
	}
	if wasPlaying {
		return s.playLocked()
	}
	return nil
}

// Position returns the current playback position.
func (s *Session) Position() time.Duration { return s.transport.Position() }

// State returns the transport state.
func (s *Session) State() playback.State { return s.transport.State() }

// --- Timeline ---

// ToggleCell flips one grid cell and returns its new value.
func (s *Session) ToggleCell(row, col int) (bool, error) {
	return s.grid.Toggle(row, col)
}

// SetCell switches one grid cell on or off.
func (s *Session) SetCell(row, col int, on bool) error {
	if err := s.grid.Set(row, col, on); err != nil {
		return s.report("Timeline", err)
	}
	return nil
}

// Grid returns a copy of the timeline grid.
func (s *Session) Grid() timeline.Cells { return s.grid.Snapshot() }

// PlayTimeline stops regular playback and steps through the grid.
func (s *Session) PlayTimeline() error {
	s.transport.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rederive(); err != nil {
		return s.report("Timeline", err)
	}
	cells := s.grid.Snapshot()
	var steps [timeline.Columns][]playback.Source
	for col := range steps {
		for _, row := range cells.ActiveRows(col) {
			tr := s.tracks[row]
			if !tr.Loaded() {
				continue
			}
			steps[col] = append(steps[col], playback.Source{Channel: row, Buffer: tr.Processed, Volume: tr.Volume, RMS: tr.RMS})
		}
	}
	if err := s.transport.PlayTimeline(steps); err != nil {
		return s.report("Timeline", err)
	}
	return nil
}

// StopTimeline cancels timeline playback.
func (s *Session) StopTimeline() { s.transport.StopTimeline() }
