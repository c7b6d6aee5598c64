package session

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/stemdeck/internal/audio"
	"github.com/satindergrewal/stemdeck/internal/project"
	"github.com/satindergrewal/stemdeck/internal/track"
)

// LoadTrack copies src into the asset dir as track_<n>_<name> and loads
// the copy into slot i.
func (s *Session) LoadTrack(i int, src string) error {
	if err := checkSlot(i); err != nil {
		return s.report("Load Audio", err)
	}
	dest := filepath.Join(s.opts.AssetDir, fmt.Sprintf("track_%d_%s", i+1, filepath.Base(src)))
	if err := project.CopyFile(src, dest); err != nil {
		return s.report("Load Audio", audio.IOError(err, "copy "+src))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadFile(i, dest)
}

// LoadTrackFile loads path into slot i without copying it.
func (s *Session) LoadTrackFile(i int, path string) error {
	if err := checkSlot(i); err != nil {
		return s.report("Load Audio", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadFile(i, path)
}

// loadFile decodes path into slot i, keeping the slot's volume. Callers hold s.mu.
func (s *Session) loadFile(i int, path string) error {
	tr, err := track.Load(s.opts.Codec, path, s.ratio())
	if err != nil {
		return s.report("Load Audio", err)
	}
	tr.Volume = s.tracks[i].Volume
	s.setTrack(i, tr)
	s.transport.SetVolume(i, tr.Volume)
	return nil
}

// ReloadTrack decodes slot i's file again.
func (s *Session) ReloadTrack(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked(i)
}

func (s *Session) reloadLocked(i int) error {
	tr, err := s.loaded(i)
	if err != nil {
		return s.report("Reload Track", err)
	}
	n, err := tr.Reload(s.opts.Codec)
	if err != nil {
		return s.report("Reload Track", err)
	}
	if n, err = n.Derive(s.ratio()); err != nil {
		return s.report("Reload Track", err)
	}
	s.setTrack(i, n)
	return nil
}

// ClearTrack empties slot i and silences its channel.
func (s *Session) ClearTrack(i int) error {
	if err := checkSlot(i); err != nil {
		return s.report("Clear Track", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport.Bus().Stop(i)
	s.setTrack(i, s.tracks[i].Clear())
	return nil
}

// SetVolume changes slot i's volume, live if it is playing.
func (s *Session) SetVolume(i int, v float64) error {
	if err := checkSlot(i); err != nil {
		return s.report("Volume", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, err := s.tracks[i].WithVolume(v)
	if err != nil {
		return s.report("Volume", err)
	}
	s.tracks[i] = tr
	s.transport.SetVolume(i, v)
	return nil
}

// SetBPM changes the global tempo and re-derives every loaded track.
func (s *Session) SetBPM(bpm float64) error {
	if err := audio.CheckBPM(bpm); err != nil {
		return s.report("Tempo", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.bpm
	s.bpm = bpm
	if err := s.rederive(); err != nil {
		s.bpm = prev
		return s.report("Tempo", err)
	}
	return nil
}

// rederive applies the current tempo to every track in parallel. Nothing
// is replaced unless every track succeeds. Callers hold s.mu.
func (s *Session) rederive() error {
	ratio := s.ratio()
	var (
		next [track.Slots]*track.Track
		g    errgroup.Group
	)
	for i, tr := range s.tracks {
		g.Go(func() error {
			n, err := tr.Derive(ratio)
			if err != nil {
				return err
			}
			next[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.tracks = next
	return nil
}

// EstimateBPM runs the configured estimator on slot i's file.
func (s *Session) EstimateBPM(i int) (float64, error) {
	s.mu.Lock()
	tr, err := s.loaded(i)
	s.mu.Unlock()
	if err != nil {
		return 0, s.report("Estimate Tempo", err)
	}
	if s.opts.Estimator == nil {
		return 0, s.report("Estimate Tempo", fault.New("no tempo estimator",
			fmsg.WithDesc("no tempo estimator", "Tempo estimation is not available.")))
	}
	bpm, err := s.opts.Estimator(tr.SourcePath)
	if err != nil {
		return 0, s.report("Estimate Tempo", err)
	}
	s.obs.Message("Estimate Tempo", fmt.Sprintf("Track %d: about %.0f BPM", i+1, bpm), Info)
	return bpm, nil
}

// touch records the current mod time of slot i's file. Callers hold s.mu.
func (s *Session) touch(i int) {
	tr := s.tracks[i]
	if info, err := os.Stat(tr.SourcePath); err == nil {
		s.tracks[i] = tr.WithModTime(info.ModTime())
	}
}
