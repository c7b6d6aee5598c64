package session

import (
	"log"
	"os"
	"path/filepath"

	"github.com/satindergrewal/stemdeck/internal/audio"
	"github.com/satindergrewal/stemdeck/internal/mixer"
	"github.com/satindergrewal/stemdeck/internal/project"
	"github.com/satindergrewal/stemdeck/internal/timeline"
	"github.com/satindergrewal/stemdeck/internal/track"
)

// ExportMix renders every loaded track at its volume into path. The format
// follows path's extension.
func (s *Session) ExportMix(path, bitrate string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rederive(); err != nil {
		return s.report("Export Project", err)
	}
	var (
		bufs  []*audio.Buffer
		gains []float64
	)
	for _, tr := range s.tracks {
		if tr.Loaded() {
			bufs = append(bufs, tr.Processed)
			gains = append(gains, tr.Volume)
		}
	}
	if len(bufs) == 0 {
		return s.report("Export Project", audio.InvalidRange("No tracks loaded to export."))
	}
	mix, err := mixer.MixAll(bufs, gains, audio.MixFormat)
	if err != nil {
		return s.report("Export Project", err)
	}
	return s.export(mix, path, bitrate)
}

// ExportTimeline renders the grid arrangement into path.
func (s *Session) ExportTimeline(path, bitrate string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rederive(); err != nil {
		return s.report("Export Project", err)
	}
	var bufs [timeline.Rows]*audio.Buffer
	found := false
	for i, tr := range s.tracks {
		if tr.Loaded() {
			bufs[i] = tr.Processed
			found = true
		}
	}
	if !found {
		return s.report("Export Project", audio.InvalidRange("No tracks loaded to export."))
	}
	mix, err := mixer.RenderGrid(s.grid.Snapshot(), bufs, audio.MixFormat)
	if err != nil {
		return s.report("Export Project", err)
	}
	return s.export(mix, path, bitrate)
}

func (s *Session) export(mix *audio.Buffer, path, bitrate string) error {
	if bitrate == "" {
		bitrate = s.opts.ExportBitrate
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return s.report("Export Project", audio.IOError(err, "create "+filepath.Dir(path)))
	}
	if err := s.encodeAtomic(mix, path, bitrate); err != nil {
		return s.report("Export Project", err)
	}
	log.Printf("Exported %s (%s)", path, audio.FormatClock(mix.Duration()))
	s.obs.Message("Export Project", "Project exported successfully!", Info)
	return nil
}

// --- Project ---

// SaveProject writes the session to path and returns the JSON file written.
func (s *Session) SaveProject(path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := project.Snapshot{BPM: int(s.bpm + 0.5)}
	for i, tr := range s.tracks {
		snap.VolumeLevels[i] = tr.Volume
		if tr.Loaded() {
			snap.Tracks[i] = tr.SourcePath
		}
	}
	out, err := project.Save(path, s.opts.AssetDir, snap)
	if err != nil {
		return "", s.report("Save Project", err)
	}
	s.obs.Message("Save Project", "Project saved successfully!", Info)
	return out, nil
}

// LoadProject replaces the session's tracks, tempo and volumes with the
// project at path. Tracks that fail to load are reported and left empty.
// The timeline grid is kept.
func (s *Session) LoadProject(path string) error {
	s.Stop()
	s.transport.StopPreview()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := project.Load(path, s.opts.AssetDir)
	if err != nil {
		return s.report("Load Project", err)
	}
	if res.Replaced {
		s.obs.Message("Load Project", "Unsaved session audio was replaced by the project's files.", Warning)
	}

	s.bpm = float64(res.Snapshot.BPM)
	ratio := s.ratio()
	for i := range s.tracks {
		vol := res.Snapshot.VolumeLevels[i]
		s.transport.SetVolume(i, vol)

		if err, ok := res.TrackErrors[i]; ok {
			s.warn("Load Project", err)
			s.setTrack(i, &track.Track{Volume: vol, Ratio: ratio})
			continue
		}
		p := res.Snapshot.Tracks[i]
		if p == "" {
			s.setTrack(i, &track.Track{Volume: vol, Ratio: ratio})
			continue
		}
		tr, err := track.Load(s.opts.Codec, p, ratio)
		if err != nil {
			s.warn("Load Project", err)
			s.setTrack(i, &track.Track{Volume: vol, Ratio: ratio})
			continue
		}
		tr.Volume = vol
		s.setTrack(i, tr)
	}

	// the asset dir was swapped out from under any watch on it
	s.rewatch()
	s.obs.Message("Load Project", "Project loaded successfully!", Info)
	return nil
}
