package session

import (
	"os"
	"path/filepath"
	"time"

	"github.com/satindergrewal/stemdeck/internal/audio"
	"github.com/satindergrewal/stemdeck/internal/dsp"
	"github.com/satindergrewal/stemdeck/internal/track"
)

// Edits run on the original buffer and are re-derived at the current tempo,
// so a preview sounds exactly like the committed result.

func (s *Session) equalized(i int, bands dsp.Bands) (*track.Track, *audio.Buffer, error) {
	tr, err := s.loaded(i)
	if err != nil {
		return nil, nil, err
	}
	out, err := dsp.Equalize(tr.Original, bands.Clamp(), s.opts.Bank)
	if err != nil {
		return nil, nil, err
	}
	return tr, out, nil
}

func (s *Session) trimmed(i int, start, end time.Duration) (*track.Track, *audio.Buffer, error) {
	tr, err := s.loaded(i)
	if err != nil {
		return nil, nil, err
	}
	out, err := dsp.Trim(tr.Original, start, end)
	if err != nil {
		return nil, nil, err
	}
	return tr, out, nil
}

// preview plays edited on the preview channel at the current tempo.
// Callers hold s.mu.
func (s *Session) preview(edited *audio.Buffer) error {
	scaled, err := dsp.Scale(edited, s.ratio())
	if err != nil {
		return err
	}
	return s.transport.Preview(scaled)
}

// PreviewEqualizer plays slot i with bands applied, leaving the track as is.
func (s *Session) PreviewEqualizer(i int, bands dsp.Bands) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, out, err := s.equalized(i, bands)
	if err == nil {
		err = s.preview(out)
	}
	if err != nil {
		return s.report("Equalizer", err)
	}
	return nil
}

// ApplyEqualizer commits bands to slot i and rewrites its file.
func (s *Session) ApplyEqualizer(i int, bands dsp.Bands) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, out, err := s.equalized(i, bands)
	if err == nil {
		err = s.commit(i, tr, out)
	}
	if err != nil {
		return s.report("Equalizer", err)
	}
	s.obs.Message("Equalizer", "Equalizer settings applied successfully.", Info)
	return nil
}

// PreviewTrim plays the [start, end) range of slot i.
func (s *Session) PreviewTrim(i int, start, end time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, out, err := s.trimmed(i, start, end)
	if err == nil {
		err = s.preview(out)
	}
	if err != nil {
		return s.report("Trim", err)
	}
	return nil
}

// ApplyTrim cuts slot i down to [start, end) and rewrites its file.
func (s *Session) ApplyTrim(i int, start, end time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, out, err := s.trimmed(i, start, end)
	if err == nil {
		err = s.commit(i, tr, out)
	}
	if err != nil {
		return s.report("Trim", err)
	}
	s.obs.Message("Trim", "Track trimmed successfully.", Info)
	return nil
}

// StopPreview cuts the preview channel.
func (s *Session) StopPreview() {
	s.transport.StopPreview()
}

// commit writes original over tr's file and installs it in slot i. The
// slot is left unchanged when writing fails. Callers hold s.mu.
func (s *Session) commit(i int, tr *track.Track, original *audio.Buffer) error {
	if err := s.encodeAtomic(original, tr.SourcePath, s.opts.CommitBitrate); err != nil {
		return err
	}
	n, err := tr.Commit(original, s.ratio())
	if err != nil {
		return err
	}
	s.setTrack(i, n)
	s.touch(i)
	return nil
}

// encodeAtomic encodes buf to a temp file beside path and renames it over
// path. The format follows path's extension.
func (s *Session) encodeAtomic(buf *audio.Buffer, path, bitrate string) error {
	format := audio.FormatOf(path)
	tmp, err := os.CreateTemp(filepath.Dir(path), ".stemdeck-*."+format)
	if err != nil {
		return audio.IOError(err, "write "+path)
	}
	name := tmp.Name()
	tmp.Close()
	defer os.Remove(name)

	if err := s.opts.Codec.Encode(buf, name, format, bitrate); err != nil {
		return err
	}
	if err := os.Rename(name, path); err != nil {
		return audio.IOError(err, "write "+path)
	}
	return nil
}
