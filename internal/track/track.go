// Package track models one of the session's fixed track slots.
package track

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/satindergrewal/stemdeck/internal/audio"
	"github.com/satindergrewal/stemdeck/internal/dsp"
)

// Slots is the number of tracks in a session.
const Slots = 10

// Track is immutable; every change returns a new value. Use Empty for an
// unloaded slot.
type Track struct {
	Original   *audio.Buffer
	Processed  *audio.Buffer
	SourcePath string
	Volume     float64
	ModTime    time.Time
	Ratio      float64
	RMS        float64
}

// Empty returns an unloaded slot at full volume.
func Empty() *Track {
	return &Track{Volume: 1, Ratio: 1}
}

// Load decodes path and derives the processed buffer at ratio.
func Load(codec audio.Codec, path string, ratio float64) (*Track, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, audio.IOError(err, "read "+path)
	}
	buf, err := codec.Decode(path)
	if err != nil {
		return nil, err
	}
	t := &Track{SourcePath: path, Volume: 1, ModTime: info.ModTime()}
	return t.Commit(buf, ratio)
}

// Reload decodes the source file again, keeping volume.
func (t *Track) Reload(codec audio.Codec) (*Track, error) {
	if !t.Loaded() {
		return nil, audio.InvalidRange("track has no source file")
	}
	n, err := Load(codec, t.SourcePath, t.Ratio)
	if err != nil {
		return nil, err
	}
	n.Volume = t.Volume
	return n, nil
}

// Commit replaces the original buffer and re-derives the processed one.
func (t *Track) Commit(original *audio.Buffer, ratio float64) (*Track, error) {
	n := *t
	n.Original = original
	n.Processed = nil
	return n.derive(ratio)
}

// Derive returns a track whose processed buffer is the original scaled by
// ratio. The receiver is returned when nothing would change.
func (t *Track) Derive(ratio float64) (*Track, error) {
	if !t.Loaded() {
		n := *t
		n.Ratio = ratio
		return &n, nil
	}
	if t.Processed != nil && t.Ratio == ratio {
		return t, nil
	}
	n := *t
	return n.derive(ratio)
}

func (t Track) derive(ratio float64) (*Track, error) {
	p, err := dsp.Scale(t.Original, ratio)
	if err != nil {
		return nil, err
	}
	t.Processed = p
	t.Ratio = ratio
	t.RMS = p.RMS()
	return &t, nil
}

// WithVolume returns a copy at volume v, which must be in [0, 1].
func (t *Track) WithVolume(v float64) (*Track, error) {
	if v < 0 || v > 1 {
		return nil, audio.InvalidRange("volume %.2f outside 0-1", v)
	}
	n := *t
	n.Volume = v
	return &n, nil
}

// WithModTime returns a copy stamped with mod.
func (t *Track) WithModTime(mod time.Time) *Track {
	n := *t
	n.ModTime = mod
	return &n
}

// Clear empties the slot and keeps volume.
func (t *Track) Clear() *Track {
	return &Track{Volume: t.Volume, Ratio: t.Ratio}
}

// Loaded reports whether the slot holds audio.
func (t *Track) Loaded() bool { return t != nil && t.Original != nil }

// Duration is the length of the processed buffer.
func (t *Track) Duration() time.Duration {
	if t.Processed == nil {
		return 0
	}
	return t.Processed.Duration()
}

// OriginalDuration is the length of the untouched buffer.
func (t *Track) OriginalDuration() time.Duration {
	if t.Original == nil {
		return 0
	}
	return t.Original.Duration()
}

// Label renders "<file> (m:ss)" or "Track N" for an empty slot at index.
func (t *Track) Label(index int) string {
	if !t.Loaded() {
		return fmt.Sprintf("Track %d", index+1)
	}
	return fmt.Sprintf("%s (%s)", filepath.Base(t.SourcePath), audio.FormatClock(t.OriginalDuration()))
}
