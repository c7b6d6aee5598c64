// Package project saves and loads a session as a JSON file next to a copy of
// its audio assets.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/satindergrewal/stemdeck/internal/audio"
)

const (
	// Slots is the number of tracks stored in a project.
	Slots = 10
	// AssetDirName is the asset folder inside a project directory.
	AssetDirName = "session_audios"
)

// Snapshot is the saved session state. Empty track slots hold "".
type Snapshot struct {
	Tracks       [Slots]string
	BPM          int
	VolumeLevels [Slots]float64
}

// file is the on-disk layout.
type file struct {
	Tracks       []*string `json:"tracks"`
	BPM          int       `json:"bpm"`
	VolumeLevels []float64 `json:"volume_levels"`
}

// Result is returned by Load.
type Result struct {
	Snapshot Snapshot
	// Replaced is true when the asset dir held files that were discarded.
	Replaced bool
	// TrackErrors holds slots whose stored path could not be used.
	TrackErrors map[int]error
}

// Dir returns the project directory for a project file path: the path
// without its extension.
func Dir(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}

// Save writes the project for path. The directory Dir(path) receives a
// fresh copy of assetDir as session_audios/ and the JSON file itself.
// Track paths outside assetDir are copied in as well. It returns the path
// of the written JSON file.
func Save(path, assetDir string, snap Snapshot) (string, error) {
	if err := audio.CheckBPM(float64(snap.BPM)); err != nil {
		return "", err
	}
	dir := Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", audio.IOError(err, "create project folder "+dir)
	}

	staged, err := os.MkdirTemp(dir, "."+AssetDirName+"-")
	if err != nil {
		return "", audio.IOError(err, "create project folder "+dir)
	}
	defer os.RemoveAll(staged)

	if err := copyDir(assetDir, staged); err != nil {
		return "", audio.IOError(err, "copy session audio")
	}

	f := file{BPM: snap.BPM, Tracks: make([]*string, Slots), VolumeLevels: snap.VolumeLevels[:]}
	for i, p := range snap.Tracks {
		if p == "" {
			continue
		}
		rel, err := filepath.Rel(assetDir, p)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			rel = fmt.Sprintf("track_%d_%s", i+1, filepath.Base(p))
			if err := CopyFile(p, filepath.Join(staged, rel)); err != nil {
				return "", audio.IOError(err, "copy "+p)
			}
		}
		rel = filepath.ToSlash(rel)
		f.Tracks[i] = &rel
	}

	dst := filepath.Join(dir, AssetDirName)
	if err := os.RemoveAll(dst); err != nil {
		return "", audio.IOError(err, "replace "+dst)
	}
	if err := os.Rename(staged, dst); err != nil {
		return "", audio.IOError(err, "replace "+dst)
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal project: %w", err)
	}
	jsonPath := filepath.Join(dir, filepath.Base(path))
	if err := writeFileAtomic(jsonPath, data); err != nil {
		return "", audio.IOError(err, "write "+jsonPath)
	}
	return jsonPath, nil
}

// Load reads a project file and replaces assetDir wholesale with the
// project's session_audios/. The snapshot's track paths point into assetDir.
func Load(path, assetDir string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, audio.IOError(err, "read "+path)
	}
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, audio.Unsupported(fmt.Errorf("parse project: %w", err), path)
	}
	if err := audio.CheckBPM(float64(f.BPM)); err != nil {
		return nil, err
	}
	if len(f.Tracks) > Slots || len(f.VolumeLevels) > Slots {
		return nil, audio.InvalidRange("project lists more than %d tracks", Slots)
	}

	res := &Result{TrackErrors: map[int]error{}}
	res.Snapshot.BPM = f.BPM
	for i := range res.Snapshot.VolumeLevels {
		res.Snapshot.VolumeLevels[i] = 1
	}
	for i, v := range f.VolumeLevels {
		if v < 0 || v > 1 {
			return nil, audio.InvalidRange("track %d volume %.2f outside 0-1", i+1, v)
		}
		res.Snapshot.VolumeLevels[i] = v
	}

	src := filepath.Join(filepath.Dir(path), AssetDirName)
	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is not a directory", src)
		}
		return nil, audio.IOError(err, "open "+src)
	}

	res.Replaced = !dirEmpty(assetDir)
	if err := replaceDir(src, assetDir); err != nil {
		return nil, audio.IOError(err, "restore session audio")
	}

	for i, rel := range f.Tracks {
		if rel == nil || *rel == "" {
			continue
		}
		local := filepath.FromSlash(*rel)
		if filepath.IsAbs(local) || !filepath.IsLocal(local) {
			res.TrackErrors[i] = audio.InvalidRange("track %d path %q leaves the project folder", i+1, *rel)
			continue
		}
		res.Snapshot.Tracks[i] = filepath.Join(assetDir, local)
	}
	return res, nil
}

// replaceDir copies src next to dst and swaps it in, so a failed copy
// leaves dst untouched.
func replaceDir(src, dst string) error {
	parent := filepath.Dir(dst)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	staged, err := os.MkdirTemp(parent, filepath.Base(dst)+"-load-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staged)

	if err := copyDir(src, staged); err != nil {
		return err
	}
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	return os.Rename(staged, dst)
}

func dirEmpty(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err != nil || len(entries) == 0
}
