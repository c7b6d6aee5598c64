package session

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchDebounce is how long a file must stay quiet before it is reloaded.
const WatchDebounce = 250 * time.Millisecond

// Watch reloads loaded tracks whose files change on disk until ctx is done.
// Only files inside the asset dir are watched.
func (s *Session) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(s.opts.AssetDir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", s.opts.AssetDir, err)
	}

	s.watchMu.Lock()
	if s.watcher != nil {
		s.watchMu.Unlock()
		w.Close()
		return fmt.Errorf("session already watching %s", s.opts.AssetDir)
	}
	s.watcher = w
	s.watchMu.Unlock()
	log.Printf("Watching %s for changes", s.opts.AssetDir)

	defer func() {
		s.watchMu.Lock()
		if s.watcher == w {
			s.watcher = nil
		}
		s.watchMu.Unlock()
		w.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				s.schedule(filepath.Clean(ev.Name))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Printf("Watcher error: %v", err)
		}
	}
}

// schedule reloads path once it has been quiet for WatchDebounce.
func (s *Session) schedule(path string) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if t, ok := s.debounce[path]; ok {
		t.Stop()
	}
	s.debounce[path] = s.opts.Clock.AfterFunc(WatchDebounce, func() {
		s.watchMu.Lock()
		delete(s.debounce, path)
		s.watchMu.Unlock()
		s.refresh(path)
	})
}

// refresh reloads every slot backed by path whose mod time changed.
func (s *Session) refresh(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, tr := range s.tracks {
		if !tr.Loaded() || filepath.Clean(tr.SourcePath) != path {
			continue
		}
		if info.ModTime().Equal(tr.ModTime) {
			continue
		}
		log.Printf("Track %d changed on disk, reloading %s", i+1, filepath.Base(path))
		s.reloadLocked(i)
	}
}

// rewatch re-arms the watch after the asset dir was replaced.
func (s *Session) rewatch() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watcher == nil {
		return
	}
	s.watcher.Remove(s.opts.AssetDir)
	if err := s.watcher.Add(s.opts.AssetDir); err != nil {
		log.Printf("Re-watch %s: %v", s.opts.AssetDir, err)
	}
}
