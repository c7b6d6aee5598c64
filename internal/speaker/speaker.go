// Package speaker plays the live monitor mix on the local audio device.
package speaker

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/hajimehoshi/oto/v2"

	"github.com/satindergrewal/stemdeck/internal/audio"
	"github.com/satindergrewal/stemdeck/internal/stream"
)

// Speaker owns the oto context and one player fed from a pipe.
type Speaker struct {
	ctx   *oto.Context
	ready chan struct{}
}

// Open initializes the audio device at the monitor format.
func Open() (*Speaker, error) {
	ctx, ready, err := oto.NewContext(audio.MonitorRate, audio.MonitorChannels, audio.MonitorBitDepth/8)
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	return &Speaker{ctx: ctx, ready: ready}, nil
}

// Run subscribes to b and plays every frame until ctx is done.
func (s *Speaker) Run(ctx context.Context, b *stream.Broadcaster) {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return
	}

	l := b.Subscribe()
	defer b.Unsubscribe(l)

	pr, pw := io.Pipe()
	player := s.ctx.NewPlayer(pr)
	defer player.Close()
	player.Play()
	log.Printf("Speaker output started")

	err := pump(ctx, l, pw)
	pw.CloseWithError(err)
	if err != nil && err != context.Canceled {
		log.Printf("Speaker: %v", err)
	}
	log.Printf("Speaker output stopped (%d frames dropped)", l.Dropped())
}

// pump writes each frame from l to w as little-endian PCM until ctx is
// done, l is unsubscribed or a write fails.
func pump(ctx context.Context, l *stream.Listener, w io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.Done():
			return nil
		case frame, ok := <-l.C:
			if !ok {
				return nil
			}
			if _, err := w.Write(audio.SamplesToBytes(frame)); err != nil {
				return fmt.Errorf("write frame: %w", err)
			}
		}
	}
}
