// Package stream fans the live monitor mix out to remote listeners over
// chunked HTTP MP3 and WebRTC Opus.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// ListenerBuffer is how many 20ms frames a listener may fall behind before
// frames are dropped (about 3 seconds).
const ListenerBuffer = 150

// Broadcaster fans out monitor frames from the bus to N listeners.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
}

// Listener receives monitor frames from the broadcaster.
type Listener struct {
	C       chan []int16 // buffered channel of 20ms PCM frames
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// Done is closed once the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Dropped is the number of frames skipped because the listener was slow.
func (l *Listener) Dropped() int64 { return l.dropped.Load() }

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a new listener.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []int16, ListenerBuffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop. Calling it twice
// is harmless.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	l.once.Do(func() { close(l.done) })
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Run reads frames from source and fans out to all listeners.
// Slow listeners get frames dropped rather than blocking the bus.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.mu.RLock()
			for l := range b.listeners {
				select {
				case l.C <- frame:
				default:
					l.dropped.Add(1)
				}
			}
			b.mu.RUnlock()
		}
	}
}
