package audio

import (
	"errors"
	"sync"
)

// ErrStopped is what a source reports when it was stopped before finishing.
// It ends the playback normally and is not a failure.
var ErrStopped = errors.New("playback stopped")

// Source is anything that is currently producing sound
type Source interface {
	Stop()
}

// Playback tracks the single audio source allowed to play at a time across
// every session of the process. It is created once at startup and passed down.
type Playback struct {
	mu      sync.Mutex
	current Source
}

func NewPlayback() *Playback {
	return &Playback{}
}

// Begin stops whatever is playing and makes src the active source
func (p *Playback) Begin(src Source) {
	p.mu.Lock()
	prev := p.current
	p.current = src
	p.mu.Unlock()

	if prev != nil && prev != src {
		prev.Stop()
	}
}

// End clears src if it is still the active source
func (p *Playback) End(src Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == src {
		p.current = nil
	}
}

// StopCurrent halts the active source, if any
func (p *Playback) StopCurrent() {
	p.mu.Lock()
	prev := p.current
	p.current = nil
	p.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
}

// Active reports whether something is playing
func (p *Playback) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}
