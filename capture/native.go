package capture

import (
	"context"
	"fmt"
	"sync"
)

// NativeBackend relies on recognition running on the client device
type NativeBackend struct {
	env Environment

	mu         sync.Mutex
	listening  bool
	generation int
	committed  string
	interim    string
}

func newNativeBackend(env Environment) *NativeBackend {
	return &NativeBackend{env: env}
}

func (b *NativeBackend) Backend() Backend { return BackendNative }

func (b *NativeBackend) StartListening(ctx context.Context) error {
	b.mu.Lock()
	if b.listening {
		b.mu.Unlock()
		return nil
	}
	b.generation++
	gen := b.generation
	b.listening = true
	b.mu.Unlock()

	err := b.env.Recognizer.Start(ctx,
		func(text string, final bool) { b.onResult(gen, text, final) },
		func(err error) { b.onEnd(gen, err) },
	)
	if err != nil {
		b.mu.Lock()
		if b.generation == gen {
			b.listening = false
		}
		b.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrRecognizerUnavailable, err)
	}

	b.notify()
	return nil
}

func (b *NativeBackend) StopListening() error {
	b.mu.Lock()
	if !b.listening {
		b.mu.Unlock()
		return nil
	}
	b.listening = false
	b.mu.Unlock()

	err := b.env.Recognizer.Stop()
	b.notify()
	return err
}

func (b *NativeBackend) onResult(gen int, text string, final bool) {
	b.mu.Lock()
	if gen != b.generation || !b.listening {
		b.mu.Unlock()
		return
	}
	if final {
		b.committed = joinFragments(b.committed, text)
		b.interim = ""
	} else {
		b.interim = text
	}
	b.mu.Unlock()

	b.notify()
}

func (b *NativeBackend) onEnd(gen int, err error) {
	b.mu.Lock()
	if gen != b.generation || !b.listening {
		b.mu.Unlock()
		return
	}
	b.listening = false
	b.mu.Unlock()

	if err != nil {
		b.env.Logger.Warn("Speech recognition ended unexpectedly", "error", err)
	} else {
		b.env.Logger.Warn("Speech recognition ended unexpectedly")
	}
	b.notify()
}

func (b *NativeBackend) CurrentTranscript() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return joinFragments(b.committed, b.interim)
}

func (b *NativeBackend) ResetTranscript() {
	b.mu.Lock()
	b.committed = ""
	b.interim = ""
	b.mu.Unlock()
}

func (b *NativeBackend) IsListening() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listening
}

func (b *NativeBackend) notify() {
	b.mu.Lock()
	text := joinFragments(b.committed, b.interim)
	listening := b.listening
	b.mu.Unlock()
	b.env.OnChange(text, listening)
}
