package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/conecoach/backend/audio"
)

// StreamBackend records raw audio and forwards it to a remote transcription
// channel. Only final fragments make it into the transcript.
type StreamBackend struct {
	env Environment

	// ops serializes start and stop
	ops sync.Mutex

	mu         sync.Mutex
	session    *streamSession
	transcript string
}

// streamSession holds the two resources that live for one listening period
type streamSession struct {
	source  AudioSource
	channel Channel
	done    chan struct{}

	once sync.Once
	err  error
}

func newStreamBackend(env Environment) *StreamBackend {
	return &StreamBackend{env: env}
}

func (b *StreamBackend) Backend() Backend { return BackendStream }

func (b *StreamBackend) StartListening(ctx context.Context) error {
	b.ops.Lock()
	defer b.ops.Unlock()

	b.mu.Lock()
	active := b.session != nil
	b.mu.Unlock()
	if active {
		return nil
	}

	if b.env.Microphone == nil {
		return ErrMicrophoneUnavailable
	}
	if b.env.Transcriber == nil {
		return ErrChannelUnavailable
	}

	source, err := b.env.Microphone.Open(ctx, CaptureConfig{
		Format:      b.env.Format,
		Constraints: b.env.Constraints,
		Timeslice:   audio.ChunkInterval,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMicrophoneUnavailable, err)
	}

	channel, err := b.env.Transcriber.Open(ctx)
	if err != nil {
		// the microphone was acquired, give it back before reporting
		releaseErr := errors.Join(attempt(source.Stop), attempt(source.Release))
		if releaseErr != nil {
			b.env.Logger.Error("Failed to release microphone after channel failure", "error", releaseErr)
		}
		return fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}

	s := &streamSession{
		source:  source,
		channel: channel,
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	b.session = s
	b.mu.Unlock()

	go b.pump(s)
	go b.consume(s)

	b.notify()
	return nil
}

func (b *StreamBackend) StopListening() error {
	b.ops.Lock()
	defer b.ops.Unlock()

	b.mu.Lock()
	s := b.session
	b.session = nil
	b.mu.Unlock()

	if s == nil {
		return nil
	}
	err := s.teardown()
	b.notify()
	return err
}

// pump forwards recorded chunks until the session ends
func (b *StreamBackend) pump(s *streamSession) {
	chunks := s.source.Chunks()
	for {
		select {
		case <-s.done:
			return
		case chunk, ok := <-chunks:
			if !ok {
				b.unexpected(s, "microphone stream ended")
				return
			}
			if err := s.channel.Send(chunk); err != nil {
				b.env.Logger.Debug("Dropped audio chunk", "error", err, "size", len(chunk))
			}
		}
	}
}

// consume reads transcription events until the channel closes
func (b *StreamBackend) consume(s *streamSession) {
	for ev := range s.channel.Events() {
		switch ev.Type {
		case EventTranscript:
			if !ev.IsFinal || ev.Text == "" {
				continue
			}
			b.mu.Lock()
			current := b.session == s
			if current {
				b.transcript = joinFragments(b.transcript, ev.Text)
			}
			b.mu.Unlock()
			if current {
				b.notify()
			}
		case EventError:
			b.unexpected(s, "transcription error: "+ev.Message)
		}
	}

	select {
	case <-s.done:
	default:
		b.unexpected(s, "transcription channel closed")
	}
}

// unexpected tears a session down because one of its resources failed
func (b *StreamBackend) unexpected(s *streamSession, reason string) {
	b.mu.Lock()
	current := b.session == s
	if current {
		b.session = nil
	}
	b.mu.Unlock()

	if !current {
		return
	}

	b.env.Logger.Warn("Streaming capture stopped unexpectedly", "reason", reason)
	if err := s.teardown(); err != nil {
		b.env.Logger.Error("Failed to tear down streaming capture", "error", err)
	}
	b.notify()
}

// teardown stops audio production, closes the channel, then releases the
// microphone. Every step runs even when an earlier one fails.
func (s *streamSession) teardown() error {
	s.once.Do(func() {
		close(s.done)
		s.err = errors.Join(
			attempt(s.source.Stop),
			attempt(s.channel.Close),
			attempt(s.source.Release),
		)
	})
	return s.err
}

// attempt runs fn and turns a panic into an error
func attempt(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (b *StreamBackend) CurrentTranscript() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transcript
}

func (b *StreamBackend) ResetTranscript() {
	b.mu.Lock()
	b.transcript = ""
	b.mu.Unlock()
}

func (b *StreamBackend) IsListening() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session != nil
}

func (b *StreamBackend) notify() {
	b.mu.Lock()
	text := b.transcript
	listening := b.session != nil
	b.mu.Unlock()
	b.env.OnChange(text, listening)
}
