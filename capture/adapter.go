// Package capture turns microphone input into text through one of two backends:
// recognition running on the client device, or raw audio streamed to a remote
// transcription service.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/conecoach/backend/audio"
)

// Backend identifies which recognition path an adapter uses
type Backend string

const (
	BackendNative Backend = "native"
	BackendStream Backend = "stream"
)

var (
	ErrMicrophoneUnavailable = errors.New("microphone unavailable")
	ErrChannelUnavailable    = errors.New("transcription channel unavailable")
	ErrRecognizerUnavailable = errors.New("speech recognition unavailable")
)

// Adapter is the capability surface shared by both backends
type Adapter interface {
	StartListening(ctx context.Context) error
	StopListening() error
	CurrentTranscript() string
	ResetTranscript()
	IsListening() bool
	Backend() Backend
}

// Recognizer is continuous speech recognition running on the client device.
// onResult receives interim and final results, onEnd fires when recognition stops
// on its own.
type Recognizer interface {
	Start(ctx context.Context, onResult func(text string, final bool), onEnd func(err error)) error
	Stop() error
}

// CaptureConfig describes how the microphone should record
type CaptureConfig struct {
	Format      string
	Constraints audio.Constraints
	Timeslice   time.Duration
}

// Microphone hands out a recording stream
type Microphone interface {
	Open(ctx context.Context, cfg CaptureConfig) (AudioSource, error)
}

// AudioSource is an open recording. Stop ends audio production, Release frees the device.
type AudioSource interface {
	Chunks() <-chan []byte
	Stop() error
	Release() error
}

// Event types sent by a transcription channel
const (
	EventConnected  = "connected"
	EventTranscript = "transcript"
	EventError      = "error"
)

// TranscriptEvent is one message from the remote transcription service
type TranscriptEvent struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	IsFinal bool   `json:"isFinal,omitempty"`
	Message string `json:"message,omitempty"`
}

// Channel is an open bidirectional stream to a transcription service.
// Events is closed once the channel is done.
type Channel interface {
	Send(chunk []byte) error
	Events() <-chan TranscriptEvent
	Close() error
}

// Transcriber opens transcription channels
type Transcriber interface {
	Open(ctx context.Context) (Channel, error)
}

// Environment describes what the runtime offers. A nil Recognizer means on-device
// recognition is not available.
type Environment struct {
	Recognizer  Recognizer
	Microphone  Microphone
	Transcriber Transcriber
	Format      string
	Constraints audio.Constraints
	Logger      *slog.Logger
	// OnChange is called whenever the running transcript or listening state changes
	OnChange func(transcript string, listening bool)
}

// NewAdapter picks the backend once. On-device recognition wins when available.
func NewAdapter(env Environment) Adapter {
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	if env.OnChange == nil {
		env.OnChange = func(string, bool) {}
	}
	if env.Recognizer != nil {
		return newNativeBackend(env)
	}
	return newStreamBackend(env)
}

func joinFragments(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
