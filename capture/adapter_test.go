package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/conecoach/backend/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects teardown calls in order
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeSource struct {
	rec     *recorder
	chunks  chan []byte
	stopErr error
}

func (s *fakeSource) Chunks() <-chan []byte { return s.chunks }
func (s *fakeSource) Stop() error {
	s.rec.add("source.stop")
	return s.stopErr
}
func (s *fakeSource) Release() error {
	s.rec.add("source.release")
	return nil
}

type fakeMicrophone struct {
	source  *fakeSource
	err     error
	lastCfg CaptureConfig
}

func (m *fakeMicrophone) Open(ctx context.Context, cfg CaptureConfig) (AudioSource, error) {
	m.lastCfg = cfg
	if m.err != nil {
		return nil, m.err
	}
	return m.source, nil
}

type fakeChannel struct {
	rec       *recorder
	events    chan TranscriptEvent
	closeOnce sync.Once

	mu   sync.Mutex
	sent [][]byte
}

func newFakeChannel(rec *recorder) *fakeChannel {
	return &fakeChannel{rec: rec, events: make(chan TranscriptEvent, 16)}
}

func (c *fakeChannel) Send(chunk []byte) error {
	c.mu.Lock()
	c.sent = append(c.sent, chunk)
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) Events() <-chan TranscriptEvent { return c.events }

func (c *fakeChannel) Close() error {
	c.rec.add("channel.close")
	c.closeOnce.Do(func() { close(c.events) })
	return nil
}

func (c *fakeChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type fakeTranscriber struct {
	channel *fakeChannel
	err     error
}

func (t *fakeTranscriber) Open(ctx context.Context) (Channel, error) {
	if t.err != nil {
		return nil, t.err
	}
	return t.channel, nil
}

type fakeRecognizer struct {
	startErr error
	onResult func(string, bool)
	onEnd    func(error)
	stopped  int
}

func (r *fakeRecognizer) Start(ctx context.Context, onResult func(string, bool), onEnd func(error)) error {
	if r.startErr != nil {
		return r.startErr
	}
	r.onResult = onResult
	r.onEnd = onEnd
	return nil
}

func (r *fakeRecognizer) Stop() error {
	r.stopped++
	return nil
}

func streamEnv(rec *recorder) (Environment, *fakeMicrophone, *fakeChannel) {
	source := &fakeSource{rec: rec, chunks: make(chan []byte, 8)}
	mic := &fakeMicrophone{source: source}
	channel := newFakeChannel(rec)
	return Environment{
		Microphone:  mic,
		Transcriber: &fakeTranscriber{channel: channel},
		Format:      "audio/webm;codecs=opus",
		Constraints: audio.SelectConstraints(false),
	}, mic, channel
}

func TestNewAdapterSelectsBackend(t *testing.T) {
	native := NewAdapter(Environment{Recognizer: &fakeRecognizer{}})
	assert.Equal(t, BackendNative, native.Backend())

	stream := NewAdapter(Environment{})
	assert.Equal(t, BackendStream, stream.Backend())
}

func TestNativeBackendAccumulatesInterimAndFinal(t *testing.T) {
	rec := &fakeRecognizer{}
	var lastText string
	adapter := NewAdapter(Environment{
		Recognizer: rec,
		OnChange:   func(text string, listening bool) { lastText = text },
	})

	require.NoError(t, adapter.StartListening(context.Background()))
	assert.True(t, adapter.IsListening())

	rec.onResult("Why switch", false)
	assert.Equal(t, "Why switch", adapter.CurrentTranscript())

	rec.onResult("Why switch from Stryker", true)
	rec.onResult("tell me", false)
	assert.Equal(t, "Why switch from Stryker tell me", adapter.CurrentTranscript())
	assert.Equal(t, "Why switch from Stryker tell me", lastText)

	require.NoError(t, adapter.StopListening())
	assert.False(t, adapter.IsListening())
	assert.Equal(t, 1, rec.stopped)

	// late results after stopping are ignored
	rec.onResult("ignored", true)
	assert.Equal(t, "Why switch from Stryker tell me", adapter.CurrentTranscript())

	adapter.ResetTranscript()
	assert.Empty(t, adapter.CurrentTranscript())
}

func TestNativeBackendStartFailureStaysIdle(t *testing.T) {
	adapter := NewAdapter(Environment{Recognizer: &fakeRecognizer{startErr: errors.New("not-allowed")}})

	err := adapter.StartListening(context.Background())
	assert.ErrorIs(t, err, ErrRecognizerUnavailable)
	assert.False(t, adapter.IsListening())
}

func TestNativeBackendUnexpectedEnd(t *testing.T) {
	rec := &fakeRecognizer{}
	adapter := NewAdapter(Environment{Recognizer: rec})

	require.NoError(t, adapter.StartListening(context.Background()))
	rec.onEnd(errors.New("network"))
	assert.False(t, adapter.IsListening())
}

func TestStreamBackendAccumulatesOnlyFinals(t *testing.T) {
	rec := &recorder{}
	env, mic, channel := streamEnv(rec)
	adapter := NewAdapter(env)

	require.NoError(t, adapter.StartListening(context.Background()))
	assert.True(t, adapter.IsListening())
	assert.Equal(t, audio.ChunkInterval, mic.lastCfg.Timeslice)
	assert.Equal(t, "audio/webm;codecs=opus", mic.lastCfg.Format)

	mic.source.chunks <- []byte{1, 2}
	mic.source.chunks <- []byte{3}
	assert.Eventually(t, func() bool { return channel.sentCount() == 2 }, time.Second, 5*time.Millisecond)

	channel.events <- TranscriptEvent{Type: EventConnected}
	channel.events <- TranscriptEvent{Type: EventTranscript, Text: "Our cones", IsFinal: false}
	channel.events <- TranscriptEvent{Type: EventTranscript, Text: "Our cones are", IsFinal: true}
	channel.events <- TranscriptEvent{Type: EventTranscript, Text: "ream only", IsFinal: true}

	assert.Eventually(t, func() bool {
		return adapter.CurrentTranscript() == "Our cones are ream only"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, adapter.StopListening())
	assert.False(t, adapter.IsListening())
	assert.Equal(t, []string{"source.stop", "channel.close", "source.release"}, rec.list())

	// a second stop is a no-op
	require.NoError(t, adapter.StopListening())
	assert.Len(t, rec.list(), 3)
}

func TestStreamBackendMicrophoneFailure(t *testing.T) {
	rec := &recorder{}
	env, mic, _ := streamEnv(rec)
	mic.err = errors.New("permission denied")
	adapter := NewAdapter(env)

	err := adapter.StartListening(context.Background())
	assert.ErrorIs(t, err, ErrMicrophoneUnavailable)
	assert.False(t, adapter.IsListening())
	assert.Empty(t, rec.list())
}

func TestStreamBackendChannelFailureReleasesMicrophone(t *testing.T) {
	rec := &recorder{}
	env, _, _ := streamEnv(rec)
	env.Transcriber = &fakeTranscriber{err: errors.New("dial failed")}
	adapter := NewAdapter(env)

	err := adapter.StartListening(context.Background())
	assert.ErrorIs(t, err, ErrChannelUnavailable)
	assert.False(t, adapter.IsListening())
	assert.Equal(t, []string{"source.stop", "source.release"}, rec.list())
}

func TestStreamBackendTeardownAttemptsEveryStep(t *testing.T) {
	rec := &recorder{}
	env, mic, _ := streamEnv(rec)
	mic.source.stopErr = errors.New("recorder already inactive")
	adapter := NewAdapter(env)

	require.NoError(t, adapter.StartListening(context.Background()))
	err := adapter.StopListening()
	assert.ErrorContains(t, err, "recorder already inactive")
	assert.Equal(t, []string{"source.stop", "channel.close", "source.release"}, rec.list())
	assert.False(t, adapter.IsListening())
}

func TestStreamBackendErrorEventReturnsToIdle(t *testing.T) {
	rec := &recorder{}
	env, _, channel := streamEnv(rec)

	var mu sync.Mutex
	var states []bool
	env.OnChange = func(_ string, listening bool) {
		mu.Lock()
		states = append(states, listening)
		mu.Unlock()
	}
	adapter := NewAdapter(env)

	require.NoError(t, adapter.StartListening(context.Background()))
	channel.events <- TranscriptEvent{Type: EventError, Message: "upstream closed"}

	assert.Eventually(t, func() bool { return !adapter.IsListening() }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return len(rec.list()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"source.stop", "channel.close", "source.release"}, rec.list())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	assert.False(t, states[len(states)-1])
}

func TestStreamBackendResetKeepsListening(t *testing.T) {
	rec := &recorder{}
	env, _, channel := streamEnv(rec)
	adapter := NewAdapter(env)

	require.NoError(t, adapter.StartListening(context.Background()))
	channel.events <- TranscriptEvent{Type: EventTranscript, Text: "hello", IsFinal: true}
	assert.Eventually(t, func() bool { return adapter.CurrentTranscript() == "hello" }, time.Second, 5*time.Millisecond)

	adapter.ResetTranscript()
	assert.Empty(t, adapter.CurrentTranscript())
	assert.True(t, adapter.IsListening())

	require.NoError(t, adapter.StopListening())
}
