package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/conecoach/backend/audio"
	"github.com/conecoach/backend/capture"
	"github.com/conecoach/backend/models"
	"github.com/conecoach/backend/repository"
	"github.com/conecoach/backend/turn"
	ws "github.com/conecoach/backend/websocket"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	micOpenTimeout = 10 * time.Second
	actionBuffer   = 8
	chunkBuffer    = 64
)

var (
	errSessionClosed  = errors.New("voice session closed")
	errNotInitialized = errors.New("session not initialized")
)

// VoiceSessions serves the voice websocket. Each connection drives one turn
// controller; the browser only records, recognizes and plays what it is told to.
type VoiceSessions struct {
	repo         *repository.GORMRepository
	conversation *turn.Conversation
	scorer       turn.Scorer
	tts          *TTSService
	transcriber  *DeepgramTranscriber
	playback     *audio.Playback
	hub          *ws.Hub
	upgrader     websocket.Upgrader
}

type VoiceSessionsConfig struct {
	Repo         *repository.GORMRepository
	Conversation *turn.Conversation
	Scorer       turn.Scorer
	TTS          *TTSService
	Transcriber  *DeepgramTranscriber
	Playback     *audio.Playback
	Hub          *ws.Hub
	Upgrader     websocket.Upgrader
}

func NewVoiceSessions(cfg VoiceSessionsConfig) *VoiceSessions {
	return &VoiceSessions{
		repo:         cfg.Repo,
		conversation: cfg.Conversation,
		scorer:       cfg.Scorer,
		tts:          cfg.TTS,
		transcriber:  cfg.Transcriber,
		playback:     cfg.Playback,
		hub:          cfg.Hub,
		upgrader:     cfg.Upgrader,
	}
}

// client -> server
type voiceMessage struct {
	Type                string   `json:"type"`
	SupportsRecognition bool     `json:"supportsRecognition"`
	SupportsSynthesis   bool     `json:"supportsSynthesis"`
	MimeTypes           []string `json:"mimeTypes"`
	UserAgent           string   `json:"userAgent"`
	Confirmed           bool     `json:"confirmed"`
	Text                string   `json:"text"`
	IsFinal             bool     `json:"isFinal"`
	Message             string   `json:"message"`
	ID                  string   `json:"id"`
}

// server -> client
type voiceFrame struct {
	Type        string             `json:"type"`
	ID          string             `json:"id,omitempty"`
	Key         string             `json:"key,omitempty"`
	State       string             `json:"state,omitempty"`
	Text        string             `json:"text,omitempty"`
	Message     string             `json:"message,omitempty"`
	ContentType string             `json:"contentType,omitempty"`
	Audio       string             `json:"audio,omitempty"`
	Turn        *models.Transcript `json:"turn,omitempty"`
	Simulation  *models.Simulation `json:"simulation,omitempty"`
}

type captureConfigFrame struct {
	Type        string            `json:"type"`
	Backend     capture.Backend   `json:"backend"`
	MimeType    string            `json:"mimeType"`
	Constraints audio.Constraints `json:"constraints"`
	TimesliceMs int64             `json:"timesliceMs"`
}

func (v *VoiceSessions) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := simulationID(r)
	if err != nil {
		writeError(w, err, http.StatusNotFound, "Simulation not found")
		return
	}
	if _, err := v.repo.GetSimulation(r.Context(), id); err != nil {
		writeError(w, err, http.StatusInternalServerError, "Failed to get simulation")
		return
	}

	conn, err := v.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	client := v.hub.RegisterClient(conn, id)
	session := v.newSession(r.Context(), client)
	client.OnText = session.handleText
	client.OnBinary = session.handleBinary

	activeVoiceSessions.Inc()
	defer activeVoiceSessions.Dec()

	slog.Info("Voice session started", "session_id", client.SessionID, "simulation_id", id)

	go client.WritePump()
	go session.run()
	client.ReadPump()

	session.close()
	slog.Info("Voice session ended", "session_id", client.SessionID, "simulation_id", id)
}

type voiceAction struct {
	kind      string
	confirmed bool
}

type voiceSession struct {
	owner        *VoiceSessions
	client       *ws.Client
	simulationID uint
	logger       *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	actions chan voiceAction
	stopped chan struct{}

	// set once by hello, read by the worker after the first action
	controller *turn.Controller
	adapter    capture.Adapter
	recognizer *clientRecognizer
	mic        *clientMicrophone

	// clips the client currently holds
	registry *audio.ResponseCache

	mu        sync.Mutex
	ready     bool
	synthesis bool
	delivered map[string]bool
	pending   map[string]*clientPlayback
}

func (v *VoiceSessions) newSession(parent context.Context, client *ws.Client) *voiceSession {
	ctx, cancel := context.WithCancel(parent)
	s := &voiceSession{
		owner:        v,
		client:       client,
		simulationID: client.SimulationID,
		logger:       slog.Default().With("session_id", client.SessionID, "simulation_id", client.SimulationID),
		ctx:          ctx,
		cancel:       cancel,
		actions:      make(chan voiceAction, actionBuffer),
		stopped:      make(chan struct{}),
		registry:     audio.NewResponseCache(audio.ClientCachePrefix, audio.DefaultClientCapacity),
		delivered:    make(map[string]bool),
		pending:      make(map[string]*clientPlayback),
	}
	s.recognizer = &clientRecognizer{s: s}
	s.mic = &clientMicrophone{s: s}
	return s
}

// run executes user actions one at a time
func (s *voiceSession) run() {
	defer close(s.stopped)

	for action := range s.actions {
		switch action.kind {
		case "mic":
			err := s.controller.PressMic(s.ctx)
			if errors.Is(err, turn.ErrBusy) || errors.Is(err, turn.ErrScored) {
				s.sendError(err)
			}
		case "end":
			_, err := s.controller.End(s.ctx, action.confirmed)
			if errors.Is(err, turn.ErrNotConfirmed) || errors.Is(err, turn.ErrScored) {
				s.sendError(err)
			}
		}
	}
}

func (s *voiceSession) close() {
	s.cancel()
	close(s.actions)
	<-s.stopped

	if s.adapter != nil {
		if err := s.adapter.StopListening(); err != nil {
			s.logger.Warn("Failed to stop capture on close", "error", err)
		}
	}
	if s.controller != nil {
		s.controller.Wait()
	}

	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string]*clientPlayback)
	s.mu.Unlock()
	for _, p := range pending {
		p.finish(errSessionClosed)
	}

	s.registry.Clear()
}

func (s *voiceSession) send(frame any) {
	if err := s.client.SendJSON(frame); err != nil && !errors.Is(err, ws.ErrClientClosed) {
		s.logger.Error("Failed to send frame", "error", err)
	}
}

// sendControl is for frames sent while tearing down, where a closed client is expected
func (s *voiceSession) sendControl(frame any) error {
	if err := s.client.SendJSON(frame); err != nil && !errors.Is(err, ws.ErrClientClosed) {
		return err
	}
	return nil
}

func (s *voiceSession) sendError(err error) {
	s.send(voiceFrame{Type: "error", Message: err.Error()})
}

func (s *voiceSession) handleText(_ *ws.Client, data []byte) {
	var msg voiceMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Error("Failed to unmarshal voice message", "error", err)
		return
	}

	if msg.Type == "hello" {
		s.hello(msg)
		return
	}

	s.mu.Lock()
	ready := s.ready
	s.mu.Unlock()
	if !ready {
		s.sendError(errNotInitialized)
		return
	}

	switch msg.Type {
	case "mic":
		s.enqueue(voiceAction{kind: "mic"})
	case "end":
		s.enqueue(voiceAction{kind: "end", confirmed: msg.Confirmed})
	case "speech":
		s.recognizer.result(msg.Text, msg.IsFinal)
	case "recognition_end":
		s.recognizer.ended(msg.Message)
	case "mic_ready":
		s.mic.opened(nil)
	case "mic_error":
		s.mic.failed(msg.Message)
	case "playback_ended", "synthesis_ended":
		s.resolve(msg.ID, nil)
	case "playback_error", "synthesis_error":
		s.resolve(msg.ID, errors.New(msg.Message))
	default:
		s.logger.Warn("Unknown voice message type", "type", msg.Type)
	}
}

func (s *voiceSession) handleBinary(_ *ws.Client, data []byte) {
	s.mic.chunk(data)
}

func (s *voiceSession) enqueue(action voiceAction) {
	select {
	case s.actions <- action:
	default:
		s.sendError(turn.ErrBusy)
	}
}

// hello picks the capture backend from what the client reports and builds
// the controller for this connection
func (s *voiceSession) hello(msg voiceMessage) {
	s.mu.Lock()
	if s.ready {
		s.mu.Unlock()
		s.logger.Warn("Ignoring repeated hello")
		return
	}
	s.synthesis = msg.SupportsSynthesis
	s.mu.Unlock()

	format := audio.SelectRecordingFormat(audio.SupportedFormats(msg.MimeTypes))
	constraints := audio.SelectConstraints(audio.IsConstrainedMobile(msg.UserAgent))

	env := capture.Environment{
		Microphone:  s.mic,
		Format:      format,
		Constraints: constraints,
		Logger:      s.logger,
		OnChange: func(text string, listening bool) {
			s.controller.CaptureChanged(text, listening)
		},
	}
	if msg.SupportsRecognition {
		env.Recognizer = s.recognizer
	}
	if s.owner.transcriber.Configured() {
		env.Transcriber = s.owner.transcriber
	}
	s.adapter = capture.NewAdapter(env)

	voiceID := ""
	var synth turn.Synthesizer
	if s.owner.tts != nil {
		voiceID = s.owner.tts.VoiceID()
		synth = sharedSynthesizer{tts: s.owner.tts}
	}
	speaker := turn.NewVoice(turn.VoiceConfig{
		Cache:       s.registry,
		Synthesizer: synth,
		Player:      clientPlayer{s: s},
		Fallback:    clientFallback{s: s},
		Playback:    s.owner.playback,
		VoiceID:     voiceID,
		Logger:      s.logger,
	})

	s.controller = turn.New(turn.Config{
		SimulationID: s.simulationID,
		Capture:      s.adapter,
		Conversation: s.owner.conversation,
		Speaker:      speaker,
		Scorer:       s.owner.scorer,
		Observer:     s.observe,
		Logger:       s.logger,
	})

	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()

	s.logger.Info("Voice session configured", "backend", s.adapter.Backend(), "mime_type", format)
	s.send(captureConfigFrame{
		Type:        "capture_config",
		Backend:     s.adapter.Backend(),
		MimeType:    format,
		Constraints: constraints,
		TimesliceMs: audio.ChunkInterval.Milliseconds(),
	})
	s.send(voiceFrame{Type: "state", State: s.controller.State().String()})
}

// observe maps controller events to client frames
func (s *voiceSession) observe(ev turn.Event) {
	switch ev.Type {
	case turn.EventState:
		s.send(voiceFrame{Type: "state", State: ev.State.String()})
	case turn.EventTurn:
		turnsTotal.WithLabelValues(ev.Turn.Role).Inc()
		s.send(voiceFrame{Type: "turn", Turn: ev.Turn})
	case turn.EventTranscript:
		s.send(voiceFrame{Type: "transcript", Text: ev.Text})
	case turn.EventError:
		s.sendError(ev.Err)
	case turn.EventScored:
		s.send(voiceFrame{Type: "scored", Simulation: ev.Simulation})
	}
}

func (s *voiceSession) track(p *clientPlayback) {
	s.mu.Lock()
	s.pending[p.id] = p
	s.mu.Unlock()
}

func (s *voiceSession) resolve(id string, err error) {
	s.mu.Lock()
	p, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()

	if !ok {
		return
	}
	p.finish(err)
}

// clientPlayback is audio or speech the client has been told to produce
type clientPlayback struct {
	s         *voiceSession
	id        string
	stopFrame string
	done      chan error
	once      sync.Once
}

func (s *voiceSession) newPlayback(stopFrame string) *clientPlayback {
	p := &clientPlayback{
		s:         s,
		id:        uuid.New().String(),
		stopFrame: stopFrame,
		done:      make(chan error, 1),
	}
	s.track(p)
	return p
}

func (p *clientPlayback) finish(err error) {
	p.once.Do(func() { p.done <- err })
}

func (p *clientPlayback) Stop() {
	p.s.mu.Lock()
	_, active := p.s.pending[p.id]
	delete(p.s.pending, p.id)
	p.s.mu.Unlock()

	if active {
		p.s.send(voiceFrame{Type: p.stopFrame, ID: p.id})
	}
	p.finish(audio.ErrStopped)
}

func (p *clientPlayback) Wait(ctx context.Context) error {
	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.s.ctx.Done():
		return errSessionClosed
	}
}

// sharedSynthesizer renders through the process-wide cache and hands the
// session its own copy of the clip, so release hooks never cross sessions
type sharedSynthesizer struct {
	tts *TTSService
}

func (s sharedSynthesizer) Synthesize(ctx context.Context, text, voiceID string) (*audio.Clip, error) {
	clip, _, err := s.tts.Speak(ctx, text, voiceID)
	if err != nil {
		return nil, err
	}
	return audio.NewClip(clip.Data, clip.ContentType), nil
}

// clientPlayer sends clips to the client. Audio bytes go over the wire only
// the first time; afterwards the client replays its copy by key.
type clientPlayer struct {
	s *voiceSession
}

func (c clientPlayer) Play(ctx context.Context, text, voiceID string, clip *audio.Clip) (turn.Playing, error) {
	s := c.s
	key := s.registry.Fingerprint(text, voiceID)
	frame := voiceFrame{Type: "play", Key: key, ContentType: clip.ContentType}

	s.mu.Lock()
	if !s.delivered[key] {
		s.delivered[key] = true
		frame.Audio = base64.StdEncoding.EncodeToString(clip.Data)
		clip.OnRelease(func() {
			s.mu.Lock()
			delete(s.delivered, key)
			s.mu.Unlock()
			s.send(voiceFrame{Type: "release", Key: key})
		})
	}
	s.mu.Unlock()

	p := s.newPlayback("stop_playback")
	frame.ID = p.id
	if err := s.client.SendJSON(frame); err != nil {
		s.resolve(p.id, err)
		return nil, err
	}
	return p, nil
}

// clientFallback asks the client to speak with its own synthesizer
type clientFallback struct {
	s *voiceSession
}

func (c clientFallback) Speak(ctx context.Context, text string) (turn.Playing, error) {
	s := c.s
	s.mu.Lock()
	supported := s.synthesis
	s.mu.Unlock()
	if !supported {
		return nil, turn.ErrSynthesisUnavailable
	}

	p := s.newPlayback("cancel_speech")
	if err := s.client.SendJSON(voiceFrame{Type: "speak", ID: p.id, Text: text}); err != nil {
		s.resolve(p.id, err)
		return nil, err
	}
	return p, nil
}

// clientRecognizer is speech recognition running in the browser
type clientRecognizer struct {
	s *voiceSession

	mu       sync.Mutex
	active   bool
	onResult func(string, bool)
	onEnd    func(error)
}

func (r *clientRecognizer) Start(ctx context.Context, onResult func(text string, final bool), onEnd func(err error)) error {
	r.mu.Lock()
	r.active = true
	r.onResult = onResult
	r.onEnd = onEnd
	r.mu.Unlock()

	if err := r.s.client.SendJSON(voiceFrame{Type: "recognition_start"}); err != nil {
		r.mu.Lock()
		r.active = false
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *clientRecognizer) Stop() error {
	r.mu.Lock()
	r.active = false
	r.mu.Unlock()
	return r.s.sendControl(voiceFrame{Type: "recognition_stop"})
}

func (r *clientRecognizer) result(text string, final bool) {
	r.mu.Lock()
	cb := r.onResult
	active := r.active
	r.mu.Unlock()

	if active && cb != nil {
		cb(text, final)
	}
}

func (r *clientRecognizer) ended(message string) {
	r.mu.Lock()
	cb := r.onEnd
	active := r.active
	r.active = false
	r.mu.Unlock()

	if !active || cb == nil {
		return
	}
	var err error
	if message != "" {
		err = errors.New(message)
	}
	cb(err)
}

// clientMicrophone records on the client and receives chunks as binary frames
type clientMicrophone struct {
	s *voiceSession

	mu      sync.Mutex
	waiting chan error
	source  *clientSource
}

type micOpenFrame struct {
	Type        string            `json:"type"`
	MimeType    string            `json:"mimeType"`
	Constraints audio.Constraints `json:"constraints"`
	TimesliceMs int64             `json:"timesliceMs"`
}

func (m *clientMicrophone) Open(ctx context.Context, cfg capture.CaptureConfig) (capture.AudioSource, error) {
	wait := make(chan error, 1)
	m.mu.Lock()
	m.waiting = wait
	m.mu.Unlock()

	err := m.s.client.SendJSON(micOpenFrame{
		Type:        "mic_open",
		MimeType:    cfg.Format,
		Constraints: cfg.Constraints,
		TimesliceMs: cfg.Timeslice.Milliseconds(),
	})
	if err == nil {
		timer := time.NewTimer(micOpenTimeout)
		defer timer.Stop()

		select {
		case err = <-wait:
		case <-ctx.Done():
			err = ctx.Err()
		case <-m.s.ctx.Done():
			err = errSessionClosed
		case <-timer.C:
			err = errors.New("microphone did not open in time")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.waiting = nil
	if err != nil {
		return nil, err
	}

	src := &clientSource{m: m, chunks: make(chan []byte, chunkBuffer)}
	m.source = src
	return src, nil
}

func (m *clientMicrophone) opened(err error) {
	m.mu.Lock()
	wait := m.waiting
	m.waiting = nil
	m.mu.Unlock()

	if wait != nil {
		wait <- err
	}
}

// failed either rejects a pending open or ends a running recording
func (m *clientMicrophone) failed(message string) {
	m.mu.Lock()
	wait := m.waiting
	m.waiting = nil
	src := m.source
	m.mu.Unlock()

	if wait != nil {
		wait <- errors.New(message)
		return
	}
	if src != nil {
		src.end()
	}
}

func (m *clientMicrophone) chunk(data []byte) {
	m.mu.Lock()
	src := m.source
	m.mu.Unlock()

	if src != nil {
		src.push(data)
	}
}

type clientSource struct {
	m *clientMicrophone

	mu      sync.Mutex
	chunks  chan []byte
	stopped bool
	ended   bool
}

func (c *clientSource) Chunks() <-chan []byte { return c.chunks }

func (c *clientSource) push(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.ended {
		return
	}
	select {
	case c.chunks <- data:
	default:
		c.m.s.logger.Warn("Dropped audio chunk, consumer too slow", "size", len(data))
	}
}

func (c *clientSource) end() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ended {
		c.ended = true
		close(c.chunks)
	}
}

func (c *clientSource) Stop() error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	return c.m.s.sendControl(voiceFrame{Type: "mic_stop"})
}

func (c *clientSource) Release() error {
	c.end()
	c.m.mu.Lock()
	if c.m.source == c {
		c.m.source = nil
	}
	c.m.mu.Unlock()
	return c.m.s.sendControl(voiceFrame{Type: "mic_release"})
}
