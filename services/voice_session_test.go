package services

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/conecoach/backend/audio"
	"github.com/conecoach/backend/models"
	"github.com/conecoach/backend/scoring"
	"github.com/conecoach/backend/turn"
	ws "github.com/conecoach/backend/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// receivedFrame is the union of every frame the voice socket sends
type receivedFrame struct {
	Type        string             `json:"type"`
	ID          string             `json:"id"`
	Key         string             `json:"key"`
	State       string             `json:"state"`
	Text        string             `json:"text"`
	Message     string             `json:"message"`
	ContentType string             `json:"contentType"`
	Audio       string             `json:"audio"`
	Backend     string             `json:"backend"`
	MimeType    string             `json:"mimeType"`
	TimesliceMs int64              `json:"timesliceMs"`
	Constraints audio.Constraints  `json:"constraints"`
	Turn        *models.Transcript `json:"turn"`
	Simulation  *models.Simulation `json:"simulation"`
}

type voiceServer struct {
	api *testAPI
	url string
}

func newVoiceServer(t *testing.T, transcriber *DeepgramTranscriber) *voiceServer {
	t.Helper()

	api := newTestAPI(t, nil)
	hub := ws.NewHub()
	go hub.Run()

	sessions := NewVoiceSessions(VoiceSessionsConfig{
		Repo:         api.repo,
		Conversation: turn.NewConversation(api.repo, api.model),
		Scorer:       scoring.NewOrchestrator(scoring.Config{Store: api.repo, Judge: api.model, TruthSet: "{}"}),
		TTS:          api.tts,
		Transcriber:  transcriber,
		Playback:     audio.NewPlayback(),
		Hub:          hub,
		Upgrader:     websocket.Upgrader{},
	})

	router := chi.NewRouter()
	router.Handle("/ws/simulations/{id}/voice", sessions)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &voiceServer{api: api, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

type voiceClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (v *voiceServer) connect(t *testing.T, simID uint) *voiceClient {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s/ws/simulations/%d/voice", v.url, simID), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &voiceClient{t: t, conn: conn}
}

func (c *voiceClient) send(msg map[string]any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(msg))
}

func (c *voiceClient) next() receivedFrame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var f receivedFrame
	require.NoError(c.t, c.conn.ReadJSON(&f))
	return f
}

// expect reads the next frame and checks its type
func (c *voiceClient) expect(frameType string) receivedFrame {
	c.t.Helper()
	f := c.next()
	require.Equal(c.t, frameType, f.Type, "frame: %+v", f)
	return f
}

func (c *voiceClient) expectState(state string) {
	c.t.Helper()
	f := c.expect("state")
	require.Equal(c.t, state, f.State)
}

func TestVoiceSessionNativeConversation(t *testing.T) {
	server := newVoiceServer(t, nil)
	server.api.model.replies = []string{"Go on."}
	sim := server.api.createSimulation(t, "Jordan")
	client := server.connect(t, sim.ID)

	client.send(map[string]any{
		"type":                "hello",
		"supportsRecognition": true,
		"mimeTypes":           []string{"audio/webm"},
		"userAgent":           "Mozilla/5.0 (Macintosh)",
	})
	cfg := client.expect("capture_config")
	assert.Equal(t, "native", cfg.Backend)
	assert.Equal(t, "audio/webm", cfg.MimeType)
	assert.Equal(t, int64(250), cfg.TimesliceMs)
	assert.Equal(t, 16000, cfg.Constraints.SampleRate)
	client.expectState("idle")

	// first turn
	client.send(map[string]any{"type": "mic"})
	client.expect("recognition_start")
	client.expectState("listening")

	client.send(map[string]any{"type": "speech", "text": "We ream only.", "isFinal": true})
	assert.Equal(t, "We ream only.", client.expect("transcript").Text)

	client.send(map[string]any{"type": "mic"})
	client.expect("recognition_stop")
	client.expect("transcript")
	client.expectState("awaiting_reply")

	user := client.expect("turn")
	require.NotNil(t, user.Turn)
	assert.Equal(t, models.RoleUser, user.Turn.Role)
	assert.Equal(t, "We ream only.", user.Turn.Content)

	reply := client.expect("turn")
	require.NotNil(t, reply.Turn)
	assert.Equal(t, models.RoleAssistant, reply.Turn.Role)
	assert.Equal(t, "Go on.", reply.Turn.Content)
	client.expectState("speaking")

	play := client.expect("play")
	assert.True(t, strings.HasPrefix(play.Key, audio.ClientCachePrefix), play.Key)
	assert.Equal(t, "audio/mpeg", play.ContentType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("mp3:Go on.")), play.Audio)

	client.send(map[string]any{"type": "playback_ended", "id": play.ID})
	client.expectState("idle")

	// second turn with the same reply replays the clip the client already holds
	client.send(map[string]any{"type": "mic"})
	client.expect("recognition_start")
	client.expectState("listening")
	client.send(map[string]any{"type": "speech", "text": "Tell me more.", "isFinal": true})
	client.expect("transcript")
	client.send(map[string]any{"type": "mic"})
	client.expect("recognition_stop")
	client.expect("transcript")
	client.expectState("awaiting_reply")
	client.expect("turn")
	client.expect("turn")
	client.expectState("speaking")

	replay := client.expect("play")
	assert.Equal(t, play.Key, replay.Key)
	assert.Empty(t, replay.Audio)
	assert.NotEqual(t, play.ID, replay.ID)
	assert.Equal(t, 1, server.api.speech.Calls())
	assert.Equal(t, 1, server.api.tts.Cache().Len())

	client.send(map[string]any{"type": "playback_ended", "id": replay.ID})
	client.expectState("idle")

	// ending needs confirmation
	client.send(map[string]any{"type": "end"})
	assert.Equal(t, turn.ErrNotConfirmed.Error(), client.expect("error").Message)

	client.send(map[string]any{"type": "end", "confirmed": true})
	client.expectState("scored")
	scored := client.expect("scored")
	require.NotNil(t, scored.Simulation)
	require.NotNil(t, scored.Simulation.Score)
	assert.Equal(t, 70, *scored.Simulation.Score)

	client.send(map[string]any{"type": "mic"})
	assert.Equal(t, turn.ErrScored.Error(), client.expect("error").Message)

	turns, err := server.api.repo.GetTranscripts(t.Context(), sim.ID)
	require.NoError(t, err)
	assert.Len(t, turns, 5)
}

// speakTurn runs one native turn and returns the play frame of the reply
func (c *voiceClient) speakTurn(text string) receivedFrame {
	c.t.Helper()
	c.send(map[string]any{"type": "mic"})
	c.expect("recognition_start")
	c.expectState("listening")
	c.send(map[string]any{"type": "speech", "text": text, "isFinal": true})
	c.expect("transcript")
	c.send(map[string]any{"type": "mic"})
	c.expect("recognition_stop")
	c.expect("transcript")
	c.expectState("awaiting_reply")
	c.expect("turn")
	c.expect("turn")
	c.expectState("speaking")
	play := c.expect("play")
	c.send(map[string]any{"type": "playback_ended", "id": play.ID})
	c.expectState("idle")
	return play
}

func TestVoiceSessionsShareSynthesizedSpeech(t *testing.T) {
	server := newVoiceServer(t, nil)
	hello := map[string]any{"type": "hello", "supportsRecognition": true, "mimeTypes": []string{"audio/webm"}}

	var plays []receivedFrame
	for _, name := range []string{"Jordan", "Riley"} {
		sim := server.api.createSimulation(t, name)
		client := server.connect(t, sim.ID)
		client.send(hello)
		client.expect("capture_config")
		client.expectState("idle")
		plays = append(plays, client.speakTurn("Why switch?"))
	}

	// each session receives the audio once, the provider renders it once
	want := base64.StdEncoding.EncodeToString([]byte("mp3:Go on."))
	for _, play := range plays {
		assert.Equal(t, want, play.Audio)
	}
	assert.Equal(t, plays[0].Key, plays[1].Key)
	assert.Equal(t, 1, server.api.speech.Calls())
	assert.Equal(t, 1, server.api.tts.Cache().Len())
}

func TestSharedSynthesizerCopiesClips(t *testing.T) {
	api := newTestAPI(t, nil)
	synth := sharedSynthesizer{tts: api.tts}

	first, err := synth.Synthesize(t.Context(), "Go on.", "voice")
	require.NoError(t, err)
	second, err := synth.Synthesize(t.Context(), "Go on.", "voice")
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, 1, api.speech.Calls())

	// releasing one session's copy leaves the shared entry alone
	released := false
	first.OnRelease(func() { released = true })
	first.Release()
	assert.True(t, released)
	assert.Equal(t, 1, api.tts.Cache().Len())
}

func TestVoiceSessionStreamingCapture(t *testing.T) {
	fake, url := newFakeDeepgram(t)
	server := newVoiceServer(t, &DeepgramTranscriber{apiKey: "dg-key", url: url})
	sim := server.api.createSimulation(t, "Jordan")
	client := server.connect(t, sim.ID)

	client.send(map[string]any{
		"type":      "hello",
		"mimeTypes": []string{"audio/mp4"},
		"userAgent": "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)",
	})
	cfg := client.expect("capture_config")
	assert.Equal(t, "stream", cfg.Backend)
	assert.Equal(t, 48000, cfg.Constraints.SampleRate)
	client.expectState("idle")

	client.send(map[string]any{"type": "mic"})
	open := client.expect("mic_open")
	assert.Equal(t, "audio/mp4", open.MimeType)
	client.send(map[string]any{"type": "mic_ready"})
	client.expectState("listening")

	require.NoError(t, client.conn.WriteMessage(websocket.BinaryMessage, []byte("mp4-chunk")))
	assert.Equal(t, []byte("mp4-chunk"), <-fake.chunks)
	assert.Equal(t, "hello doctor", client.expect("transcript").Text)

	client.send(map[string]any{"type": "mic"})
	client.expect("mic_stop")
	client.expect("mic_release")
	client.expect("transcript")
	client.expectState("awaiting_reply")

	user := client.expect("turn")
	require.NotNil(t, user.Turn)
	assert.Equal(t, "hello doctor", user.Turn.Content)
}

func TestVoiceSessionMicrophoneDenied(t *testing.T) {
	fake, url := newFakeDeepgram(t)
	server := newVoiceServer(t, &DeepgramTranscriber{apiKey: "dg-key", url: url})
	sim := server.api.createSimulation(t, "Jordan")
	client := server.connect(t, sim.ID)

	client.send(map[string]any{"type": "hello"})
	client.expect("capture_config")
	client.expectState("idle")

	client.send(map[string]any{"type": "mic"})
	client.expect("mic_open")
	client.send(map[string]any{"type": "mic_error", "message": "Permission denied"})

	errFrame := client.expect("error")
	assert.Contains(t, errFrame.Message, "Permission denied")

	// nothing was dialed for a microphone that never opened
	select {
	case <-fake.auth:
		t.Fatal("transcription channel opened without a microphone")
	default:
	}
}

func TestVoiceSessionRequiresHello(t *testing.T) {
	server := newVoiceServer(t, nil)
	sim := server.api.createSimulation(t, "Jordan")
	client := server.connect(t, sim.ID)

	client.send(map[string]any{"type": "mic"})
	assert.Equal(t, errNotInitialized.Error(), client.expect("error").Message)
}

func TestVoiceSessionUnknownSimulation(t *testing.T) {
	server := newVoiceServer(t, nil)

	_, resp, err := websocket.DefaultDialer.Dial(server.url+"/ws/simulations/999/voice", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
