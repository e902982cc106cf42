package services

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/conecoach/backend/capture"
	"github.com/gorilla/websocket"
)

// TranscriptionProxy relays raw client audio to the transcription service and
// transcripts back to the client
type TranscriptionProxy struct {
	transcriber *DeepgramTranscriber
	upgrader    websocket.Upgrader
}

func NewTranscriptionProxy(transcriber *DeepgramTranscriber, upgrader websocket.Upgrader) *TranscriptionProxy {
	return &TranscriptionProxy{transcriber: transcriber, upgrader: upgrader}
}

func (p *TranscriptionProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if !p.transcriber.Configured() {
		slog.Error("Transcription requested but no API key configured")
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Transcription service not configured")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		return
	}

	slog.Info("Client connected to transcription proxy")

	channel, err := p.transcriber.Open(r.Context())
	if err != nil {
		slog.Error("Failed to open transcription channel", "error", err)
		conn.WriteJSON(capture.TranscriptEvent{Type: capture.EventError, Message: err.Error()})
		return
	}
	defer channel.Close()

	var writeMu sync.Mutex
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		for ev := range channel.Events() {
			writeMu.Lock()
			err := conn.WriteJSON(ev)
			writeMu.Unlock()
			if err != nil {
				slog.Debug("Failed to relay transcript", "error", err)
				return
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("Transcription client error", "error", err)
			}
			break
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if err := channel.Send(data); err != nil {
			slog.Debug("Dropped audio chunk", "error", err, "size", len(data))
		}
	}

	channel.Close()
	<-relayDone
	slog.Info("Client disconnected from transcription proxy")
}
