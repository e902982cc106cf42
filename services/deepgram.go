package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/conecoach/backend/capture"
	"github.com/gorilla/websocket"
)

const (
	deepgramListenURL = "wss://api.deepgram.com/v1/listen?model=nova-2&language=en-US&smart_format=true&interim_results=true&utterance_end_ms=1000&vad_events=true"

	deepgramKeepAlive = 8 * time.Second
	deepgramEventBuf  = 32
)

var errTranscriptionNotConfigured = errors.New("transcription service not configured")

// DeepgramTranscriber opens live transcription streams
type DeepgramTranscriber struct {
	apiKey string
	url    string
}

func NewDeepgramTranscriber(apiKey string) *DeepgramTranscriber {
	return &DeepgramTranscriber{apiKey: apiKey, url: deepgramListenURL}
}

func (d *DeepgramTranscriber) Configured() bool { return d != nil && d.apiKey != "" }

type deepgramMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
	Description string `json:"description"`
}

// Open dials the service. The connected event is queued as soon as the
// handshake succeeds.
func (d *DeepgramTranscriber) Open(ctx context.Context) (capture.Channel, error) {
	if !d.Configured() {
		return nil, errTranscriptionNotConfigured
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.apiKey)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, d.url, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to deepgram (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to deepgram: %w", err)
	}

	ch := &deepgramChannel{
		conn:   conn,
		events: make(chan capture.TranscriptEvent, deepgramEventBuf),
		done:   make(chan struct{}),
	}
	ch.events <- capture.TranscriptEvent{Type: capture.EventConnected}

	go ch.readLoop()
	go ch.keepAlive()

	slog.Info("Deepgram connection opened")
	return ch, nil
}

type deepgramChannel struct {
	conn   *websocket.Conn
	events chan capture.TranscriptEvent
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *deepgramChannel) Events() <-chan capture.TranscriptEvent { return c.events }

func (c *deepgramChannel) Send(chunk []byte) error {
	select {
	case <-c.done:
		return errors.New("deepgram connection closed")
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, chunk)
}

func (c *deepgramChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		if werr := c.conn.WriteJSON(map[string]string{"type": "CloseStream"}); werr != nil {
			slog.Debug("Failed to send CloseStream", "error", werr)
		}
		c.writeMu.Unlock()
		err = c.conn.Close()
		slog.Info("Deepgram connection closed")
	})
	return err
}

func (c *deepgramChannel) readLoop() {
	defer close(c.events)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.emit(capture.TranscriptEvent{Type: capture.EventError, Message: err.Error()})
			}
			return
		}

		ev, ok := parseDeepgramMessage(data)
		if ok {
			c.emit(ev)
		}
	}
}

func (c *deepgramChannel) emit(ev capture.TranscriptEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *deepgramChannel) keepAlive() {
	ticker := time.NewTicker(deepgramKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteJSON(map[string]string{"type": "KeepAlive"})
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// parseDeepgramMessage maps a service message to a transcript event. Results
// with an empty transcript and metadata messages are skipped.
func parseDeepgramMessage(data []byte) (capture.TranscriptEvent, bool) {
	var msg deepgramMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("Failed to parse deepgram message", "error", err)
		return capture.TranscriptEvent{}, false
	}

	switch msg.Type {
	case "Results":
		if len(msg.Channel.Alternatives) == 0 {
			return capture.TranscriptEvent{}, false
		}
		text := msg.Channel.Alternatives[0].Transcript
		if text == "" {
			return capture.TranscriptEvent{}, false
		}
		return capture.TranscriptEvent{Type: capture.EventTranscript, Text: text, IsFinal: msg.IsFinal}, true
	case "Error":
		return capture.TranscriptEvent{Type: capture.EventError, Message: msg.Description}, true
	}
	return capture.TranscriptEvent{}, false
}
