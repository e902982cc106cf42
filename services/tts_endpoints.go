package services

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/conecoach/backend/audio"
	"github.com/go-chi/chi/v5"
)

type TTSEndpoints struct {
	tts     *TTSService
	phrases *audio.PhraseStore
	auth    *AuthService
}

func NewTTSEndpoints(tts *TTSService, phrases *audio.PhraseStore, auth *AuthService) *TTSEndpoints {
	return &TTSEndpoints{tts: tts, phrases: phrases, auth: auth}
}

type TTSRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId,omitempty"`
}

type TTSCacheStats struct {
	MemoryEntries int   `json:"memoryEntries"`
	PhraseFiles   int   `json:"phraseFiles"`
	PhraseBytes   int64 `json:"phraseBytes"`
}

func (e *TTSEndpoints) RegisterRoutes(r chi.Router) {
	r.Post("/tts", e.SpeakHandler)

	r.Route("/admin/tts-cache", func(r chi.Router) {
		r.Use(e.auth.Middleware)
		r.Get("/", e.CacheStatsHandler)
		r.Delete("/", e.ClearCacheHandler)
	})
}

// SpeakHandler returns MP3 audio for the text, served from cache when possible
func (e *TTSEndpoints) SpeakHandler(w http.ResponseWriter, r *http.Request) {
	var req TTSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, invalid("text is required"), http.StatusBadRequest, "")
		return
	}

	clip, hit, err := e.tts.Speak(r.Context(), text, req.VoiceID)
	if err != nil {
		if errors.Is(err, errTTSUnavailable) {
			slog.Error("Speech requested but no provider configured")
		} else {
			slog.Error("Failed to synthesize speech", "error", err, "text_length", len(text))
		}
		writeMessage(w, http.StatusInternalServerError, "Failed to generate speech")
		return
	}

	cacheHeader := "MISS"
	if hit {
		cacheHeader = "HIT"
	}

	w.Header().Set("Content-Type", clip.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(clip.Data)))
	w.Header().Set("X-Cache", cacheHeader)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(clip.Data); err != nil {
		slog.Debug("Failed to write audio response", "error", err)
	}
}

func (e *TTSEndpoints) CacheStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := TTSCacheStats{MemoryEntries: e.tts.Cache().Len()}
	if e.phrases != nil {
		count, size, err := e.phrases.Stats()
		if err != nil {
			slog.Error("Failed to read phrase store", "error", err)
			writeMessage(w, http.StatusInternalServerError, "Failed to read cache")
			return
		}
		stats.PhraseFiles = count
		stats.PhraseBytes = size
	}
	writeJSON(w, http.StatusOK, stats)
}

func (e *TTSEndpoints) ClearCacheHandler(w http.ResponseWriter, r *http.Request) {
	e.tts.Cache().Clear()
	if e.phrases != nil {
		if err := e.phrases.Clear(); err != nil {
			slog.Error("Failed to clear phrase store", "error", err)
			writeMessage(w, http.StatusInternalServerError, "Failed to clear cache")
			return
		}
	}

	slog.Info("TTS cache cleared")
	writeMessage(w, http.StatusOK, "Cache cleared")
}
