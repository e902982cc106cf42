package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/conecoach/backend/audio"
)

const audioContentType = "audio/mpeg"

var errTTSUnavailable = errors.New("no speech provider configured")

// SpeechSynthesizer renders text to encoded audio
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

// AudioStore keeps rendered audio outside process memory
type AudioStore interface {
	Load(ctx context.Context, text, voiceID string) ([]byte, bool)
	Save(ctx context.Context, text, voiceID string, data []byte) error
}

type storeTier struct {
	name  string
	store AudioStore
}

// TTSService looks audio up in memory, then in the configured stores, and
// only then calls the provider.
type TTSService struct {
	provider SpeechSynthesizer
	cache    *audio.ResponseCache
	stores   []storeTier
	voiceID  string
	policy   retryPolicy
}

func NewTTSService(provider SpeechSynthesizer, cache *audio.ResponseCache, voiceID string, policy retryPolicy) *TTSService {
	return &TTSService{
		provider: provider,
		cache:    cache,
		voiceID:  voiceID,
		policy:   policy,
	}
}

// AddStore appends a persistent tier, consulted in the order added
func (s *TTSService) AddStore(name string, store AudioStore) {
	s.stores = append(s.stores, storeTier{name: name, store: store})
}

func (s *TTSService) VoiceID() string { return s.voiceID }

func (s *TTSService) Cache() *audio.ResponseCache { return s.cache }

// Available reports whether audio can be produced for uncached text
func (s *TTSService) Available() bool { return s.provider != nil }

// Speak returns audio for text, reporting whether it came from the memory cache
func (s *TTSService) Speak(ctx context.Context, text, voiceID string) (*audio.Clip, bool, error) {
	if voiceID == "" {
		voiceID = s.voiceID
	}

	if clip, ok := s.cache.Get(text, voiceID); ok {
		ttsCacheResults.WithLabelValues("memory", "hit").Inc()
		return clip, true, nil
	}
	ttsCacheResults.WithLabelValues("memory", "miss").Inc()

	clip, err := s.Synthesize(ctx, text, voiceID)
	if err != nil {
		return nil, false, err
	}
	s.cache.Put(text, voiceID, clip)
	return clip, false, nil
}

// Synthesize produces audio from the stores or the provider, without touching
// the memory cache
func (s *TTSService) Synthesize(ctx context.Context, text, voiceID string) (*audio.Clip, error) {
	if voiceID == "" {
		voiceID = s.voiceID
	}

	for _, tier := range s.stores {
		if data, ok := tier.store.Load(ctx, text, voiceID); ok {
			ttsCacheResults.WithLabelValues(tier.name, "hit").Inc()
			return audio.NewClip(data, audioContentType), nil
		}
		ttsCacheResults.WithLabelValues(tier.name, "miss").Inc()
	}

	if s.provider == nil {
		return nil, errTTSUnavailable
	}

	data, err := callWithRetry(ctx, s.policy, "tts", func(ctx context.Context) ([]byte, error) {
		return s.provider.Synthesize(ctx, text, voiceID)
	})
	if err != nil {
		return nil, err
	}

	for _, tier := range s.stores {
		if err := tier.store.Save(ctx, text, voiceID, data); err != nil {
			slog.Error("Failed to store audio", "tier", tier.name, "error", err)
		}
	}

	return audio.NewClip(data, audioContentType), nil
}

// Warm renders the given phrases ahead of time so the first session does not wait
func (s *TTSService) Warm(ctx context.Context, phrases ...string) {
	for _, text := range phrases {
		if _, _, err := s.Speak(ctx, text, ""); err != nil {
			slog.Warn("Failed to pre-render phrase", "error", err, "text_length", len(text))
		}
	}
}
