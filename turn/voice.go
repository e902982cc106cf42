package turn

import (
	"context"
	"errors"
	"log/slog"

	"github.com/conecoach/backend/audio"
)

// ErrSynthesisUnavailable is returned by a Fallback that cannot speak on this device
var ErrSynthesisUnavailable = errors.New("speech synthesis unavailable")

// Synthesizer turns text into audio
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (*audio.Clip, error)
}

// Playing is audio that has started. Wait returns when it finishes or is stopped.
type Playing interface {
	audio.Source
	Wait(ctx context.Context) error
}

// Player plays synthesized clips
type Player interface {
	Play(ctx context.Context, text, voiceID string, clip *audio.Clip) (Playing, error)
}

// Fallback speaks text with on-device synthesis
type Fallback interface {
	Speak(ctx context.Context, text string) (Playing, error)
}

// Outcome records how an utterance was voiced
type Outcome string

const (
	OutcomeAudio     Outcome = "audio"
	OutcomeSynthesis Outcome = "synthesis"
	OutcomeSkipped   Outcome = "skipped"
)

// Voice speaks replies: cached or synthesized audio first, on-device synthesis
// when that fails, silence when neither works.
type Voice struct {
	cache    *audio.ResponseCache
	synth    Synthesizer
	player   Player
	fallback Fallback
	playback *audio.Playback
	voiceID  string
	logger   *slog.Logger
}

type VoiceConfig struct {
	Cache       *audio.ResponseCache
	Synthesizer Synthesizer
	Player      Player
	Fallback    Fallback
	Playback    *audio.Playback
	VoiceID     string
	Logger      *slog.Logger
}

func NewVoice(cfg VoiceConfig) *Voice {
	if cfg.Playback == nil {
		cfg.Playback = audio.NewPlayback()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Voice{
		cache:    cfg.Cache,
		synth:    cfg.Synthesizer,
		player:   cfg.Player,
		fallback: cfg.Fallback,
		playback: cfg.Playback,
		voiceID:  cfg.VoiceID,
		logger:   cfg.Logger,
	}
}

// Speak blocks until the utterance has been voiced or skipped. It never fails the turn.
func (v *Voice) Speak(ctx context.Context, text string) Outcome {
	v.playback.StopCurrent()

	err := v.playAudio(ctx, text)
	if err == nil || errors.Is(err, audio.ErrStopped) {
		return OutcomeAudio
	}
	if ctx.Err() != nil {
		return OutcomeSkipped
	}
	v.logger.Warn("Audio playback failed, falling back to speech synthesis", "error", err)

	if v.fallback == nil {
		v.logger.Info("Speech synthesis not available, skipping audio")
		return OutcomeSkipped
	}
	playing, err := v.fallback.Speak(ctx, text)
	if err != nil {
		v.logger.Info("Speech synthesis failed, skipping audio", "error", err)
		return OutcomeSkipped
	}
	if err := v.track(ctx, playing); err != nil && !errors.Is(err, audio.ErrStopped) {
		v.logger.Debug("Speech synthesis interrupted", "error", err)
	}
	return OutcomeSynthesis
}

// Stop halts whatever is currently playing
func (v *Voice) Stop() {
	v.playback.StopCurrent()
}

func (v *Voice) playAudio(ctx context.Context, text string) error {
	if v.player == nil {
		return errors.New("no audio player")
	}

	var clip *audio.Clip
	if v.cache != nil {
		clip, _ = v.cache.Get(text, v.voiceID)
	}
	if clip == nil {
		if v.synth == nil {
			return errors.New("no speech synthesizer")
		}
		var err error
		clip, err = v.synth.Synthesize(ctx, text, v.voiceID)
		if err != nil {
			return err
		}
		if v.cache != nil {
			v.cache.Put(text, v.voiceID, clip)
		}
	}

	playing, err := v.player.Play(ctx, text, v.voiceID, clip)
	if err != nil {
		return err
	}
	return v.track(ctx, playing)
}

func (v *Voice) track(ctx context.Context, playing Playing) error {
	v.playback.Begin(playing)
	defer v.playback.End(playing)
	return playing.Wait(ctx)
}
