package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/conecoach/backend/audio"
	"github.com/conecoach/backend/repository"
	"github.com/conecoach/backend/scoring"
	"github.com/conecoach/backend/truthset"
	"github.com/conecoach/backend/turn"
	ws "github.com/conecoach/backend/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

// LanguageModel is a collaborator that can both play the physician and grade
type LanguageModel interface {
	turn.Responder
	scoring.Judge
}

// Server holds all server dependencies
type Server struct {
	config   *Config
	repo     *repository.GORMRepository
	upgrader websocket.Upgrader

	llm          LanguageModel
	tts          *TTSService
	phrases      *audio.PhraseStore
	redisStore   *RedisAudioStore
	transcriber  *DeepgramTranscriber
	reports      *ReportDispatcher
	orchestrator *scoring.Orchestrator
	conversation *turn.Conversation
	playback     *audio.Playback
	authService  *AuthService
	wsHub        *ws.Hub

	simulationEndpoints *SimulationEndpoints
	ttsEndpoints        *TTSEndpoints
	voiceSessions       *VoiceSessions
	transcriptionProxy  *TranscriptionProxy
}

func NewServer(config *Config) *Server {
	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return CheckOrigin(r, config.WebSocket.AllowedOrigins)
			},
		},
	}
}

func (s *Server) SetDatabase(repo *repository.GORMRepository) {
	s.repo = repo
}

// InitializeServices builds every collaborator from config. Missing keys
// disable the feature that needs them rather than failing startup.
func (s *Server) InitializeServices(ctx context.Context) error {
	ts, err := truthset.Load(s.config.TruthSetPath)
	if err != nil {
		return fmt.Errorf("failed to load truth set: %w", err)
	}

	policy := newRetryPolicy(s.config.Collaborator)

	llm, err := s.newLanguageModel(ctx, PersonaPrompt(ts), policy)
	if err != nil {
		return err
	}
	s.llm = llm

	s.initTTS(ctx, policy)

	s.transcriber = NewDeepgramTranscriber(s.config.Deepgram.APIKey)
	if s.transcriber.Configured() {
		slog.Info("Deepgram transcription initialized")
	}

	s.reports = NewReportDispatcher(s.reportSinks(ctx)...)
	s.authService = NewAuthService(s.config.Admin)
	if s.authService.Enabled() {
		slog.Info("Admin authentication enabled")
	}

	s.playback = audio.NewPlayback()
	s.wsHub = ws.NewHub()
	go s.wsHub.Run()

	s.ttsEndpoints = NewTTSEndpoints(s.tts, s.phrases, s.authService)
	s.transcriptionProxy = NewTranscriptionProxy(s.transcriber, s.upgrader)

	if s.repo == nil {
		slog.Warn("Database not configured, simulation routes disabled")
		return nil
	}

	var responder turn.Responder
	var judge scoring.Judge
	if s.llm != nil {
		responder = s.llm
		judge = s.llm
	}

	s.conversation = turn.NewConversation(s.repo, responder)
	s.orchestrator = scoring.NewOrchestrator(scoring.Config{
		Store:    s.repo,
		Judge:    judge,
		Reporter: s.reports,
		TruthSet: ts.String(),
	})
	s.simulationEndpoints = NewSimulationEndpoints(s.repo, s.conversation, s.orchestrator, s.authService)
	s.voiceSessions = NewVoiceSessions(VoiceSessionsConfig{
		Repo:         s.repo,
		Conversation: s.conversation,
		Scorer:       s.orchestrator,
		TTS:          s.tts,
		Transcriber:  s.transcriber,
		Playback:     s.playback,
		Hub:          s.wsHub,
		Upgrader:     s.upgrader,
	})

	return nil
}

func (s *Server) newLanguageModel(ctx context.Context, persona string, policy retryPolicy) (LanguageModel, error) {
	cfg := s.config.LLM
	switch cfg.Provider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			slog.Warn("OpenAI selected but no API key configured, replies and scoring disabled")
			return nil, nil
		}
		slog.Info("OpenAI language model initialized")
		return NewOpenAIService(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.Model, persona, policy), nil
	case "gemini", "":
		if cfg.GeminiAPIKey == "" {
			slog.Warn("Gemini API key not configured, replies and scoring disabled")
			return nil, nil
		}
		gemini, err := NewGeminiService(ctx, cfg.GeminiAPIKey, cfg.Model, persona, policy)
		if err != nil {
			return nil, err
		}
		slog.Info("Gemini language model initialized")
		return gemini, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func (s *Server) initTTS(ctx context.Context, policy retryPolicy) {
	cfg := s.config.TTS

	var provider SpeechSynthesizer
	switch cfg.Provider {
	case "openai":
		if s.config.LLM.OpenAIAPIKey != "" {
			provider = NewOpenAIService(s.config.LLM.OpenAIAPIKey, s.config.LLM.OpenAIBaseURL, "", "", policy)
			slog.Info("OpenAI speech initialized")
		}
	default:
		if cfg.ElevenLabsKey != "" {
			provider = NewElevenLabsService(cfg.ElevenLabsKey)
			slog.Info("ElevenLabs speech initialized")
		}
	}
	if provider == nil {
		slog.Warn("No speech provider configured, clients will use on-device synthesis")
	}

	capacity := cfg.CacheSize
	if capacity <= 0 {
		capacity = audio.DefaultServerCapacity
	}
	cache := audio.NewResponseCache(audio.ServerCachePrefix, capacity)
	s.tts = NewTTSService(provider, cache, PersonaVoice(cfg.Provider, cfg.VoiceID), policy)

	if cfg.PhraseDir != "" {
		s.phrases = audio.NewPhraseStore(cfg.PhraseDir, Greeting, turn.FallbackReply)
		s.tts.AddStore("phrases", s.phrases)
	}

	if s.config.Redis.URL != "" {
		store, err := NewRedisAudioStore(ctx, s.config.Redis.URL, s.config.Redis.TTL)
		if err != nil {
			slog.Error("Redis audio store unavailable", "error", err)
		} else {
			s.redisStore = store
			s.tts.AddStore("redis", store)
			slog.Info("Redis audio store initialized")
		}
	}

	if s.tts.Available() {
		go s.tts.Warm(context.Background(), Greeting, turn.FallbackReply)
	}
}

func (s *Server) reportSinks(ctx context.Context) []ReportSink {
	var sinks []ReportSink

	if s.config.Report.ResendAPIKey != "" && s.config.Report.Recipient != "" {
		sinks = append(sinks, NewEmailSink(s.config.Report.ResendAPIKey, s.config.Report.From, s.config.Report.Recipient))
		slog.Info("Email reports enabled", "recipient", s.config.Report.Recipient)
	}

	if s.config.Minio.Endpoint != "" {
		archive, err := NewArchiveSink(ctx, s.config.Minio)
		if err != nil {
			slog.Error("Report archive unavailable", "error", err)
		} else {
			sinks = append(sinks, archive)
			slog.Info("Report archive enabled", "bucket", s.config.Minio.Bucket)
		}
	}

	return sinks
}

// SetupRoutes configures all HTTP routes
func (s *Server) SetupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.healthHandler)
	r.Handle("/metrics", MetricsHandler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/admin/login", s.authService.LoginHandler)
		s.ttsEndpoints.RegisterRoutes(r)
		if s.simulationEndpoints != nil {
			s.simulationEndpoints.RegisterRoutes(r)
		}
	})

	r.Route("/ws", func(r chi.Router) {
		r.Get("/transcribe", s.transcriptionProxy.ServeHTTP)
		if s.voiceSessions != nil {
			r.Get("/simulations/{id}/voice", s.voiceSessions.ServeHTTP)
		}
	})

	return r
}

// Start serves until SIGINT or SIGTERM, then drains connections and queued reports
func (s *Server) Start() {
	port := s.config.Server.Port
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: s.SetupRoutes(),
	}

	go func() {
		slog.Info("Starting server", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	s.Close()

	slog.Info("Server exited")
}

// Close releases background workers and connections
func (s *Server) Close() {
	if s.reports != nil {
		s.reports.Close()
	}
	if s.redisStore != nil {
		if err := s.redisStore.Close(); err != nil {
			slog.Error("Failed to close redis", "error", err)
		}
	}
}

// CheckOrigin validates the origin of WebSocket connections to prevent CSRF attacks
func CheckOrigin(r *http.Request, allowedOriginsStr string) bool {
	origin := r.Header.Get("Origin")

	if allowedOriginsStr == "" {
		slog.Warn("WebSocket connection rejected: no allowed origins configured", "origin", origin)
		return false
	}

	for _, allowed := range strings.Split(allowedOriginsStr, ",") {
		if strings.TrimSpace(allowed) == origin {
			return true
		}
	}

	slog.Warn("WebSocket connection rejected: origin not allowed", "origin", origin, "allowed_origins", allowedOriginsStr)
	return false
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Database: "not configured"}

	if s.repo != nil {
		resp.Database = "up"
		sqlDB, err := s.repo.DB().DB()
		if err == nil {
			err = sqlDB.PingContext(r.Context())
		}
		if err != nil {
			resp.Database = "down"
			resp.Status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
