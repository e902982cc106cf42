package services

import (
	"log/slog"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	LLM          LLMConfig
	TTS          TTSConfig
	Deepgram     DeepgramConfig
	Redis        RedisConfig
	Report       ReportConfig
	Minio        MinioConfig
	Admin        AdminConfig
	Collaborator CollaboratorConfig
	WebSocket    WebSocketConfig
	TruthSetPath string
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	Driver       string
	URL          string
	Seed         bool
	LogLevel     string
	MaxIdleConns int
	MaxOpenConns int
}

type LLMConfig struct {
	Provider      string
	Model         string
	GeminiAPIKey  string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

type TTSConfig struct {
	Provider      string
	VoiceID       string
	CacheSize     int
	PhraseDir     string
	ElevenLabsKey string
}

type DeepgramConfig struct {
	APIKey string
}

type RedisConfig struct {
	URL string
	TTL time.Duration
}

type ReportConfig struct {
	Recipient    string
	From         string
	ResendAPIKey string
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type AdminConfig struct {
	PasswordHash string
	JWTSecret    string
}

type CollaboratorConfig struct {
	Timeout    time.Duration
	RetryDelay time.Duration
}

type WebSocketConfig struct {
	AllowedOrigins string
}

// LoadConfig loads configuration from environment variables and config files
func LoadConfig() *Config {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	defaults := map[string]any{
		"server.port":               "8080",
		"websocket.allowed_origins": "",
		"database.driver":           "postgres",
		"database.url":              "",
		"database.seed":             "false",
		"database.log_level":        "silent",
		"database.max_idle_conns":   "10",
		"database.max_open_conns":   "100",
		"llm.provider":              "gemini",
		"llm.model":                 "",
		"gemini.api_key":            "",
		"openai.api_key":            "",
		"openai.base_url":           "",
		"tts.provider":              "elevenlabs",
		"tts.voice_id":              "",
		"tts.cache_size":            "100",
		"tts.phrase_dir":            "audio_cache",
		"elevenlabs.api_key":        "",
		"deepgram.api_key":          "",
		"redis.url":                 "",
		"redis.ttl":                 "24h",
		"report.recipient":          "",
		"report.from":               "Cone Challenge <reports@resend.dev>",
		"resend.api_key":            "",
		"minio.endpoint":            "",
		"minio.access_key":          "",
		"minio.secret_key":          "",
		"minio.bucket":              "simulation-reports",
		"minio.use_ssl":             "false",
		"admin.password_hash":       "",
		"admin.jwt_secret":          "",
		"collaborator.timeout":      "30s",
		"collaborator.retry_delay":  "500ms",
		"truthset.path":             "",
	}
	for key, value := range defaults {
		viper.SetDefault(key, value)
	}

	// Map environment variables to config keys
	envs := map[string]string{
		"server.port":               "SERVER_PORT",
		"websocket.allowed_origins": "WEBSOCKET_ALLOWED_ORIGINS",
		"database.driver":           "DATABASE_DRIVER",
		"database.url":              "DATABASE_URL",
		"database.seed":             "DATABASE_SEED",
		"database.log_level":        "DATABASE_LOG_LEVEL",
		"database.max_idle_conns":   "DATABASE_MAX_IDLE_CONNS",
		"database.max_open_conns":   "DATABASE_MAX_OPEN_CONNS",
		"llm.provider":              "LLM_PROVIDER",
		"llm.model":                 "LLM_MODEL",
		"gemini.api_key":            "GEMINI_API_KEY",
		"openai.api_key":            "OPENAI_API_KEY",
		"openai.base_url":           "OPENAI_BASE_URL",
		"tts.provider":              "TTS_PROVIDER",
		"tts.voice_id":              "TTS_VOICE_ID",
		"tts.cache_size":            "TTS_CACHE_SIZE",
		"tts.phrase_dir":            "TTS_PHRASE_DIR",
		"elevenlabs.api_key":        "ELEVENLABS_API_KEY",
		"deepgram.api_key":          "DEEPGRAM_API_KEY",
		"redis.url":                 "REDIS_URL",
		"redis.ttl":                 "REDIS_TTL",
		"report.recipient":          "REPORT_RECIPIENT",
		"report.from":               "REPORT_FROM",
		"resend.api_key":            "RESEND_API_KEY",
		"minio.endpoint":            "MINIO_ENDPOINT",
		"minio.access_key":          "MINIO_ACCESS_KEY",
		"minio.secret_key":          "MINIO_SECRET_KEY",
		"minio.bucket":              "MINIO_BUCKET",
		"minio.use_ssl":             "MINIO_USE_SSL",
		"admin.password_hash":       "ADMIN_PASSWORD_HASH",
		"admin.jwt_secret":          "ADMIN_JWT_SECRET",
		"collaborator.timeout":      "COLLABORATOR_TIMEOUT",
		"collaborator.retry_delay":  "COLLABORATOR_RETRY_DELAY",
		"truthset.path":             "TRUTHSET_PATH",
	}
	for key, env := range envs {
		viper.BindEnv(key, env)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Warn("Config file not found, using defaults and environment variables")
		} else {
			slog.Error("Error reading config file", "error", err)
		}
	}

	return &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
		},
		Database: DatabaseConfig{
			Driver:       viper.GetString("database.driver"),
			URL:          viper.GetString("database.url"),
			Seed:         viper.GetBool("database.seed"),
			LogLevel:     viper.GetString("database.log_level"),
			MaxIdleConns: viper.GetInt("database.max_idle_conns"),
			MaxOpenConns: viper.GetInt("database.max_open_conns"),
		},
		LLM: LLMConfig{
			Provider:      viper.GetString("llm.provider"),
			Model:         viper.GetString("llm.model"),
			GeminiAPIKey:  viper.GetString("gemini.api_key"),
			OpenAIAPIKey:  viper.GetString("openai.api_key"),
			OpenAIBaseURL: viper.GetString("openai.base_url"),
		},
		TTS: TTSConfig{
			Provider:      viper.GetString("tts.provider"),
			VoiceID:       viper.GetString("tts.voice_id"),
			CacheSize:     viper.GetInt("tts.cache_size"),
			PhraseDir:     viper.GetString("tts.phrase_dir"),
			ElevenLabsKey: viper.GetString("elevenlabs.api_key"),
		},
		Deepgram: DeepgramConfig{
			APIKey: viper.GetString("deepgram.api_key"),
		},
		Redis: RedisConfig{
			URL: viper.GetString("redis.url"),
			TTL: viper.GetDuration("redis.ttl"),
		},
		Report: ReportConfig{
			Recipient:    viper.GetString("report.recipient"),
			From:         viper.GetString("report.from"),
			ResendAPIKey: viper.GetString("resend.api_key"),
		},
		Minio: MinioConfig{
			Endpoint:  viper.GetString("minio.endpoint"),
			AccessKey: viper.GetString("minio.access_key"),
			SecretKey: viper.GetString("minio.secret_key"),
			Bucket:    viper.GetString("minio.bucket"),
			UseSSL:    viper.GetBool("minio.use_ssl"),
		},
		Admin: AdminConfig{
			PasswordHash: viper.GetString("admin.password_hash"),
			JWTSecret:    viper.GetString("admin.jwt_secret"),
		},
		Collaborator: CollaboratorConfig{
			Timeout:    viper.GetDuration("collaborator.timeout"),
			RetryDelay: viper.GetDuration("collaborator.retry_delay"),
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins: viper.GetString("websocket.allowed_origins"),
		},
		TruthSetPath: viper.GetString("truthset.path"),
	}
}
