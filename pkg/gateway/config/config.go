// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// If true, client identity may be derived from proxy headers like
	// X-User-Ref. This should only be enabled when the gateway is deployed
	// behind a trusted edge that authenticates requests.
	TrustUserRefHeader bool

	MaxBodyBytes int64

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration

	// Room provisioning (Daily).
	DailyAPIKey      string
	DailyBaseURL     string
	RoomTTL          time.Duration
	TokenTTL         time.Duration
	MaxParticipants  int
	CreateRetries    int
	CreateRetryDelay time.Duration

	// Voice vendors.
	DeepgramAPIKey   string
	DeepgramModel    string
	ElevenLabsAPIKey string
	ElevenLabsVoice  string
	AudioSampleRate  int

	// Language model.
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	// Persistence and cache.
	PostgresDSN     string
	RedisURL        string
	ContextCacheTTL time.Duration

	// Transcript writer.
	WriterQueueSize int
	WriterWorkers   int
	WriterRetries   int

	// Session lifecycle.
	IdleTimeout       time.Duration
	IdleCheckInterval time.Duration
	StopGrace         time.Duration
	FlushTimeout      time.Duration

	// Conversation turn bounds.
	LLMTimeout      time.Duration
	TurnCeiling     time.Duration
	ToolTimeout     time.Duration
	MaxToolRounds   int
	MaxHistoryTurns int
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("VOICECORE_ADDR", ":8080"),
		TrustUserRefHeader:  envBoolOr("VOICECORE_TRUST_USER_REF_HEADER", true),
		MaxBodyBytes:        envInt64Or("VOICECORE_MAX_BODY_BYTES", 1<<20), // 1 MiB
		ReadHeaderTimeout:   envDurationOr("VOICECORE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envDurationOr("VOICECORE_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod: envDurationOr("VOICECORE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		DailyAPIKey:         strings.TrimSpace(os.Getenv("VOICECORE_DAILY_API_KEY")),
		DailyBaseURL:        envOr("VOICECORE_DAILY_BASE_URL", "https://api.daily.co/v1"),
		RoomTTL:             envDurationOr("VOICECORE_ROOM_TTL", 2*time.Hour),
		TokenTTL:            envDurationOr("VOICECORE_TOKEN_TTL", 2*time.Hour),
		MaxParticipants:     envIntOr("VOICECORE_ROOM_MAX_PARTICIPANTS", 2),
		CreateRetries:       envIntOr("VOICECORE_ROOM_CREATE_RETRIES", 2),
		CreateRetryDelay:    envDurationOr("VOICECORE_ROOM_CREATE_RETRY_DELAY", 500*time.Millisecond),
		DeepgramAPIKey:      strings.TrimSpace(os.Getenv("VOICECORE_DEEPGRAM_API_KEY")),
		DeepgramModel:       envOr("VOICECORE_DEEPGRAM_MODEL", "nova-2"),
		ElevenLabsAPIKey:    strings.TrimSpace(os.Getenv("VOICECORE_ELEVENLABS_API_KEY")),
		ElevenLabsVoice:     strings.TrimSpace(os.Getenv("VOICECORE_ELEVENLABS_VOICE_ID")),
		AudioSampleRate:     envIntOr("VOICECORE_AUDIO_SAMPLE_RATE", 16000),
		OpenAIAPIKey:        strings.TrimSpace(os.Getenv("VOICECORE_OPENAI_API_KEY")),
		OpenAIBaseURL:       envOr("VOICECORE_OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:         envOr("VOICECORE_OPENAI_MODEL", "gpt-4o-mini"),
		PostgresDSN:         strings.TrimSpace(os.Getenv("VOICECORE_POSTGRES_DSN")),
		RedisURL:            strings.TrimSpace(os.Getenv("VOICECORE_REDIS_URL")),
		ContextCacheTTL:     envDurationOr("VOICECORE_CONTEXT_CACHE_TTL", 30*time.Minute),
		WriterQueueSize:     envIntOr("VOICECORE_WRITER_QUEUE_SIZE", 1000),
		WriterWorkers:       envIntOr("VOICECORE_WRITER_WORKERS", 4),
		WriterRetries:       envIntOr("VOICECORE_WRITER_RETRIES", 2),
		IdleTimeout:         envDurationOr("VOICECORE_IDLE_TIMEOUT", 10*time.Minute),
		IdleCheckInterval:   envDurationOr("VOICECORE_IDLE_CHECK_INTERVAL", 30*time.Second),
		StopGrace:           envDurationOr("VOICECORE_STOP_GRACE", 5*time.Second),
		FlushTimeout:        envDurationOr("VOICECORE_FLUSH_TIMEOUT", 3*time.Second),
		LLMTimeout:          envDurationOr("VOICECORE_LLM_TIMEOUT", 2*time.Second),
		TurnCeiling:         envDurationOr("VOICECORE_TURN_CEILING", 5*time.Second),
		ToolTimeout:         envDurationOr("VOICECORE_TOOL_TIMEOUT", 5*time.Second),
		MaxToolRounds:       envIntOr("VOICECORE_MAX_TOOL_ROUNDS", 4),
		MaxHistoryTurns:     envIntOr("VOICECORE_MAX_HISTORY_TURNS", 40),
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("VOICECORE_MAX_BODY_BYTES must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICECORE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICECORE_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOICECORE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.DailyAPIKey == "" {
		return Config{}, fmt.Errorf("VOICECORE_DAILY_API_KEY must be set")
	}
	if cfg.RoomTTL <= 0 {
		return Config{}, fmt.Errorf("VOICECORE_ROOM_TTL must be > 0")
	}
	if cfg.TokenTTL <= 0 {
		return Config{}, fmt.Errorf("VOICECORE_TOKEN_TTL must be > 0")
	}
	if cfg.MaxParticipants <= 0 {
		return Config{}, fmt.Errorf("VOICECORE_ROOM_MAX_PARTICIPANTS must be > 0")
	}
	if cfg.CreateRetries < 0 {
		return Config{}, fmt.Errorf("VOICECORE_ROOM_CREATE_RETRIES must be >= 0")
	}
	if cfg.DeepgramAPIKey == "" {
		return Config{}, fmt.Errorf("VOICECORE_DEEPGRAM_API_KEY must be set")
	}
	if cfg.ElevenLabsAPIKey == "" {
		return Config{}, fmt.Errorf("VOICECORE_ELEVENLABS_API_KEY must be set")
	}
	if cfg.ElevenLabsVoice == "" {
		return Config{}, fmt.Errorf("VOICECORE_ELEVENLABS_VOICE_ID must be set")
	}
	if cfg.AudioSampleRate <= 0 {
		return Config{}, fmt.Errorf("VOICECORE_AUDIO_SAMPLE_RATE must be > 0")
	}
	if cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("VOICECORE_OPENAI_API_KEY must be set")
	}
	if cfg.PostgresDSN == "" {
		return Config{}, fmt.Errorf("VOICECORE_POSTGRES_DSN must be set")
	}
	if cfg.WriterQueueSize <= 0 {
		return Config{}, fmt.Errorf("VOICECORE_WRITER_QUEUE_SIZE must be > 0")
	}
	if cfg.WriterWorkers <= 0 {
		return Config{}, fmt.Errorf("VOICECORE_WRITER_WORKERS must be > 0")
	}
	if cfg.WriterRetries < 0 {
		return Config{}, fmt.Errorf("VOICECORE_WRITER_RETRIES must be >= 0")
	}
	if cfg.IdleTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICECORE_IDLE_TIMEOUT must be > 0")
	}
	if cfg.IdleCheckInterval <= 0 {
		return Config{}, fmt.Errorf("VOICECORE_IDLE_CHECK_INTERVAL must be > 0")
	}
	if cfg.StopGrace <= 0 {
		return Config{}, fmt.Errorf("VOICECORE_STOP_GRACE must be > 0")
	}
	if cfg.FlushTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICECORE_FLUSH_TIMEOUT must be > 0")
	}
	if cfg.LLMTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICECORE_LLM_TIMEOUT must be > 0")
	}
	if cfg.TurnCeiling <= 0 {
		return Config{}, fmt.Errorf("VOICECORE_TURN_CEILING must be > 0")
	}
	if cfg.TurnCeiling < cfg.LLMTimeout {
		return Config{}, fmt.Errorf("VOICECORE_TURN_CEILING must be >= VOICECORE_LLM_TIMEOUT")
	}
	if cfg.ToolTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICECORE_TOOL_TIMEOUT must be > 0")
	}
	if cfg.MaxToolRounds <= 0 {
		return Config{}, fmt.Errorf("VOICECORE_MAX_TOOL_ROUNDS must be > 0")
	}
	if cfg.MaxHistoryTurns <= 0 {
		return Config{}, fmt.Errorf("VOICECORE_MAX_HISTORY_TURNS must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
