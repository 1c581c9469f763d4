// Package config reads environment configuration with sane defaults.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string
	LogLevel    string

	AssemblyAIKey   string
	CerebrasKey     string
	CerebrasModelID string
	DeepgramKey     string
	DeepgramVoice   string

	MySQLDSN        string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	CatalogCacheTTL time.Duration

	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string

	ICEServersJSON    string
	SignalingPassword string

	SilenceWindow  time.Duration
	ResumeDelay    time.Duration
	ProcessTimeout time.Duration
	SpeakTimeout   time.Duration
	AutoResume     bool

	FallbackFileID    string
	FallbackSegmentID string
}

// Load reads environment variables, consulting .env when present.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}

	cfg := Config{
		HTTPAddress: getEnvOrDefault("HTTP_ADDRESS", ":8080"),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "info"),

		AssemblyAIKey:   os.Getenv("ASSEMBLYAI_API_KEY"),
		CerebrasKey:     os.Getenv("CEREBRAS_API_KEY"),
		CerebrasModelID: getEnvOrDefault("CEREBRAS_MODEL_ID", "gpt-oss-120b"),
		DeepgramKey:     os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramVoice:   getEnvOrDefault("DEEPGRAM_VOICE", "aura-2-thalia-en"),

		MySQLDSN:        os.Getenv("MYSQL_DSN"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		CatalogCacheTTL: getEnvDurationMS("CATALOG_CACHE_TTL_MS", 30*time.Second),

		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:     getEnvOrDefault("SUPABASE_BUCKET", "episodes"),

		ICEServersJSON:    os.Getenv("ICE_SERVERS_JSON"),
		SignalingPassword: os.Getenv("SIGNALING_PASSWORD"),

		SilenceWindow:  getEnvDurationMS("SILENCE_WINDOW_MS", 3*time.Second),
		ResumeDelay:    getEnvDurationMS("RESUME_DELAY_MS", 400*time.Millisecond),
		ProcessTimeout: getEnvDurationMS("PROCESS_TIMEOUT_MS", 20*time.Second),
		SpeakTimeout:   getEnvDurationMS("SPEAK_TIMEOUT_MS", 30*time.Second),
		AutoResume:     getEnvBool("AUTO_RESUME", true),

		FallbackFileID:    os.Getenv("FALLBACK_FILE_ID"),
		FallbackSegmentID: os.Getenv("FALLBACK_SEGMENT_ID"),
	}

	if cfg.AssemblyAIKey == "" {
		log.Warn().Msg("ASSEMBLYAI_API_KEY not set, voice capture disabled")
	}
	if cfg.CerebrasKey == "" {
		log.Warn().Msg("CEREBRAS_API_KEY not set, conversational replies use composed text only")
	}
	if cfg.DeepgramKey == "" {
		log.Warn().Msg("DEEPGRAM_API_KEY not set, spoken replies disabled")
	}
	if cfg.MySQLDSN == "" {
		log.Warn().Msg("MYSQL_DSN not set, using in-memory catalog")
	}

	return cfg
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid integer, using default")
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid boolean, using default")
		return def
	}
	return b
}

func getEnvDurationMS(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid duration, using default")
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
