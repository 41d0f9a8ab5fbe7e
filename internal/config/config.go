package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig holds settings for the server runtime.
type ServerConfig struct {
	ListenAddr    string
	WSListenAddr  string
	Database      DatabaseConfig
	JWT           JWTConfig
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxFrameBytes int
	SeedRooms     []string
	HistoryLimit  int
	TypingWindow  time.Duration
	AIReplyDelay  time.Duration
	BotName       string
}

// DatabaseConfig captures storage configuration.
type DatabaseConfig struct {
	Path string
}

// JWTConfig defines token issuance parameters.
type JWTConfig struct {
	Secret     string
	Issuer     string
	Expiration time.Duration
}

// LoadServerConfig builds the server configuration from environment
// variables with sensible defaults.
func LoadServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:    envOrDefault("TIDE_LISTEN_ADDR", ":9000"),
		WSListenAddr:  envOrDefault("TIDE_WS_LISTEN_ADDR", ":9001"),
		Database:      DatabaseConfig{Path: envOrDefault("TIDE_DB_PATH", "tide.db")},
		JWT:           loadJWTConfig(),
		ReadTimeout:   envDuration("TIDE_READ_TIMEOUT", 5*time.Minute),
		WriteTimeout:  envDuration("TIDE_WRITE_TIMEOUT", 15*time.Second),
		MaxFrameBytes: envInt("TIDE_MAX_FRAME_BYTES", 1<<20),
		SeedRooms:     envList("TIDE_SEED_ROOMS", []string{"general"}),
		HistoryLimit:  envInt("TIDE_HISTORY_LIMIT", 50),
		TypingWindow:  envDuration("TIDE_TYPING_WINDOW", 2*time.Second),
		AIReplyDelay:  envDuration("TIDE_AI_REPLY_DELAY", time.Second),
		BotName:       envOrDefault("TIDE_BOT_NAME", "tide-bot"),
	}
}

func loadJWTConfig() JWTConfig {
	return JWTConfig{
		Secret:     envOrDefault("TIDE_JWT_SECRET", "replace-me"),
		Issuer:     envOrDefault("TIDE_JWT_ISSUER", "tide"),
		Expiration: envDuration("TIDE_JWT_EXPIRATION", 24*time.Hour),
	}
}

func envOrDefault(key, value string) string {
	if env, ok := os.LookupEnv(key); ok {
		return env
	}
	return value
}

func envDuration(key string, def time.Duration) time.Duration {
	if env, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(env); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(key string, def int) int {
	if env, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(env); err == nil {
			return parsed
		}
	}
	return def
}

func envList(key string, def []string) []string {
	env, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	var out []string
	for _, part := range strings.Split(env, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
