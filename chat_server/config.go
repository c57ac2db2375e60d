package main

import (
	"io"
	"log"
	"os"
	"strings"
	"time"

	"dabubble/cleanup"

	"github.com/joho/godotenv"
	jww "github.com/spf13/jwalterweatherman"
)

type Config struct {
	Port           string
	DBFile         string
	JWTSecret      string
	AvatarDir      string
	RedisURL       string
	AllowedOrigins []string
	LogLevel       string
	DefaultChannel string
	Sweep          cleanup.Config
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		jww.WARN.Printf("config: %s=%q is not a positive duration, using %s", key, raw, fallback)
		return fallback
	}
	return d
}

// loadConfig reads .env if present, then the environment.
func loadConfig() Config {
	_ = godotenv.Load()

	sweep := cleanup.DefaultConfig()
	return Config{
		Port:           envOr("PORT", "8000"),
		DBFile:         envOr("DB_FILE", "./dabubble.db"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		AvatarDir:      envOr("AVATAR_DIR", "./avatars"),
		RedisURL:       os.Getenv("REDIS_URL"),
		AllowedOrigins: parseAllowedOrigins(os.Getenv("ALLOWED_ORIGINS")),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		DefaultChannel: envOr("DEFAULT_CHANNEL", "Allgemein"),
		Sweep: cleanup.Config{
			Interval:  durationEnv("GUEST_SWEEP_INTERVAL", sweep.Interval),
			IdleAfter: durationEnv("GUEST_IDLE_AFTER", sweep.IdleAfter),
			Grace:     durationEnv("GUEST_GRACE", sweep.Grace),
		},
	}
}

func initLog(level string) {
	threshold := jww.LevelInfo
	switch strings.ToLower(level) {
	case "trace":
		threshold = jww.LevelTrace
	case "debug":
		threshold = jww.LevelDebug
	case "warn":
		threshold = jww.LevelWarn
	case "error":
		threshold = jww.LevelError
	case "off":
		jww.SetStdoutOutput(io.Discard)
	}
	jww.SetStdoutThreshold(threshold)
	jww.SetLogThreshold(threshold)
	if threshold <= jww.LevelDebug {
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
	}
	jww.INFO.Printf("log level set to: %s", threshold)
}
