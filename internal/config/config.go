package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	QuoteTTLSeconds       int
	AuthSecret            string
	AccessTokenTTLMinutes int
	ApprovalPIN           string
	LogLevel              string
	NotifyChannel         string
	DefaultCurrency       string
	SeedFile              string
}

// Load reads the process environment after applying an optional .env file.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil || redisDB < 0 {
		return Config{}, fmt.Errorf("REDIS_DB must be a non-negative integer, got %q", os.Getenv("REDIS_DB"))
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		QuoteTTLSeconds:       positiveInt("QUOTE_TTL_SECONDS", 20),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: positiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		ApprovalPIN:           strings.TrimSpace(os.Getenv("APPROVAL_PIN")),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		NotifyChannel:         getEnv("NOTIFY_CHANNEL", "marketplace:order-events"),
		DefaultCurrency:       strings.ToUpper(getEnv("DEFAULT_CURRENCY", "IDR")),
		SeedFile:              strings.TrimSpace(os.Getenv("SEED_FILE")),
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}

func positiveInt(key string, fallback int) int {
	parsed, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}
