package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"qms/patient-queue/internal/models"

	"github.com/joho/godotenv"
)

const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

type Config struct {
	Port               string
	Backend            string
	DataDir            string
	DatabaseURL        string
	SQLiteDSN          string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RedisPrefix        string
	PollInterval       time.Duration
	HeartbeatInterval  time.Duration
	ClientBuffer       int
	MaxHistory         int
	RateLimitPerMinute int
	RateLimitBurst     int
	TrustForwardedFor  bool
	LogLevel           string
	LogFormat          string
	FixedDoctors       []models.Doctor
}

// Load reads the environment once, after an optional .env file in the
// working directory. Variables already set in the environment win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:               readString("QUEUE_PORT", "8080"),
		Backend:            strings.ToLower(readString("QUEUE_BACKEND", BackendFile)),
		DataDir:            readString("QUEUE_DATA_DIR", "./data"),
		DatabaseURL:        os.Getenv("DB_DSN"),
		SQLiteDSN:          readString("SQLITE_DSN", "./data/queue.db"),
		RedisAddr:          readString("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            readInt("REDIS_DB", 0),
		RedisPrefix:        readString("REDIS_PREFIX", "queue:"),
		PollInterval:       readDurationSeconds("QUEUE_POLL_SECONDS", 1),
		HeartbeatInterval:  readDurationSeconds("QUEUE_HEARTBEAT_SECONDS", 15),
		ClientBuffer:       readInt("QUEUE_CLIENT_BUFFER", 16),
		MaxHistory:         readInt("QUEUE_MAX_HISTORY", 200),
		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 600),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 100),
		TrustForwardedFor:  readBool("RATE_LIMIT_TRUST_PROXY", false),
		LogLevel:           readString("LOG_LEVEL", "info"),
		LogFormat:          readString("LOG_FORMAT", "json"),
		FixedDoctors:       ParseDoctors(os.Getenv("QUEUE_FIXED_DOCTORS")),
	}
}

// ClientConfig drives queuectl and any other Go viewer built on syncclient.
type ClientConfig struct {
	BaseURL           string
	Transport         string
	PollInterval      time.Duration
	PushRetryInterval time.Duration
	MaxFailures       int
	PushDisabled      bool
	Viewer            string
}

func LoadClient() ClientConfig {
	_ = godotenv.Load()

	return ClientConfig{
		BaseURL:           strings.TrimRight(readString("QUEUE_URL", "http://localhost:8080"), "/"),
		Transport:         strings.ToLower(readString("QUEUE_CLIENT_TRANSPORT", "websocket")),
		PollInterval:      readDurationMillis("QUEUE_CLIENT_POLL_MS", 2000),
		PushRetryInterval: readDurationSeconds("QUEUE_CLIENT_PUSH_RETRY_SECONDS", 30),
		MaxFailures:       readInt("QUEUE_CLIENT_MAX_FAILURES", 5),
		PushDisabled:      readBool("QUEUE_CLIENT_PUSH_DISABLED", false),
		Viewer:            os.Getenv("QUEUE_VIEWER"),
	}
}

// ParseDoctors reads "Name=Room;Name=Room". A name without "=" has no room.
func ParseDoctors(raw string) []models.Doctor {
	var doctors []models.Doctor
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, room, _ := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		doctors = append(doctors, models.Doctor{Name: name, Room: strings.TrimSpace(room), Fixed: true})
	}
	return doctors
}

func readString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readDurationMillis(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Millisecond
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
