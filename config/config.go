package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	TransportWebSocket = "websocket"
	TransportRedis     = "redis"
	TransportNATS      = "nats"
)

type Config struct {
	Port        string
	APIBaseURL  string
	AdminToken  string
	AccessToken string // operator JWT, sent as a bearer token
	TenantID    int64

	RealtimeTransport string
	RealtimeURL       string

	RedisAddr                 string
	RedisPassword             string
	RedisDB                   int
	RedisEventsChannel        string
	RedisNotificationsChannel string

	NATSURL     string
	NATSSubject string

	S3Bucket string
	S3Region string

	SoundEnabled               bool
	MirrorPollInterval         time.Duration
	MirrorMessagesPollInterval time.Duration
	SessionPollInterval        time.Duration // zero disables it

	LogLevel    string
	LogFormat   string
	CORSOrigins []string
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Port:                       getEnv("PORT", "8080"),
		APIBaseURL:                 strings.TrimRight(getEnv("API_BASE_URL", ""), "/"),
		AdminToken:                 getEnv("ADMIN_TOKEN", ""),
		AccessToken:                getEnv("ACCESS_TOKEN", ""),
		TenantID:                   int64(getEnvInt("TENANT_ID", 0)),
		RealtimeTransport:          strings.ToLower(getEnv("REALTIME_TRANSPORT", TransportWebSocket)),
		RealtimeURL:                getEnv("REALTIME_URL", ""),
		RedisAddr:                  getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:              getEnv("REDIS_PASSWORD", ""),
		RedisDB:                    getEnvInt("REDIS_DB", 0),
		RedisEventsChannel:         getEnv("REDIS_EVENTS_CHANNEL", "clinicforge:events"),
		RedisNotificationsChannel:  getEnv("REDIS_NOTIFICATIONS_CHANNEL", ""),
		NATSURL:                    getEnv("NATS_URL", "nats://localhost:4222"),
		NATSSubject:                getEnv("NATS_SUBJECT", "clinicforge.events"),
		S3Bucket:                   getEnv("S3_BUCKET", ""),
		S3Region:                   getEnv("S3_REGION", "us-east-1"),
		SoundEnabled:               getEnvBool("SOUND_ENABLED", true),
		MirrorPollInterval:         getEnvDuration("MIRROR_POLL_INTERVAL", 10*time.Second),
		MirrorMessagesPollInterval: getEnvDuration("MIRROR_MESSAGES_POLL_INTERVAL", 40*time.Second),
		SessionPollInterval:        getEnvDuration("SESSION_POLL_INTERVAL", 0),
		LogLevel:                   getEnv("LOG_LEVEL", "info"),
		LogFormat:                  getEnv("LOG_FORMAT", "json"),
		CORSOrigins:                splitList(getEnv("CORS_ORIGINS", "*")),
	}

	if cfg.APIBaseURL == "" {
		return nil, errors.New("API_BASE_URL environment variable is required")
	}

	switch cfg.RealtimeTransport {
	case TransportWebSocket:
		if cfg.RealtimeURL == "" {
			cfg.RealtimeURL = websocketURL(cfg.APIBaseURL)
		}
	case TransportRedis, TransportNATS:
	default:
		return nil, fmt.Errorf("unsupported REALTIME_TRANSPORT %q", cfg.RealtimeTransport)
	}

	return cfg, nil
}

// websocketURL derives the events endpoint from the REST base URL.
func websocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws/events"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws/events"
	}
	return base + "/ws/events"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("10s") or plain seconds ("10").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
