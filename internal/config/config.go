package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type Redis struct {
	Addr     string        // e.g. redis:6379
	Password string
	DB       int
	CacheTTL time.Duration // subscription cache TTL
}

type NSQ struct {
	NsqdTCPAddr     string // e.g. nsqd:4150
	LookupHTTPAddr  string // e.g. http://nsqlookupd:4161
	DeliveriesTopic string // NSQ topic for dispatch jobs
	WorkerChannel   string // NSQ channel name for workers
}

type Worker struct {
	MaxRetries      int             // Maximum delivery attempts per delivery
	BackoffSchedule []time.Duration // Retry backoff durations, 1-indexed by attempt
	Timeout         time.Duration   // Outbound HTTP timeout
	SignatureHeader string          // HTTP header carrying the payload signature
	HTTPPort        string          // Worker health/metrics port
}

type API struct {
	HTTPPort     string // :8080
	JWTPublicKey string // PEM; empty disables auth
	JWTIssuer    string
	JWTAudience  string
}

type Config struct {
	AppName   string
	DB        DB
	Redis     Redis
	NSQ       NSQ
	Worker    Worker
	API       API
	Retention time.Duration // how long deliveries and attempts are kept
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func defaultBackoffSchedule() []time.Duration {
	return []time.Duration{10 * time.Second, 30 * time.Second, time.Minute, 5 * time.Minute, 15 * time.Minute}
}

func parseBackoffSchedule(schedule string) []time.Duration {
	if schedule == "" {
		return defaultBackoffSchedule()
	}

	parts := strings.Split(schedule, ",")
	durations := make([]time.Duration, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if d, err := time.ParseDuration(part); err == nil {
			durations = append(durations, d)
		}
	}

	if len(durations) == 0 {
		// Fallback to default if parsing failed
		return defaultBackoffSchedule()
	}

	return durations
}

func FromEnv() Config {
	return Config{
		AppName: getenv("APP_NAME", "quayhook"),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "quayhook"),
		},
		Redis: Redis{
			Addr:     getenv("REDIS_ADDR", "redis:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
			CacheTTL: getenvDuration("SUBSCRIPTION_CACHE_TTL", 15*time.Minute),
		},
		NSQ: NSQ{
			NsqdTCPAddr:     getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			LookupHTTPAddr:  getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
			DeliveriesTopic: getenv("NSQ_DELIVERIES_TOPIC", "deliveries"),
			WorkerChannel:   getenv("NSQ_WORKER_CHANNEL", "workers"),
		},
		Worker: Worker{
			MaxRetries:      getenvInt("MAX_RETRY_ATTEMPTS", 5),
			BackoffSchedule: parseBackoffSchedule(getenv("BACKOFF_SCHEDULE", "")),
			Timeout:         getenvDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			SignatureHeader: getenv("WEBHOOK_SIGNATURE_HEADER", "X-Quayhook-Signature"),
			HTTPPort:        ":" + getenv("WORKER_HTTP_PORT", "8083"),
		},
		API: API{
			HTTPPort:     getenv("HTTP_PORT", ":8080"),
			JWTPublicKey: getenv("JWT_PUBLIC_KEY", ""),
			JWTIssuer:    getenv("JWT_ISSUER", "quayhook"),
			JWTAudience:  getenv("JWT_AUDIENCE", "quayhook-api"),
		},
		Retention: getenvDuration("LOG_RETENTION", 72*time.Hour),
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
