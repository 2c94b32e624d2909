package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string
	LogLevel    string
	LogEncoding string

	ConsultDefault   time.Duration
	ConsultFollowUp  time.Duration
	ConsultEMAAlpha  float64
	ConsultEMAWindow int
	DelayThreshold   time.Duration
	PullNextFactor   float64
	MaterialDelay    time.Duration
	DefaultBreak     time.Duration
	BroadcastBuffer  int
	SinkTimeout      time.Duration

	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RedisChannelPrefix string

	KafkaBrokers      []string
	KafkaTopic        string
	KafkaRequiredAcks int
	KafkaRetryMax     int

	RateLimitPerMinute       int
	RateLimitBurst           int
	DoctorRateLimitPerMinute int
	DoctorRateLimitBurst     int

	HydrateFromJournal bool
	RetainDays         int
	SweepInterval      time.Duration
}

// Load reads an optional .env file, then the environment.
func Load() Config {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:        port,
		DatabaseURL: os.Getenv("DB_DSN"),
		LogLevel:    readString("LOG_LEVEL", "info"),
		LogEncoding: readString("LOG_ENCODING", "json"),

		ConsultDefault:   readDurationMinutes("CONSULT_DEFAULT_MINUTES", 15),
		ConsultFollowUp:  readDurationMinutes("CONSULT_FOLLOWUP_MINUTES", 0),
		ConsultEMAAlpha:  readFloat("CONSULT_EMA_ALPHA", 0.3),
		ConsultEMAWindow: readInt("CONSULT_EMA_WINDOW", 5),
		DelayThreshold:   readDurationMinutes("DELAY_THRESHOLD_MINUTES", 15),
		PullNextFactor:   readFloat("PULL_NEXT_FACTOR", 2.0),
		MaterialDelay:    readDurationMinutes("FOLLOWUP_MATERIAL_DELAY_MINUTES", 10),
		DefaultBreak:     readDurationMinutes("DEFAULT_BREAK_MINUTES", 15),
		BroadcastBuffer:  readInt("BROADCAST_BUFFER", 64),
		SinkTimeout:      readDurationSeconds("SINK_TIMEOUT_SECONDS", 5),

		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            readInt("REDIS_DB", 0),
		RedisChannelPrefix: readString("REDIS_CHANNEL_PREFIX", "queue"),

		KafkaBrokers:      readList("KAFKA_BROKERS"),
		KafkaTopic:        readString("KAFKA_TOPIC", "doctor-queue-events"),
		KafkaRequiredAcks: readInt("KAFKA_REQUIRED_ACKS", 1),
		KafkaRetryMax:     readInt("KAFKA_RETRY_MAX", 3),

		RateLimitPerMinute:       readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:           readInt("RATE_LIMIT_BURST", 30),
		DoctorRateLimitPerMinute: readInt("DOCTOR_RATE_LIMIT_PER_MIN", 300),
		DoctorRateLimitBurst:     readInt("DOCTOR_RATE_LIMIT_BURST", 60),

		HydrateFromJournal: readBool("QUEUE_HYDRATE", true),
		RetainDays:         readInt("QUEUE_RETAIN_DAYS", 1),
		SweepInterval:      readDurationMinutes("QUEUE_SWEEP_INTERVAL_MINUTES", 10),
	}
}

func readString(key, fallback string) string {
	if raw := os.Getenv(key); raw != "" {
		return raw
	}
	return fallback
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readDurationMinutes(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Minute
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

func readFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
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

func readList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
