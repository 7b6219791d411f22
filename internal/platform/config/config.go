package config

import (
	"os"
	"strings"
	"time"
)

// Server captures process-level configuration.
type Server struct {
	Addr          string
	LogLevel      string
	JWTSigningKey string

	// PostgresDSN selects the durable stores; empty means in-memory.
	PostgresDSN string

	Redis RedisConfig
	Kafka KafkaConfig

	// TemperaturePolicyJSON overrides the default 2-8 °C cold-chain
	// policy per product category; see telemetry.PolicyFromJSON.
	TemperaturePolicyJSON string
}

// RedisConfig holds content-reference cache settings.
type RedisConfig struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds audit relay settings. Empty brokers disables the relay.
type KafkaConfig struct {
	Brokers       []string
	Topic         string
	RelayInterval time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("CUSTODIA_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	logLevel := os.Getenv("CUSTODIA_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	jwtSigningKey := os.Getenv("CUSTODIA_JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	var brokers []string
	if raw := os.Getenv("CUSTODIA_KAFKA_BROKERS"); raw != "" {
		brokers = strings.Split(raw, ",")
	}
	topic := os.Getenv("CUSTODIA_KAFKA_TOPIC")
	if topic == "" {
		topic = "custodia.audit"
	}

	return Server{
		Addr:          addr,
		LogLevel:      logLevel,
		JWTSigningKey: jwtSigningKey,
		PostgresDSN:   os.Getenv("CUSTODIA_POSTGRES_DSN"),
		Redis: RedisConfig{
			URL:          os.Getenv("CUSTODIA_REDIS_URL"),
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:       brokers,
			Topic:         topic,
			RelayInterval: 5 * time.Second,
		},
		TemperaturePolicyJSON: os.Getenv("CUSTODIA_TEMPERATURE_POLICY"),
	}
}
