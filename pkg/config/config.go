package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Server defaults
const (
	DefaultPort        = "8080"
	ServerReadTimeout  = 10 * time.Second
	ServerWriteTimeout = 10 * time.Second
	ShutdownTimeout    = 30 * time.Second
)

// History buffer
const (
	HistoryCapacity   = 1000
	HistoryReplaySize = 100
	StatusRecentSize  = 10
)

// Broker consumer
const (
	DefaultBrokerTopic   = "vehicle.telemetry"
	DefaultConsumerGroup = "fleetlink-ingest"
	BrokerPollTimeout    = 1 * time.Second
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)

// Archive storage
const (
	ArchiveWriteTimeout = 5 * time.Second
	DefaultMaxMemoryMB  = 48
)

// Logger subprocess
const (
	LoggerStopGracePeriod = 5 * time.Second
)

// Config holds the runtime settings read from the environment.
type Config struct {
	Port string

	// Kafka intake. Empty Brokers disables the consumer; the HTTP
	// ingress stays up regardless.
	Brokers       string
	Topic         string
	ConsumerGroup string

	// Paths
	DataDir      string
	RegistryPath string

	// External edge logger binary (optional)
	LoggerPath string

	MaxMemoryMB int64
}

// Load reads configuration from the environment, honoring a local .env
// file when one exists.
func Load() Config {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env")
	}

	dataDir := getEnv("FLEETLINK_DATA_DIR", "./data/fleetlink")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	return Config{
		Port:          getEnv("PORT", DefaultPort),
		Brokers:       os.Getenv("FLEETLINK_KAFKA_BROKERS"),
		Topic:         getEnv("FLEETLINK_KAFKA_TOPIC", DefaultBrokerTopic),
		ConsumerGroup: getEnv("FLEETLINK_CONSUMER_GROUP", DefaultConsumerGroup),
		DataDir:       dataDir,
		RegistryPath:  getEnv("FLEETLINK_REGISTRY_DB", "fleetlink.db"),
		LoggerPath:    os.Getenv("FLEETLINK_LOGGER_BIN"),
		MaxMemoryMB:   getEnvInt64("FLEETLINK_MAX_MEMORY_MB", DefaultMaxMemoryMB),
	}
}

func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %d", key, val, defaultValue)
	}
	return defaultValue
}
