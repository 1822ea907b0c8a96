package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Streaming broker (MQTT over websocket).
	BrokerURL       string
	BrokerClientID  string
	BrokerQoS       byte
	TopicLocation   string
	TopicStatus     string
	TopicDisconnect string

	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int

	// REST collaborator.
	APIBaseURL      string
	APIToken        string
	RequestTimeout  time.Duration
	SnapshotRetries int
	SnapshotBackoff time.Duration
	FallbackPoll    time.Duration
	RoleScope       string // "all" or "my"

	// Dashboard HTTP server.
	ListenAddr     string
	StaleThreshold time.Duration

	// Optional kafka presence feed.
	KafkaBrokers           []string
	KafkaTopic             string
	KafkaDLQTopic          string
	KafkaTopicPartitions   int
	KafkaDLQPartitions     int
	KafkaReplicationFactor int
	KafkaCompression       string
	KafkaRequiredAcks      string

	// Optional influx position history.
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// Optional minio track archive.
	MinioEndpoint      string
	MinioAccessKey     string
	MinioSecretKey     string
	MinioUseTLS        bool
	MinioBucket        string
	ArchiveBasePath    string
	ArchiveMaxRecords  int
	ArchiveMaxBytes    int64
	ArchiveMaxInterval time.Duration
	ArchiveCompression string

	Logger *log.Logger
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getenvMillis(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return fallback
}

func getenvQoS(key string, fallback byte) byte {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 {
			n = 0
		}
		if n > 2 {
			n = 2
		}
		return byte(n)
	}
	return fallback
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		BrokerURL:       getenv("BROKER_URL", "ws://localhost:8083/mqtt"),
		BrokerClientID:  getenv("BROKER_CLIENT_ID", "fieldtrack-dashboard"),
		BrokerQoS:       getenvQoS("BROKER_QOS", 1),
		TopicLocation:   getenv("TOPIC_LOCATION", "fieldtrack/agents/location"),
		TopicStatus:     getenv("TOPIC_STATUS", "fieldtrack/agents/status"),
		TopicDisconnect: getenv("TOPIC_DISCONNECT", "fieldtrack/agents/disconnect"),

		ReconnectBaseDelay:   getenvMillis("RECONNECT_BASE_DELAY_MS", 1000*time.Millisecond),
		ReconnectMaxDelay:    getenvMillis("RECONNECT_MAX_DELAY_MS", 30*time.Second),
		MaxReconnectAttempts: getenvInt("MAX_RECONNECT_ATTEMPTS", 5),

		APIBaseURL:      getenv("API_BASE_URL", "http://localhost:8080/api"),
		APIToken:        os.Getenv("API_TOKEN"),
		RequestTimeout:  getenvMillis("REQUEST_TIMEOUT_MS", 10*time.Second),
		SnapshotRetries: getenvInt("SNAPSHOT_RETRIES", 3),
		SnapshotBackoff: getenvMillis("SNAPSHOT_BACKOFF_MS", 2*time.Second),
		FallbackPoll:    getenvMillis("FALLBACK_POLL_MS", 30*time.Second),
		RoleScope:       getenv("ROLE_SCOPE", "all"),

		ListenAddr:     getenv("LISTEN_ADDR", ":9090"),
		StaleThreshold: getenvMillis("STALE_THRESHOLD_MS", 2*time.Minute),

		KafkaTopic:             getenv("KAFKA_TOPIC", "agent-presence-events"),
		KafkaDLQTopic:          getenv("KAFKA_DLQ_TOPIC", "agent-presence-dlq"),
		KafkaTopicPartitions:   getenvInt("KAFKA_TOPIC_PARTITIONS", 3),
		KafkaDLQPartitions:     getenvInt("KAFKA_DLQ_PARTITIONS", 1),
		KafkaReplicationFactor: getenvInt("KAFKA_REPLICATION_FACTOR", 1),
		KafkaCompression:       getenv("KAFKA_COMPRESSION", "snappy"),
		KafkaRequiredAcks:      getenv("KAFKA_REQUIRED_ACKS", "one"),

		InfluxURL:    os.Getenv("INFLUX_URL"),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    os.Getenv("INFLUX_ORG"),
		InfluxBucket: os.Getenv("INFLUX_BUCKET"),

		MinioEndpoint:      os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey:     os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey:     os.Getenv("MINIO_SECRET_KEY"),
		MinioUseTLS:        getenvBool("MINIO_USE_TLS", false),
		MinioBucket:        getenv("MINIO_BUCKET", "agent-tracks"),
		ArchiveBasePath:    getenv("ARCHIVE_BASE_PATH", "tracks"),
		ArchiveMaxRecords:  getenvInt("ARCHIVE_MAX_RECORDS", 5000),
		ArchiveMaxBytes:    getenvInt64("ARCHIVE_MAX_BYTES", 8<<20),
		ArchiveMaxInterval: getenvMillis("ARCHIVE_MAX_INTERVAL_MS", 5*time.Minute),
		ArchiveCompression: getenv("ARCHIVE_COMPRESSION", "SNAPPY"),

		Logger: log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	if cfg.APIBaseURL == "" {
		return nil, errors.New("API_BASE_URL must not be empty")
	}
	if cfg.RoleScope != "all" && cfg.RoleScope != "my" {
		return nil, errors.New("ROLE_SCOPE must be \"all\" or \"my\"")
	}

	return cfg, nil
}

// FeedEnabled reports whether the kafka presence feed is configured.
func (c *Config) FeedEnabled() bool { return len(c.KafkaBrokers) > 0 && c.KafkaBrokers[0] != "" }

// HistoryEnabled reports whether the influx history sink is configured.
func (c *Config) HistoryEnabled() bool { return c.InfluxURL != "" }

// ArchiveEnabled reports whether the minio track archive is configured.
func (c *Config) ArchiveEnabled() bool { return c.MinioEndpoint != "" }

// Truncate shortens payload samples for log lines.
func Truncate(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
