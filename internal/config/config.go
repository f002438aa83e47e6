package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Metrics  MetricsConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Storage  StorageConfig
	Stream   StreamConfig
	Auth     AuthConfig
	Logging  LoggingConfig
	Tracing  TracingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// MetricsConfig holds the metrics server configuration
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// QueueConfig holds message broker configuration for the event bridge
type QueueConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
}

// StorageConfig holds object storage configuration for recordings
type StorageConfig struct {
	Enabled         bool
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
}

// StreamConfig holds stream session manager configuration
type StreamConfig struct {
	FFmpegPath        string
	HLSDir            string
	RecordingDir      string
	StartTimeout      time.Duration
	GracefulTimeout   time.Duration
	SegmentDuration   int
	PlaylistLength    int
	DefaultQuality    string
	DefaultOutputMode string
	DefaultMaxViewers int
	FallbackToHLS     bool
}

// AuthConfig holds token verification configuration
type AuthConfig struct {
	JWTSecret string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// TracingConfig holds distributed tracing configuration
type TracingConfig struct {
	Enabled  bool
	Endpoint string
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.readTimeout", "30s")
	viper.SetDefault("server.writeTimeout", "30s")
	viper.SetDefault("server.shutdownTimeout", "15s")

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "cctv")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.maxConns", 25)
	viper.SetDefault("database.minConns", 5)

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Queue defaults
	viper.SetDefault("queue.enabled", false)
	viper.SetDefault("queue.host", "localhost")
	viper.SetDefault("queue.port", 5672)
	viper.SetDefault("queue.user", "guest")
	viper.SetDefault("queue.password", "guest")
	viper.SetDefault("queue.vhost", "/")

	// Storage defaults
	viper.SetDefault("storage.enabled", false)
	viper.SetDefault("storage.endpoint", "localhost:9000")
	viper.SetDefault("storage.accessKeyID", "minioadmin")
	viper.SetDefault("storage.secretAccessKey", "minioadmin")
	viper.SetDefault("storage.bucketName", "recordings")
	viper.SetDefault("storage.region", "us-east-1")
	viper.SetDefault("storage.useSSL", false)

	// Stream defaults
	viper.SetDefault("stream.ffmpegPath", "ffmpeg")
	viper.SetDefault("stream.hlsDir", "/tmp/hls")
	viper.SetDefault("stream.recordingDir", "/tmp/recordings")
	viper.SetDefault("stream.startTimeout", "30s")
	viper.SetDefault("stream.gracefulTimeout", "5s")
	viper.SetDefault("stream.segmentDuration", 4)
	viper.SetDefault("stream.playlistLength", 6)
	viper.SetDefault("stream.defaultQuality", "medium")
	viper.SetDefault("stream.defaultOutputMode", "hls")
	viper.SetDefault("stream.defaultMaxViewers", 10)
	viper.SetDefault("stream.fallbackToHLS", true)

	// Auth defaults
	viper.SetDefault("auth.jwtSecret", "")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")
}
