package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort int
	JWTSecret  string
	TokenTTL   time.Duration
	Log        LogConfig
	CORS       CORSConfig
	LoginLimit RateLimitConfig
	Database   DatabaseConfig
	Seed       SeedConfig
	Storage    StorageConfig
	MQ         MQConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type CORSConfig struct {
	AllowedOrigins []string
}

// RateLimitConfig bounds login attempts per client IP.
type RateLimitConfig struct {
	PerMinute int
	Burst     int
}

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	UseSSL      bool
	AutoMigrate bool
}

type SeedAccount struct {
	Email    string
	Password string
	Name     string
}

// SeedConfig holds the two fixed accounts created at initialization.
type SeedConfig struct {
	Technician SeedAccount
	Dentist    SeedAccount
}

type StorageConfig struct {
	Backend    string
	Folder     string
	Cloudinary CloudinaryConfig
	Minio      MinioConfig
	S3         S3Config
	GCS        GCSConfig
}

type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
}

type MinioConfig struct {
	Endpoint       string
	PublicEndpoint string
	AccessKey      string
	SecretKey      string
	Bucket         string
	UseSSL         bool
}

type S3Config struct {
	Region        string
	Endpoint      string
	PublicBaseURL string
	AccessKey     string
	SecretKey     string
	Bucket        string
}

type GCSConfig struct {
	Bucket          string
	ProjectID       string
	CredentialsFile string
}

type MQConfig struct {
	Backend  string
	Channel  string
	RabbitMQ RabbitMQConfig
	PubSub   PubSubConfig
}

type RabbitMQConfig struct {
	URL             string
	QueueDurable    bool
	QueueAutoDelete bool
	PrefetchCount   int
}

type PubSubConfig struct {
	ProjectID          string
	CredentialsFile    string
	SubscriptionSuffix string
}

var defaultCORSOrigins = []string{
	"http://localhost:5173",
	"http://localhost:3000",
	"https://oral-vis-healthcare.vercel.app",
	"https://oral-vis-healthcare-jrmd.vercel.app",
}

func LoadConfig() Config {
	if os.Getenv("ENV") == "dev" {
		godotenv.Load()
	}

	dbConfig := DatabaseConfig{
		Host:        getEnv("DB_HOST", "localhost"),
		Port:        getEnvInt("DB_PORT", 5432),
		User:        getEnv("DB_USER", "oralvis"),
		Password:    getEnv("DB_PASSWORD", "password"),
		DBName:      getEnv("DB_NAME", "oralvis"),
		UseSSL:      getEnvBool("DB_USE_SSL", false),
		AutoMigrate: getEnvBool("DB_AUTO_MIGRATE", true),
	}

	seedConfig := SeedConfig{
		Technician: SeedAccount{
			Email:    getEnv("SEED_TECHNICIAN_EMAIL", "tech@oralvis.com"),
			Password: getEnv("SEED_TECHNICIAN_PASSWORD", "password123"),
			Name:     getEnv("SEED_TECHNICIAN_NAME", "John Smith"),
		},
		Dentist: SeedAccount{
			Email:    getEnv("SEED_DENTIST_EMAIL", "dentist@oralvis.com"),
			Password: getEnv("SEED_DENTIST_PASSWORD", "password123"),
			Name:     getEnv("SEED_DENTIST_NAME", "Dr. Sarah Johnson"),
		},
	}

	storageConfig := StorageConfig{
		Backend: strings.ToLower(getEnv("STORAGE_BACKEND", "cloudinary")),
		Folder:  getEnv("STORAGE_FOLDER", "oralvis-scans"),
		Cloudinary: CloudinaryConfig{
			CloudName: getEnv("CLOUDINARY_CLOUD_NAME", ""),
			APIKey:    getEnv("CLOUDINARY_API_KEY", ""),
			APISecret: getEnv("CLOUDINARY_API_SECRET", ""),
		},
		Minio: MinioConfig{
			Endpoint:       getEnv("MINIO_ENDPOINT", "localhost:9000"),
			PublicEndpoint: getEnv("MINIO_PUBLIC_ENDPOINT", ""),
			AccessKey:      getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey:      getEnv("MINIO_SECRET_KEY", ""),
			Bucket:         getEnv("MINIO_BUCKET", "oralvis"),
			UseSSL:         getEnvBool("MINIO_USE_SSL", false),
		},
		S3: S3Config{
			Region:        getEnv("S3_REGION", "us-east-1"),
			Endpoint:      getEnv("S3_ENDPOINT", ""),
			PublicBaseURL: getEnv("S3_PUBLIC_BASE_URL", ""),
			AccessKey:     getEnv("S3_ACCESS_KEY", ""),
			SecretKey:     getEnv("S3_SECRET_KEY", ""),
			Bucket:        getEnv("S3_BUCKET", ""),
		},
		GCS: GCSConfig{
			Bucket:          getEnv("GCS_BUCKET", ""),
			ProjectID:       getEnv("GCS_PROJECT_ID", ""),
			CredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
		},
	}

	mqConfig := MQConfig{
		Backend: strings.ToLower(getEnv("MQ_BACKEND", "none")),
		Channel: getEnv("MQ_CHANNEL", "scans.events"),
		RabbitMQ: RabbitMQConfig{
			URL:             getEnv("RABBITMQ_URL", ""),
			QueueDurable:    getEnvBool("RABBITMQ_QUEUE_DURABLE", true),
			QueueAutoDelete: getEnvBool("RABBITMQ_QUEUE_AUTO_DELETE", false),
			PrefetchCount:   getEnvInt("RABBITMQ_PREFETCH", 0),
		},
		PubSub: PubSubConfig{
			ProjectID:          getEnv("PUBSUB_PROJECT_ID", ""),
			CredentialsFile:    getEnv("PUBSUB_CREDENTIALS_FILE", ""),
			SubscriptionSuffix: getEnv("PUBSUB_SUBSCRIPTION_SUFFIX", "-sub"),
		},
	}

	return Config{
		ServerPort: getEnvInt("SERVER_PORT", 5000),
		JWTSecret:  strings.TrimSpace(getEnv("JWT_SECRET", "")),
		TokenTTL:   getEnvDuration("TOKEN_TTL", 24*time.Hour),
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", defaultCORSOrigins),
		},
		LoginLimit: RateLimitConfig{
			PerMinute: getEnvInt("LOGIN_RATE_LIMIT", 30),
			Burst:     getEnvInt("LOGIN_RATE_BURST", 10),
		},
		Database: dbConfig,
		Seed:     seedConfig,
		Storage:  storageConfig,
		MQ:       mqConfig,
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		var value int
		if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := time.ParseDuration(strings.TrimSpace(valueStr))
		if err != nil || value <= 0 {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			values = append(values, part)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
