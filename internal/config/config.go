package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends selectable through REID_STORE.
const (
	StoreFile     = "file"
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreDynamoDB = "dynamodb"
	StoreS3       = "s3"
)

// Config holds application configuration
type Config struct {
	Env              string
	LogLevel         string
	DeidOutputDir    string
	ReidOutputDir    string
	FilterPolicyFile string
	NERModelName     string
	WorkerCount      int

	// Reid map persistence
	ReidStore    string
	StoreTimeout time.Duration
	DatabaseURL  string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	ReidMapTable        string
	ReidMapBucket       string

	// Audit trail (requires DATABASE_URL)
	AuditEnabled bool

	// Prometheus textfile written when a command exits
	MetricsTextfile string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Env:              getEnv("ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DeidOutputDir:    getEnv("DEID_OUTPUT_DIR", "output"),
		ReidOutputDir:    getEnv("REID_OUTPUT_DIR", "reidentification/output"),
		FilterPolicyFile: getEnv("FILTER_POLICY_FILE", ""),
		NERModelName:     getEnv("NER_MODEL_NAME", "StanfordAIMI/stanford-deidentifier-base"),
		WorkerCount:      getEnvAsInt("WORKER_COUNT", 4),

		ReidStore:    strings.ToLower(strings.TrimSpace(getEnv("REID_STORE", StoreFile))),
		StoreTimeout: getEnvAsDuration("STORE_TIMEOUT", 10*time.Second),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		ReidMapTable:        getEnv("REID_MAP_TABLE", "reid_map_pages"),
		ReidMapBucket:       getEnv("REID_MAP_BUCKET", ""),

		AuditEnabled: getEnvAsBool("AUDIT_ENABLED", false),

		MetricsTextfile: getEnv("METRICS_TEXTFILE", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
