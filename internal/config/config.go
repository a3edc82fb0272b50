package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	// MongoDB Configuration
	MongoURI      string
	MongoDatabase string
	MongoTimeout  time.Duration

	// HTTP Server Configuration
	HTTPPort         string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration

	// Logging Configuration
	LogLevel  string
	LogFormat string

	// CORS Configuration
	CORSAllowedOrigins   string
	CORSAllowedMethods   string
	CORSAllowedHeaders   string
	CORSAllowCredentials bool
	CORSMaxAge           int

	// Workflow Engine Configuration
	EngineEnabled      bool
	EngineTickInterval time.Duration
	EngineLockTTL      time.Duration
	EngineStaleTimeout time.Duration
	EngineBatchSize    int
	EngineWorkers      int
	EngineQueueSize    int
	PollInterval       time.Duration

	// Provisioning Configuration
	AWSRegion         string
	StackTemplateURL  string
	ImageRepository   string
	BuildProject      string
	ImagePollBudget   int
	InfraPollBudget   int
	StackEndpointPath string
	StackGroupPath    string

	// Request Router Configuration
	RouterBaseURL    string
	RouterTimeout    time.Duration
	RouterMaxRetries int
	RouterRetryBase  time.Duration

	// Access Control Configuration
	AdminGroup string
}

// Load reads configuration from environment variables with sensible defaults
func Load() *Config {
	return &Config{
		// MongoDB
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017/kestrel?authSource=admin"),
		MongoDatabase: getEnv("MONGO_DATABASE", "kestrel"),
		MongoTimeout:  getDurationEnv("MONGO_TIMEOUT_SEC", 10) * time.Second,

		// HTTP Server
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		HTTPReadTimeout:  getDurationEnv("HTTP_READ_TIMEOUT_SEC", 30) * time.Second,
		HTTPWriteTimeout: getDurationEnv("HTTP_WRITE_TIMEOUT_SEC", 30) * time.Second,

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// CORS
		CORSAllowedOrigins:   getEnv("CORS_ALLOWED_ORIGINS", "*"),
		CORSAllowedMethods:   getEnv("CORS_ALLOWED_METHODS", "GET, POST, PUT, DELETE, OPTIONS, PATCH"),
		CORSAllowedHeaders:   getEnv("CORS_ALLOWED_HEADERS", "*"),
		CORSAllowCredentials: getBoolEnv("CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAge:           getIntEnv("CORS_MAX_AGE", 3600),

		// Workflow Engine
		EngineEnabled:      getBoolEnv("ENGINE_ENABLED", true),
		EngineTickInterval: getDurationEnv("ENGINE_TICK_INTERVAL_SEC", 5) * time.Second,
		EngineLockTTL:      getDurationEnv("ENGINE_LOCK_TTL_SEC", 300) * time.Second,
		EngineStaleTimeout: getDurationEnv("ENGINE_STALE_TIMEOUT_SEC", 600) * time.Second,
		EngineBatchSize:    getIntEnv("ENGINE_BATCH_SIZE", 50),
		EngineWorkers:      getIntEnv("ENGINE_WORKERS", 10),
		EngineQueueSize:    getIntEnv("ENGINE_QUEUE_SIZE", 100),
		PollInterval:       getDurationEnv("POLL_INTERVAL_SEC", 30) * time.Second,

		// Provisioning
		AWSRegion:         getEnv("AWS_REGION", "us-east-1"),
		StackTemplateURL:  getEnv("STACK_TEMPLATE_URL", ""),
		ImageRepository:   getEnv("IMAGE_REPOSITORY", ""),
		BuildProject:      getEnv("BUILD_PROJECT", ""),
		ImagePollBudget:   getIntEnv("IMAGE_POLL_BUDGET", 60),
		InfraPollBudget:   getIntEnv("INFRA_POLL_BUDGET", 120),
		StackEndpointPath: getEnv("STACK_ENDPOINT_PATH", "$.Endpoint"),
		StackGroupPath:    getEnv("STACK_GROUP_PATH", "$.AutoScalingGroupName"),

		// Request Router
		RouterBaseURL:    getEnv("ROUTER_BASE_URL", "http://localhost:9090"),
		RouterTimeout:    getDurationEnv("ROUTER_TIMEOUT_SEC", 10) * time.Second,
		RouterMaxRetries: getIntEnv("ROUTER_MAX_RETRIES", 3),
		RouterRetryBase:  getDurationEnv("ROUTER_RETRY_BASE_MS", 500) * time.Millisecond,

		// Access Control
		AdminGroup: getEnv("ADMIN_GROUP", "platform-admins"),
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		log.Printf("Warning: Invalid integer value for %s, using default %d", key, defaultValue)
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return time.Duration(intVal)
		}
		log.Printf("Warning: Invalid duration value for %s, using default %d", key, defaultValue)
	}
	return time.Duration(defaultValue)
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
		log.Printf("Warning: Invalid boolean value for %s, using default %t", key, defaultValue)
	}
	return defaultValue
}
