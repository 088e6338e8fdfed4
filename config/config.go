package config

import (
	"os"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the saferoute service
type Config struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Server configuration
	Port string

	// Auth configuration
	JWTSecret string

	// OpenAI configuration
	OpenAIAPIKey string
	OpenAIModel  string

	// Scoring configuration
	SignalTimeout time.Duration

	// Geocoding configuration
	NominatimURL       string
	GeocodeTimeout     time.Duration
	GeocodeCacheTTL    time.Duration
	RedisURL           string
	NominatimPerSecond float64

	// RabbitMQ configuration
	AMQPURL           string
	ExchangeName      string
	PublishRoutingKey string

	// Feed and routing configuration
	FeedDefaultRadiusKm float64
	FeedPageSize        int
	RouteCorridorKm     float64
	Currency            string

	// Rate limiting
	RateLimitPerSecond float64
	RateLimitBurst     int

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables. A .env file in the
// working directory is read first when present.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("Failed to load .env file: %v", err)
	}

	config := &Config{
		// Database defaults
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "server"),
		DBPassword: getEnv("DB_PASSWORD", "secret"),
		DBName:     getEnv("DB_NAME", "saferoute"),

		// Server defaults
		Port: getEnv("PORT", "8080"),

		// Auth defaults
		JWTSecret: getEnv("JWT_SECRET", ""),

		// OpenAI defaults
		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:  getEnv("OPENAI_MODEL", "gpt-4o"),

		SignalTimeout: getDurationEnv("SIGNAL_TIMEOUT", 10*time.Second),

		// Geocoding defaults
		NominatimURL:       getEnv("NOMINATIM_URL", "https://nominatim.openstreetmap.org"),
		GeocodeTimeout:     getDurationEnv("GEOCODE_TIMEOUT", 5*time.Second),
		GeocodeCacheTTL:    getDurationEnv("GEOCODE_CACHE_TTL", 30*24*time.Hour),
		RedisURL:           getEnv("REDIS_URL", ""),
		NominatimPerSecond: getFloatEnv("NOMINATIM_RPS", 1.0),

		// RabbitMQ defaults
		AMQPURL:           getEnv("AMQP_URL", ""),
		ExchangeName:      getEnv("AMQP_EXCHANGE", "saferoute-reports"),
		PublishRoutingKey: getEnv("AMQP_ROUTING_KEY", "report.published"),

		// Feed and routing defaults
		FeedDefaultRadiusKm: getFloatEnv("FEED_DEFAULT_RADIUS_KM", 10.0),
		FeedPageSize:        getIntEnv("FEED_PAGE_SIZE", 50),
		RouteCorridorKm:     getFloatEnv("ROUTE_CORRIDOR_KM", 2.0),
		Currency:            getEnv("CURRENCY", "EUR"),

		// Rate limiting defaults
		RateLimitPerSecond: getFloatEnv("RATE_LIMIT_RPS", 5.0),
		RateLimitBurst:     getIntEnv("RATE_LIMIT_BURST", 20),

		// Logging defaults
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return config
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		log.Warnf("Invalid duration for %s: %q, using %s", key, value, defaultValue)
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warnf("Invalid integer for %s: %q, using %d", key, value, defaultValue)
	}
	return defaultValue
}

// getFloatEnv gets a float environment variable or returns a default value
func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
		log.Warnf("Invalid float for %s: %q, using %v", key, value, defaultValue)
	}
	return defaultValue
}
