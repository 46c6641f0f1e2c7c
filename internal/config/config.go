package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	ServerAddr string
	Env        string
	BaseURL    string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	JWTSecret string

	RedisAddr string

	ResendAPIKey  string
	EmailFrom     string
	MailerWorkers int

	AllowedOrigins []string
}

func Load() *Config {
	mailerWorkers, _ := strconv.Atoi(getEnvOrDefault("MAILER_WORKERS", "2"))
	if mailerWorkers <= 0 {
		mailerWorkers = 2
	}

	origins := strings.Split(getEnvOrDefault("ALLOWED_ORIGINS", "*"), ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}

	return &Config{
		ServerAddr:     getEnvOrDefault("SERVER_ADDR", ":8080"),
		Env:            getEnvOrDefault("APP_ENV", "development"),
		BaseURL:        getEnvOrDefault("APP_BASE_URL", "http://localhost:3000"),
		DBHost:         getEnvOrDefault("DB_HOST", "localhost"),
		DBPort:         getEnvOrDefault("DB_PORT", "5432"),
		DBUser:         getEnvOrDefault("DB_USER", "apnisec"),
		DBPassword:     getEnvOrDefault("DB_PASSWORD", "apnisec_dev_password"),
		DBName:         getEnvOrDefault("DB_NAME", "apnisec"),
		JWTSecret:      getEnvOrDefault("JWT_SECRET", generateDefaultSecret()),
		RedisAddr:      getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		ResendAPIKey:   os.Getenv("RESEND_API_KEY"),
		EmailFrom:      getEnvOrDefault("EMAIL_FROM", "ApniSec <onboarding@resend.dev>"),
		MailerWorkers:  mailerWorkers,
		AllowedOrigins: origins,
	}
}

// IsProduction reports whether the app runs with production hardening
// (secure cookies, among other things).
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func generateDefaultSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "dev-secret-change-in-production"
	}
	return hex.EncodeToString(bytes)
}
