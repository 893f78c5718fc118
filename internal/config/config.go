package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/autoheaven/auth-service/internal/models"
)

type Config struct {
	DB_HOST     string
	DB_PORT     string
	DB_USER     string
	DB_PASSWORD string
	DB_NAME     string

	ACCESS_SECRET  string
	REFRESH_SECRET string

	ACCESS_TOKEN_TTL  time.Duration
	REFRESH_TOKEN_TTL time.Duration
	RESET_TOKEN_TTL   time.Duration
	PENDING_TTL       time.Duration

	SMTP_HOST     string
	SMTP_PORT     int
	SMTP_USER     string
	SMTP_PASSWORD string
	EMAIL_FROM    string

	FRONTEND_URL  string
	KAFKA_ADDRESS string

	HTTP_ADDR     string
	LOG_LEVEL     string
	COOKIE_SECURE bool
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Notice: .env file not found: %v. Using system environment variables", err)
	}

	config := &Config{
		DB_HOST:     os.Getenv("DB_HOST"),
		DB_PORT:     os.Getenv("DB_PORT"),
		DB_USER:     os.Getenv("DB_USER"),
		DB_PASSWORD: os.Getenv("DB_PASSWORD"),
		DB_NAME:     os.Getenv("DB_NAME"),

		ACCESS_SECRET:  os.Getenv("ACCESS_TOKEN_SECRET"),
		REFRESH_SECRET: os.Getenv("REFRESH_TOKEN_SECRET"),

		ACCESS_TOKEN_TTL:  getDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		REFRESH_TOKEN_TTL: getDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		RESET_TOKEN_TTL:   getDuration("RESET_TOKEN_TTL", 10*time.Minute),
		PENDING_TTL:       getDuration("PENDING_REGISTRATION_TTL", 24*time.Hour),

		SMTP_HOST:     os.Getenv("SMTP_HOST"),
		SMTP_PORT:     getInt("SMTP_PORT", 587),
		SMTP_USER:     os.Getenv("EMAIL_USER"),
		SMTP_PASSWORD: os.Getenv("EMAIL_PASS"),
		EMAIL_FROM:    os.Getenv("EMAIL_FROM"),

		FRONTEND_URL:  os.Getenv("FRONTEND_URL"),
		KAFKA_ADDRESS: os.Getenv("KAFKA_ADDRESS"),

		HTTP_ADDR:     getString("HTTP_ADDR", ":8080"),
		LOG_LEVEL:     getString("LOG_LEVEL", "info"),
		COOKIE_SECURE: os.Getenv("APP_ENV") == "production",
	}

	MustNonEmpty(config.ACCESS_SECRET, "ACCESS_TOKEN_SECRET")
	MustNonEmpty(config.REFRESH_SECRET, "REFRESH_TOKEN_SECRET")

	return config, nil
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.DB_USER, cfg.DB_PASSWORD, cfg.DB_HOST, cfg.DB_PORT, cfg.DB_NAME,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("cannot connect to db: %w", err)
	}
	if err := db.AutoMigrate(&models.User{}); err != nil {
		return nil, fmt.Errorf("cannot run migrations: %w", err)
	}
	return db, nil
}

func getString(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func getInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Notice: invalid %s=%q, using default %d", name, v, def)
		return def
	}
	return n
}

func getDuration(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Notice: invalid %s=%q, using default %s", name, v, def)
		return def
	}
	return d
}
