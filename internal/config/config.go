package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBSource      string
	Port          string
	Env           string
	JWTSecret     string
	RedisAddr     string
	RedisPass     string
	RedisDB       int
	WatchInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	redisDB, _ := strconv.Atoi(os.Getenv("REDIS_DB"))

	interval := 2 * time.Second
	if v := os.Getenv("WATCH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid WATCH_INTERVAL: %w", err)
		}
		interval = d
	}

	return &Config{
		DBSource:      dbSource,
		Port:          port,
		Env:           env,
		JWTSecret:     secret,
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPass:     os.Getenv("REDIS_PASS"),
		RedisDB:       redisDB,
		WatchInterval: interval,
	}, nil
}
