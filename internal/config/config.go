// Package config loads process configuration from environment variables. A
// .env file in the working directory is honored when present so local runs
// do not need an exported environment.
package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config holds environment-derived settings. Gameplay tuning lives in
// configs/tuning.yaml, not here.
type Config struct {
	Env      string // "dev", "staging", "production"
	DBDriver string // "sqlite" or "mysql"
	DBDSN    string // driver-specific DSN; empty for sqlite means <data>/world.db

	JWTSecret string

	RedisAddr string // empty disables the purchase rate limiter
	AMQPURL   string // empty disables economy event publishing
}

func Load() Config {
	// Missing .env is fine; exported variables win either way.
	_ = godotenv.Load()

	return Config{
		Env:       getenv("IW_ENV", "dev"),
		DBDriver:  getenv("IW_DB_DRIVER", "sqlite"),
		DBDSN:     os.Getenv("IW_DB_DSN"),
		JWTSecret: mustSecret(),
		RedisAddr: os.Getenv("IW_REDIS_ADDR"),
		AMQPURL:   os.Getenv("IW_AMQP_URL"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func mustSecret() string {
	v := os.Getenv("IW_JWT_SECRET")
	if v != "" {
		return v
	}
	if getenv("IW_ENV", "dev") == "dev" {
		return "dev-secret-do-not-use"
	}
	log.Fatalf("missing required env var: IW_JWT_SECRET")
	return ""
}
