package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	CRDBDSN           string
	MongoURI          string
	RedisAddr         string
	RabbitURL         string
	JWTSecret         string
	PaymentGatewayURL string
	HTTPAddr          string
	LockTTL           time.Duration
	CommitRetries     int
	OTLPEndpoint      string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	lockTTL, _ := time.ParseDuration(os.Getenv("LOCK_TTL"))
	if lockTTL == 0 {
		lockTTL = 7 * time.Minute
	}

	retries, _ := strconv.Atoi(os.Getenv("COMMIT_RETRIES"))
	if retries == 0 {
		retries = 3
	}

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	return &Config{
		CRDBDSN:           os.Getenv("CRDB_DSN"),
		MongoURI:          os.Getenv("MONGO_URI"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RabbitURL:         os.Getenv("RABBIT_URL"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		PaymentGatewayURL: os.Getenv("PAYMENT_GATEWAY_URL"),
		HTTPAddr:          addr,
		LockTTL:           lockTTL,
		CommitRetries:     retries,
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}, nil
}
