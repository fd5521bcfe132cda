package app

import (
	"strings"
	"time"

	"github.com/aurafin/underwriting-engine/internal/platform/envutil"
)

type Config struct {
	Environment      string
	Version          string
	MaxConcurrency   int
	ExecutionTimeout time.Duration
	AllowOrigins     []string
}

func LoadConfig() Config {
	origins := strings.Split(envutil.String("CORS_ALLOW_ORIGINS", "http://localhost:3000"), ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	return Config{
		Environment:      envutil.String("ENVIRONMENT", "development"),
		Version:          envutil.String("SERVICE_VERSION", "dev"),
		MaxConcurrency:   envutil.Int("DISPATCH_MAX_CONCURRENCY", 5),
		ExecutionTimeout: envutil.Duration("EXECUTION_TIMEOUT", 2*time.Minute),
		AllowOrigins:     origins,
	}
}
