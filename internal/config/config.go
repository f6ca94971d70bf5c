package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type App struct {
	AppPort string `envconfig:"APP_PORT" default:"8004"`

	// DB
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     string `envconfig:"DB_PORT" default:"5432"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	// Messaging
	NatsURL string `envconfig:"NATS_URL" default:"nats://localhost:4222"`

	// Telemetry
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"jaeger:4317"`

	// Internal API
	InternalSharedSecret string `envconfig:"INTERNAL_SHARED_SECRET" required:"true"`

	// Lifecycle
	CompletionSweepInterval time.Duration `envconfig:"COMPLETION_SWEEP_INTERVAL" default:"1m"`
}

func Load() (App, error) {
	var c App
	err := envconfig.Process("", &c)
	return c, err
}

// DatabaseURL assembles the pgx connection string from the DB_* parts.
func (c App) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName,
	)
}
