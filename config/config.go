package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Env string `envconfig:"APP_ENV" default:"development"`

	Server    ServerConfig
	Database  DatabaseConfig
	AWS       AWSConfig
	Typesense TypesenseConfig
	Redis     RedisConfig
	Auth      AuthConfig
}

type ServerConfig struct {
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"10s"`
}

type DatabaseConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" default:"postgres"`
	Password string `envconfig:"DB_PASSWORD" required:"true"`
	Database string `envconfig:"DB_NAME" default:"streamly"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
}

// DSN returns the Postgres data source name.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

type AWSConfig struct {
	Region       string `envconfig:"AWS_REGION" default:"us-east-1"`
	Endpoint     string `envconfig:"AWS_ENDPOINT"` // non-empty for MinIO/localstack
	VideosBucket string `envconfig:"AWS_VIDEOS_BUCKET" required:"true"`

	SearchRepairQueueURL string        `envconfig:"SEARCH_REPAIR_QUEUE_URL"`
	SignTTL              time.Duration `envconfig:"UPLOAD_SIGN_TTL" default:"1h"`
}

func (c *AWSConfig) Validate() error {
	if c.Region == "" {
		return errors.New("aws region is required")
	}
	if c.VideosBucket == "" {
		return errors.New("videos bucket is required")
	}
	return nil
}

type TypesenseConfig struct {
	Host     string `envconfig:"TYPESENSE_HOST" required:"true"`
	Port     int    `envconfig:"TYPESENSE_PORT" default:"443"`
	Protocol string `envconfig:"TYPESENSE_PROTOCOL" default:"https"`
	APIKey   string `envconfig:"TYPESENSE_API_KEY" required:"true"`

	Collection string `envconfig:"TYPESENSE_COLLECTION" default:"videos"`
}

// URL returns the single-node server address for the client.
func (c *TypesenseConfig) URL() string {
	return fmt.Sprintf("%s://%s:%d", c.Protocol, c.Host, c.Port)
}

type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR"` // empty disables the ownership cache
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

type AuthConfig struct {
	JWTSecret string `envconfig:"AUTH_JWT_SECRET" required:"true"`
	Issuer    string `envconfig:"AUTH_ISSUER"`
}

// Load reads configuration from the environment. Process recurses into the
// nested sub-structs.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &cfg, nil
}
