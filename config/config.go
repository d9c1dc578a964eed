// Package config loads application settings from the environment, optionally
// seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	// ErrParsingConfig is returned when the environment cannot be parsed into the target struct.
	ErrParsingConfig = errors.New("failed to parse config")
	// ErrLoadingEnvFile is returned when an explicitly named .env file cannot be read.
	ErrLoadingEnvFile = errors.New("failed to load env file")
)

// Config is the application configuration.
type Config struct {
	App             string        `env:"APP_NAME"          envDefault:"catalog-fsm"`
	Addr            string        `env:"HTTP_ADDR"         envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"  envDefault:"10s"`
	SessionName     string        `env:"SESSION_NAME"      envDefault:"user-machine"`

	API     API     `envPrefix:"API_"`
	Fetch   Fetch   `envPrefix:"FETCH_"`
	Storage Storage `envPrefix:"STORAGE_"`
}

// API locates the upstream store service.
type API struct {
	// Base is the server root; every other endpoint hangs off it.
	Base         string `env:"BASE_URL"      envDefault:"http://localhost:9000/"`
	CommentToken string `env:"COMMENT_TOKEN"`
}

// Fetch tunes the remote contexts.
type Fetch struct {
	Retry      uint          `env:"RETRY"       envDefault:"2"`
	RetryDelay time.Duration `env:"RETRY_DELAY" envDefault:"2s"`
	Timeout    time.Duration `env:"TIMEOUT"     envDefault:"30s"`
	Workers    int           `env:"WORKERS"     envDefault:"8"`
}

// Storage selects and configures the persistence backend.
type Storage struct {
	Driver     string `env:"DRIVER"      envDefault:"memory"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"catalog.db"`
	RedisURL   string `env:"REDIS_URL"   envDefault:"redis://localhost:6379/0"`
	Prefix     string `env:"PREFIX"      envDefault:"catalog:"`
	Codec      string `env:"CODEC"       envDefault:"lz4"`
}

// Load reads .env files (the default ".env" when none are named) into the process
// environment without overriding variables that are already set, then parses the
// environment into a T. A missing default .env file is not an error.
func Load[T any](files ...string) (T, error) {
	var cfg T

	if err := loadEnvFiles(files); err != nil {
		return cfg, err
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, errors.Join(ErrParsingConfig, err)
	}

	return cfg, nil
}

// MustLoad works like Load but panics if configuration loading fails.
func MustLoad[T any](files ...string) T {
	cfg, err := Load[T](files...)
	if err != nil {
		panic(fmt.Sprintf("Failed to load required configuration: %v", err))
	}

	return cfg
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		err := godotenv.Load()
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %w", ErrLoadingEnvFile, err)
		}

		return nil
	}

	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("%w: %w", ErrLoadingEnvFile, err)
	}

	return nil
}

func (a API) root() string {
	if strings.HasSuffix(a.Base, "/") {
		return a.Base
	}

	return a.Base + "/"
}

func (a API) store() string {
	return a.root() + "api/v1/store/"
}

// ProductList is the collection URL of one product category.
func (a API) ProductList(category string) string {
	return a.store() + "p/product/" + category + ".col.asj"
}

// UserInfo is the document URL of the signed-in user's profile.
func (a API) UserInfo() string {
	return a.store() + "u/user-info.doc.asj"
}

// TokenInfo resolves a bare token to its owner.
func (a API) TokenInfo() string {
	return a.store() + "t/token-info.doc.asj"
}

// UpdateOrder is the admin endpoint that changes an order's status.
func (a API) UpdateOrder() string {
	return a.root() + "api/v1/admin/order"
}

// CommentList is the chat storage endpoint.
func (a API) CommentList() string {
	return a.root() + "api/v0/storage"
}

// SendComment appends a message to a chat storage.
func (a API) SendComment() string {
	return a.root() + "api/v0/"
}
