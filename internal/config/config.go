// Package config loads service configuration from environment variables.
//
// A .env file in the working directory is honored for local development;
// real deployments set the EVAID_* variables directly.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// HydraConfig points at the authorization server's admin API.
type HydraConfig struct {
	AdminURL    string        `env:"ADMIN_URL" envDefault:"http://localhost:4445"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"5s"`
	RememberFor time.Duration `env:"REMEMBER_FOR" envDefault:"1h"`
}

// Argon2Config carries password hashing cost parameters.
type Argon2Config struct {
	TimeCost    uint32 `env:"TIME_COST" envDefault:"2"`
	MemoryCost  uint32 `env:"MEMORY_COST" envDefault:"102400"`
	Parallelism uint8  `env:"PARALLELISM" envDefault:"8"`
	HashLen     uint32 `env:"HASH_LEN" envDefault:"16"`
	SaltLen     uint32 `env:"SALT_LEN" envDefault:"16"`
}

// JWTConfig carries token issuance settings. The private key may be supplied
// inline (PEM) or through a file path; inline wins when both are set.
type JWTConfig struct {
	PrivateKey      string        `env:"PRIVATE_KEY"`
	PrivateKeyFile  string        `env:"PRIVATE_KEY_FILE"`
	Issuer          string        `env:"ISSUER" envDefault:"evaid"`
	Audience        []string      `env:"AUDIENCE" envSeparator:","`
	AccessTTL       time.Duration `env:"ACCESS_TTL" envDefault:"15m"`
	RefreshTTL      time.Duration `env:"REFRESH_TTL" envDefault:"336h"`
	AppKeyAccessTTL time.Duration `env:"APP_KEY_ACCESS_TTL" envDefault:"720h"`
}

// PasswordConfig controls password expiry policy. When Permanent is true new
// passwords never expire; otherwise they expire after Age.
type PasswordConfig struct {
	Permanent bool          `env:"PERMANENT" envDefault:"true"`
	Age       time.Duration `env:"AGE" envDefault:"8760h"`
}

// Config is the root configuration.
type Config struct {
	Env         string `env:"EVAID_ENV" envDefault:"local"`
	ListenAddr  string `env:"EVAID_LISTEN_ADDR" envDefault:":8080"`
	PostgresDSN string `env:"EVAID_PG_DSN"`

	Hydra    HydraConfig    `envPrefix:"EVAID_HYDRA_"`
	Argon2   Argon2Config   `envPrefix:"EVAID_ARGON2_"`
	JWT      JWTConfig      `envPrefix:"EVAID_JWT_"`
	Password PasswordConfig `envPrefix:"EVAID_PASSWORD_"`
}

// Load reads configuration from the environment, honoring a local .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.Hydra.Timeout <= 0 {
		return Config{}, errors.New("config: hydra timeout must be positive")
	}
	return cfg, nil
}

// PrivateKeyPEM resolves the signing key material.
func (c JWTConfig) PrivateKeyPEM() (string, error) {
	if pem := strings.TrimSpace(c.PrivateKey); pem != "" {
		return pem, nil
	}
	if c.PrivateKeyFile == "" {
		return "", errors.New("config: EVAID_JWT_PRIVATE_KEY or EVAID_JWT_PRIVATE_KEY_FILE is required")
	}
	data, err := os.ReadFile(c.PrivateKeyFile)
	if err != nil {
		return "", fmt.Errorf("read private key file: %w", err)
	}
	return string(data), nil
}
