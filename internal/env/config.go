package env

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Host string `env:"PUBSUB_HOST,default=localhost"`
	Port int    `env:"PUBSUB_PORT,default=6379"`

	// TLS is used when any of these are set
	CertFile       string `env:"PUBSUB_CERT_FILE"`
	KeyFile        string `env:"PUBSUB_KEY_FILE"`
	CAFile         string `env:"PUBSUB_CA_FILE"`
	VerifyPeerName bool   `env:"PUBSUB_VERIFY_PEER_NAME"`

	Username string `env:"PUBSUB_USERNAME"`
	Password string `env:"PUBSUB_PASSWORD"`

	// RequirePass is the password `serve` asks clients for
	RequirePass string `env:"PUBSUB_REQUIRE_PASS"`

	LogLevel string `env:"PUBSUB_LOG_LEVEL,default=info"`
	LogFile  string `env:"PUBSUB_LOG_FILE"`

	DebugHTTP bool `env:"PUBSUB_DEBUG_HTTP"`
}

// LoadConfig reads .env.local, when there is one, and then the process
// environment.
func LoadConfig(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(".env.local"); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return LoadConfigWith(ctx, envconfig.OsLookuper())
}

func LoadConfigWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	config := Config{}

	if err := envconfig.ProcessWith(ctx, &config, lookuper); err != nil {
		return nil, err
	}

	return &config, nil
}

// Log returns the logging part of the config.
func (c *Config) Log() LogConfig {
	return LogConfig{
		Level: c.LogLevel,
		File:  c.LogFile,
	}
}
