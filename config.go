package chatIO

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the client settings. The envDefault tags are the defaults
// used by NewClient too.
type Config struct {
	ServerURL            string        `env:"CHAT_SERVER_URL" envDefault:"http://localhost:3333" toml:"server_url"`
	ForceJSONP           bool          `env:"CHAT_FORCE_JSONP" envDefault:"false" toml:"force_jsonp"`
	PreferJSONP          bool          `env:"CHAT_PREFER_JSONP" envDefault:"false" toml:"prefer_jsonp"`
	Offline              bool          `env:"CHAT_OFFLINE" envDefault:"false" toml:"offline"`
	Timeout              time.Duration `env:"CHAT_TIMEOUT" envDefault:"5s" toml:"timeout"`
	FallbackRetryLimit   int           `env:"CHAT_FALLBACK_RETRY_LIMIT" envDefault:"2" toml:"fallback_retry_limit"`
	MaxReconnectAttempts int           `env:"CHAT_MAX_RECONNECT_ATTEMPTS" envDefault:"5" toml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `env:"CHAT_RECONNECT_DELAY" envDefault:"1s" toml:"reconnect_delay"`
	SessionFile          string        `env:"CHAT_SESSION_FILE" toml:"session_file"`
	RedisURL             string        `env:"CHAT_REDIS_URL" toml:"redis_url"`
	RedisPrefix          string        `env:"CHAT_REDIS_PREFIX" envDefault:"chat:" toml:"redis_prefix"`
}

// DefaultConfig returns the tag defaults, ignoring the process environment.
func DefaultConfig() Config {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic(fmt.Sprintf("chatIO: invalid config defaults: %v", err))
	}
	return cfg
}

// LoadConfig reads a .env file when one exists, then the environment, then
// each TOML file in order. Later sources win.
func LoadConfig(files ...string) (Config, error) {
	// the .env file is optional
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, errors.Join(ErrParsingConfig, err)
	}

	for _, file := range files {
		if _, err := toml.DecodeFile(file, &cfg); err != nil {
			return cfg, errors.Join(ErrParsingConfig, fmt.Errorf("%s: %w", file, err))
		}
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive", ErrParsingConfig)
	case c.FallbackRetryLimit < 0:
		return fmt.Errorf("%w: fallback_retry_limit must not be negative", ErrParsingConfig)
	case c.MaxReconnectAttempts < 0:
		return fmt.Errorf("%w: max_reconnect_attempts must not be negative", ErrParsingConfig)
	case c.ReconnectDelay < 0:
		return fmt.Errorf("%w: reconnect_delay must not be negative", ErrParsingConfig)
	}
	return nil
}
