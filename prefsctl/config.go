package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/docopt/docopt-go"
)

// process config from the environment. Command line flags override it.
type Config struct {
	Addr      string        `env:"PREFSYNC_ADDR"      envDefault:":8080"`
	PrefsPath string        `env:"PREFSYNC_PREFS"     envDefault:"prefs.toml"`
	Secret    string        `env:"PREFSYNC_SECRET"`
	Jwt       string        `env:"PREFSYNC_JWT"`
	TokenTtl  time.Duration `env:"PREFSYNC_TOKEN_TTL" envDefault:"24h"`
}

func LoadConfig() (*Config, error) {
	config := &Config{}
	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return config, nil
}

func (self *Config) ApplyOpts(opts docopt.Opts) error {
	if addr, err := opts.String("--addr"); err == nil && addr != "" {
		self.Addr = addr
	}
	if prefsPath, err := opts.String("--prefs"); err == nil && prefsPath != "" {
		self.PrefsPath = prefsPath
	}
	if secret, err := opts.String("--secret"); err == nil && secret != "" {
		self.Secret = secret
	}
	if jwt, err := opts.String("--jwt"); err == nil && jwt != "" {
		self.Jwt = jwt
	}
	if ttlStr, err := opts.String("--ttl"); err == nil && ttlStr != "" {
		ttl, err := time.ParseDuration(ttlStr)
		if err != nil {
			return fmt.Errorf("--ttl: %w", err)
		}
		self.TokenTtl = ttl
	}
	return nil
}
