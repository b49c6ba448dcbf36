package main

import (
	"testing"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/go-playground/assert/v2"
)

func TestLoadConfig(t *testing.T) {
	config, err := LoadConfig()
	assert.Equal(t, err, nil)
	assert.Equal(t, config.Addr, ":8080")
	assert.Equal(t, config.PrefsPath, "prefs.toml")
	assert.Equal(t, config.TokenTtl, 24*time.Hour)

	t.Setenv("PREFSYNC_ADDR", "127.0.0.1:9090")
	t.Setenv("PREFSYNC_SECRET", "env secret")
	t.Setenv("PREFSYNC_TOKEN_TTL", "90m")
	config, err = LoadConfig()
	assert.Equal(t, err, nil)
	assert.Equal(t, config.Addr, "127.0.0.1:9090")
	assert.Equal(t, config.Secret, "env secret")
	assert.Equal(t, config.TokenTtl, 90*time.Minute)

	t.Setenv("PREFSYNC_TOKEN_TTL", "a while")
	_, err = LoadConfig()
	assert.NotEqual(t, err, nil)
}

func TestConfigApplyOpts(t *testing.T) {
	t.Setenv("PREFSYNC_SECRET", "env secret")
	config, err := LoadConfig()
	assert.Equal(t, err, nil)

	// unset flags keep the environment
	err = config.ApplyOpts(docopt.Opts{
		"--addr":   ":7070",
		"--secret": nil,
		"--ttl":    "1h",
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, config.Addr, ":7070")
	assert.Equal(t, config.Secret, "env secret")
	assert.Equal(t, config.TokenTtl, time.Hour)

	err = config.ApplyOpts(docopt.Opts{
		"--ttl": "soon",
	})
	assert.NotEqual(t, err, nil)
}

func TestSessionUrl(t *testing.T) {
	assert.Equal(t, sessionUrl(":8080"), "ws://localhost:8080/session")
	assert.Equal(t, sessionUrl("10.0.0.2:8080"), "ws://10.0.0.2:8080/session")
	assert.Equal(t, sessionUrl("[::1]:8080"), "ws://[::1]:8080/session")
}
