package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/bringyour/prefsync/prefs"
)

func TestConsoleOffline(t *testing.T) {
	store := prefs.NewTomlPreferenceStore(filepath.Join(t.TempDir(), "prefs.toml"))
	settings := prefs.NewSessionSettings()
	out := &bytes.Buffer{}
	c := newConsole(settings, nil, store, newRendererWithStyle(false), out)

	quit, err := c.exec(`set server "Server Mortality" false`)
	assert.Equal(t, err, nil)
	assert.Equal(t, quit, false)
	assert.Equal(t, settings.Server.ServerMortality.Get(), false)
	assert.Equal(t, strings.Contains(out.String(), "ServerSettings.Server Mortality = false"), true)

	// names match ignoring case
	_, err = c.exec(`set client "time scale mode" host_only`)
	assert.Equal(t, errors.Is(err, errUnknownPreference), true)
	_, err = c.exec(`set SERVER "time scale mode" host_only`)
	assert.Equal(t, err, nil)
	assert.Equal(t, settings.Server.TimeScaleMode.Get(), prefs.TimeScaleModeHostOnly)

	_, err = c.exec(`set nowhere Muted true`)
	assert.Equal(t, errors.Is(err, errUnknownCategory), true)
	_, err = c.exec(`set client Muted sometimes`)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, settings.Client.Muted.Get(), false)

	// the store has every successful set
	loaded := prefs.NewSessionSettings()
	assert.Equal(t, store.Load(loaded.Categories()...), nil)
	assert.Equal(t, loaded.Server.ServerMortality.Get(), false)
	assert.Equal(t, loaded.Server.TimeScaleMode.Get(), prefs.TimeScaleModeHostOnly)

	_, err = c.exec(`reset server "Server Mortality"`)
	assert.Equal(t, err, nil)
	assert.Equal(t, settings.Server.ServerMortality.Get(), true)

	out.Reset()
	_, err = c.exec("show")
	assert.Equal(t, err, nil)
	assert.Equal(t, strings.Contains(out.String(), prefs.ServerSettingsCategoryName), true)
	assert.Equal(t, strings.Contains(out.String(), prefs.ClientSettingsCategoryName), true)

	// unknown commands print the usage
	out.Reset()
	quit, err = c.exec("explode")
	assert.Equal(t, err, nil)
	assert.Equal(t, quit, false)
	assert.Equal(t, out.String(), consoleUsage)

	quit, err = c.exec("quit")
	assert.Equal(t, err, nil)
	assert.Equal(t, quit, true)
}

func TestConsolePublishes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := prefs.NewMemoryHubWithDefaults(ctx)
	defer hub.Close()

	hostTransport, err := hub.Host()
	assert.Equal(t, err, nil)
	hostSettings := prefs.NewSessionSettings()
	hostCoordinator := hostSettings.NewCoordinator(ctx, prefs.RoleAuthoritative, hostTransport)
	defer hostCoordinator.Close()

	peerTransport, err := hub.Join()
	assert.Equal(t, err, nil)
	peerSettings := prefs.NewSessionSettings()
	peerCoordinator := peerSettings.NewCoordinator(ctx, prefs.RolePeer, peerTransport)
	defer peerCoordinator.Close()
	assert.Equal(t, hub.WaitIdle(5*time.Second), true)

	hostConsole := newConsole(hostSettings, hostCoordinator, nil, newRendererWithStyle(false), &bytes.Buffer{})
	peerConsole := newConsole(peerSettings, peerCoordinator, nil, newRendererWithStyle(false), &bytes.Buffer{})

	_, err = hostConsole.exec(`set server "Server Mortality" false`)
	assert.Equal(t, err, nil)
	assert.Equal(t, hub.WaitIdle(5*time.Second), true)
	assert.Equal(t, peerSettings.IsMortal(), false)

	// a peer does not own server settings
	_, err = peerConsole.exec(`set server "Server Mortality" true`)
	assert.Equal(t, errors.Is(err, prefs.ErrNotAuthoritative), true)

	_, err = peerConsole.exec(`set client "Nametag Color" "#ff0000"`)
	assert.Equal(t, err, nil)
	assert.Equal(t, hub.WaitIdle(5*time.Second), true)
	assert.Equal(t, hostSettings.NametagColor(peerTransport.LocalSmallId()), prefs.Color{R: 1, G: 0, B: 0})
}

func TestConsoleRun(t *testing.T) {
	settings := prefs.NewSessionSettings()
	out := &bytes.Buffer{}
	c := newConsole(settings, nil, nil, newRendererWithStyle(false), out)

	in := strings.NewReader("set client Muted true\nquit\nset client Deafened true\n")
	c.run(context.Background(), in)
	assert.Equal(t, settings.Client.Muted.Get(), true)
	// nothing runs after quit
	assert.Equal(t, settings.Client.Deafened.Get(), false)
}
