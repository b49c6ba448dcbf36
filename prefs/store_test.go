package prefs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestTomlPreferenceStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs", "prefs.toml")
	store := NewTomlPreferenceStore(path)

	// a missing file keeps the defaults
	settings := NewSessionSettings()
	assert.Equal(t, store.Load(settings.Categories()...), nil)
	assert.Equal(t, settings.IsMortal(), true)

	settings.Server.ServerMortality.Set(false)
	settings.Server.TimeScaleMode.Set(TimeScaleModeHostOnly)
	settings.Server.KickingAllowed.Set(PermissionLevelOwner)
	settings.Client.NametagColor.Set(Color{R: 0.5, G: 0.25, B: 1})
	settings.Client.Nickname.Set("ada")
	settings.Client.GlobalVolume.Set(0.75)
	assert.Equal(t, store.Save(settings.Categories()...), nil)

	docBytes, err := os.ReadFile(path)
	assert.Equal(t, err, nil)
	doc := string(docBytes)
	assert.Equal(t, strings.Contains(doc, "[ServerSettings]"), true)
	assert.Equal(t, strings.Contains(doc, "[ClientSettings]"), true)
	// enums are stored by name
	assert.Equal(t, strings.Contains(doc, "host_only"), true)

	loaded := NewSessionSettings()
	// stored values load whatever the session role
	loaded.Server.Category.BindRole(RolePeer)
	assert.Equal(t, store.Load(loaded.Categories()...), nil)
	assert.Equal(t, loaded.Server.ServerMortality.Get(), false)
	assert.Equal(t, loaded.Server.TimeScaleMode.Get(), TimeScaleModeHostOnly)
	assert.Equal(t, loaded.Server.KickingAllowed.Get(), PermissionLevelOwner)
	assert.Equal(t, loaded.Client.NametagColor.Get(), Color{R: 0.5, G: 0.25, B: 1})
	assert.Equal(t, loaded.Client.Nickname.Get(), "ada")
	assert.Equal(t, loaded.Client.GlobalVolume.Get(), 0.75)
	assert.Equal(t, loaded.Client.Muted.Get(), false)

	// saving one category keeps the others
	loaded.Server.Category.BindRole(RoleUnbound)
	loaded.Server.ServerMortality.Set(true)
	assert.Equal(t, store.Save(loaded.Server.Category), nil)
	reloaded := NewSessionSettings()
	assert.Equal(t, store.Load(reloaded.Categories()...), nil)
	assert.Equal(t, reloaded.Server.ServerMortality.Get(), true)
	assert.Equal(t, reloaded.Client.Nickname.Get(), "ada")

	// no temp files are left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	assert.Equal(t, err, nil)
	assert.Equal(t, len(entries), 1)
}

func TestTomlPreferenceStoreBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.toml")
	err := os.WriteFile(path, []byte(`
[ServerSettings]
"Server Mortality" = "sometimes"
"Kicking Allowed" = "owner"
"Retired Setting" = 1

[ClientSettings]
"Nametag Color" = "#ff0000"
`), 0o644)
	assert.Equal(t, err, nil)

	settings := NewSessionSettings()
	err = NewTomlPreferenceStore(path).Load(settings.Categories()...)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, strings.Contains(err.Error(), "Server Mortality"), true)
	// the good values still load
	assert.Equal(t, settings.Server.ServerMortality.Get(), true)
	assert.Equal(t, settings.Server.KickingAllowed.Get(), PermissionLevelOwner)
	assert.Equal(t, settings.Client.NametagColor.Get(), Color{R: 1, G: 0, B: 0})

	err = os.WriteFile(path, []byte("not = [toml"), 0o644)
	assert.Equal(t, err, nil)
	assert.NotEqual(t, NewTomlPreferenceStore(path).Load(settings.Categories()...), nil)
}
