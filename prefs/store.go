package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/glog"
	"github.com/pelletier/go-toml/v2"
)

// persists local values. Loading bypasses the category role, since stored values
// are our own choices from earlier runs.
type PreferenceStore interface {
	Load(categories ...*Category) error
	Save(categories ...*Category) error
}

// one toml table per category, keyed by preference name:
//
//	[ServerSettings]
//	"Server Mortality" = true
//
//	[ClientSettings]
//	"Nametag Color" = [1.0, 0.5, 0.0]
type TomlPreferenceStore struct {
	path string

	stateLock sync.Mutex
}

func NewTomlPreferenceStore(path string) *TomlPreferenceStore {
	return &TomlPreferenceStore{
		path: path,
	}
}

func (self *TomlPreferenceStore) Path() string {
	return self.path
}

// a missing file leaves the defaults. Values that fail to load are reported together
// after every other value has been loaded.
func (self *TomlPreferenceStore) Load(categories ...*Category) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	doc, err := self.read()
	if err != nil {
		return err
	}

	var errs []error
	for _, category := range categories {
		table, ok := doc[category.Name()].(map[string]any)
		if !ok {
			continue
		}
		for name, v := range table {
			pref, ok := category.Preference(name)
			if !ok {
				glog.V(1).Infof("[store]%s: unknown preference %s\n", category.Name(), name)
				continue
			}
			if err := pref.loadStoreValue(v); err != nil {
				errs = append(errs, fmt.Errorf("%s.%w", category.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// rewrites the named categories. Tables for other categories already in the file are kept.
func (self *TomlPreferenceStore) Save(categories ...*Category) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	doc, err := self.read()
	if err != nil {
		return err
	}

	for _, category := range categories {
		table := map[string]any{}
		for _, pref := range category.Preferences() {
			table[pref.Name()] = pref.storeValue()
		}
		doc[category.Name()] = table
	}

	docBytes, err := toml.Marshal(doc)
	if err != nil {
		return err
	}
	return self.write(docBytes)
}

func (self *TomlPreferenceStore) read() (map[string]any, error) {
	docBytes, err := os.ReadFile(self.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	doc := map[string]any{}
	if err := toml.Unmarshal(docBytes, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", self.path, err)
	}
	return doc, nil
}

// replaces the file in one rename so a crash never leaves a partial file
func (self *TomlPreferenceStore) write(docBytes []byte) error {
	dir := filepath.Dir(self.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(self.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(docBytes); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, self.path); err != nil {
		return err
	}
	success = true
	glog.V(1).Infof("[store]saved %s\n", self.path)
	return nil
}
