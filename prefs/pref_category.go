package prefs

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

// an ordered, named collection of preferences for one subsystem.
// Declaration order is the snapshot encoding order.
// The category holds the local values (in its preferences) and the received copy,
// which is replaced wholesale on every applied snapshot.
type Category struct {
	name string

	stateLock   sync.Mutex
	prefs       []AnyPreference
	prefsByName map[string]AnyPreference

	role     atomic.Int32
	received atomic.Pointer[Snapshot]
}

func NewCategory(name string) *Category {
	return &Category{
		name:        name,
		prefs:       []AnyPreference{},
		prefsByName: map[string]AnyPreference{},
	}
}

func (self *Category) Name() string {
	return self.name
}

func (self *Category) register(pref AnyPreference) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if _, ok := self.prefsByName[pref.Name()]; ok {
		panic(fmt.Errorf("Duplicate preference %s in category %s", pref.Name(), self.name))
	}
	index := len(self.prefs)
	// copy on write so readers can iterate without the lock
	nextPrefs := slices.Clone(self.prefs)
	nextPrefs = append(nextPrefs, pref)
	self.prefs = nextPrefs
	self.prefsByName[pref.Name()] = pref
	return index
}

func (self *Category) Preferences() []AnyPreference {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.prefs
}

func (self *Category) Preference(name string) (AnyPreference, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	pref, ok := self.prefsByName[name]
	return pref, ok
}

func (self *Category) Len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.prefs)
}

// binds the session role that polices `Set`
func (self *Category) BindRole(role Role) {
	self.role.Store(int32(role))
}

func (self *Category) Role() Role {
	return Role(self.role.Load())
}

func (self *Category) requireCanSet(pref AnyPreference) {
	role := self.Role()
	if !pref.Policy().CanSet(role) {
		panic(fmt.Errorf(
			"Cannot set %s/%s (%s) as %s: %w",
			self.name,
			pref.Name(),
			pref.Policy(),
			role,
			ErrNotAuthoritative,
		))
	}
}

// the most recently applied snapshot, or nil
func (self *Category) Received() *Snapshot {
	return self.received.Load()
}

// drops the received copy, e.g. when leaving a session. Effective values fall back to local.
func (self *Category) ClearReceived() {
	self.received.Store(nil)
}
