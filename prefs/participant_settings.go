package prefs

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/maps"
)

// the client settings each participant reports about itself, keyed by small id.
// Each participant's snapshot is replaced wholesale. The map itself is copy on write,
// so readers always see a complete map.
type ParticipantSettings struct {
	category *Category

	// serializes writers
	stateLock sync.Mutex
	snapshots atomic.Pointer[map[SmallId]*Snapshot]
}

func NewParticipantSettings(category *Category) *ParticipantSettings {
	participants := &ParticipantSettings{
		category: category,
	}
	participants.snapshots.Store(&map[SmallId]*Snapshot{})
	return participants
}

func (self *ParticipantSettings) Category() *Category {
	return self.category
}

func (self *ParticipantSettings) Get(smallId SmallId) (*Snapshot, bool) {
	snapshot, ok := (*self.snapshots.Load())[smallId]
	return snapshot, ok
}

func (self *ParticipantSettings) Put(smallId SmallId, snapshot *Snapshot) error {
	if snapshot.Category() != self.category {
		return fmt.Errorf("Snapshot for %s cannot be stored as %s", snapshot.Category().Name(), self.category.Name())
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	nextSnapshots := maps.Clone(*self.snapshots.Load())
	nextSnapshots[smallId] = snapshot
	self.snapshots.Store(&nextSnapshots)
	return nil
}

func (self *ParticipantSettings) Remove(smallId SmallId) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	snapshots := *self.snapshots.Load()
	if _, ok := snapshots[smallId]; !ok {
		return false
	}
	nextSnapshots := maps.Clone(snapshots)
	delete(nextSnapshots, smallId)
	self.snapshots.Store(&nextSnapshots)
	return true
}

func (self *ParticipantSettings) Clear() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.snapshots.Store(&map[SmallId]*Snapshot{})
}

// ordered
func (self *ParticipantSettings) SmallIds() []SmallId {
	smallIds := maps.Keys(*self.snapshots.Load())
	slices.Sort(smallIds)
	return smallIds
}

func (self *ParticipantSettings) Len() int {
	return len(*self.snapshots.Load())
}
