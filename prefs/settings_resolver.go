package prefs

import (
	"fmt"
)

// resolves one preference against a received snapshot (nil when there is none)
func resolveValue(pref AnyPreference, received *Snapshot) (value any, fromReceived bool) {
	if received != nil && pref.Policy().PrefersReceived() {
		if v, ok := received.value(pref.Index()); ok {
			return v, true
		}
	}
	return pref.Value(), false
}

// Apply installs a decoded snapshot as the received copy in one step.
// Omitted and non-stored entries were already dropped by decode, so `Ignore` values keep local.
func (self *Category) Apply(snapshot *Snapshot) error {
	if snapshot.category != self {
		return fmt.Errorf("Snapshot for %s cannot apply to %s", snapshot.category.Name(), self.name)
	}
	self.received.Store(snapshot)
	return nil
}

type EffectiveEntry struct {
	Name   string
	Policy UpdatePolicy
	Value  any
	// the value came from the received snapshot
	FromReceived bool
}

// a consistent resolution of every preference in a category against a single received snapshot
type EffectiveSettings struct {
	category *Category
	received *Snapshot
	values   []any
	entries  []EffectiveEntry
}

// Effective resolves on each call. The received snapshot is loaded once,
// so the result never mixes fields from two snapshots.
func (self *Category) Effective() *EffectiveSettings {
	return self.resolveAll(self.Received())
}

// the category as shown for a participant, see `Preference.ForParticipant`
func (self *Category) EffectiveForParticipant(participants *ParticipantSettings, smallId SmallId) *EffectiveSettings {
	snapshot, _ := participants.Get(smallId)
	return self.resolveAll(snapshot)
}

func (self *Category) resolveAll(received *Snapshot) *EffectiveSettings {
	prefs := self.Preferences()
	values := make([]any, len(prefs))
	entries := make([]EffectiveEntry, len(prefs))
	for i, pref := range prefs {
		value, fromReceived := resolveValue(pref, received)
		values[i] = value
		entries[i] = EffectiveEntry{
			Name:         pref.Name(),
			Policy:       pref.Policy(),
			Value:        value,
			FromReceived: fromReceived,
		}
	}
	return &EffectiveSettings{
		category: self,
		received: received,
		values:   values,
		entries:  entries,
	}
}

func (self *EffectiveSettings) Category() *Category {
	return self.category
}

// the snapshot this resolution used, or nil
func (self *EffectiveSettings) Received() *Snapshot {
	return self.received
}

func (self *EffectiveSettings) Value(name string) (any, bool) {
	pref, ok := self.category.Preference(name)
	if !ok {
		return nil, false
	}
	return self.values[pref.Index()], true
}

func (self *EffectiveSettings) Text(name string) (string, bool) {
	pref, ok := self.category.Preference(name)
	if !ok {
		return "", false
	}
	return pref.formatValue(self.values[pref.Index()]), true
}

func (self *EffectiveSettings) Entries() []EffectiveEntry {
	entries := make([]EffectiveEntry, len(self.entries))
	copy(entries, self.entries)
	return entries
}
