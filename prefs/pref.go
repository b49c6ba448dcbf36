package prefs

import (
	"fmt"
	"sync/atomic"
)

// untyped view of a preference, used by the category, the snapshot codec, the store and the cli
type AnyPreference interface {
	Name() string
	Kind() Kind
	Policy() UpdatePolicy
	Index() int
	Category() *Category

	// local value
	Value() any
	Text() string
	// parses and sets the local value, subject to the category role
	SetText(text string) error
	EffectiveText() string
	DefaultText() string

	// the kind written to snapshots for this preference, `KindOmitted` when the value is never transmitted
	wireKind() Kind
	appendValue(b []byte) []byte
	consumeValue(b []byte) (any, int)
	formatValue(v any) string
	storeValue() any
	loadStoreValue(v any) error
}

type Preference[T comparable] struct {
	category     *Category
	index        int
	name         string
	policy       UpdatePolicy
	defaultValue T
	codec        *kindCodec[T]

	value atomic.Pointer[T]
}

func newPreference[T comparable](
	category *Category,
	name string,
	defaultValue T,
	policy UpdatePolicy,
	codec *kindCodec[T],
) *Preference[T] {
	// fails fast on an unknown policy
	ruleFor(policy)

	pref := &Preference[T]{
		category:     category,
		name:         name,
		policy:       policy,
		defaultValue: defaultValue,
		codec:        codec,
	}
	pref.value.Store(&defaultValue)
	pref.index = category.register(pref)
	return pref
}

func NewBoolPref(category *Category, name string, defaultValue bool, policy UpdatePolicy) *Preference[bool] {
	return newPreference(category, name, defaultValue, policy, boolCodec())
}

func NewIntPref(category *Category, name string, defaultValue int64, policy UpdatePolicy) *Preference[int64] {
	return newPreference(category, name, defaultValue, policy, intCodec())
}

func NewFloatPref(category *Category, name string, defaultValue float64, policy UpdatePolicy) *Preference[float64] {
	return newPreference(category, name, defaultValue, policy, floatCodec())
}

func NewStringPref(category *Category, name string, defaultValue string, policy UpdatePolicy) *Preference[string] {
	return newPreference(category, name, defaultValue, policy, stringCodec())
}

// `values` are the named values of the enum, used to parse and store by name
func NewEnumPref[E Enum](category *Category, name string, defaultValue E, policy UpdatePolicy, values ...E) *Preference[E] {
	return newPreference(category, name, defaultValue, policy, enumCodec(values))
}

func NewColorPref(category *Category, name string, defaultValue Color, policy UpdatePolicy) *Preference[Color] {
	return newPreference(category, name, defaultValue, policy, colorCodec())
}

func (self *Preference[T]) Name() string {
	return self.name
}

func (self *Preference[T]) Kind() Kind {
	return self.codec.kind
}

func (self *Preference[T]) Policy() UpdatePolicy {
	return self.policy
}

func (self *Preference[T]) Index() int {
	return self.index
}

func (self *Preference[T]) Category() *Category {
	return self.category
}

func (self *Preference[T]) Default() T {
	return self.defaultValue
}

func (self *Preference[T]) Get() T {
	return *self.value.Load()
}

// Set does not transmit. The coordinator publishes the category so several sets go out in one snapshot.
// Setting a policy the bound role does not own is a programming error and panics.
func (self *Preference[T]) Set(v T) {
	self.category.requireCanSet(self)
	self.setLocal(v)
}

func (self *Preference[T]) Reset() {
	self.Set(self.defaultValue)
}

func (self *Preference[T]) setLocal(v T) {
	self.value.Store(&v)
}

// the value consumers should observe
func (self *Preference[T]) Effective() T {
	return self.resolve(self.category.Received())
}

// the raw received value, even when the policy does not prefer it
func (self *Preference[T]) Received() (T, bool) {
	var zero T
	snapshot := self.category.Received()
	if snapshot == nil {
		return zero, false
	}
	v, ok := snapshot.value(self.index)
	if !ok {
		return zero, false
	}
	return v.(T), true
}

// the value resolved in a consistent view of the whole category
func (self *Preference[T]) From(effective *EffectiveSettings) T {
	if effective.category != self.category {
		panic(fmt.Errorf("Preference %s is not in category %s", self.name, effective.category.Name()))
	}
	return effective.values[self.index].(T)
}

// the value as shown for a participant: what the participant reports about itself
// for `ClientUpdate` values, and our own local value otherwise
func (self *Preference[T]) ForParticipant(participants *ParticipantSettings, smallId SmallId) T {
	snapshot, _ := participants.Get(smallId)
	if snapshot != nil && snapshot.category != self.category {
		panic(fmt.Errorf("Participant settings are not for category %s", self.category.Name()))
	}
	return self.resolve(snapshot)
}

func (self *Preference[T]) resolve(snapshot *Snapshot) T {
	v, _ := resolveValue(self, snapshot)
	return v.(T)
}

// AnyPreference implementation

func (self *Preference[T]) Value() any {
	return self.Get()
}

func (self *Preference[T]) Text() string {
	return self.codec.formatText(self.Get())
}

func (self *Preference[T]) SetText(text string) error {
	v, err := self.codec.parseText(text)
	if err != nil {
		return fmt.Errorf("%s: %w", self.name, err)
	}
	if !self.policy.CanSet(self.category.Role()) {
		return fmt.Errorf("%s: %w", self.name, ErrNotAuthoritative)
	}
	self.setLocal(v)
	return nil
}

func (self *Preference[T]) EffectiveText() string {
	return self.codec.formatText(self.Effective())
}

func (self *Preference[T]) DefaultText() string {
	return self.codec.formatText(self.defaultValue)
}

func (self *Preference[T]) wireKind() Kind {
	if !self.policy.IsTransmitted() {
		return KindOmitted
	}
	return self.codec.kind
}

func (self *Preference[T]) appendValue(b []byte) []byte {
	return self.codec.appendValue(b, self.Get())
}

func (self *Preference[T]) consumeValue(b []byte) (any, int) {
	v, n := self.codec.consumeValue(b)
	if n < 0 {
		return nil, n
	}
	return v, n
}

func (self *Preference[T]) formatValue(v any) string {
	return self.codec.formatText(v.(T))
}

func (self *Preference[T]) storeValue() any {
	return self.codec.toStoreValue(self.Get())
}

func (self *Preference[T]) loadStoreValue(v any) error {
	value, err := self.codec.fromStoreValue(v)
	if err != nil {
		return fmt.Errorf("%s: %w", self.name, err)
	}
	self.setLocal(value)
	return nil
}
