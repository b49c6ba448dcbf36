package prefs

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"google.golang.org/protobuf/encoding/protowire"
)

/*
Snapshot bytes:
    varint entry count
    per entry, in declaration order:
        string name (varint length + utf8)
        tag byte (`Kind`)
        value, by kind:
            bool    varint 0|1
            int     zigzag varint
            float   fixed64 ieee754
            string  varint length + utf8
            enum    zigzag varint
            color   3x fixed32 ieee754 (r, g, b)
            omitted nothing

There is no schema negotiation. Both sides declare the same category shape
(same software version) and decode rejects any disagreement.
*/

var ErrSchemaMismatch = errors.New("schema mismatch")

type SchemaMismatchError struct {
	CategoryName string
	// entry index, or -1 for the header
	Index  int
	Reason string
}

func (self *SchemaMismatchError) Error() string {
	if self.Index < 0 {
		return fmt.Sprintf("%s: %s: %s", ErrSchemaMismatch, self.CategoryName, self.Reason)
	}
	return fmt.Sprintf("%s: %s[%d]: %s", ErrSchemaMismatch, self.CategoryName, self.Index, self.Reason)
}

func (self *SchemaMismatchError) Is(target error) bool {
	return target == ErrSchemaMismatch
}

type SnapshotEntry struct {
	Name string
	Kind Kind
	// nil for omitted entries
	Value any
}

// immutable capture of every preference in a category
type Snapshot struct {
	category      *Category
	entries       []SnapshotEntry
	snapshotBytes []byte
}

func EncodeSnapshot(category *Category) *Snapshot {
	prefs := category.Preferences()
	entries := make([]SnapshotEntry, 0, len(prefs))

	b := protowire.AppendVarint(nil, uint64(len(prefs)))
	for _, pref := range prefs {
		kind := pref.wireKind()
		b = protowire.AppendString(b, pref.Name())
		b = append(b, byte(kind))
		entry := SnapshotEntry{
			Name: pref.Name(),
			Kind: kind,
		}
		if kind != KindOmitted {
			entry.Value = pref.Value()
			b = pref.appendValue(b)
		}
		entries = append(entries, entry)
	}

	return &Snapshot{
		category:      category,
		entries:       entries,
		snapshotBytes: b,
	}
}

// Decode never writes to the category. Use `Category.Apply` to install the result.
func DecodeSnapshot(snapshotBytes []byte, category *Category) (*Snapshot, error) {
	mismatch := func(index int, format string, a ...any) error {
		return &SchemaMismatchError{
			CategoryName: category.Name(),
			Index:        index,
			Reason:       fmt.Sprintf(format, a...),
		}
	}

	prefs := category.Preferences()

	b := snapshotBytes
	count, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return nil, mismatch(-1, "truncated header")
	}
	b = b[n:]
	if count != uint64(len(prefs)) {
		return nil, mismatch(-1, "%d entries, expected %d", count, len(prefs))
	}

	entries := make([]SnapshotEntry, 0, len(prefs))
	for i, pref := range prefs {
		name, n := protowire.ConsumeString(b)
		if n < 0 {
			return nil, mismatch(i, "truncated name")
		}
		b = b[n:]
		if name != pref.Name() {
			return nil, mismatch(i, "name %q, expected %q", name, pref.Name())
		}

		if len(b) == 0 {
			return nil, mismatch(i, "truncated tag")
		}
		kind := Kind(b[0])
		b = b[1:]
		if expectedKind := pref.wireKind(); kind != expectedKind {
			return nil, mismatch(i, "%s tag %s, expected %s", name, kind, expectedKind)
		}

		entry := SnapshotEntry{
			Name: name,
			Kind: kind,
		}
		if kind != KindOmitted {
			v, n := pref.consumeValue(b)
			if n < 0 {
				return nil, mismatch(i, "malformed %s value", kind)
			}
			b = b[n:]
			if ruleFor(pref.Policy()).storeReceived {
				entry.Value = v
			}
		}
		entries = append(entries, entry)
	}
	if len(b) != 0 {
		return nil, mismatch(-1, "%d trailing bytes", len(b))
	}

	return &Snapshot{
		category:      category,
		entries:       entries,
		snapshotBytes: bytes.Clone(snapshotBytes),
	}, nil
}

func (self *Snapshot) Category() *Category {
	return self.category
}

func (self *Snapshot) Len() int {
	return len(self.entries)
}

func (self *Snapshot) Entries() []SnapshotEntry {
	return slices.Clone(self.entries)
}

func (self *Snapshot) Bytes() []byte {
	return bytes.Clone(self.snapshotBytes)
}

func (self *Snapshot) Value(name string) (any, bool) {
	for _, entry := range self.entries {
		if entry.Name == name {
			return entry.Value, entry.Value != nil
		}
	}
	return nil, false
}

func (self *Snapshot) value(index int) (any, bool) {
	if index < 0 || len(self.entries) <= index {
		return nil, false
	}
	v := self.entries[index].Value
	return v, v != nil
}

func (self *Snapshot) String() string {
	var buf bytes.Buffer
	buf.WriteString(self.category.Name())
	buf.WriteString("{")
	prefs := self.category.Preferences()
	for i, entry := range self.entries {
		if 0 < i {
			buf.WriteString(", ")
		}
		buf.WriteString(entry.Name)
		buf.WriteString("=")
		if entry.Value == nil {
			buf.WriteString("-")
		} else {
			buf.WriteString(prefs[i].formatValue(entry.Value))
		}
	}
	buf.WriteString("}")
	return buf.String()
}
