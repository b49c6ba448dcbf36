package prefs

import (
	"errors"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
	"google.golang.org/protobuf/encoding/protowire"
)

func requireSchemaMismatch(t *testing.T, err error, index int) {
	assert.Equal(t, errors.Is(err, ErrSchemaMismatch), true)
	var mismatchErr *SchemaMismatchError
	assert.Equal(t, errors.As(err, &mismatchErr), true)
	assert.Equal(t, mismatchErr.CategoryName, "Test")
	assert.Equal(t, mismatchErr.Index, index)
}

func TestSnapshotSchemaStrictness(t *testing.T) {
	receiver := newTestPrefs("Test")
	receiver.category.BindRole(RolePeer)

	good := newTestPrefs("Test")
	good.count.Set(11)
	goodSnapshot, err := DecodeSnapshot(EncodeSnapshot(good.category).Bytes(), receiver.category)
	assert.Equal(t, err, nil)
	assert.Equal(t, receiver.category.Apply(goodSnapshot), nil)

	// an extra preference on the sender
	extra := newTestPrefs("Test")
	NewBoolPref(extra.category, "Extra", false, ServerUpdate)
	_, err = DecodeSnapshot(EncodeSnapshot(extra.category).Bytes(), receiver.category)
	requireSchemaMismatch(t, err, -1)

	// the same name with a different kind
	kindCategory := NewCategory("Test")
	NewBoolPref(kindCategory, "Flag", false, ServerUpdate)
	NewFloatPref(kindCategory, "Count", 3, ServerUpdate)
	NewFloatPref(kindCategory, "Ratio", 0.5, LocalUpdate)
	NewStringPref(kindCategory, "Label", "none", ClientUpdate)
	NewEnumPref(kindCategory, "Mode", testModeLow, ServerUpdate, testModeLow, testModeHigh)
	NewColorPref(kindCategory, "Color", ColorWhite, ClientUpdate)
	NewStringPref(kindCategory, "Secret", "", Ignore)
	_, err = DecodeSnapshot(EncodeSnapshot(kindCategory).Bytes(), receiver.category)
	requireSchemaMismatch(t, err, 1)

	// declaration order differs
	orderCategory := NewCategory("Test")
	NewIntPref(orderCategory, "Count", 3, ServerUpdate)
	NewBoolPref(orderCategory, "Flag", false, ServerUpdate)
	NewFloatPref(orderCategory, "Ratio", 0.5, LocalUpdate)
	NewStringPref(orderCategory, "Label", "none", ClientUpdate)
	NewEnumPref(orderCategory, "Mode", testModeLow, ServerUpdate, testModeLow, testModeHigh)
	NewColorPref(orderCategory, "Color", ColorWhite, ClientUpdate)
	NewStringPref(orderCategory, "Secret", "", Ignore)
	_, err = DecodeSnapshot(EncodeSnapshot(orderCategory).Bytes(), receiver.category)
	requireSchemaMismatch(t, err, 0)

	// a value the receiver ignores is sent by the sender
	policyCategory := NewCategory("Test")
	NewBoolPref(policyCategory, "Flag", false, ServerUpdate)
	NewIntPref(policyCategory, "Count", 3, ServerUpdate)
	NewFloatPref(policyCategory, "Ratio", 0.5, LocalUpdate)
	NewStringPref(policyCategory, "Label", "none", ClientUpdate)
	NewEnumPref(policyCategory, "Mode", testModeLow, ServerUpdate, testModeLow, testModeHigh)
	NewColorPref(policyCategory, "Color", ColorWhite, ClientUpdate)
	NewStringPref(policyCategory, "Secret", "", ServerUpdate)
	_, err = DecodeSnapshot(EncodeSnapshot(policyCategory).Bytes(), receiver.category)
	requireSchemaMismatch(t, err, 6)

	snapshotBytes := EncodeSnapshot(good.category).Bytes()

	// truncated anywhere
	for n := 0; n < len(snapshotBytes); n += 1 {
		_, err = DecodeSnapshot(snapshotBytes[:n], receiver.category)
		assert.Equal(t, errors.Is(err, ErrSchemaMismatch), true)
	}

	// trailing bytes
	_, err = DecodeSnapshot(append(snapshotBytes, 0), receiver.category)
	requireSchemaMismatch(t, err, -1)

	// a bool out of range
	boolBytes := protowire.AppendVarint(nil, 7)
	boolBytes = protowire.AppendString(boolBytes, "Flag")
	boolBytes = append(boolBytes, byte(KindBool))
	boolBytes = protowire.AppendVarint(boolBytes, 2)
	_, err = DecodeSnapshot(boolBytes, receiver.category)
	requireSchemaMismatch(t, err, 0)

	// every rejected snapshot left the received copy alone
	assert.Equal(t, receiver.category.Received() == goodSnapshot, true)
	assert.Equal(t, receiver.count.Effective(), int64(11))
}

func TestSnapshotApplyIsAtomic(t *testing.T) {
	receiver := newTestPrefs("Test")
	receiver.category.BindRole(RolePeer)

	// each sender snapshot has every server value derived from one number,
	// so a reader can detect a mix of two snapshots
	snapshots := []*Snapshot{}
	for i := 0; i < 32; i++ {
		sender := newTestPrefs("Test")
		sender.flag.Set(i%2 == 0)
		sender.count.Set(int64(i))
		if i%2 == 0 {
			sender.mode.Set(testModeHigh)
		}
		snapshot, err := DecodeSnapshot(EncodeSnapshot(sender.category).Bytes(), receiver.category)
		assert.Equal(t, err, nil)
		snapshots = append(snapshots, snapshot)
	}

	done := make(chan struct{})
	var readersWg sync.WaitGroup
	var mixed sync.Map
	for _i := 0; _i < 4; _i++ {
		readersWg.Add(1)
		go func() {
			defer readersWg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				effective := receiver.category.Effective()
				count := receiver.count.From(effective)
				flag := receiver.flag.From(effective)
				mode := receiver.mode.From(effective)
				if effective.Received() == nil {
					continue
				}
				even := count%2 == 0
				if flag != even || (mode == testModeHigh) != even {
					mixed.Store(count, true)
				}
			}
		}()
	}

	for _i := 0; _i < 100; _i++ {
		for _, snapshot := range snapshots {
			assert.Equal(t, receiver.category.Apply(snapshot), nil)
		}
	}
	close(done)
	readersWg.Wait()

	mixedCount := 0
	mixed.Range(func(key any, value any) bool {
		mixedCount += 1
		return true
	})
	assert.Equal(t, mixedCount, 0)
	assert.Equal(t, receiver.count.Effective(), int64(31))
}
