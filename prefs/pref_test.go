package prefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-playground/assert/v2"
)

type testMode int32

const (
	testModeLow testMode = iota
	testModeHigh
)

func (self testMode) String() string {
	switch self {
	case testModeLow:
		return "low"
	case testModeHigh:
		return "high"
	default:
		return fmt.Sprintf("%d", int32(self))
	}
}

type testPrefs struct {
	category *Category

	flag   *Preference[bool]
	count  *Preference[int64]
	ratio  *Preference[float64]
	label  *Preference[string]
	mode   *Preference[testMode]
	color  *Preference[Color]
	secret *Preference[string]
}

// both sides of a session declare the same shape
func newTestPrefs(name string) *testPrefs {
	category := NewCategory(name)
	return &testPrefs{
		category: category,
		flag:     NewBoolPref(category, "Flag", false, ServerUpdate),
		count:    NewIntPref(category, "Count", 3, ServerUpdate),
		ratio:    NewFloatPref(category, "Ratio", 0.5, LocalUpdate),
		label:    NewStringPref(category, "Label", "none", ClientUpdate),
		mode:     NewEnumPref(category, "Mode", testModeLow, ServerUpdate, testModeLow, testModeHigh),
		color:    NewColorPref(category, "Color", ColorWhite, ClientUpdate),
		secret:   NewStringPref(category, "Secret", "", Ignore),
	}
}

func recoverError(do func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = r.(error)
		}
	}()
	do()
	return nil
}

func TestDeclarationOrder(t *testing.T) {
	p := newTestPrefs("Test")
	names := []string{}
	for i, pref := range p.category.Preferences() {
		assert.Equal(t, pref.Index(), i)
		names = append(names, pref.Name())
	}
	assert.Equal(t, names, []string{"Flag", "Count", "Ratio", "Label", "Mode", "Color", "Secret"})
	assert.Equal(t, p.category.Len(), 7)

	pref, ok := p.category.Preference("Mode")
	assert.Equal(t, ok, true)
	assert.Equal(t, pref.Kind(), KindEnum)
	assert.Equal(t, pref.Policy(), ServerUpdate)

	err := recoverError(func() {
		NewBoolPref(p.category, "Flag", true, ServerUpdate)
	})
	assert.NotEqual(t, err, nil)
}

func TestPolicyMatrix(t *testing.T) {
	type row struct {
		policy          UpdatePolicy
		authorityCanSet bool
		peerCanSet      bool
		transmitted     bool
		prefersReceived bool
	}
	rows := []row{
		{ServerUpdate, true, false, true, true},
		{LocalUpdate, true, true, true, false},
		{ClientUpdate, true, true, true, true},
		{Ignore, true, true, false, false},
	}
	for _, r := range rows {
		assert.Equal(t, r.policy.CanSet(RoleUnbound), true)
		assert.Equal(t, r.policy.CanSet(RoleAuthoritative), r.authorityCanSet)
		assert.Equal(t, r.policy.CanSet(RolePeer), r.peerCanSet)
		assert.Equal(t, r.policy.IsTransmitted(), r.transmitted)
		assert.Equal(t, r.policy.PrefersReceived(), r.prefersReceived)
	}

	err := recoverError(func() {
		UpdatePolicy(99).IsTransmitted()
	})
	assert.NotEqual(t, err, nil)
}

func TestSetAsPeer(t *testing.T) {
	p := newTestPrefs("Test")
	p.category.BindRole(RolePeer)

	err := recoverError(func() {
		p.flag.Set(true)
	})
	assert.Equal(t, errors.Is(err, ErrNotAuthoritative), true)
	assert.Equal(t, p.flag.Get(), false)

	// peer owned values
	err = recoverError(func() {
		p.ratio.Set(0.25)
		p.label.Set("peer")
		p.secret.Set("hidden")
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, p.ratio.Get(), 0.25)
	assert.Equal(t, p.label.Get(), "peer")

	err = p.count.SetText("7")
	assert.Equal(t, errors.Is(err, ErrNotAuthoritative), true)
	assert.Equal(t, p.count.Get(), int64(3))

	p.category.BindRole(RoleAuthoritative)
	p.flag.Set(true)
	assert.Equal(t, p.flag.Get(), true)
	p.flag.Reset()
	assert.Equal(t, p.flag.Get(), false)
}

func TestSetText(t *testing.T) {
	p := newTestPrefs("Test")

	assert.Equal(t, p.flag.SetText("true"), nil)
	assert.Equal(t, p.flag.Get(), true)
	assert.NotEqual(t, p.flag.SetText("maybe"), nil)

	assert.Equal(t, p.count.SetText(" -12 "), nil)
	assert.Equal(t, p.count.Get(), int64(-12))
	assert.Equal(t, p.count.Text(), "-12")

	assert.Equal(t, p.ratio.SetText("0.75"), nil)
	assert.Equal(t, p.ratio.Get(), 0.75)

	assert.Equal(t, p.mode.SetText("HIGH"), nil)
	assert.Equal(t, p.mode.Get(), testModeHigh)
	assert.Equal(t, p.mode.SetText("0"), nil)
	assert.Equal(t, p.mode.Get(), testModeLow)
	assert.Equal(t, p.mode.Text(), "low")
	assert.NotEqual(t, p.mode.SetText("medium"), nil)

	assert.Equal(t, p.color.SetText("#ff0000"), nil)
	assert.Equal(t, p.color.Get(), Color{R: 1, G: 0, B: 0})
	assert.Equal(t, p.color.SetText("0.5, 0.25, 1"), nil)
	assert.Equal(t, p.color.Get(), Color{R: 0.5, G: 0.25, B: 1})
	assert.Equal(t, p.color.Text(), "0.5,0.25,1")
	assert.NotEqual(t, p.color.SetText("#ff"), nil)
	assert.NotEqual(t, p.color.SetText("1,2"), nil)
}

func TestSnapshotRoundTrip(t *testing.T) {
	source := newTestPrefs("Test")
	source.flag.Set(true)
	source.count.Set(-42)
	source.ratio.Set(0.125)
	source.label.Set("héllo")
	source.mode.Set(testModeHigh)
	source.color.Set(Color{R: 0.5, G: 0, B: 1})
	source.secret.Set("do not send")

	snapshot := EncodeSnapshot(source.category)
	assert.Equal(t, snapshot.Len(), 7)

	target := newTestPrefs("Test")
	decoded, err := DecodeSnapshot(snapshot.Bytes(), target.category)
	assert.Equal(t, err, nil)
	assert.Equal(t, decoded.Category() == target.category, true)

	expected := map[string]any{
		"Flag":  true,
		"Count": int64(-42),
		"Ratio": 0.125,
		"Label": "héllo",
		"Mode":  testModeHigh,
		"Color": Color{R: 0.5, G: 0, B: 1},
	}
	for name, expectedValue := range expected {
		v, ok := decoded.Value(name)
		assert.Equal(t, ok, true)
		assert.Equal(t, v, expectedValue)
	}

	// ignored values are named but never carried
	_, ok := decoded.Value("Secret")
	assert.Equal(t, ok, false)
	entries := decoded.Entries()
	assert.Equal(t, entries[6].Name, "Secret")
	assert.Equal(t, entries[6].Kind, KindOmitted)
	assert.Equal(t, entries[6].Value, nil)
	for _, entry := range snapshot.Entries() {
		assert.NotEqual(t, entry.Value, "do not send")
	}

	// the same values encode to the same bytes
	target.category.BindRole(RoleUnbound)
	target.flag.Set(true)
	target.count.Set(-42)
	target.ratio.Set(0.125)
	target.label.Set("héllo")
	target.mode.Set(testModeHigh)
	target.color.Set(Color{R: 0.5, G: 0, B: 1})
	assert.Equal(t, EncodeSnapshot(target.category).Bytes(), snapshot.Bytes())

	assert.Equal(t, decoded.String(), "Test{Flag=true, Count=-42, Ratio=0.125, Label=héllo, Mode=high, Color=0.5,0,1, Secret=-}")
}

func TestEffectiveResolution(t *testing.T) {
	authority := newTestPrefs("Test")
	authority.category.BindRole(RoleAuthoritative)
	authority.flag.Set(true)
	authority.count.Set(9)
	authority.ratio.Set(0.9)
	authority.label.Set("authority")
	authority.secret.Set("authority secret")

	peer := newTestPrefs("Test")
	peer.category.BindRole(RolePeer)
	peer.ratio.Set(0.1)
	peer.secret.Set("peer secret")

	// nothing received yet, local values
	assert.Equal(t, peer.flag.Effective(), false)
	assert.Equal(t, peer.count.Effective(), int64(3))
	_, ok := peer.flag.Received()
	assert.Equal(t, ok, false)

	snapshot, err := DecodeSnapshot(EncodeSnapshot(authority.category).Bytes(), peer.category)
	assert.Equal(t, err, nil)
	assert.Equal(t, peer.category.Apply(snapshot), nil)

	// received values win for server values
	assert.Equal(t, peer.flag.Effective(), true)
	assert.Equal(t, peer.count.Effective(), int64(9))
	// the local value still wins for local values, but the received one is kept
	assert.Equal(t, peer.ratio.Effective(), 0.1)
	receivedRatio, ok := peer.ratio.Received()
	assert.Equal(t, ok, true)
	assert.Equal(t, receivedRatio, 0.9)
	// ignored values never cross
	assert.Equal(t, peer.secret.Effective(), "peer secret")
	_, ok = peer.secret.Received()
	assert.Equal(t, ok, false)
	// the local value is untouched
	assert.Equal(t, peer.flag.Get(), false)

	effective := peer.category.Effective()
	assert.Equal(t, effective.Received() == snapshot, true)
	assert.Equal(t, peer.count.From(effective), int64(9))
	text, ok := effective.Text("Count")
	assert.Equal(t, ok, true)
	assert.Equal(t, text, "9")
	for _, entry := range effective.Entries() {
		switch entry.Name {
		case "Flag", "Count", "Label", "Mode", "Color":
			assert.Equal(t, entry.FromReceived, true)
		default:
			assert.Equal(t, entry.FromReceived, false)
		}
	}

	// a different category is never applied
	other := newTestPrefs("Test")
	assert.NotEqual(t, other.category.Apply(snapshot), nil)
	err = recoverError(func() {
		other.count.From(effective)
	})
	assert.NotEqual(t, err, nil)

	peer.category.ClearReceived()
	assert.Equal(t, peer.flag.Effective(), false)
	assert.Equal(t, peer.count.Effective(), int64(3))
}
