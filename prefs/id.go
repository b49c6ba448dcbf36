package prefs

import (
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
)

var errInvalidId = errors.New("Invalid id.")

// peer id, unique across sessions. Ids are ulids so they order by creation time.
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

func IdFromBytes(idBytes []byte) (Id, error) {
	var id ulid.ULID
	if err := id.UnmarshalBinary(idBytes); err != nil {
		return Id{}, fmt.Errorf("%w %w", errInvalidId, err)
	}
	return Id(id), nil
}

func ParseId(idStr string) (Id, error) {
	id, err := ulid.ParseStrict(idStr)
	if err != nil {
		return Id{}, fmt.Errorf("%w %w", errInvalidId, err)
	}
	return Id(id), nil
}

func (self Id) Bytes() []byte {
	return self[:]
}

func (self Id) String() string {
	return ulid.ULID(self).String()
}

func (self Id) Compare(b Id) int {
	return ulid.ULID(self).Compare(ulid.ULID(b))
}

func (self Id) MarshalText() ([]byte, error) {
	return []byte(self.String()), nil
}

func (self *Id) UnmarshalText(src []byte) error {
	id, err := ParseId(string(src))
	if err != nil {
		return err
	}
	*self = id
	return nil
}

// session-local participant number, carried by client settings messages.
// The authority is always 0.
type SmallId uint8

const AuthoritySmallId SmallId = 0
