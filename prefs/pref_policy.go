package prefs

import (
	"errors"
	"fmt"
	"slices"
)

var ErrNotAuthoritative = errors.New("not authoritative")

type Role int32

const (
	// no session is bound. Every policy may be set, e.g. when editing stored preferences offline.
	RoleUnbound Role = 0
	RoleAuthoritative Role = 1
	RolePeer Role = 2
)

func (self Role) String() string {
	switch self {
	case RoleUnbound:
		return "unbound"
	case RoleAuthoritative:
		return "authoritative"
	case RolePeer:
		return "peer"
	default:
		return fmt.Sprintf("role(%d)", int32(self))
	}
}

type UpdatePolicy int

const (
	ServerUpdate UpdatePolicy = iota
	LocalUpdate
	ClientUpdate
	Ignore
)

func (self UpdatePolicy) String() string {
	switch self {
	case ServerUpdate:
		return "ServerUpdate"
	case LocalUpdate:
		return "LocalUpdate"
	case ClientUpdate:
		return "ClientUpdate"
	case Ignore:
		return "Ignore"
	default:
		return fmt.Sprintf("UpdatePolicy(%d)", int(self))
	}
}

type policyRule struct {
	// roles that may `Set` the local value. `RoleUnbound` may always set.
	setters []Role
	// the value is written into snapshots. Otherwise the entry is sent as omitted.
	transmit bool
	// a decoded entry is kept in the received snapshot
	storeReceived bool
	// effective reads return the received value when there is one
	preferReceived bool
}

// the single place policy behavior is decided
var policyRules = map[UpdatePolicy]policyRule{
	ServerUpdate: {
		setters:        []Role{RoleAuthoritative},
		transmit:       true,
		storeReceived:  true,
		preferReceived: true,
	},
	LocalUpdate: {
		setters:        []Role{RoleAuthoritative, RolePeer},
		transmit:       true,
		storeReceived:  true,
		preferReceived: false,
	},
	// the authority is a participant too and reports its own client settings
	ClientUpdate: {
		setters:        []Role{RoleAuthoritative, RolePeer},
		transmit:       true,
		storeReceived:  true,
		preferReceived: true,
	},
	Ignore: {
		setters:        []Role{RoleAuthoritative, RolePeer},
		transmit:       false,
		storeReceived:  false,
		preferReceived: false,
	},
}

func ruleFor(policy UpdatePolicy) policyRule {
	rule, ok := policyRules[policy]
	if !ok {
		panic(fmt.Errorf("Unknown update policy: %s", policy))
	}
	return rule
}

func (self UpdatePolicy) CanSet(role Role) bool {
	if role == RoleUnbound {
		return true
	}
	return slices.Contains(ruleFor(self).setters, role)
}

func (self UpdatePolicy) IsTransmitted() bool {
	return ruleFor(self).transmit
}

func (self UpdatePolicy) PrefersReceived() bool {
	return ruleFor(self).preferReceived
}
