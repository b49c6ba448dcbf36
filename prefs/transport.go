package prefs

import (
	"errors"
)

var ErrNotConnected = errors.New("not connected")
var ErrUnknownPeer = errors.New("unknown peer")

type DeliveryClass int

const (
	// in order, delivered once accepted by the transport
	DeliveryReliable DeliveryClass = iota
	// may drop or reorder
	DeliveryUnreliable
)

func (self DeliveryClass) String() string {
	switch self {
	case DeliveryReliable:
		return "reliable"
	case DeliveryUnreliable:
		return "unreliable"
	default:
		return "unknown"
	}
}

type ReceiveFunction func(sourceId Id, message []byte)

type PeerFunction func(peerId Id, smallId SmallId)

// the session connection directory and delivery.
// Callbacks are invoked on the transport's goroutines. Receive callbacks for one source are in order.
// No event is dispatched before `Start`, so subscribers add their callbacks first.
type Transport interface {
	Start()

	LocalId() Id
	LocalSmallId() SmallId
	IsConnected() bool
	IsAuthoritative() bool

	// authority to every connected peer except itself and `excludeIds`
	BroadcastExceptSelf(deliveryClass DeliveryClass, message []byte, excludeIds ...Id) error
	// authority to one peer
	SendTo(peerId Id, deliveryClass DeliveryClass, message []byte) error
	// peer to the authority
	SendToAuthority(deliveryClass DeliveryClass, message []byte) error

	// each returns a function that removes the callback
	AddReceiveCallback(receiveCallback ReceiveFunction) func()
	AddPeerJoinedCallback(peerCallback PeerFunction) func()
	AddPeerLeftCallback(peerCallback PeerFunction) func()
}

type ConnectionChangedFunction func(connected bool)

// implemented by transports that reconnect. Each reconnect is a new session join.
type ConnectionNotifier interface {
	AddConnectionChangedCallback(connectionChangedCallback ConnectionChangedFunction) func()
}
