package prefs

import (
	"errors"

	"github.com/golang/glog"
)

// sends settings snapshots over the transport.
// Settings always use the reliable class: there is no periodic resync, so a lost
// update would leave a peer stale until the next change.
// The channel does not retry and does not queue. Sends while disconnected are dropped.
type ReplicationChannel struct {
	transport Transport
}

func NewReplicationChannel(transport Transport) *ReplicationChannel {
	return &ReplicationChannel{
		transport: transport,
	}
}

func (self *ReplicationChannel) Transport() Transport {
	return self.transport
}

// authority to all connected peers except itself and `excludeIds`
func (self *ReplicationChannel) BroadcastExceptSelf(tag MessageTag, smallId SmallId, snapshot *Snapshot, excludeIds ...Id) error {
	if !self.transport.IsConnected() {
		glog.V(1).Infof("[rc]broadcast %s dropped, not connected\n", tag)
		return nil
	}
	message, err := encodeSettingsMessage(tag, smallId, snapshot)
	if err != nil {
		return err
	}
	err = self.transport.BroadcastExceptSelf(DeliveryReliable, message, excludeIds...)
	glog.V(2).Infof("[rc]broadcast %s %s\n", tag, snapshot.Category().Name())
	return swallowNotConnected(err)
}

// authority to one peer
func (self *ReplicationChannel) SendTo(peerId Id, tag MessageTag, smallId SmallId, snapshot *Snapshot) error {
	if !self.transport.IsConnected() {
		glog.V(1).Infof("[rc]send %s->%s dropped, not connected\n", tag, peerId)
		return nil
	}
	message, err := encodeSettingsMessage(tag, smallId, snapshot)
	if err != nil {
		return err
	}
	err = self.transport.SendTo(peerId, DeliveryReliable, message)
	glog.V(2).Infof("[rc]send %s->%s %s\n", tag, peerId, snapshot.Category().Name())
	return swallowNotConnected(err)
}

// peer to the authority
func (self *ReplicationChannel) SendToAuthority(tag MessageTag, smallId SmallId, snapshot *Snapshot) error {
	if !self.transport.IsConnected() {
		glog.V(1).Infof("[rc]send %s->authority dropped, not connected\n", tag)
		return nil
	}
	message, err := encodeSettingsMessage(tag, smallId, snapshot)
	if err != nil {
		return err
	}
	err = self.transport.SendToAuthority(DeliveryReliable, message)
	glog.V(2).Infof("[rc]send %s->authority %s\n", tag, snapshot.Category().Name())
	return swallowNotConnected(err)
}

func (self *ReplicationChannel) AddReceiveCallback(receiveCallback ReceiveFunction) func() {
	return self.transport.AddReceiveCallback(receiveCallback)
}

func encodeSettingsMessage(tag MessageTag, smallId SmallId, snapshot *Snapshot) ([]byte, error) {
	switch tag {
	case MessageTagServerSettings:
		return EncodeServerSettingsMessage(snapshot)
	case MessageTagClientSettings:
		return EncodeClientSettingsMessage(smallId, snapshot)
	default:
		return nil, errors.New("Not a settings message tag.")
	}
}

// a disconnect between the check and the send is the same as sending while disconnected
func swallowNotConnected(err error) error {
	if errors.Is(err, ErrNotConnected) {
		glog.V(1).Infof("[rc]dropped, not connected\n")
		return nil
	}
	return err
}
