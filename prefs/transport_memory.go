package prefs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
)

type MemoryHubSettings struct {
	// per member event queue
	QueueSize int
	// poll interval for `WaitIdle`
	IdlePollInterval time.Duration
}

func DefaultMemoryHubSettings() *MemoryHubSettings {
	return &MemoryHubSettings{
		QueueSize:        1024,
		IdlePollInterval: 1 * time.Millisecond,
	}
}

// an in-process session: one authority and any number of peers.
// Each member processes its events (receives, joins, leaves) in order on its own goroutine.
// Events queue until the member is started, so callbacks added before `Start` see every event.
type MemoryHub struct {
	ctx    context.Context
	cancel context.CancelFunc

	settings *MemoryHubSettings

	stateLock   sync.Mutex
	authority   *MemoryTransport
	members     map[Id]*MemoryTransport
	nextSmallId SmallId

	// events enqueued and not yet processed
	inFlight atomic.Int64
}

func NewMemoryHubWithDefaults(ctx context.Context) *MemoryHub {
	return NewMemoryHub(ctx, DefaultMemoryHubSettings())
}

func NewMemoryHub(ctx context.Context, settings *MemoryHubSettings) *MemoryHub {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &MemoryHub{
		ctx:         cancelCtx,
		cancel:      cancel,
		settings:    settings,
		members:     map[Id]*MemoryTransport{},
		nextSmallId: AuthoritySmallId + 1,
	}
}

// creates the authority member
func (self *MemoryHub) Host() (*MemoryTransport, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.authority != nil {
		return nil, errors.New("Hub already has an authority.")
	}
	transport := newMemoryTransport(self, NewId(), AuthoritySmallId, true)
	self.authority = transport
	self.members[transport.localId] = transport
	return transport, nil
}

// creates a peer member and notifies the authority
func (self *MemoryHub) Join() (*MemoryTransport, error) {
	transport, authority, err := self.addMember()
	if err != nil {
		return nil, err
	}
	// the join is queued ahead of anything the new member sends
	authority.enqueue(DeliveryReliable, func() {
		authority.peerJoined(transport.localId, transport.smallId)
	})
	glog.V(1).Infof("[hub]join %s (%d)\n", transport.localId, transport.smallId)
	return transport, nil
}

func (self *MemoryHub) addMember() (*MemoryTransport, *MemoryTransport, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.authority == nil {
		return nil, nil, ErrNotConnected
	}
	if self.nextSmallId == 0 {
		return nil, nil, errors.New("Hub is full.")
	}
	smallId := self.nextSmallId
	// wraps to 0 after 255, which marks the hub full
	self.nextSmallId += 1

	transport := newMemoryTransport(self, NewId(), smallId, false)
	self.members[transport.localId] = transport
	return transport, self.authority, nil
}

// queues are filled after the hub lock is released
func (self *MemoryHub) leave(transport *MemoryTransport) {
	var others []*MemoryTransport
	left := false
	endsSession := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if _, ok := self.members[transport.localId]; !ok {
			return
		}
		left = true
		delete(self.members, transport.localId)
		for _, member := range self.members {
			others = append(others, member)
		}
		if transport == self.authority {
			// the session ends with the authority
			self.authority = nil
			clear(self.members)
			endsSession = true
		}
	}()
	if !left {
		return
	}

	if endsSession {
		for _, member := range others {
			member.disconnect()
		}
		return
	}
	for _, member := range others {
		member := member
		member.enqueue(DeliveryReliable, func() {
			member.peerLeft(transport.localId, transport.smallId)
		})
	}
	glog.V(1).Infof("[hub]leave %s (%d)\n", transport.localId, transport.smallId)
}

func (self *MemoryHub) member(peerId Id) (*MemoryTransport, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	member, ok := self.members[peerId]
	return member, ok
}

func (self *MemoryHub) authorityMember() *MemoryTransport {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.authority
}

func (self *MemoryHub) otherMembers(localId Id, excludeIds []Id) []*MemoryTransport {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	members := []*MemoryTransport{}
	for memberId, member := range self.members {
		if memberId == localId || slices.Contains(excludeIds, memberId) {
			continue
		}
		members = append(members, member)
	}
	// ids order by creation, so members hear broadcasts in join order
	slices.SortFunc(members, func(a *MemoryTransport, b *MemoryTransport) int {
		return a.localId.Compare(b.localId)
	})
	return members
}

// waits until every enqueued event, including the events they cause, has been processed
func (self *MemoryHub) WaitIdle(timeout time.Duration) bool {
	end := time.Now().Add(timeout)
	for 0 < self.inFlight.Load() {
		if end.Before(time.Now()) {
			return false
		}
		select {
		case <-self.ctx.Done():
			return false
		case <-time.After(self.settings.IdlePollInterval):
		}
	}
	return true
}

func (self *MemoryHub) Close() {
	self.stateLock.Lock()
	members := []*MemoryTransport{}
	for _, member := range self.members {
		members = append(members, member)
	}
	self.stateLock.Unlock()

	for _, member := range members {
		member.Close()
	}
	self.cancel()
}

type MemoryTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	hub         *MemoryHub
	localId     Id
	smallId     SmallId
	isAuthority bool

	stateLock sync.Mutex
	started   bool
	closed    bool
	events    chan func()

	receiveCallbacks    *CallbackList[ReceiveFunction]
	peerJoinedCallbacks *CallbackList[PeerFunction]
	peerLeftCallbacks   *CallbackList[PeerFunction]
}

func newMemoryTransport(hub *MemoryHub, localId Id, smallId SmallId, isAuthority bool) *MemoryTransport {
	cancelCtx, cancel := context.WithCancel(hub.ctx)
	return &MemoryTransport{
		ctx:                 cancelCtx,
		cancel:              cancel,
		hub:                 hub,
		localId:             localId,
		smallId:             smallId,
		isAuthority:         isAuthority,
		events:              make(chan func(), hub.settings.QueueSize),
		receiveCallbacks:    NewCallbackList[ReceiveFunction](),
		peerJoinedCallbacks: NewCallbackList[PeerFunction](),
		peerLeftCallbacks:   NewCallbackList[PeerFunction](),
	}
}

// starts processing queued events
func (self *MemoryTransport) Start() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.started || self.closed {
		return
	}
	self.started = true
	go self.run()
}

func (self *MemoryTransport) run() {
	// nothing is enqueued once closed
	defer self.drop()

	for {
		select {
		case <-self.ctx.Done():
			return
		case event := <-self.events:
			HandleError(event)
			self.hub.inFlight.Add(-1)
		}
	}
}

func (self *MemoryTransport) drop() {
	for {
		select {
		case <-self.events:
			self.hub.inFlight.Add(-1)
		default:
			return
		}
	}
}

// a reliable enqueue to a full queue blocks until the member drains it or closes.
// No lock is held while blocked.
func (self *MemoryTransport) enqueue(deliveryClass DeliveryClass, event func()) bool {
	closed := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if !self.closed {
			self.hub.inFlight.Add(1)
		}
		return self.closed
	}()
	if closed {
		return false
	}

	switch deliveryClass {
	case DeliveryUnreliable:
		select {
		case self.events <- event:
		default:
			self.hub.inFlight.Add(-1)
			glog.V(1).Infof("[hub]drop unreliable ->%s\n", self.localId)
			return false
		}
	default:
		select {
		case self.events <- event:
		case <-self.ctx.Done():
			self.hub.inFlight.Add(-1)
			return false
		}
	}

	select {
	case <-self.ctx.Done():
		// closed while enqueuing, after the queue was drained
		self.drop()
		return false
	default:
		return true
	}
}

func (self *MemoryTransport) deliver(deliveryClass DeliveryClass, sourceId Id, message []byte) error {
	// the receiver owns its copy
	message = bytes.Clone(message)
	if !self.enqueue(deliveryClass, func() {
		self.received(sourceId, message)
	}) && deliveryClass == DeliveryReliable {
		return fmt.Errorf("%w: %s", ErrNotConnected, self.localId)
	}
	return nil
}

func (self *MemoryTransport) received(sourceId Id, message []byte) {
	for _, receiveCallback := range self.receiveCallbacks.Get() {
		HandleError(func() {
			receiveCallback(sourceId, message)
		})
	}
}

func (self *MemoryTransport) peerJoined(peerId Id, smallId SmallId) {
	for _, peerCallback := range self.peerJoinedCallbacks.Get() {
		HandleError(func() {
			peerCallback(peerId, smallId)
		})
	}
}

func (self *MemoryTransport) peerLeft(peerId Id, smallId SmallId) {
	for _, peerCallback := range self.peerLeftCallbacks.Get() {
		HandleError(func() {
			peerCallback(peerId, smallId)
		})
	}
}

func (self *MemoryTransport) disconnect() {
	started := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.closed = true
		return self.started
	}()
	self.cancel()
	if !started {
		self.drop()
	}
}

func (self *MemoryTransport) Close() {
	self.hub.leave(self)
	self.disconnect()
}

// Transport implementation

func (self *MemoryTransport) LocalId() Id {
	return self.localId
}

func (self *MemoryTransport) LocalSmallId() SmallId {
	return self.smallId
}

func (self *MemoryTransport) IsConnected() bool {
	self.stateLock.Lock()
	closed := self.closed
	self.stateLock.Unlock()
	if closed {
		return false
	}
	return self.hub.authorityMember() != nil
}

func (self *MemoryTransport) IsAuthoritative() bool {
	return self.isAuthority
}

func (self *MemoryTransport) BroadcastExceptSelf(deliveryClass DeliveryClass, message []byte, excludeIds ...Id) error {
	if !self.isAuthority {
		return errors.New("Only the authority broadcasts.")
	}
	if !self.IsConnected() {
		return ErrNotConnected
	}
	for _, member := range self.hub.otherMembers(self.localId, excludeIds) {
		if err := member.deliver(deliveryClass, self.localId, message); err != nil {
			// a member leaving during the broadcast does not fail the others
			glog.V(1).Infof("[hub]broadcast ->%s error = %s\n", member.localId, err)
		}
	}
	return nil
}

func (self *MemoryTransport) SendTo(peerId Id, deliveryClass DeliveryClass, message []byte) error {
	if !self.isAuthority {
		return errors.New("Only the authority sends to peers.")
	}
	if !self.IsConnected() {
		return ErrNotConnected
	}
	member, ok := self.hub.member(peerId)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peerId)
	}
	return member.deliver(deliveryClass, self.localId, message)
}

func (self *MemoryTransport) SendToAuthority(deliveryClass DeliveryClass, message []byte) error {
	if self.isAuthority {
		return errors.New("The authority cannot send to itself.")
	}
	if !self.IsConnected() {
		return ErrNotConnected
	}
	authority := self.hub.authorityMember()
	if authority == nil {
		return ErrNotConnected
	}
	return authority.deliver(deliveryClass, self.localId, message)
}

func (self *MemoryTransport) AddReceiveCallback(receiveCallback ReceiveFunction) func() {
	callbackId := self.receiveCallbacks.Add(receiveCallback)
	return func() {
		self.receiveCallbacks.Remove(callbackId)
	}
}

func (self *MemoryTransport) AddPeerJoinedCallback(peerCallback PeerFunction) func() {
	callbackId := self.peerJoinedCallbacks.Add(peerCallback)
	return func() {
		self.peerJoinedCallbacks.Remove(callbackId)
	}
}

func (self *MemoryTransport) AddPeerLeftCallback(peerCallback PeerFunction) func() {
	callbackId := self.peerLeftCallbacks.Add(peerCallback)
	return func() {
		self.peerLeftCallbacks.Remove(callbackId)
	}
}
