package prefs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrUnexpectedMessage = errors.New("unexpected settings message")

var tracer = otel.Tracer("github.com/bringyour/prefsync/prefs")

type SettingsChangedFunction func()

type SettingsCoordinatorSettings struct {
	// the authority sends every known participant's client settings to a joining peer
	SendParticipantsOnJoin bool
	// the authority forwards client settings it receives to the other peers
	RelayClientSettings bool
}

func DefaultSettingsCoordinatorSettings() *SettingsCoordinatorSettings {
	return &SettingsCoordinatorSettings{
		SendParticipantsOnJoin: true,
		RelayClientSettings:    true,
	}
}

/*
Decides when snapshots are produced and sent, and applies received snapshots.
Triggers:
- authoritative change: `PublishServerSettings` broadcasts the whole server category
- peer joined: the authority sends the current server snapshot to the new peer
- self change: `PublishClientSettings` sends our client category, tagged with our small id
- snapshot received: decode, apply, then the settings changed callbacks
- connection changed: a peer drops the session state on disconnect and republishes on connect
The coordinator is idle between triggers.
*/
type SettingsCoordinator struct {
	ctx    context.Context
	cancel context.CancelFunc

	role           Role
	channel        *ReplicationChannel
	serverCategory *Category
	clientCategory *Category
	participants   *ParticipantSettings

	settings *SettingsCoordinatorSettings

	// snapshots are handed to the transport in the order they were encoded
	publishLock sync.Mutex
	// applies for one category never interleave
	serverApplyLock sync.Mutex
	clientApplyLock sync.Mutex

	peerLock     sync.Mutex
	peerSmallIds map[Id]SmallId

	changedCallbacks *CallbackList[SettingsChangedFunction]
	monitor          *Monitor

	unsubscribes []func()
}

func NewSettingsCoordinatorWithDefaults(
	ctx context.Context,
	role Role,
	channel *ReplicationChannel,
	serverCategory *Category,
	clientCategory *Category,
	participants *ParticipantSettings,
) *SettingsCoordinator {
	return NewSettingsCoordinator(
		ctx,
		role,
		channel,
		serverCategory,
		clientCategory,
		participants,
		DefaultSettingsCoordinatorSettings(),
	)
}

func NewSettingsCoordinator(
	ctx context.Context,
	role Role,
	channel *ReplicationChannel,
	serverCategory *Category,
	clientCategory *Category,
	participants *ParticipantSettings,
	settings *SettingsCoordinatorSettings,
) *SettingsCoordinator {
	switch role {
	case RoleAuthoritative, RolePeer:
	default:
		panic(fmt.Errorf("Coordinator requires a session role: %s", role))
	}
	if (role == RoleAuthoritative) != channel.Transport().IsAuthoritative() {
		panic(fmt.Errorf("Coordinator role %s does not match the transport", role))
	}
	if participants.Category() != clientCategory {
		panic(fmt.Errorf("Participant settings are not for %s", clientCategory.Name()))
	}

	cancelCtx, cancel := context.WithCancel(ctx)

	serverCategory.BindRole(role)
	clientCategory.BindRole(role)
	if role == RoleAuthoritative {
		// the authority's own values are the session values
		serverCategory.ClearReceived()
	}

	coordinator := &SettingsCoordinator{
		ctx:              cancelCtx,
		cancel:           cancel,
		role:             role,
		channel:          channel,
		serverCategory:   serverCategory,
		clientCategory:   clientCategory,
		participants:     participants,
		settings:         settings,
		peerSmallIds:     map[Id]SmallId{},
		changedCallbacks: NewCallbackList[SettingsChangedFunction](),
		monitor:          NewMonitor(),
	}

	transport := channel.Transport()
	coordinator.unsubscribes = []func(){
		channel.AddReceiveCallback(coordinator.receive),
		transport.AddPeerJoinedCallback(coordinator.PeerJoined),
		transport.AddPeerLeftCallback(coordinator.PeerLeft),
	}
	if notifier, ok := transport.(ConnectionNotifier); ok && role == RolePeer {
		coordinator.unsubscribes = append(
			coordinator.unsubscribes,
			notifier.AddConnectionChangedCallback(coordinator.ConnectionChanged),
		)
	}
	transport.Start()

	return coordinator
}

func (self *SettingsCoordinator) Role() Role {
	return self.role
}

func (self *SettingsCoordinator) Participants() *ParticipantSettings {
	return self.participants
}

// returns a function that removes the callback
func (self *SettingsCoordinator) AddSettingsChangedCallback(changedCallback SettingsChangedFunction) func() {
	callbackId := self.changedCallbacks.Add(changedCallback)
	return func() {
		self.changedCallbacks.Remove(callbackId)
	}
}

// closed on the next settings change
func (self *SettingsCoordinator) NotifyChannel() chan struct{} {
	return self.monitor.NotifyChannel()
}

// broadcasts the server category. Only the authority publishes server settings.
func (self *SettingsCoordinator) PublishServerSettings() error {
	if self.role != RoleAuthoritative {
		glog.V(1).Infof("[sc]publish server settings ignored as %s\n", self.role)
		return nil
	}
	_, span := tracer.Start(self.ctx, "prefs.PublishServerSettings")
	defer span.End()

	self.publishLock.Lock()
	defer self.publishLock.Unlock()

	snapshot := EncodeSnapshot(self.serverCategory)
	err := self.channel.BroadcastExceptSelf(MessageTagServerSettings, AuthoritySmallId, snapshot)
	endSpan(span, err)
	return err
}

// applies a batch of sets and publishes one snapshot
func (self *SettingsCoordinator) UpdateServerSettings(update func()) error {
	update()
	return self.PublishServerSettings()
}

// publishes our own client category.
// A peer sends it to the authority. The authority records it as its own participant settings
// and broadcasts it.
func (self *SettingsCoordinator) PublishClientSettings() error {
	_, span := tracer.Start(self.ctx, "prefs.PublishClientSettings")
	defer span.End()

	stored := false
	err := func() error {
		self.publishLock.Lock()
		defer self.publishLock.Unlock()

		smallId := self.channel.Transport().LocalSmallId()
		snapshot := EncodeSnapshot(self.clientCategory)

		if self.role != RoleAuthoritative {
			return self.channel.SendToAuthority(MessageTagClientSettings, smallId, snapshot)
		}
		if err := self.putParticipant(smallId, snapshot); err != nil {
			return err
		}
		stored = true
		return self.channel.BroadcastExceptSelf(MessageTagClientSettings, smallId, snapshot)
	}()
	if stored {
		self.notifyChanged()
	}
	endSpan(span, err)
	return err
}

func (self *SettingsCoordinator) UpdateClientSettings(update func()) error {
	update()
	return self.PublishClientSettings()
}

// brings a newly joined peer up to date. A peer that joined after earlier broadcasts
// received none of them, so the current snapshot is always sent.
func (self *SettingsCoordinator) PeerJoined(peerId Id, smallId SmallId) {
	if self.role != RoleAuthoritative {
		return
	}

	glog.V(1).Infof("[sc]peer joined %s (%d)\n", peerId, smallId)

	self.publishLock.Lock()
	defer self.publishLock.Unlock()

	func() {
		self.peerLock.Lock()
		defer self.peerLock.Unlock()
		self.peerSmallIds[peerId] = smallId
	}()

	snapshot := EncodeSnapshot(self.serverCategory)
	if err := self.channel.SendTo(peerId, MessageTagServerSettings, AuthoritySmallId, snapshot); err != nil {
		glog.Infof("[sc]send server settings to %s error = %s\n", peerId, err)
		return
	}

	if self.settings.SendParticipantsOnJoin {
		for _, participantSmallId := range self.participants.SmallIds() {
			if participantSmallId == smallId {
				continue
			}
			participantSnapshot, ok := self.participants.Get(participantSmallId)
			if !ok {
				continue
			}
			err := self.channel.SendTo(peerId, MessageTagClientSettings, participantSmallId, participantSnapshot)
			if err != nil {
				glog.Infof("[sc]send client settings (%d) to %s error = %s\n", participantSmallId, peerId, err)
				return
			}
		}
	}
}

func (self *SettingsCoordinator) PeerLeft(peerId Id, smallId SmallId) {
	glog.V(1).Infof("[sc]peer left %s (%d)\n", peerId, smallId)

	removed := func() bool {
		if self.role == RoleAuthoritative {
			// a message from the peer is either stored before this or rejected after
			self.publishLock.Lock()
			defer self.publishLock.Unlock()

			self.peerLock.Lock()
			delete(self.peerSmallIds, peerId)
			self.peerLock.Unlock()
		}

		self.clientApplyLock.Lock()
		defer self.clientApplyLock.Unlock()
		return self.participants.Remove(smallId)
	}()
	if removed {
		self.notifyChanged()
	}
}

// ConnectionChangedFunction for peers on a reconnecting transport.
// Everything received belongs to the old session. The new session gets our client settings.
func (self *SettingsCoordinator) ConnectionChanged(connected bool) {
	if connected {
		if err := self.PublishClientSettings(); err != nil {
			glog.Infof("[sc]publish client settings on connect error = %s\n", err)
		}
		return
	}

	glog.V(1).Infof("[sc]disconnected, clearing session state\n")
	func() {
		self.serverApplyLock.Lock()
		defer self.serverApplyLock.Unlock()
		self.serverCategory.ClearReceived()
	}()
	func() {
		self.clientApplyLock.Lock()
		defer self.clientApplyLock.Unlock()
		self.clientCategory.ClearReceived()
		self.participants.Clear()
	}()
	self.notifyChanged()
}

// ReceiveFunction
func (self *SettingsCoordinator) receive(sourceId Id, message []byte) {
	if err := self.Receive(sourceId, message); err != nil {
		glog.Infof("[sc]receive from %s error = %s\n", sourceId, err)
	}
}

// Receive decodes and applies one settings message. A schema mismatch rejects the whole
// snapshot and is returned so the session layer can act on the version skew.
func (self *SettingsCoordinator) Receive(sourceId Id, message []byte) error {
	select {
	case <-self.ctx.Done():
		return nil
	default:
	}

	_, span := tracer.Start(
		self.ctx,
		"prefs.Receive",
		trace.WithAttributes(attribute.String("prefs.source_id", sourceId.String())),
	)
	defer span.End()

	settingsMessage, err := DecodeSettingsMessage(message)
	if err != nil {
		endSpan(span, err)
		return err
	}
	span.SetAttributes(attribute.String("prefs.tag", settingsMessage.Tag.String()))

	switch settingsMessage.Tag {
	case MessageTagServerSettings:
		err = self.applyServerSettings(settingsMessage)
	case MessageTagClientSettings:
		if self.role == RoleAuthoritative {
			err = self.relayClientSettings(sourceId, settingsMessage)
		} else {
			err = self.applyClientSettings(settingsMessage)
		}
	default:
		err = fmt.Errorf("%w: %s", ErrUnexpectedMessage, settingsMessage.Tag)
	}
	endSpan(span, err)
	return err
}

func (self *SettingsCoordinator) applyServerSettings(settingsMessage *SettingsMessage) error {
	if self.role == RoleAuthoritative {
		return fmt.Errorf("%w: server settings sent to the authority", ErrUnexpectedMessage)
	}

	var snapshot *Snapshot
	err := func() error {
		self.serverApplyLock.Lock()
		defer self.serverApplyLock.Unlock()

		var err error
		snapshot, err = DecodeSnapshot(settingsMessage.SnapshotBytes, self.serverCategory)
		if err != nil {
			return err
		}
		return self.serverCategory.Apply(snapshot)
	}()
	if err != nil {
		return err
	}

	glog.V(2).Infof("[sc]applied %s\n", snapshot)
	self.notifyChanged()
	return nil
}

// a peer stores what the authority sends about other participants
func (self *SettingsCoordinator) applyClientSettings(settingsMessage *SettingsMessage) error {
	smallId := settingsMessage.SmallId

	snapshot, err := DecodeSnapshot(settingsMessage.SnapshotBytes, self.clientCategory)
	if err != nil {
		return err
	}
	if err := self.putParticipant(smallId, snapshot); err != nil {
		return err
	}

	glog.V(2).Infof("[sc]applied (%d) %s\n", smallId, snapshot)
	self.notifyChanged()
	return nil
}

// the authority stores a joined peer's own client settings and forwards them
func (self *SettingsCoordinator) relayClientSettings(sourceId Id, settingsMessage *SettingsMessage) error {
	smallId := settingsMessage.SmallId
	if smallId == self.channel.Transport().LocalSmallId() {
		return fmt.Errorf("%w: client settings for the authority from %s", ErrUnexpectedMessage, sourceId)
	}

	var snapshot *Snapshot
	stored := false
	err := func() error {
		self.publishLock.Lock()
		defer self.publishLock.Unlock()

		self.peerLock.Lock()
		peerSmallId, ok := self.peerSmallIds[sourceId]
		self.peerLock.Unlock()
		if !ok {
			return fmt.Errorf("%w: client settings from unknown peer %s", ErrUnexpectedMessage, sourceId)
		}
		if peerSmallId != smallId {
			return fmt.Errorf("%w: %s sent client settings for %d", ErrUnexpectedMessage, sourceId, smallId)
		}

		var err error
		snapshot, err = DecodeSnapshot(settingsMessage.SnapshotBytes, self.clientCategory)
		if err != nil {
			return err
		}
		if err := self.putParticipant(smallId, snapshot); err != nil {
			return err
		}
		stored = true

		if self.settings.RelayClientSettings {
			return self.channel.BroadcastExceptSelf(MessageTagClientSettings, smallId, snapshot, sourceId)
		}
		return nil
	}()
	if stored {
		glog.V(2).Infof("[sc]applied (%d) %s\n", smallId, snapshot)
		self.notifyChanged()
	}
	return err
}

func (self *SettingsCoordinator) putParticipant(smallId SmallId, snapshot *Snapshot) error {
	self.clientApplyLock.Lock()
	defer self.clientApplyLock.Unlock()
	return self.participants.Put(smallId, snapshot)
}

func (self *SettingsCoordinator) notifyChanged() {
	for _, changedCallback := range self.changedCallbacks.Get() {
		HandleError(changedCallback)
	}
	self.monitor.NotifyAll()
}

func (self *SettingsCoordinator) Close() {
	self.cancel()
	for _, unsubscribe := range self.unsubscribes {
		unsubscribe()
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
