package prefs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// websocket frames:
// - the first peer frame is `MessageTagAuth` with the join jwt, answered by `MessageTagAuthResult`
// - an empty binary frame is a ping
// - every other binary frame is one message

type WsTransportSettings struct {
	WsHandshakeTimeout time.Duration
	AuthTimeout        time.Duration
	ReconnectTimeout   time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	SendBufferSize     int
}

func DefaultWsTransportSettings() *WsTransportSettings {
	return &WsTransportSettings{
		WsHandshakeTimeout: 2 * time.Second,
		AuthTimeout:        2 * time.Second,
		ReconnectTimeout:   5 * time.Second,
		PingTimeout:        1 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
		SendBufferSize:     32,
	}
}

type wsPeerConnection struct {
	ctx    context.Context
	cancel context.CancelFunc

	peerId   Id
	clientId Id
	smallId  SmallId
	send     chan []byte
	joined   bool
}

// queues a message for the connection writer
func (self *wsPeerConnection) enqueue(deliveryClass DeliveryClass, message []byte, writeTimeout time.Duration) error {
	switch deliveryClass {
	case DeliveryUnreliable:
		select {
		case <-self.ctx.Done():
			return ErrNotConnected
		case self.send <- message:
			return nil
		default:
			glog.V(1).Infof("[wsh]drop unreliable ->%s\n", self.peerId)
			return nil
		}
	default:
		select {
		case <-self.ctx.Done():
			return ErrNotConnected
		case self.send <- message:
			return nil
		case <-time.After(writeTimeout):
			return fmt.Errorf("Send to %s timed out.", self.peerId)
		}
	}
}

func runWsWriter(ctx context.Context, ws *websocket.Conn, send chan []byte, settings *WsTransportSettings, logTag string) {
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-send:
			ws.SetWriteDeadline(time.Now().Add(settings.WriteTimeout))
			if err := ws.WriteMessage(websocket.BinaryMessage, message); err != nil {
				// a websocket write deadline cannot be recovered
				glog.Infof("[%s]-> error = %s\n", logTag, err)
				return
			}
			glog.V(2).Infof("[%s]->\n", logTag)
		case <-time.After(settings.PingTimeout):
			ws.SetWriteDeadline(time.Now().Add(settings.WriteTimeout))
			if err := ws.WriteMessage(websocket.BinaryMessage, make([]byte, 0)); err != nil {
				return
			}
		}
	}
}

// calls `receive` for each non-ping message until the connection fails or `ctx` is done
func runWsReader(ctx context.Context, ws *websocket.Conn, settings *WsTransportSettings, logTag string, receive func(message []byte)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			glog.Infof("[%s]<- error = %s\n", logTag, err)
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if 0 == len(message) {
				glog.V(2).Infof("[%s]ping <-\n", logTag)
				continue
			}
			glog.V(2).Infof("[%s]<-\n", logTag)
			receive(message)
		default:
			glog.V(2).Infof("[%s]other=%d <-\n", logTag, messageType)
		}
	}
}

// the authority side of a websocket session. Serve it with an `http.Server`.
// Each peer connection authenticates with a join jwt signed by `secret`.
type WsHostTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	secret   []byte
	settings *WsTransportSettings
	localId  Id
	upgrader websocket.Upgrader
	started  atomic.Bool

	stateLock      sync.Mutex
	peers          map[Id]*wsPeerConnection
	peersBySmallId map[SmallId]*wsPeerConnection

	receiveCallbacks    *CallbackList[ReceiveFunction]
	peerJoinedCallbacks *CallbackList[PeerFunction]
	peerLeftCallbacks   *CallbackList[PeerFunction]
}

func NewWsHostTransportWithDefaults(ctx context.Context, secret []byte) *WsHostTransport {
	return NewWsHostTransport(ctx, secret, DefaultWsTransportSettings())
}

func NewWsHostTransport(ctx context.Context, secret []byte, settings *WsTransportSettings) *WsHostTransport {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &WsHostTransport{
		ctx:      cancelCtx,
		cancel:   cancel,
		secret:   secret,
		settings: settings,
		localId:  NewId(),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: settings.WsHandshakeTimeout,
		},
		peers:               map[Id]*wsPeerConnection{},
		peersBySmallId:      map[SmallId]*wsPeerConnection{},
		receiveCallbacks:    NewCallbackList[ReceiveFunction](),
		peerJoinedCallbacks: NewCallbackList[PeerFunction](),
		peerLeftCallbacks:   NewCallbackList[PeerFunction](),
	}
}

func (self *WsHostTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !self.started.Load() {
		http.Error(w, "Session not started.", http.StatusServiceUnavailable)
		return
	}
	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[wsh]upgrade error = %s\n", err)
		return
	}
	defer ws.Close()

	peer, err := self.auth(ws)
	if err != nil {
		glog.Infof("[wsh]auth error = %s\n", err)
		return
	}
	defer self.removePeer(peer)

	go func() {
		defer func() {
			peer.cancel()
			// unblocks the reader
			ws.Close()
		}()
		runWsWriter(peer.ctx, ws, peer.send, self.settings, fmt.Sprintf("wsh %d", peer.smallId))
	}()

	self.peerJoined(peer)

	runWsReader(peer.ctx, ws, self.settings, fmt.Sprintf("wsh %d", peer.smallId), func(message []byte) {
		self.received(peer.peerId, message)
	})
}

func (self *WsHostTransport) auth(ws *websocket.Conn) (*wsPeerConnection, error) {
	ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
	messageType, message, err := ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	if messageType != websocket.BinaryMessage {
		return nil, errors.New("Auth must be a binary message.")
	}
	jwt, err := decodeAuthMessage(message)
	if err != nil {
		return nil, err
	}
	joinJwt, err := ParseJoinJwt(self.secret, jwt)
	if err != nil {
		return nil, err
	}

	peer, err := self.addPeer(joinJwt.ClientId)
	if err != nil {
		return nil, err
	}

	success := false
	defer func() {
		if !success {
			self.removePeer(peer)
		}
	}()

	authResultBytes, err := encodeAuthResultMessage(&authResult{
		peerId:      peer.peerId,
		smallId:     peer.smallId,
		authorityId: self.localId,
	})
	if err != nil {
		return nil, err
	}
	ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
	if err := ws.WriteMessage(websocket.BinaryMessage, authResultBytes); err != nil {
		return nil, err
	}

	success = true
	return peer, nil
}

// assigns the lowest free small id
func (self *WsHostTransport) addPeer(clientId Id) (*wsPeerConnection, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	select {
	case <-self.ctx.Done():
		return nil, ErrNotConnected
	default:
	}

	for smallId := AuthoritySmallId + 1; smallId != 0; smallId += 1 {
		if _, ok := self.peersBySmallId[smallId]; ok {
			continue
		}
		peerCtx, peerCancel := context.WithCancel(self.ctx)
		peer := &wsPeerConnection{
			ctx:      peerCtx,
			cancel:   peerCancel,
			peerId:   NewId(),
			clientId: clientId,
			smallId:  smallId,
			send:     make(chan []byte, self.settings.SendBufferSize),
		}
		self.peers[peer.peerId] = peer
		self.peersBySmallId[smallId] = peer
		return peer, nil
	}
	return nil, errors.New("Session is full.")
}

func (self *WsHostTransport) peerJoined(peer *wsPeerConnection) {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		peer.joined = true
	}()

	glog.Infof("[wsh]joined %s client %s (%d)\n", peer.peerId, peer.clientId, peer.smallId)
	for _, peerCallback := range self.peerJoinedCallbacks.Get() {
		HandleError(func() {
			peerCallback(peer.peerId, peer.smallId)
		})
	}
}

func (self *WsHostTransport) removePeer(peer *wsPeerConnection) {
	peer.cancel()

	var joined bool
	var others []*wsPeerConnection
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.peers[peer.peerId] != peer {
			return
		}
		delete(self.peers, peer.peerId)
		delete(self.peersBySmallId, peer.smallId)
		joined = peer.joined
		for _, other := range self.peers {
			others = append(others, other)
		}
	}()
	if !joined {
		return
	}

	glog.Infof("[wsh]left %s (%d)\n", peer.peerId, peer.smallId)
	for _, peerCallback := range self.peerLeftCallbacks.Get() {
		HandleError(func() {
			peerCallback(peer.peerId, peer.smallId)
		})
	}

	peerLeftBytes, err := encodePeerLeftMessage(peer.peerId, peer.smallId)
	if err != nil {
		return
	}
	for _, other := range others {
		if err := other.enqueue(DeliveryReliable, peerLeftBytes, self.settings.WriteTimeout); err != nil {
			glog.V(1).Infof("[wsh]peer left ->%s error = %s\n", other.peerId, err)
		}
	}
}

func (self *WsHostTransport) received(sourceId Id, message []byte) {
	for _, receiveCallback := range self.receiveCallbacks.Get() {
		HandleError(func() {
			receiveCallback(sourceId, message)
		})
	}
}

func (self *WsHostTransport) peer(peerId Id) (*wsPeerConnection, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	peer, ok := self.peers[peerId]
	if !ok || !peer.joined {
		return nil, false
	}
	return peer, true
}

func (self *WsHostTransport) PeerCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	count := 0
	for _, peer := range self.peers {
		if peer.joined {
			count += 1
		}
	}
	return count
}

// connections are refused until started
func (self *WsHostTransport) Start() {
	self.started.Store(true)
}

func (self *WsHostTransport) Close() {
	self.cancel()
}

// Transport implementation

func (self *WsHostTransport) LocalId() Id {
	return self.localId
}

func (self *WsHostTransport) LocalSmallId() SmallId {
	return AuthoritySmallId
}

func (self *WsHostTransport) IsConnected() bool {
	select {
	case <-self.ctx.Done():
		return false
	default:
		return true
	}
}

func (self *WsHostTransport) IsAuthoritative() bool {
	return true
}

func (self *WsHostTransport) BroadcastExceptSelf(deliveryClass DeliveryClass, message []byte, excludeIds ...Id) error {
	if !self.IsConnected() {
		return ErrNotConnected
	}
	var peers []*wsPeerConnection
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		for peerId, peer := range self.peers {
			if peer.joined && !slices.Contains(excludeIds, peerId) {
				peers = append(peers, peer)
			}
		}
	}()
	for _, peer := range peers {
		if err := peer.enqueue(deliveryClass, message, self.settings.WriteTimeout); err != nil {
			glog.V(1).Infof("[wsh]broadcast ->%s error = %s\n", peer.peerId, err)
		}
	}
	return nil
}

func (self *WsHostTransport) SendTo(peerId Id, deliveryClass DeliveryClass, message []byte) error {
	if !self.IsConnected() {
		return ErrNotConnected
	}
	peer, ok := self.peer(peerId)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peerId)
	}
	return peer.enqueue(deliveryClass, message, self.settings.WriteTimeout)
}

func (self *WsHostTransport) SendToAuthority(deliveryClass DeliveryClass, message []byte) error {
	return errors.New("The authority cannot send to itself.")
}

func (self *WsHostTransport) AddReceiveCallback(receiveCallback ReceiveFunction) func() {
	callbackId := self.receiveCallbacks.Add(receiveCallback)
	return func() {
		self.receiveCallbacks.Remove(callbackId)
	}
}

func (self *WsHostTransport) AddPeerJoinedCallback(peerCallback PeerFunction) func() {
	callbackId := self.peerJoinedCallbacks.Add(peerCallback)
	return func() {
		self.peerJoinedCallbacks.Remove(callbackId)
	}
}

func (self *WsHostTransport) AddPeerLeftCallback(peerCallback PeerFunction) func() {
	callbackId := self.peerLeftCallbacks.Add(peerCallback)
	return func() {
		self.peerLeftCallbacks.Remove(callbackId)
	}
}

type wsPeerSession struct {
	localId     Id
	smallId     SmallId
	authorityId Id
	send        chan []byte
	ctx         context.Context
}

// the peer side of a websocket session. Connects to `url` and reconnects until closed.
// A reconnect is a new session join and may be assigned a different small id.
type WsPeerTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	url      string
	jwt      string
	settings *WsTransportSettings

	startOnce sync.Once
	stateLock sync.Mutex
	session   *wsPeerSession

	receiveCallbacks           *CallbackList[ReceiveFunction]
	peerJoinedCallbacks        *CallbackList[PeerFunction]
	peerLeftCallbacks          *CallbackList[PeerFunction]
	connectionChangedCallbacks *CallbackList[ConnectionChangedFunction]
	monitor                    *Monitor
}

func NewWsPeerTransportWithDefaults(ctx context.Context, url string, jwt string) *WsPeerTransport {
	return NewWsPeerTransport(ctx, url, jwt, DefaultWsTransportSettings())
}

func NewWsPeerTransport(ctx context.Context, url string, jwt string, settings *WsTransportSettings) *WsPeerTransport {
	cancelCtx, cancel := context.WithCancel(ctx)
	transport := &WsPeerTransport{
		ctx:                        cancelCtx,
		cancel:                     cancel,
		url:                        url,
		jwt:                        jwt,
		settings:                   settings,
		receiveCallbacks:           NewCallbackList[ReceiveFunction](),
		peerJoinedCallbacks:        NewCallbackList[PeerFunction](),
		peerLeftCallbacks:          NewCallbackList[PeerFunction](),
		connectionChangedCallbacks: NewCallbackList[ConnectionChangedFunction](),
		monitor:                    NewMonitor(),
	}
	return transport
}

// starts connecting
func (self *WsPeerTransport) Start() {
	self.startOnce.Do(func() {
		go self.run()
	})
}

func (self *WsPeerTransport) run() {
	defer self.cancel()

	authBytes, err := encodeAuthMessage(self.jwt)
	if err != nil {
		glog.Errorf("[wsp]auth encode error = %s\n", err)
		return
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}

	for {
		reconnect := NewReconnect(self.settings.ReconnectTimeout)
		connect := func() (*websocket.Conn, *authResult, error) {
			ws, _, err := dialer.DialContext(self.ctx, self.url, nil)
			if err != nil {
				return nil, nil, err
			}

			success := false
			defer func() {
				if !success {
					ws.Close()
				}
			}()

			ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
			if err := ws.WriteMessage(websocket.BinaryMessage, authBytes); err != nil {
				return nil, nil, err
			}
			ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
			messageType, message, err := ws.ReadMessage()
			if err != nil {
				return nil, nil, err
			}
			if messageType != websocket.BinaryMessage {
				return nil, nil, errors.New("Auth response error.")
			}
			result, err := decodeAuthResultMessage(message)
			if err != nil {
				return nil, nil, err
			}

			success = true
			return ws, result, nil
		}

		var ws *websocket.Conn
		var result *authResult
		err := traceErr(fmt.Sprintf("[wsp]connect %s", self.url), func() error {
			var connectErr error
			ws, result, connectErr = connect()
			return connectErr
		})
		if err != nil {
			glog.Infof("[wsp]auth error %s = %s\n", self.url, err)
			select {
			case <-self.ctx.Done():
				return
			case <-reconnect.After():
				continue
			}
		}

		self.handle(ws, result)

		select {
		case <-self.ctx.Done():
			return
		case <-reconnect.After():
		}
	}
}

func (self *WsPeerTransport) handle(ws *websocket.Conn, result *authResult) {
	defer ws.Close()

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	session := &wsPeerSession{
		localId:     result.peerId,
		smallId:     result.smallId,
		authorityId: result.authorityId,
		send:        make(chan []byte, self.settings.SendBufferSize),
		ctx:         handleCtx,
	}
	self.setSession(session)
	defer self.setSession(nil)

	logTag := fmt.Sprintf("wsp %d", session.smallId)
	glog.Infof("[wsp]connected %s as %s (%d)\n", self.url, session.localId, session.smallId)

	go func() {
		defer func() {
			handleCancel()
			ws.Close()
		}()
		runWsWriter(handleCtx, ws, session.send, self.settings, logTag)
	}()

	runWsReader(handleCtx, ws, self.settings, logTag, func(message []byte) {
		self.received(session, message)
	})
}

func (self *WsPeerTransport) setSession(session *wsPeerSession) {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.session = session
	}()

	connected := session != nil
	for _, connectionChangedCallback := range self.connectionChangedCallbacks.Get() {
		HandleError(func() {
			connectionChangedCallback(connected)
		})
	}
	self.monitor.NotifyAll()
}

func (self *WsPeerTransport) currentSession() *wsPeerSession {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.session
}

func (self *WsPeerTransport) received(session *wsPeerSession, message []byte) {
	tag, payload, err := parseMessage(message)
	if err == nil && tag == MessageTagPeerLeft {
		peerId, smallId, err := decodePeerLeftMessage(payload)
		if err != nil {
			glog.Infof("[wsp]peer left error = %s\n", err)
			return
		}
		for _, peerCallback := range self.peerLeftCallbacks.Get() {
			HandleError(func() {
				peerCallback(peerId, smallId)
			})
		}
		return
	}

	for _, receiveCallback := range self.receiveCallbacks.Get() {
		HandleError(func() {
			receiveCallback(session.authorityId, message)
		})
	}
}

// waits until a session is connected or the timeout passes
func (self *WsPeerTransport) WaitForConnected(timeout time.Duration) bool {
	end := time.Now().Add(timeout)
	for {
		notify := self.monitor.NotifyChannel()
		if self.IsConnected() {
			return true
		}
		remaining := end.Sub(time.Now())
		if remaining <= 0 {
			return false
		}
		select {
		case <-self.ctx.Done():
			return false
		case <-notify:
		case <-time.After(remaining):
			return false
		}
	}
}

func (self *WsPeerTransport) AddConnectionChangedCallback(connectionChangedCallback ConnectionChangedFunction) func() {
	callbackId := self.connectionChangedCallbacks.Add(connectionChangedCallback)
	return func() {
		self.connectionChangedCallbacks.Remove(callbackId)
	}
}

func (self *WsPeerTransport) Close() {
	self.cancel()
}

// Transport implementation

// zero until connected
func (self *WsPeerTransport) LocalId() Id {
	if session := self.currentSession(); session != nil {
		return session.localId
	}
	return Id{}
}

func (self *WsPeerTransport) LocalSmallId() SmallId {
	if session := self.currentSession(); session != nil {
		return session.smallId
	}
	return AuthoritySmallId
}

func (self *WsPeerTransport) IsConnected() bool {
	return self.currentSession() != nil
}

func (self *WsPeerTransport) IsAuthoritative() bool {
	return false
}

func (self *WsPeerTransport) BroadcastExceptSelf(deliveryClass DeliveryClass, message []byte, excludeIds ...Id) error {
	return errors.New("Only the authority broadcasts.")
}

func (self *WsPeerTransport) SendTo(peerId Id, deliveryClass DeliveryClass, message []byte) error {
	return errors.New("Only the authority sends to peers.")
}

func (self *WsPeerTransport) SendToAuthority(deliveryClass DeliveryClass, message []byte) error {
	session := self.currentSession()
	if session == nil {
		return ErrNotConnected
	}
	switch deliveryClass {
	case DeliveryUnreliable:
		select {
		case <-session.ctx.Done():
			return ErrNotConnected
		case session.send <- message:
		default:
		}
		return nil
	default:
		select {
		case <-session.ctx.Done():
			return ErrNotConnected
		case session.send <- message:
			return nil
		case <-time.After(self.settings.WriteTimeout):
			return errors.New("Send to authority timed out.")
		}
	}
}

func (self *WsPeerTransport) AddReceiveCallback(receiveCallback ReceiveFunction) func() {
	callbackId := self.receiveCallbacks.Add(receiveCallback)
	return func() {
		self.receiveCallbacks.Remove(callbackId)
	}
}

// peers are not told about joins
func (self *WsPeerTransport) AddPeerJoinedCallback(peerCallback PeerFunction) func() {
	callbackId := self.peerJoinedCallbacks.Add(peerCallback)
	return func() {
		self.peerJoinedCallbacks.Remove(callbackId)
	}
}

func (self *WsPeerTransport) AddPeerLeftCallback(peerCallback PeerFunction) func() {
	callbackId := self.peerLeftCallbacks.Add(peerCallback)
	return func() {
		self.peerLeftCallbacks.Remove(callbackId)
	}
}
