package quill

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// directory client over the managed backend's json-over-websocket protocol.
//
// writes are request/ack keyed by a request id. subscriptions are registered
// with a listen request; the backend then pushes the full subtree state on
// every change. pushes are dispatched from a single read loop, so delivery
// order per subtree matches the order the backend emits.
//
// there is no automatic reconnect. a dropped connection fails every live
// subscription with a SubscriptionError and the client is done.

type DirectoryClientSettings struct {
	WsHandshakeTimeout time.Duration
	AuthTimeout        time.Duration
	RequestTimeout     time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
}

func DefaultDirectoryClientSettings() *DirectoryClientSettings {
	return &DirectoryClientSettings{
		WsHandshakeTimeout: 2 * time.Second,
		AuthTimeout:        2 * time.Second,
		RequestTimeout:     10 * time.Second,
		PingTimeout:        1 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
	}
}

type DirectoryAuth struct {
	IdToken    string
	InstanceId Id
	AppVersion string
}

type directoryFrame struct {
	Type           string                   `json:"type"`
	RequestId      string                   `json:"request_id,omitempty"`
	SubscriptionId string                   `json:"subscription_id,omitempty"`
	Path           string                   `json:"path,omitempty"`
	Document       *PostDocument            `json:"document,omitempty"`
	Patch          map[string]any           `json:"patch,omitempty"`
	Exists         bool                     `json:"exists,omitempty"`
	Documents      map[string]*PostDocument `json:"documents,omitempty"`
	GeneratedId    string                   `json:"generated_id,omitempty"`
	IdToken        string                   `json:"id_token,omitempty"`
	InstanceId     *Id                      `json:"instance_id,omitempty"`
	AppVersion     string                   `json:"app_version,omitempty"`
	Error          string                   `json:"error,omitempty"`
}

const (
	frameTypeAuth     = "auth"
	frameTypeListen   = "listen"
	frameTypeUnlisten = "unlisten"
	frameTypeCreate   = "create"
	frameTypeUpdate   = "update"
	frameTypeDelete   = "delete"
	frameTypeAck      = "ack"
	frameTypeSnapshot = "snapshot"
)

type DirectoryClient struct {
	ctx    context.Context
	cancel context.CancelFunc

	directoryUrl string
	auth         *DirectoryAuth
	settings     *DirectoryClientSettings

	ws *websocket.Conn
	// gorilla allows one concurrent writer
	writeMutex sync.Mutex

	stateMutex    sync.Mutex
	closed        bool
	closeErr      error
	pending       map[string]chan *directoryFrame
	subscriptions map[string]*wsSubscription
}

func NewDirectoryClientWithDefaults(ctx context.Context, directoryUrl string, auth *DirectoryAuth) (*DirectoryClient, error) {
	return NewDirectoryClient(ctx, directoryUrl, auth, DefaultDirectoryClientSettings())
}

func NewDirectoryClient(
	ctx context.Context,
	directoryUrl string,
	auth *DirectoryAuth,
	settings *DirectoryClientSettings,
) (*DirectoryClient, error) {
	cancelCtx, cancel := context.WithCancel(ctx)

	dialer := &websocket.Dialer{
		HandshakeTimeout: settings.WsHandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(cancelCtx, directoryUrl, nil)
	if err != nil {
		cancel()
		return nil, err
	}

	client := &DirectoryClient{
		ctx:           cancelCtx,
		cancel:        cancel,
		directoryUrl:  directoryUrl,
		auth:          auth,
		settings:      settings,
		ws:            ws,
		pending:       map[string]chan *directoryFrame{},
		subscriptions: map[string]*wsSubscription{},
	}

	success := false
	defer func() {
		if !success {
			ws.Close()
			cancel()
		}
	}()

	instanceId := auth.InstanceId
	ws.SetWriteDeadline(time.Now().Add(settings.AuthTimeout))
	err = ws.WriteJSON(&directoryFrame{
		Type:       frameTypeAuth,
		IdToken:    auth.IdToken,
		InstanceId: &instanceId,
		AppVersion: auth.AppVersion,
	})
	if err != nil {
		return nil, err
	}

	ws.SetReadDeadline(time.Now().Add(settings.AuthTimeout))
	var ack directoryFrame
	if err := ws.ReadJSON(&ack); err != nil {
		return nil, err
	}
	if ack.Type != frameTypeAck {
		return nil, fmt.Errorf("auth response error")
	}
	if ack.Error != "" {
		return nil, &AuthError{Message: ack.Error}
	}

	success = true
	// pongs from the ping loop keep the read deadline moving on a quiet
	// subtree. pongs are control frames and never return from ReadJSON.
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
	})
	go client.readLoop()
	go client.pingLoop()
	return client, nil
}

func (self *DirectoryClient) Subscribe(path string, callback SubscriptionFunc) (Subscription, error) {
	subscriptionId := NewId().String()
	subscription := &wsSubscription{
		client:         self,
		subscriptionId: subscriptionId,
		path:           path,
		callback:       callback,
	}

	self.stateMutex.Lock()
	if self.closed {
		self.stateMutex.Unlock()
		return nil, &SubscriptionError{Path: path, Message: self.closeMessage()}
	}
	self.subscriptions[subscriptionId] = subscription
	self.stateMutex.Unlock()

	ack, err := self.request(&directoryFrame{
		Type:           frameTypeListen,
		SubscriptionId: subscriptionId,
		Path:           path,
	})
	if err != nil {
		self.removeSubscription(subscriptionId)
		return nil, &SubscriptionError{Path: path, Message: err.Error()}
	}
	if ack.Error != "" {
		self.removeSubscription(subscriptionId)
		return nil, &SubscriptionError{Path: path, Message: ack.Error}
	}

	return subscription, nil
}

func (self *DirectoryClient) CreateDocument(parentPath string, doc *PostDocument) (string, error) {
	ack, err := self.request(&directoryFrame{
		Type:     frameTypeCreate,
		Path:     parentPath,
		Document: doc,
	})
	if err != nil {
		return "", &WriteError{Op: "create", Path: parentPath, Message: err.Error()}
	}
	if ack.Error != "" {
		return "", &WriteError{Op: "create", Path: parentPath, Message: ack.Error}
	}
	if ack.GeneratedId == "" {
		return "", &WriteError{Op: "create", Path: parentPath, Message: "missing generated id"}
	}
	return ack.GeneratedId, nil
}

func (self *DirectoryClient) UpdateDocument(path string, patch map[string]any) error {
	ack, err := self.request(&directoryFrame{
		Type:  frameTypeUpdate,
		Path:  path,
		Patch: patch,
	})
	if err != nil {
		return &WriteError{Op: "update", Path: path, Message: err.Error()}
	}
	if ack.Error != "" {
		return &WriteError{Op: "update", Path: path, Message: ack.Error}
	}
	return nil
}

func (self *DirectoryClient) DeleteDocument(path string) error {
	ack, err := self.request(&directoryFrame{
		Type: frameTypeDelete,
		Path: path,
	})
	if err != nil {
		return &WriteError{Op: "delete", Path: path, Message: err.Error()}
	}
	if ack.Error != "" {
		return &WriteError{Op: "delete", Path: path, Message: ack.Error}
	}
	return nil
}

func (self *DirectoryClient) Close() {
	self.fail(fmt.Errorf("client closed"))
}

func (self *DirectoryClient) request(frame *directoryFrame) (*directoryFrame, error) {
	requestId := NewId().String()
	frame.RequestId = requestId
	ackChan := make(chan *directoryFrame, 1)

	self.stateMutex.Lock()
	if self.closed {
		self.stateMutex.Unlock()
		return nil, fmt.Errorf("%s", self.closeMessage())
	}
	self.pending[requestId] = ackChan
	self.stateMutex.Unlock()

	defer func() {
		self.stateMutex.Lock()
		delete(self.pending, requestId)
		self.stateMutex.Unlock()
	}()

	if err := self.writeFrame(frame); err != nil {
		return nil, err
	}

	select {
	case ack, ok := <-ackChan:
		if !ok {
			return nil, fmt.Errorf("connection lost")
		}
		return ack, nil
	case <-time.After(self.settings.RequestTimeout):
		return nil, fmt.Errorf("request timeout")
	case <-self.ctx.Done():
		return nil, fmt.Errorf("%s", self.closeMessage())
	}
}

func (self *DirectoryClient) writeFrame(frame *directoryFrame) error {
	self.writeMutex.Lock()
	defer self.writeMutex.Unlock()
	self.ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	return self.ws.WriteJSON(frame)
}

func (self *DirectoryClient) readLoop() {
	for {
		self.ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		var frame directoryFrame
		if err := self.ws.ReadJSON(&frame); err != nil {
			glog.Infof("[dir]read error = %s\n", err)
			self.fail(err)
			return
		}

		switch frame.Type {
		case frameTypeAck:
			self.stateMutex.Lock()
			ackChan, ok := self.pending[frame.RequestId]
			self.stateMutex.Unlock()
			if ok {
				ackChan <- &frame
			}
		case frameTypeSnapshot:
			self.stateMutex.Lock()
			subscription, ok := self.subscriptions[frame.SubscriptionId]
			self.stateMutex.Unlock()
			if ok {
				glog.V(2).Infof("[dir]snapshot %s\n", subscription.path)
				subscription.dispatch(&Snapshot{
					Exists:    frame.Exists,
					Documents: frame.Documents,
				}, nil)
			}
		default:
			glog.V(1).Infof("[dir]drop frame type %s\n", frame.Type)
		}
	}
}

func (self *DirectoryClient) pingLoop() {
	for {
		select {
		case <-self.ctx.Done():
			return
		case <-time.After(self.settings.PingTimeout):
			self.writeMutex.Lock()
			self.ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
			err := self.ws.WriteMessage(websocket.PingMessage, make([]byte, 0))
			self.writeMutex.Unlock()
			if err != nil {
				// a deadline timeout on a websocket cannot be recovered
				self.fail(err)
				return
			}
		}
	}
}

// fails every pending request and live subscription, then shuts down
func (self *DirectoryClient) fail(err error) {
	self.stateMutex.Lock()
	if self.closed {
		self.stateMutex.Unlock()
		return
	}
	self.closed = true
	self.closeErr = err
	// pending requests are not closed here. the context cancel below
	// unblocks them with the close error.
	subscriptions := self.subscriptions
	self.subscriptions = map[string]*wsSubscription{}
	self.stateMutex.Unlock()

	for _, subscription := range subscriptions {
		subscription.dispatch(nil, &SubscriptionError{
			Path:    subscription.path,
			Message: err.Error(),
		})
	}

	self.cancel()
	self.ws.Close()
}

func (self *DirectoryClient) closeMessage() string {
	if self.closeErr != nil {
		return self.closeErr.Error()
	}
	return "client closed"
}

func (self *DirectoryClient) removeSubscription(subscriptionId string) {
	self.stateMutex.Lock()
	delete(self.subscriptions, subscriptionId)
	self.stateMutex.Unlock()
}

type wsSubscription struct {
	client         *DirectoryClient
	subscriptionId string
	path           string
	callback       SubscriptionFunc

	cancelMutex sync.Mutex
	cancelled   bool
}

// serialized by the read loop; the cancel mutex makes Cancel synchronous
// with any in-flight dispatch
func (self *wsSubscription) dispatch(snapshot *Snapshot, err error) {
	self.cancelMutex.Lock()
	defer self.cancelMutex.Unlock()
	if self.cancelled {
		return
	}
	self.callback(snapshot, err)
}

func (self *wsSubscription) Cancel() {
	self.cancelMutex.Lock()
	if self.cancelled {
		self.cancelMutex.Unlock()
		return
	}
	self.cancelled = true
	self.cancelMutex.Unlock()

	self.client.removeSubscription(self.subscriptionId)
	// best effort. the server drops the listener on error anyway.
	self.client.writeFrame(&directoryFrame{
		Type:           frameTypeUnlisten,
		SubscriptionId: self.subscriptionId,
		RequestId:      NewId().String(),
	})
}
