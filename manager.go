package p2pchat

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Zereker/p2pchat/routing"
)

// DefaultPort is the well-known port of the chat service.
const DefaultPort = 8888

const (
	defaultDialTimeout = 10 * time.Second
	// unknownPeer is the routing destination used before a peer id is bound.
	unknownPeer = "unknown"
)

// Errors returned by Manager operations.
var (
	// ErrNotConnected is returned by send operations without a live connection.
	ErrNotConnected = errors.New("not connected")
	// ErrAlreadyListening is returned by StartServer while a listener waits for a peer.
	ErrAlreadyListening = errors.New("already listening")
	// ErrPeerAlreadyBound is returned when rebinding the peer id of a live connection.
	ErrPeerAlreadyBound = errors.New("peer id already bound")
)

func defaultRouter() routing.Router {
	return routing.Passthrough{}
}

// session is one attached connection and what belongs to it.
type session struct {
	conn   *Conn
	done   chan struct{}
	peerID string // guarded by Manager.mu
}

// Manager owns the single live peer connection of a chat service.
//
// Establishing a new connection tears down the previous one first. Events
// are delivered to the registered Listener through the configured Executor;
// send operations may be called from any goroutine.
type Manager struct {
	opts   options
	logger Logger

	listenerMu sync.RWMutex
	listener   Listener

	attachMu sync.Mutex // serializes teardown-and-replace

	mu      sync.Mutex
	current *session
	pending *Server
}

// NewManager creates a Manager. The frame handler option is ignored; the
// manager installs its own.
func NewManager(opt ...Option) *Manager {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	applyDefaults(&opts)

	return &Manager{
		opts:   opts,
		logger: opts.logger,
	}
}

// SetListener registers the event listener. There is a single slot: the
// last registration wins. A nil listener silences events.
func (m *Manager) SetListener(l Listener) {
	m.listenerMu.Lock()
	m.listener = l
	m.listenerMu.Unlock()
}

func (m *Manager) getListener() Listener {
	m.listenerMu.RLock()
	defer m.listenerMu.RUnlock()
	return m.listener
}

// notify hands an event to the executor, bound to the listener registered now.
func (m *Manager) notify(event func(Listener)) {
	l := m.getListener()
	if l == nil {
		return
	}
	m.opts.executor.Execute(func() { event(l) })
}

// StartServer binds the service port and waits in the background for one
// peer, which is attached as RoleAcceptor. It returns the bound address.
// The listener is closed as soon as that peer is accepted, when ctx is
// canceled before a peer arrives, or on Close; later dials are refused
// until StartServer is called again. Calling it during a live session
// replaces that session when the next peer connects.
func (m *Manager) StartServer(ctx context.Context) (net.Addr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending != nil {
		return nil, ErrAlreadyListening
	}

	addr, err := net.ResolveTCPAddr("tcp", withPort(m.opts.listenAddr, m.opts.port))
	if err != nil {
		return nil, errors.Wrap(err, "resolve listen address")
	}

	srv, err := Listen(addr, ServerLoggerOption(m.logger))
	if err != nil {
		return nil, err
	}
	m.pending = srv

	go m.accept(ctx, srv)
	return srv.Addr(), nil
}

func (m *Manager) accept(ctx context.Context, srv *Server) {
	raw, err := srv.Accept(ctx)
	_ = srv.Close()

	m.mu.Lock()
	stale := m.pending != srv
	if !stale {
		m.pending = nil
	}
	m.mu.Unlock()

	if err != nil {
		if !errors.Is(err, ErrServerClosed) && !errors.Is(err, context.Canceled) {
			m.logger.Error("server error", "error", err)
		}
		return
	}

	// Close ran between the accept and now.
	if stale {
		m.logger.Debug("dropping peer accepted after close", "addr", raw.RemoteAddr())
		_ = raw.Close()
		return
	}

	m.attach(raw, RoleAcceptor)
}

// ConnectToServer dials a peer that called StartServer and attaches the
// connection as RoleInitiator. An address without a port gets the service
// port.
func (m *Manager) ConnectToServer(ctx context.Context, address string) error {
	addr := withPort(address, m.opts.port)
	m.logger.Debug("connecting", "addr", addr)

	d := net.Dialer{Timeout: m.opts.dialTimeout}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		m.logger.Error("client connection error", "addr", addr, "error", err)
		return errors.Wrapf(err, "connect %s", addr)
	}

	m.attach(raw, RoleInitiator)
	return nil
}

// Attach adopts a stream established by an external discovery or handshake
// layer. Any previous connection is torn down first, and its disconnect
// event is delivered before the new connect event.
//
// With the inline executor, Attach must not be called from a Listener
// callback: it waits for the previous receive loop, which is the caller.
func (m *Manager) Attach(conn net.Conn, role Role) {
	m.attach(conn, role)
}

func (m *Manager) attach(raw net.Conn, role Role) {
	m.attachMu.Lock()
	defer m.attachMu.Unlock()

	m.teardown()

	s := &session{done: make(chan struct{})}
	opts := m.opts
	opts.onFrame = func(f Frame) error {
		return m.dispatch(s, f)
	}
	s.conn = newConnWithOptions(raw, role, opts)

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()

	m.opts.metrics.setConnected(true)
	m.logger.Info("peer connected", "addr", raw.RemoteAddr(), "role", role)
	m.notify(func(l Listener) { l.OnConnectionStatusChanged(true) })

	go m.serve(s)
}

// serve runs the receive loop of s and reports its end exactly once.
func (m *Manager) serve(s *session) {
	defer close(s.done)

	err := s.conn.Run(context.Background())

	m.mu.Lock()
	if m.current == s {
		m.current = nil
	}
	m.mu.Unlock()

	m.opts.metrics.setConnected(false)
	m.logger.Info("peer disconnected", "addr", s.conn.Addr(), "error", err)
	m.notify(func(l Listener) { l.OnConnectionStatusChanged(false) })
}

// teardown closes the current connection and waits for its loop to end.
func (m *Manager) teardown() {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()

	if s == nil {
		return
	}
	_ = s.conn.Close()
	<-s.done
}

// Close closes the live connection and any listener waiting for a peer.
// It does not wait for the receive loop; use Shutdown for that.
// Safe to call multiple times. The manager can be started again afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	s := m.current
	srv := m.pending
	m.pending = nil
	m.mu.Unlock()

	var err error
	if s != nil {
		err = s.conn.Close()
	}
	if srv != nil {
		if cerr := srv.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Shutdown closes like Close and waits until the disconnect event has been
// handed to the executor or ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()

	if err := m.Close(); err != nil {
		m.logger.Debug("close error", "error", err)
	}
	if s == nil {
		return nil
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connected reports whether a peer connection is live.
func (m *Manager) Connected() bool {
	_, err := m.live()
	return err == nil
}

// Role returns the role of the live connection.
func (m *Manager) Role() (Role, bool) {
	s, err := m.live()
	if err != nil {
		return 0, false
	}
	return s.conn.Role(), true
}

// SetPeerID binds the logical chat id of the live connection. Once bound
// it cannot change until the connection is replaced.
func (m *Manager) SetPeerID(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.current
	if s == nil || s.conn.IsClosed() {
		return ErrNotConnected
	}
	if s.peerID != "" && s.peerID != id {
		return errors.Wrapf(ErrPeerAlreadyBound, "bound to %q", s.peerID)
	}
	s.peerID = id
	return nil
}

// PeerID returns the chat id bound to the live connection, if any.
func (m *Manager) PeerID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return ""
	}
	return m.current.peerID
}

func (m *Manager) live() (*session, error) {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()

	if s == nil || s.conn.IsClosed() {
		return nil, ErrNotConnected
	}
	return s, nil
}

// SendMessage sends a chat text wrapped in a routing envelope addressed to
// the bound peer. If wrapping fails the plain text is sent.
func (m *Manager) SendMessage(ctx context.Context, text string) error {
	dst := m.PeerID()
	if dst == "" {
		dst = unknownPeer
	}

	wrapped, err := m.opts.router.Wrap(text, dst)
	if err != nil {
		m.logger.Warn("wrap failed, sending plain text", "error", err)
		wrapped = text
	}
	return m.send(ctx, &TextFrame{Payload: wrapped})
}

// SendImage sends image bytes.
func (m *Manager) SendImage(ctx context.Context, data []byte) error {
	return m.send(ctx, &ImageFrame{Data: data})
}

// SendVoice sends a voice clip and its duration.
func (m *Manager) SendVoice(ctx context.Context, data []byte, duration time.Duration) error {
	return m.send(ctx, &VoiceFrame{Duration: duration, Data: data})
}

// SendDeliveryReceipt tells the peer that messageID arrived.
func (m *Manager) SendDeliveryReceipt(ctx context.Context, messageID string) error {
	return m.send(ctx, &DeliveryReceiptFrame{MessageID: messageID})
}

// SendSeenReceipt tells the peer that messageID was displayed.
func (m *Manager) SendSeenReceipt(ctx context.Context, messageID string) error {
	return m.send(ctx, &SeenReceiptFrame{MessageID: messageID})
}

// SendProfileInfo announces the local identity.
func (m *Manager) SendProfileInfo(ctx context.Context, p Profile) error {
	return m.send(ctx, &ProfileInfoFrame{
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		PhotoBase64: p.PhotoBase64,
	})
}

// SendHello sends the router's hello.
func (m *Manager) SendHello(ctx context.Context) error {
	body, err := m.opts.router.Hello()
	if err != nil {
		m.logger.Error("build hello failed", "error", err)
		return errors.Wrap(err, "build hello")
	}
	return m.send(ctx, &HelloFrame{Body: body})
}

// send queues exactly one frame on the live connection. A write failure
// surfaces later through the connection status event; nothing is retried.
func (m *Manager) send(ctx context.Context, frame Frame) error {
	s, err := m.live()
	if err != nil {
		m.logger.Warn("cannot send", "type", frame.Type(), "error", err)
		return err
	}

	if err := s.conn.WriteBlocking(ctx, frame); err != nil {
		m.logger.Error("send failed", "type", frame.Type(), "error", err)
		if errors.Is(err, ErrConnectionClosed) {
			return ErrNotConnected
		}
		return errors.Wrapf(err, "send %s", frame.Type())
	}

	m.logger.Debug("frame queued", "type", frame.Type())
	return nil
}

// withPort appends port to addr unless it already has one.
func withPort(addr string, port int) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, strconv.Itoa(port))
}
