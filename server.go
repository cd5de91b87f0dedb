package epoxy

import (
	"context"
	"net"
	"sync"
)

// ConnectedHandler observes a newly handshaken server-side Connection and
// may veto it by returning a non-nil *Error — the rejection reason the
// client's handshake will see as its ProtocolError. A Listener may carry
// several; the first to return non-nil wins and no further handler runs.
type ConnectedHandler func(conn *Connection) *Error

// DisconnectedHandler observes a server-side Connection after it has
// reached its terminal state. cause is nil for an orderly Stop-driven
// shutdown.
type DisconnectedHandler func(conn *Connection, cause error)

// Listener accepts inbound TCP connections, drives each one's server-side
// handshake and service phase, and fans out Connected/Disconnected events.
// Its accept loop is a background goroutine racing AcceptTCP against a
// shutdown signal, guarded by a mutex over a set of live connections and a
// boolean idempotent-Close flag.
type Listener struct {
	tcpListener *net.TCPListener
	opts        listenerOptions

	serviceHost *ServiceHost

	mu          sync.Mutex
	shutdown    bool
	conns       map[*Connection]struct{}
	connectedH  []ConnectedHandler
	disconnH    []DisconnectedHandler

	acceptWG sync.WaitGroup
}

// NewListener binds a TCP listener at addr and returns a Listener ready for
// Start. The returned Listener owns no connections until Start is called.
func NewListener(addr *net.TCPAddr, opts ...ListenerOption) (*Listener, error) {
	tcpListener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, wrapTransport(err, "listen on %s", addr)
	}

	o := defaultListenerOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &Listener{
		tcpListener: tcpListener,
		opts:        o,
		serviceHost: NewServiceHost(),
		conns:       make(map[*Connection]struct{}),
	}, nil
}

// ListenEndpoint returns the address the Listener is bound to, resolving an
// ephemeral port-0 bind to the port the kernel actually assigned.
func (l *Listener) ListenEndpoint() net.Addr {
	return l.tcpListener.Addr()
}

// AddService registers handler under method for every Connection this
// Listener accepts, including ones already in progress. A second
// registration for the same method replaces the first.
func (l *Listener) AddService(method string, handler Handler) error {
	return l.serviceHost.Register(method, handler)
}

// IsRegistered reports whether method has a registered handler.
func (l *Listener) IsRegistered(method string) bool {
	return l.serviceHost.IsRegistered(method)
}

// OnConnected registers a handler consulted, in registration order, as each
// inbound connection completes its handshake; the first to return a
// non-nil *Error rejects the connection.
func (l *Listener) OnConnected(h ConnectedHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connectedH = append(l.connectedH, h)
}

// OnDisconnected registers a handler invoked once per connection after it
// reaches its terminal state.
func (l *Listener) OnDisconnected(h DisconnectedHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnH = append(l.disconnH, h)
}

// Start begins accepting connections in a background goroutine. ctx governs
// the lifetime of every accepted Connection's service phase; canceling it
// also closes the listening socket and ends the accept loop, as Stop does.
func (l *Listener) Start(ctx context.Context) {
	l.acceptWG.Add(1)
	go l.acceptLoop(ctx)
	go func() {
		<-ctx.Done()
		_ = l.Stop()
	}()
}

func (l *Listener) acceptLoop(ctx context.Context) {
	defer l.acceptWG.Done()
	for {
		raw, err := l.tcpListener.AcceptTCP()
		if err != nil {
			l.mu.Lock()
			isShutdown := l.shutdown
			l.mu.Unlock()
			if isShutdown {
				return
			}
			l.opts.logger.Error("accept error", "error", err)
			continue
		}

		_ = raw.SetNoDelay(true)
		go l.driveConnection(ctx, raw)
	}
}

func (l *Listener) driveConnection(ctx context.Context, raw *net.TCPConn) {
	conn := newConnection(raw, RoleServer, l.opts.connOpts...)
	conn.serviceHost = l.serviceHost

	if err := conn.serverHandshake(ctx, l.fireConnected); err != nil {
		l.opts.logger.Debug("rejected handshake", "remote_addr", raw.RemoteAddr(), "error", err)
		_ = raw.Close()
		return
	}

	l.mu.Lock()
	l.conns[conn] = struct{}{}
	l.mu.Unlock()

	conn.OnDisconnected(func(c *Connection, cause error) {
		l.mu.Lock()
		delete(l.conns, c)
		l.mu.Unlock()
		l.fireDisconnected(c, cause)
	})

	_ = conn.Run(ctx)
}

// fireConnected consults every registered ConnectedHandler, in order,
// returning the first non-nil rejection — the fold-to-first-non-nil-wins
// semantics a server-side handshake veto needs.
func (l *Listener) fireConnected(conn *Connection) *Error {
	l.mu.Lock()
	handlers := make([]ConnectedHandler, len(l.connectedH))
	copy(handlers, l.connectedH)
	l.mu.Unlock()

	for _, h := range handlers {
		if reject := h(conn); reject != nil {
			return reject
		}
	}
	return nil
}

func (l *Listener) fireDisconnected(conn *Connection, cause error) {
	l.mu.Lock()
	handlers := make([]DisconnectedHandler, len(l.disconnH))
	copy(handlers, l.disconnH)
	l.mu.Unlock()

	for _, h := range handlers {
		h(conn, cause)
	}
}

// Stop closes the listening socket and stops accepting new connections.
// Connections already accepted are left running; callers that want them
// torn down too call Connection.Stop on each one themselves. Safe to call
// more than once.
func (l *Listener) Stop() error {
	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		return nil
	}
	l.shutdown = true
	l.mu.Unlock()

	err := l.tcpListener.Close()
	l.acceptWG.Wait()

	return err
}
