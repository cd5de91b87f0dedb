package epoxy

import (
	"context"
	"net"
)

// Transport is the package's top-level entry point: a thin factory for
// client Connections and server Listeners that keeps no state of its own
// beyond the default ConnOptions it applies in Connect and MakeListener. Kept as a
// standalone value rather than a package-level function set so callers can
// hold a single configured Transport and pass it around.
type Transport struct {
	defaultConnOpts []ConnOption
}

// NewTransport builds a Transport that applies defaultOpts to every
// Connection it creates via Connect and to every Connection accepted by a
// Listener from MakeListener, unless overridden by options passed to that
// particular call.
func NewTransport(defaultOpts ...ConnOption) *Transport {
	return &Transport{defaultConnOpts: defaultOpts}
}

// Connect dials addr, runs the client-side handshake synchronously, and
// returns a ready Connection whose read loop (Run, with a background
// context) is already running, so responses to SendRequest are delivered
// without further setup; Stop ends it. A rejected handshake is surfaced as
// this call's error rather than discovered later from Run.
func (t *Transport) Connect(ctx context.Context, addr string, opts ...ConnOption) (*Connection, error) {
	resolved, err := ResolveAddress(addr)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{}
	rawConn, err := dialer.DialContext(ctx, "tcp", resolved.String())
	if err != nil {
		return nil, wrapTransport(err, "dial %s", addr)
	}
	tcpConn, ok := rawConn.(*net.TCPConn)
	if !ok {
		_ = rawConn.Close()
		return nil, NewError(CodeTransportError, "dialed connection is not TCP")
	}
	_ = tcpConn.SetNoDelay(true)

	allOpts := make([]ConnOption, 0, len(t.defaultConnOpts)+len(opts))
	allOpts = append(allOpts, t.defaultConnOpts...)
	allOpts = append(allOpts, opts...)

	conn := newConnection(tcpConn, RoleClient, allOpts...)
	if err := conn.clientHandshake(ctx); err != nil {
		_ = tcpConn.Close()
		return nil, err
	}

	go func() { _ = conn.Run(context.Background()) }()

	return conn, nil
}

// MakeListener resolves addr and binds a Listener ready for Start. A port of
// 0 resolves to an ephemeral port the kernel assigns; read it back via the
// returned Listener's ListenEndpoint. An omitted port defaults to
// DefaultPort.
func (t *Transport) MakeListener(addr string, opts ...ListenerOption) (*Listener, error) {
	resolved, err := ResolveAddress(addr)
	if err != nil {
		return nil, err
	}
	allOpts := make([]ListenerOption, 0, len(opts)+1)
	allOpts = append(allOpts, WithConnOptions(t.defaultConnOpts...))
	allOpts = append(allOpts, opts...)
	return NewListener(resolved, allOpts...)
}

// Stop is a documented no-op: Transport tracks no registry of the
// Connections and Listeners it has produced, so there is nothing for it to
// tear down. Callers must Stop their Connections and Listeners individually.
func (t *Transport) Stop() error {
	return nil
}
