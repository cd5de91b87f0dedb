package epoxy

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Role distinguishes which side of a handshake a Connection played.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// State is the Connection's position in the handshake/service-phase/
// shutdown lifecycle.
type State int32

const (
	StateCreated State = iota
	StateHandshaking
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateHandshaking:
		return "Handshaking"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Connection is one end of an Epoxy session: the frame codec driven over a
// *net.TCPConn, the handshake, the service-phase dispatch of requests,
// responses, and events, and orderly/abrupt shutdown. Options are validated
// at construction, a single goroutine owns the socket's read side, and an
// atomic lifecycle flag guards idempotent close. Writes are serialized with
// a mutex on the write half so SendRequest can detect a write failure
// synchronously and resolve the response map immediately.
type Connection struct {
	rawConn *net.TCPConn
	role    Role
	opts    connOptions

	responseMap *ResponseMap // non-nil only for RoleClient
	serviceHost *ServiceHost // non-nil only for RoleServer

	nextRequestID atomic.Uint64

	writeMu sync.Mutex

	state atomic.Int32

	closeOnce sync.Once
	closeCh   chan struct{}
	finalErr  error

	handlerWG sync.WaitGroup

	mu             sync.Mutex
	onDisconnected []func(*Connection, error)
}

func newConnection(raw *net.TCPConn, role Role, opts ...ConnOption) *Connection {
	o := defaultConnOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c := &Connection{
		rawConn: raw,
		role:    role,
		opts:    o,
		closeCh: make(chan struct{}),
	}
	if role == RoleClient {
		c.responseMap = NewResponseMap()
	}
	c.state.Store(int32(StateCreated))
	return c
}

// Role reports whether this Connection is the client or server side of its
// session.
func (c *Connection) Role() Role {
	return c.role
}

// State reports the Connection's current lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// LocalEndpoint returns the local address of the underlying socket.
func (c *Connection) LocalEndpoint() net.Addr {
	return c.rawConn.LocalAddr()
}

// RemoteEndpoint returns the remote address of the underlying socket.
func (c *Connection) RemoteEndpoint() net.Addr {
	return c.rawConn.RemoteAddr()
}

// OnDisconnected registers a callback invoked exactly once, after this
// Connection enters its terminal state. Safe to call from multiple
// goroutines; callbacks run outside any lock, in registration order.
func (c *Connection) OnDisconnected(fn func(*Connection, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnected = append(c.onDisconnected, fn)
}

func (c *Connection) fireDisconnected(cause error) {
	c.mu.Lock()
	handlers := make([]func(*Connection, error), len(c.onDisconnected))
	copy(handlers, c.onDisconnected)
	c.mu.Unlock()

	for _, h := range handlers {
		h(c, cause)
	}
}

// ---- handshake -----------------------------------------------------------

// clientHandshake sends the client's EpoxyConfig frame and waits for the
// server's reply: either an echoed EpoxyConfig (acceptance) or a
// ProtocolError (rejection). This makes Transport.Connect synchronous with
// respect to handshake rejection.
func (c *Connection) clientHandshake(ctx context.Context) error {
	c.state.Store(int32(StateHandshaking))

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.rawConn.SetDeadline(deadline)
	} else if c.opts.handshakeWait > 0 {
		_ = c.rawConn.SetDeadline(time.Now().Add(c.opts.handshakeWait))
	}
	defer c.rawConn.SetDeadline(time.Time{})

	configFramelet, err := NewFramelet(FrameletEpoxyConfig, EncodeConfig(c.opts.config))
	if err != nil {
		return err
	}
	frame, err := NewFrame(configFramelet)
	if err != nil {
		return err
	}
	if err := c.writeFrame(frame); err != nil {
		return err
	}

	reply, err := ReadFrame(c.rawConn)
	if err != nil {
		return err
	}
	if reply.Len() == 1 && reply.Framelets()[0].Type() == FrameletProtocolError {
		rejectErr, err := DecodeProtocolError(reply.Framelets()[0].Contents())
		if err != nil {
			return err
		}
		return rejectErr
	}
	if reply.Len() != 1 || reply.Framelets()[0].Type() != FrameletEpoxyConfig {
		return NewError(CodeProtocolError, "unexpected handshake reply shape")
	}

	c.state.Store(int32(StateConnected))
	return nil
}

// serverHandshake reads the client's EpoxyConfig frame, invokes
// fireConnected to let Listener handlers veto the connection, and replies
// with either its own EpoxyConfig (acceptance) or a ProtocolError
// (rejection, after which this returns the rejection reason; closing the
// socket is left to the caller).
func (c *Connection) serverHandshake(ctx context.Context, fireConnected func(*Connection) *Error) error {
	c.state.Store(int32(StateHandshaking))

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.rawConn.SetDeadline(deadline)
	} else if c.opts.handshakeWait > 0 {
		_ = c.rawConn.SetDeadline(time.Now().Add(c.opts.handshakeWait))
	}
	defer c.rawConn.SetDeadline(time.Time{})

	frame, err := ReadFrame(c.rawConn)
	if err != nil {
		return err
	}
	if frame.Len() != 1 || frame.Framelets()[0].Type() != FrameletEpoxyConfig {
		rejectErr := NewError(CodeProtocolError, "expected a single EpoxyConfig framelet")
		_ = c.sendProtocolErrorFrame(rejectErr)
		return rejectErr
	}
	if _, err := DecodeConfig(frame.Framelets()[0].Contents()); err != nil {
		ee, _ := AsEpoxyError(err)
		_ = c.sendProtocolErrorFrame(ee)
		return err
	}

	if rejectErr := fireConnected(c); rejectErr != nil {
		_ = c.sendProtocolErrorFrame(rejectErr)
		return rejectErr
	}

	ackFramelet, err := NewFramelet(FrameletEpoxyConfig, EncodeConfig(c.opts.config))
	if err != nil {
		return err
	}
	ackFrame, err := NewFrame(ackFramelet)
	if err != nil {
		return err
	}
	if err := c.writeFrame(ackFrame); err != nil {
		return err
	}

	c.state.Store(int32(StateConnected))
	return nil
}

func (c *Connection) sendProtocolErrorFrame(reason *Error) error {
	framelet, err := NewFramelet(FrameletProtocolError, EncodeProtocolError(reason))
	if err != nil {
		return err
	}
	frame, err := NewFrame(framelet)
	if err != nil {
		return err
	}
	return c.writeFrame(frame)
}

func (c *Connection) writeFrame(frame *Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteFrame(c.rawConn, frame)
}

// ---- service phase --------------------------------------------------------

// Run drives the connection's read loop until the peer closes the socket, a
// protocol violation occurs, ctx is canceled, or Stop is called, returning
// the terminal error (nil for an orderly Stop-initiated shutdown). It always
// runs the shutdown sequence exactly once before returning. Run belongs
// after a successful handshake; Transport.Connect and the Listener start it
// themselves on the connections they return or accept.
func (c *Connection) Run(ctx context.Context) error {
	innerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, gctx := errgroup.WithContext(innerCtx)
	group.Go(func() error {
		err := c.readLoop(gctx)
		cancel() // let the watcher below observe completion even on a clean return
		return err
	})
	group.Go(func() error {
		<-gctx.Done()
		_ = c.rawConn.Close()
		return nil
	})

	return c.shutdown(group.Wait())
}

func (c *Connection) readLoop(ctx context.Context) error {
	for {
		if c.opts.idleTimeout > 0 {
			_ = c.rawConn.SetReadDeadline(time.Now().Add(c.opts.idleTimeout))
		}

		frame, err := ReadFrame(c.rawConn)
		if err != nil {
			return err
		}

		if frame.Len() == 1 && frame.Framelets()[0].Type() == FrameletProtocolError {
			peerErr, decodeErr := DecodeProtocolError(frame.Framelets()[0].Contents())
			if decodeErr != nil {
				return decodeErr
			}
			return peerErr
		}

		headers, layerData, payload, appErr, err := splitServiceFrame(frame)
		if err != nil {
			ee, _ := AsEpoxyError(err)
			_ = c.sendProtocolErrorFrame(ee)
			return err
		}

		switch headers.PayloadType {
		case PayloadTypeResponse:
			c.dispatchResponse(ctx, headers, layerData, payload, appErr)
		case PayloadTypeRequest:
			c.dispatchRequest(ctx, headers, layerData, payload)
		case PayloadTypeEvent:
			c.dispatchEvent(ctx, headers, layerData, payload)
		default:
			protoErr := NewError(CodeProtocolError, "headers declare unknown payload_type %d", headers.PayloadType)
			_ = c.sendProtocolErrorFrame(protoErr)
			return protoErr
		}
	}
}

func (c *Connection) dispatchResponse(ctx context.Context, headers *Headers, layerData, payload []byte, appErr *Error) {
	if c.responseMap == nil {
		c.opts.logger.Debug("discarding response frame on a non-client connection", "request_id", headers.RequestID)
		return
	}
	if appErr != nil {
		c.responseMap.Complete(headers.RequestID, NewErrorMessage(appErr))
		return
	}
	decoded, err := c.opts.layers.Receive(ctx, layerData, payload)
	if err != nil {
		c.responseMap.Complete(headers.RequestID, NewErrorMessage(NewError(CodeProtocolError, "%v", err)))
		return
	}
	c.responseMap.Complete(headers.RequestID, NewPayloadMessage(decoded))
}

func (c *Connection) dispatchRequest(ctx context.Context, headers *Headers, layerData, payload []byte) {
	if c.serviceHost == nil {
		c.opts.logger.Debug("discarding request frame on a non-server connection", "request_id", headers.RequestID)
		return
	}
	c.handlerWG.Add(1)
	go func() {
		defer c.handlerWG.Done()
		respPayload, respErr := c.invokeHandler(ctx, headers, layerData, payload)

		var msg *Message
		if respErr != nil {
			msg = NewErrorMessage(asApplicationError(respErr))
		} else {
			msg = NewPayloadMessage(respPayload)
		}
		c.writeResponse(ctx, headers.RequestID, msg)
	}()
}

func (c *Connection) dispatchEvent(ctx context.Context, headers *Headers, layerData, payload []byte) {
	if c.serviceHost == nil {
		c.opts.logger.Debug("discarding event frame on a non-server connection", "method", headers.MethodName)
		return
	}
	c.handlerWG.Add(1)
	go func() {
		defer c.handlerWG.Done()
		if _, err := c.invokeHandler(ctx, headers, layerData, payload); err != nil {
			c.opts.logger.Debug("event handler returned an error", "method", headers.MethodName, "error", err)
		}
	}()
}

func (c *Connection) invokeHandler(ctx context.Context, headers *Headers, layerData, payload []byte) (resp []byte, err error) {
	handler, ok := c.serviceHost.Lookup(headers.MethodName)
	if !ok {
		return nil, NewError(CodeMethodNotFound, "method %q is not registered", headers.MethodName)
	}

	decoded, err := c.opts.layers.Receive(ctx, layerData, payload)
	if err != nil {
		return nil, NewError(CodeProtocolError, "%v", err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = NewError(CodeApplicationError, "handler panicked: %v", r)
		}
	}()
	return handler(ctx, decoded)
}

func (c *Connection) writeResponse(ctx context.Context, requestID uint64, msg *Message) {
	var payload []byte
	var respErr *Error
	var layerData []byte

	if msg.IsError() {
		respErr = msg.Err()
	} else {
		payload = msg.Payload()
		var err error
		layerData, err = c.opts.layers.Send(ctx, payload)
		if err != nil {
			respErr = NewError(CodeProtocolError, "%v", err)
			payload = nil
			layerData = nil
		}
	}

	headers := &Headers{RequestID: requestID, MethodName: "", PayloadType: PayloadTypeResponse}
	frame, err := buildServiceFrame(headers, layerData, payload, respErr)
	if err != nil {
		c.opts.logger.Error("failed to build response frame", "request_id", requestID, "error", err)
		return
	}
	if err := c.writeFrame(frame); err != nil {
		c.opts.logger.Debug("failed to write response frame", "request_id", requestID, "error", err)
	}
}

func asApplicationError(err error) *Error {
	if ee, ok := AsEpoxyError(err); ok {
		return ee
	}
	return NewError(CodeApplicationError, "%v", err)
}

// ---- outbound requests/events ---------------------------------------------

// SendRequest allocates a fresh request ID, runs the outbound layer-stack
// transform, registers the ID with the response map, and writes the request
// frame. It fails synchronously only for role/argument errors, a layer-stack
// or frame-assembly failure, or an immediate write failure; otherwise it
// returns a ResponseSlot the caller awaits for the eventual reply.
func (c *Connection) SendRequest(ctx context.Context, method string, payload []byte) (*ResponseSlot, error) {
	if c.role != RoleClient {
		return nil, NewError(CodeInvalidOperation, "SendRequest is only valid on a client connection")
	}
	if method == "" {
		return nil, NewError(CodeInvalidArgument, "method name must not be empty")
	}

	layerData, err := c.opts.layers.Send(ctx, payload)
	if err != nil {
		return nil, NewError(CodeProtocolError, "%v", err)
	}

	id := c.nextRequestID.Add(1)
	slot, err := c.responseMap.Add(id)
	if err != nil {
		return nil, err
	}

	headers := &Headers{RequestID: id, MethodName: method, PayloadType: PayloadTypeRequest}
	frame, err := buildServiceFrame(headers, layerData, payload, nil)
	if err != nil {
		c.responseMap.Complete(id, NewErrorMessage(NewError(CodeTransportError, "%v", err)))
		return nil, err
	}

	if err := c.writeFrame(frame); err != nil {
		transportErr := NewError(CodeTransportError, "%v", err)
		c.responseMap.Complete(id, NewErrorMessage(transportErr))
		return nil, transportErr
	}

	return slot, nil
}

// SendEvent writes a fire-and-forget event frame; there is no response to
// await.
func (c *Connection) SendEvent(ctx context.Context, method string, payload []byte) error {
	if c.role != RoleClient {
		return NewError(CodeInvalidOperation, "SendEvent is only valid on a client connection")
	}
	if method == "" {
		return NewError(CodeInvalidArgument, "method name must not be empty")
	}

	layerData, err := c.opts.layers.Send(ctx, payload)
	if err != nil {
		return NewError(CodeProtocolError, "%v", err)
	}

	headers := &Headers{RequestID: c.nextRequestID.Add(1), MethodName: method, PayloadType: PayloadTypeEvent}
	frame, err := buildServiceFrame(headers, layerData, payload, nil)
	if err != nil {
		return err
	}
	if err := c.writeFrame(frame); err != nil {
		return NewError(CodeTransportError, "%v", err)
	}
	return nil
}

// ---- shutdown --------------------------------------------------------------

// Stop initiates an orderly shutdown: a final ProtocolError framelet
// describing the shutdown reason is sent best-effort, the socket is closed,
// in-flight handlers are drained, the response map (if any) is shut down,
// and Disconnected fires. Safe to call multiple times and concurrently with
// Run; idempotent.
func (c *Connection) Stop() error {
	return c.shutdown(nil)
}

func (c *Connection) shutdown(cause error) error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateDisconnecting))

		reason := cause
		if reason == nil {
			reason = shutdownError()
		}
		if ee, ok := AsEpoxyError(reason); ok {
			_ = c.sendProtocolErrorFrame(ee)
		} else {
			_ = c.sendProtocolErrorFrame(NewError(CodeTransportError, "%v", reason))
		}

		_ = c.rawConn.Close()
		c.handlerWG.Wait()

		if c.responseMap != nil {
			c.responseMap.Shutdown()
		}

		c.finalErr = cause
		c.state.Store(int32(StateDisconnected))
		close(c.closeCh)
		c.fireDisconnected(cause)
	})
	<-c.closeCh
	return c.finalErr
}

// ---- frame assembly --------------------------------------------------------

// applicationErrorMarker is the first byte of a PayloadData framelet's
// contents on a response carrying a TLV-encoded application error instead
// of a plain payload. A zero-length success payload is always sent as a
// single zero byte, never this marker, so the two cases cannot collide.
const applicationErrorMarker = 0xAE

func encodeApplicationError(e *Error) []byte {
	return append([]byte{applicationErrorMarker}, EncodeProtocolError(e)...)
}

func decodeApplicationError(data []byte) (*Error, bool) {
	if len(data) == 0 || data[0] != applicationErrorMarker {
		return nil, false
	}
	e, err := DecodeProtocolError(data[1:])
	if err != nil {
		return nil, false
	}
	return e, true
}

// buildServiceFrame assembles a [EpoxyHeaders, LayerData?, PayloadData]
// frame. If respErr is non-nil, the PayloadData framelet carries a
// TLV-encoded application error instead of payload bytes — this is how a
// handler's returned error reaches the caller as an ordinary response,
// distinct from a ProtocolError frame, which always terminates the
// connection.
func buildServiceFrame(headers *Headers, layerData, payload []byte, respErr *Error) (*Frame, error) {
	headersFramelet, err := NewFramelet(FrameletEpoxyHeaders, EncodeHeaders(headers))
	if err != nil {
		return nil, err
	}

	frame, err := NewFrame(headersFramelet)
	if err != nil {
		return nil, err
	}

	if len(layerData) > 0 {
		layerFramelet, err := NewFramelet(FrameletLayerData, layerData)
		if err != nil {
			return nil, err
		}
		if err := frame.Append(layerFramelet); err != nil {
			return nil, err
		}
	}

	var payloadBytes []byte
	if respErr != nil {
		payloadBytes = encodeApplicationError(respErr)
	} else {
		payloadBytes = payload
	}
	if len(payloadBytes) == 0 {
		// PayloadData framelets must be non-empty; an empty success payload
		// still needs at least one byte on the wire.
		payloadBytes = []byte{0}
	}
	payloadFramelet, err := NewFramelet(FrameletPayloadData, payloadBytes)
	if err != nil {
		return nil, err
	}
	if err := frame.Append(payloadFramelet); err != nil {
		return nil, err
	}

	return frame, nil
}

// splitServiceFrame validates frame against the canonical
// [EpoxyHeaders, LayerData?, PayloadData] shape, extracts its parts, and
// reports separately whether the payload was an application error.
func splitServiceFrame(frame *Frame) (headers *Headers, layerData, payload []byte, appErr *Error, err error) {
	fls := frame.Framelets()
	if len(fls) < 2 || len(fls) > 3 {
		return nil, nil, nil, nil, NewError(CodeProtocolError, "frame has %d framelets, expected 2 or 3", len(fls))
	}
	if fls[0].Type() != FrameletEpoxyHeaders {
		return nil, nil, nil, nil, NewError(CodeProtocolError, "frame does not begin with EpoxyHeaders")
	}
	headers, err = DecodeHeaders(fls[0].Contents())
	if err != nil {
		return nil, nil, nil, nil, err
	}

	payloadIdx := 1
	if len(fls) == 3 {
		if fls[1].Type() != FrameletLayerData {
			return nil, nil, nil, nil, NewError(CodeProtocolError, "second framelet is not LayerData")
		}
		layerData = fls[1].Contents()
		payloadIdx = 2
	}
	if fls[payloadIdx].Type() != FrameletPayloadData {
		return nil, nil, nil, nil, NewError(CodeProtocolError, "frame does not end with PayloadData")
	}

	payloadBytes := fls[payloadIdx].Contents()
	if headers.PayloadType == PayloadTypeResponse {
		if decoded, ok := decodeApplicationError(payloadBytes); ok {
			return headers, layerData, nil, decoded, nil
		}
	}

	return headers, layerData, payloadBytes, nil, nil
}
