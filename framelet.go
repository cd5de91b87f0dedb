// Package epoxy implements the core of the Epoxy binary RPC transport: a
// length-delimited, framelet-structured wire protocol carried over TCP, and
// the per-connection state machine that multiplexes request/response
// exchanges across many concurrent in-flight calls.
//
// The package is organized leaf-first: Framelet and Frame (this file and
// frame.go) give the on-wire codec; Message (message.go) tags a payload as a
// value or an error; ResponseMap (responsemap.go) correlates outbound request
// IDs to pending completions; Connection (conn.go) drives the handshake and
// service phase; Listener (server.go) accepts inbound sockets; Transport
// (transport.go) is the thin factory tying a LayerStack to both.
package epoxy

// FrameletType is the closed, 16-bit-wire-coded enumeration of framelet
// kinds. Construction of a Framelet fails for any value outside this set.
type FrameletType uint16

// The five framelet type codes, fixed on the wire as little-endian u16s.
const (
	FrameletEpoxyConfig   FrameletType = 0x4743
	FrameletEpoxyHeaders  FrameletType = 0x5248
	FrameletLayerData     FrameletType = 0x594C
	FrameletPayloadData   FrameletType = 0x5444
	FrameletProtocolError FrameletType = 0x5245
)

func (t FrameletType) String() string {
	switch t {
	case FrameletEpoxyConfig:
		return "EpoxyConfig"
	case FrameletEpoxyHeaders:
		return "EpoxyHeaders"
	case FrameletLayerData:
		return "LayerData"
	case FrameletPayloadData:
		return "PayloadData"
	case FrameletProtocolError:
		return "ProtocolError"
	default:
		return "Unknown"
	}
}

// IsKnownFrameletType reports whether t is one of the five wire-defined
// framelet types.
func IsKnownFrameletType(t FrameletType) bool {
	switch t {
	case FrameletEpoxyConfig, FrameletEpoxyHeaders, FrameletLayerData, FrameletPayloadData, FrameletProtocolError:
		return true
	default:
		return false
	}
}

// maxFrameletLength is the largest legal framelet content length: lengths
// must fit in 31 bits, i.e. be strictly less than 2^31.
const maxFrameletLength = 1 << 31

// Framelet is an immutable typed, non-empty byte segment: the smallest unit
// on the Epoxy wire.
type Framelet struct {
	typ      FrameletType
	contents []byte
}

// NewFramelet constructs a Framelet, rejecting unknown types and empty or nil
// contents.
func NewFramelet(t FrameletType, contents []byte) (*Framelet, error) {
	if !IsKnownFrameletType(t) {
		return nil, NewError(CodeInvalidArgument, "unknown framelet type 0x%04X", uint16(t))
	}
	if len(contents) == 0 {
		return nil, NewError(CodeInvalidArgument, "framelet contents must be non-empty")
	}
	if len(contents) >= maxFrameletLength {
		return nil, NewError(CodeInvalidArgument, "framelet contents too large: %d bytes", len(contents))
	}
	owned := make([]byte, len(contents))
	copy(owned, contents)
	return &Framelet{typ: t, contents: owned}, nil
}

// Type returns the framelet's type code.
func (f *Framelet) Type() FrameletType {
	return f.typ
}

// Contents returns the framelet's payload bytes. The returned slice is owned
// by the Framelet; callers must not mutate it.
func (f *Framelet) Contents() []byte {
	return f.contents
}

// Equal reports whether f and other have the same type and byte-for-byte
// identical contents.
func (f *Framelet) Equal(other *Framelet) bool {
	if f == nil || other == nil {
		return f == other
	}
	if f.typ != other.typ {
		return false
	}
	if len(f.contents) != len(other.contents) {
		return false
	}
	for i := range f.contents {
		if f.contents[i] != other.contents[i] {
			return false
		}
	}
	return true
}
