package epoxy

import (
	"encoding/binary"
	"io"
)

// maxFrameletCount is the largest legal framelet cardinality for a single
// frame: the wire count field is a u16, so 65535 is the ceiling.
const maxFrameletCount = 65535

// Frame is an ordered sequence of framelets, with cardinality in
// [1, 65535] once written. A Frame may be built up empty via NewFrame and
// Append, but WriteFrame refuses to emit one with zero framelets.
//
// Wire layout (all integers little-endian):
//
//	frame    := count:u16 framelet{count}
//	framelet := type:u16 length:u32 content:byte[length]
type Frame struct {
	framelets []*Framelet
}

// NewFrame builds a Frame from zero or more framelets, in order. It fails if
// more than 65535 framelets are supplied.
func NewFrame(framelets ...*Framelet) (*Frame, error) {
	if len(framelets) > maxFrameletCount {
		return nil, NewError(CodeInvalidArgument, "frame has %d framelets, max is %d", len(framelets), maxFrameletCount)
	}
	f := &Frame{framelets: make([]*Framelet, len(framelets))}
	copy(f.framelets, framelets)
	return f, nil
}

// Append adds a framelet to the end of the frame, failing once the frame
// already holds the maximum of 65535 framelets.
func (f *Frame) Append(fl *Framelet) error {
	if len(f.framelets) >= maxFrameletCount {
		return NewError(CodeInvalidOperation, "frame already has the maximum of %d framelets", maxFrameletCount)
	}
	f.framelets = append(f.framelets, fl)
	return nil
}

// Len reports the number of framelets currently in the frame.
func (f *Frame) Len() int {
	return len(f.framelets)
}

// Framelets returns the frame's framelets in wire order. The returned slice
// must not be mutated by the caller.
func (f *Frame) Framelets() []*Framelet {
	return f.framelets
}

// Equal reports whether f and other carry the same framelets, in the same
// order, with identical types and contents — the round-trip property
// required of WriteFrame/ReadFrame.
func (f *Frame) Equal(other *Frame) bool {
	if f == nil || other == nil {
		return f == other
	}
	if len(f.framelets) != len(other.framelets) {
		return false
	}
	for i := range f.framelets {
		if !f.framelets[i].Equal(other.framelets[i]) {
			return false
		}
	}
	return true
}

// WriteFrame emits frame to w as the exact byte concatenation of the wire
// layout documented on Frame: no padding, no alignment. It refuses an empty
// frame and a nil writer.
func WriteFrame(w io.Writer, frame *Frame) error {
	if w == nil {
		return NewError(CodeInvalidArgument, "write sink must not be nil")
	}
	if frame == nil || len(frame.framelets) == 0 {
		return NewError(CodeInvalidOperation, "cannot write an empty frame")
	}

	var header [6]byte
	binary.LittleEndian.PutUint16(header[:2], uint16(len(frame.framelets)))
	if _, err := w.Write(header[:2]); err != nil {
		return wrapTransport(err, "write framelet count")
	}

	for _, fl := range frame.framelets {
		binary.LittleEndian.PutUint16(header[:2], uint16(fl.typ))
		binary.LittleEndian.PutUint32(header[2:6], uint32(len(fl.contents)))
		if _, err := w.Write(header[:6]); err != nil {
			return wrapTransport(err, "write framelet header")
		}
		if _, err := w.Write(fl.contents); err != nil {
			return wrapTransport(err, "write framelet content")
		}
	}
	return nil
}

// ReadFrame parses exactly one frame from r. It never returns a partially
// populated Frame: either the result is complete and well-typed, or err is
// non-nil and describes a ProtocolError. Short reads are retried internally
// (io.ReadFull semantics) until the exact byte count is delivered or the
// stream reports EOF, which is itself a ProtocolError once inside a frame.
func ReadFrame(r io.Reader) (*Frame, error) {
	var buf [6]byte

	if _, err := io.ReadFull(r, buf[:2]); err != nil {
		return nil, protocolReadErr(err, "read framelet count")
	}
	count := binary.LittleEndian.Uint16(buf[:2])
	if count == 0 {
		return nil, NewError(CodeProtocolError, "frame declares zero framelets")
	}

	framelets := make([]*Framelet, 0, count)
	for i := 0; i < int(count); i++ {
		if _, err := io.ReadFull(r, buf[:6]); err != nil {
			return nil, protocolReadErr(err, "read framelet %d header", i)
		}
		typ := FrameletType(binary.LittleEndian.Uint16(buf[:2]))
		length := binary.LittleEndian.Uint32(buf[2:6])

		if !IsKnownFrameletType(typ) {
			return nil, NewError(CodeProtocolError, "framelet %d has unknown type 0x%04X", i, uint16(typ))
		}
		if length == 0 || length >= maxFrameletLength {
			return nil, NewError(CodeProtocolError, "framelet %d declares illegal length %d", i, length)
		}

		content := make([]byte, length)
		if _, err := io.ReadFull(r, content); err != nil {
			return nil, protocolReadErr(err, "read framelet %d content", i)
		}
		framelets = append(framelets, &Framelet{typ: typ, contents: content})
	}

	return &Frame{framelets: framelets}, nil
}

// protocolReadErr classifies a read failure as a ProtocolError: an EOF or
// short read while inside a frame is a protocol violation, not an ambient I/O
// failure, per the reader contract.
func protocolReadErr(err error, format string, args ...any) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return NewError(CodeProtocolError, "unexpected end of stream: "+format, args...)
	}
	return wrapTransport(err, format, args...)
}
