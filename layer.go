package epoxy

import (
	"context"
	"encoding/binary"
	"hash/crc32"
)

// Layer is one stage of the pluggable pre/post-send transform pipeline.
// OnSend runs while building an outbound frame and may contribute a byte
// segment carried in the frame's LayerData framelet; OnReceive runs while
// dispatching an inbound frame and may transform the payload using that
// same segment (e.g. to verify an integrity check or undo a compression
// pass).
type Layer interface {
	OnSend(ctx context.Context, payload []byte) (segment []byte, err error)
	OnReceive(ctx context.Context, segment []byte, payload []byte) ([]byte, error)
}

// LayerStack is an ordered pipeline of Layers, run front-to-back on send and
// back-to-front on receive. A connection with no layers configured produces
// frames with no LayerData framelet at all.
type LayerStack struct {
	layers []Layer
}

// NewLayerStack builds a LayerStack from layers, in pipeline order.
func NewLayerStack(layers ...Layer) *LayerStack {
	return &LayerStack{layers: layers}
}

// Empty reports whether the stack has no layers, in which case callers
// should omit the LayerData framelet entirely.
func (s *LayerStack) Empty() bool {
	return s == nil || len(s.layers) == 0
}

// Send runs every layer's OnSend in order over payload, concatenating each
// layer's segment as a length-prefixed entry so Receive can later hand each
// layer back exactly the bytes it produced.
func (s *LayerStack) Send(ctx context.Context, payload []byte) ([]byte, error) {
	if s.Empty() {
		return nil, nil
	}
	var out []byte
	for _, l := range s.layers {
		segment, err := l.OnSend(ctx, payload)
		if err != nil {
			return nil, wrapProtocol(err, "layer OnSend")
		}
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(segment)))
		out = append(out, lenBuf[:]...)
		out = append(out, segment...)
	}
	return out, nil
}

// Receive threads payload through every layer's OnReceive in reverse pipeline
// order, handing each layer the segment it produced during Send.
func (s *LayerStack) Receive(ctx context.Context, layerData []byte, payload []byte) ([]byte, error) {
	if s.Empty() {
		return payload, nil
	}
	segments := make([][]byte, 0, len(s.layers))
	offset := 0
	for range s.layers {
		if offset+4 > len(layerData) {
			return nil, NewError(CodeProtocolError, "layer data truncated")
		}
		segLen := int(binary.LittleEndian.Uint32(layerData[offset : offset+4]))
		offset += 4
		if offset+segLen > len(layerData) {
			return nil, NewError(CodeProtocolError, "layer data segment truncated")
		}
		segments = append(segments, layerData[offset:offset+segLen])
		offset += segLen
	}

	result := payload
	for i := len(s.layers) - 1; i >= 0; i-- {
		var err error
		result, err = s.layers[i].OnReceive(ctx, segments[i], result)
		if err != nil {
			return nil, wrapProtocol(err, "layer OnReceive")
		}
	}
	return result, nil
}

// ChecksumLayer is a reference Layer that appends a CRC32 (IEEE polynomial)
// of the payload as its segment on send, and rejects a mismatch as a
// ProtocolError on receive. It exists to exercise the LayerStack contract end
// to end without inventing application-level semantics.
type ChecksumLayer struct{}

// OnSend computes the CRC32 checksum of payload.
func (ChecksumLayer) OnSend(_ context.Context, payload []byte) ([]byte, error) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], crc32.ChecksumIEEE(payload))
	return buf[:], nil
}

// OnReceive recomputes the CRC32 of payload and compares it against the
// segment produced by OnSend, failing with a ProtocolError on mismatch.
func (ChecksumLayer) OnReceive(_ context.Context, segment []byte, payload []byte) ([]byte, error) {
	if len(segment) != 4 {
		return nil, NewError(CodeProtocolError, "checksum layer segment has unexpected length %d", len(segment))
	}
	want := binary.LittleEndian.Uint32(segment)
	got := crc32.ChecksumIEEE(payload)
	if want != got {
		return nil, NewError(CodeProtocolError, "checksum mismatch: want %08x got %08x", want, got)
	}
	return payload, nil
}
