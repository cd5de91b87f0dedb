package epoxy

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

func TestWriteFrame_ExactBytes_SingleFramelet(t *testing.T) {
	fl, err := NewFramelet(FrameletPayloadData, []byte("hi"))
	if err != nil {
		t.Fatalf("NewFramelet failed: %v", err)
	}
	frame, err := NewFrame(fl)
	if err != nil {
		t.Fatalf("NewFrame failed: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, frame); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	want := []byte{
		0x01, 0x00, // count = 1
		0x44, 0x54, // type = PayloadData (0x5444, little-endian)
		0x02, 0x00, 0x00, 0x00, // length = 2
		'h', 'i',
	}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("wire bytes = % X, want % X", buf.Bytes(), want)
	}
}

func TestWriteReadFrame_RoundTrip(t *testing.T) {
	fl1, _ := NewFramelet(FrameletEpoxyHeaders, []byte("headers"))
	fl2, _ := NewFramelet(FrameletLayerData, []byte("layer"))
	fl3, _ := NewFramelet(FrameletPayloadData, []byte("payload"))
	frame, err := NewFrame(fl1, fl2, fl3)
	if err != nil {
		t.Fatalf("NewFrame failed: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, frame); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !frame.Equal(got) {
		t.Errorf("round-tripped frame does not equal original")
	}
}

func TestWriteFrame_RejectsEmptyFrame(t *testing.T) {
	frame, err := NewFrame()
	if err != nil {
		t.Fatalf("NewFrame failed: %v", err)
	}
	if err := WriteFrame(&bytes.Buffer{}, frame); err == nil {
		t.Fatal("expected WriteFrame to reject an empty frame")
	}
}

func TestWriteFrame_RejectsNilWriter(t *testing.T) {
	fl, _ := NewFramelet(FrameletPayloadData, []byte("x"))
	frame, _ := NewFrame(fl)
	if err := WriteFrame(nil, frame); err == nil {
		t.Fatal("expected WriteFrame to reject a nil writer")
	}
}

func TestReadFrame_RejectsZeroCount(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	if _, err := ReadFrame(&buf); err == nil {
		t.Fatal("expected ReadFrame to reject a zero framelet count")
	}
}

func TestReadFrame_RejectsUnknownType(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint16(1))       // count
	binary.Write(&buf, binary.LittleEndian, uint16(0x9999))  // unknown type
	binary.Write(&buf, binary.LittleEndian, uint32(1))       // length
	buf.WriteByte('x')

	if _, err := ReadFrame(&buf); err == nil {
		t.Fatal("expected ReadFrame to reject an unknown framelet type")
	}
}

func TestReadFrame_RejectsZeroLength(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(FrameletPayloadData))
	binary.Write(&buf, binary.LittleEndian, uint32(0))

	if _, err := ReadFrame(&buf); err == nil {
		t.Fatal("expected ReadFrame to reject a zero-length framelet")
	}
}

func TestReadFrame_TruncatedStreamIsProtocolError(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(FrameletPayloadData))
	binary.Write(&buf, binary.LittleEndian, uint32(10)) // declares 10 bytes
	buf.WriteByte('x')                                  // but only supplies 1

	_, err := ReadFrame(&buf)
	if err == nil {
		t.Fatal("expected an error for a truncated frame")
	}
	ee, ok := AsEpoxyError(err)
	if !ok || ee.Code != CodeProtocolError {
		t.Errorf("error = %v, want a ProtocolError", err)
	}
}

func TestReadFrame_ImmediateEOFIsProtocolError(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil))
	if err == nil {
		t.Fatal("expected an error reading an empty stream")
	}
	ee, ok := AsEpoxyError(err)
	if !ok || ee.Code != CodeProtocolError {
		t.Errorf("error = %v, want a ProtocolError", err)
	}
}

func TestFrame_AppendAndLen(t *testing.T) {
	frame, err := NewFrame()
	if err != nil {
		t.Fatalf("NewFrame failed: %v", err)
	}
	fl, _ := NewFramelet(FrameletPayloadData, []byte("x"))
	if err := frame.Append(fl); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if frame.Len() != 1 {
		t.Errorf("Len() = %d, want 1", frame.Len())
	}
}

// errWriter always fails, to exercise WriteFrame's I/O error path.
type errWriter struct{}

func (errWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestWriteFrame_WrapsWriteError(t *testing.T) {
	fl, _ := NewFramelet(FrameletPayloadData, []byte("x"))
	frame, _ := NewFrame(fl)

	err := WriteFrame(errWriter{}, frame)
	if err == nil {
		t.Fatal("expected WriteFrame to propagate the writer's error")
	}
}
