package epoxy

import (
	"bytes"
	"encoding/binary"
)

// This file implements the forward-compatible TLV record format carried
// inside the EpoxyConfig and EpoxyHeaders framelets: a small hand-rolled
// tag/wiretype/length/value scheme where unknown fields are always safe to
// skip:
//
//	record    := field* terminator:u16(0x0000)
//	field     := tag:u16 wiretype:u8 length:u32 value:byte[length]
//
// A reader built against a newer schema skips any field whose tag it does
// not recognise, by length, without interpreting its bytes.

type wireType uint8

const (
	wireVarint wireType = 1
	wireString wireType = 2
)

// tlvEncoder accumulates fields into a record buffer.
type tlvEncoder struct {
	buf bytes.Buffer
}

func (e *tlvEncoder) putVarint(tag uint16, v uint64) {
	var val [8]byte
	binary.LittleEndian.PutUint64(val[:], v)
	e.putField(tag, wireVarint, val[:])
}

func (e *tlvEncoder) putString(tag uint16, s string) {
	e.putField(tag, wireString, []byte(s))
}

func (e *tlvEncoder) putField(tag uint16, wt wireType, value []byte) {
	var header [7]byte
	binary.LittleEndian.PutUint16(header[:2], tag)
	header[2] = byte(wt)
	binary.LittleEndian.PutUint32(header[3:7], uint32(len(value)))
	e.buf.Write(header[:])
	e.buf.Write(value)
}

func (e *tlvEncoder) finish() []byte {
	var terminator [2]byte // tag 0x0000
	e.buf.Write(terminator[:])
	return e.buf.Bytes()
}

// tlvField is one decoded field, keyed by tag for the caller to interpret.
type tlvField struct {
	tag   uint16
	wt    wireType
	value []byte
}

// decodeTLV parses data into its fields, stopping at the first zero-tag
// terminator or at the end of the buffer, whichever comes first. Trailing
// bytes after a terminator (from a newer writer appending fields an older
// reader's terminator convention does not expect) are silently ignored —
// that is the forward-compatibility guarantee this format exists to provide.
func decodeTLV(data []byte) ([]tlvField, error) {
	var fields []tlvField
	offset := 0
	for offset+2 <= len(data) {
		tag := binary.LittleEndian.Uint16(data[offset : offset+2])
		offset += 2
		if tag == 0 {
			return fields, nil
		}
		if offset+5 > len(data) {
			return nil, NewError(CodeProtocolError, "truncated TLV field header")
		}
		wt := wireType(data[offset])
		length := binary.LittleEndian.Uint32(data[offset+1 : offset+5])
		offset += 5
		if offset+int(length) > len(data) {
			return nil, NewError(CodeProtocolError, "truncated TLV field value")
		}
		fields = append(fields, tlvField{tag: tag, wt: wt, value: data[offset : offset+int(length)]})
		offset += int(length)
	}
	return fields, nil
}

func varintValue(f tlvField) uint64 {
	var v [8]byte
	copy(v[:], f.value)
	return binary.LittleEndian.Uint64(v[:])
}

// Config is the EpoxyConfig framelet's decoded content: a forward-compatible
// record exchanged during the handshake. Fields beyond Version and
// ServiceName are intentionally left to downstream users of this core.
const (
	configTagVersion     uint16 = 1
	configTagServiceName uint16 = 2
)

// Config is the decoded content of an EpoxyConfig framelet.
type Config struct {
	Version     uint64
	ServiceName string
}

// DefaultConfig is the configuration this package's Transport advertises
// during a client handshake when the caller supplies none.
func DefaultConfig() *Config {
	return &Config{Version: 1}
}

// EncodeConfig serializes c as TLV bytes suitable for an EpoxyConfig
// framelet's contents.
func EncodeConfig(c *Config) []byte {
	var e tlvEncoder
	e.putVarint(configTagVersion, c.Version)
	if c.ServiceName != "" {
		e.putString(configTagServiceName, c.ServiceName)
	}
	return e.finish()
}

// DecodeConfig parses an EpoxyConfig framelet's contents. Unknown tags are
// skipped, never rejected.
func DecodeConfig(data []byte) (*Config, error) {
	fields, err := decodeTLV(data)
	if err != nil {
		return nil, err
	}
	c := &Config{}
	for _, f := range fields {
		switch f.tag {
		case configTagVersion:
			c.Version = varintValue(f)
		case configTagServiceName:
			c.ServiceName = string(f.value)
		default:
			// unknown field: ignored, per forward-compatibility contract
		}
	}
	return c, nil
}

// PayloadType distinguishes a request, a response, or a fire-and-forget
// event, per the EpoxyHeaders framelet's payload_type field.
type PayloadType uint64

const (
	PayloadTypeRequest PayloadType = iota + 1
	PayloadTypeResponse
	PayloadTypeEvent
)

func (t PayloadType) String() string {
	switch t {
	case PayloadTypeRequest:
		return "Request"
	case PayloadTypeResponse:
		return "Response"
	case PayloadTypeEvent:
		return "Event"
	default:
		return "Unknown"
	}
}

const (
	headersTagRequestID   uint16 = 1
	headersTagMethodName  uint16 = 2
	headersTagPayloadType uint16 = 3
)

// Headers is the decoded content of an EpoxyHeaders framelet.
type Headers struct {
	RequestID   uint64
	MethodName  string
	PayloadType PayloadType
}

// EncodeHeaders serializes h as TLV bytes suitable for an EpoxyHeaders
// framelet's contents.
func EncodeHeaders(h *Headers) []byte {
	var e tlvEncoder
	e.putVarint(headersTagRequestID, h.RequestID)
	e.putString(headersTagMethodName, h.MethodName)
	e.putVarint(headersTagPayloadType, uint64(h.PayloadType))
	return e.finish()
}

// DecodeHeaders parses an EpoxyHeaders framelet's contents. Unknown tags are
// skipped, never rejected.
func DecodeHeaders(data []byte) (*Headers, error) {
	fields, err := decodeTLV(data)
	if err != nil {
		return nil, err
	}
	h := &Headers{}
	for _, f := range fields {
		switch f.tag {
		case headersTagRequestID:
			h.RequestID = varintValue(f)
		case headersTagMethodName:
			h.MethodName = string(f.value)
		case headersTagPayloadType:
			h.PayloadType = PayloadType(varintValue(f))
		default:
			// unknown field: ignored, per forward-compatibility contract
		}
	}
	if h.MethodName == "" && h.PayloadType != PayloadTypeResponse {
		return nil, NewError(CodeProtocolError, "headers missing method_name")
	}
	return h, nil
}

// EncodeProtocolError serializes err as the contents of a ProtocolError
// framelet.
func EncodeProtocolError(err *Error) []byte {
	var e tlvEncoder
	e.putVarint(1, uint64(err.Code))
	e.putString(2, err.Msg)
	return e.finish()
}

// DecodeProtocolError parses a ProtocolError framelet's contents back into
// an *Error.
func DecodeProtocolError(data []byte) (*Error, error) {
	fields, err := decodeTLV(data)
	if err != nil {
		return nil, err
	}
	e := &Error{Code: CodeProtocolError}
	for _, f := range fields {
		switch f.tag {
		case 1:
			e.Code = ErrorCode(varintValue(f))
		case 2:
			e.Msg = string(f.value)
		}
	}
	return e, nil
}
