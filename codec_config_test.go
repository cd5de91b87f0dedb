package epoxy

import "testing"

func TestConfig_EncodeDecodeRoundTrip(t *testing.T) {
	c := &Config{Version: 3, ServiceName: "billing"}
	decoded, err := DecodeConfig(EncodeConfig(c))
	if err != nil {
		t.Fatalf("DecodeConfig failed: %v", err)
	}
	if decoded.Version != c.Version || decoded.ServiceName != c.ServiceName {
		t.Errorf("decoded = %+v, want %+v", decoded, c)
	}
}

func TestConfig_DecodeIgnoresUnknownTags(t *testing.T) {
	var e tlvEncoder
	e.putString(999, "from the future")
	e.putVarint(configTagVersion, 2)
	data := e.finish()

	decoded, err := DecodeConfig(data)
	if err != nil {
		t.Fatalf("DecodeConfig failed: %v", err)
	}
	if decoded.Version != 2 {
		t.Errorf("Version = %d, want 2", decoded.Version)
	}
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	if c.Version != 1 {
		t.Errorf("DefaultConfig().Version = %d, want 1", c.Version)
	}
}

func TestHeaders_EncodeDecodeRoundTrip(t *testing.T) {
	h := &Headers{RequestID: 42, MethodName: "DoThing", PayloadType: PayloadTypeRequest}
	decoded, err := DecodeHeaders(EncodeHeaders(h))
	if err != nil {
		t.Fatalf("DecodeHeaders failed: %v", err)
	}
	if *decoded != *h {
		t.Errorf("decoded = %+v, want %+v", decoded, h)
	}
}

func TestHeaders_Response_AllowsEmptyMethodName(t *testing.T) {
	h := &Headers{RequestID: 1, MethodName: "", PayloadType: PayloadTypeResponse}
	if _, err := DecodeHeaders(EncodeHeaders(h)); err != nil {
		t.Fatalf("DecodeHeaders failed for a response with no method name: %v", err)
	}
}

func TestHeaders_Request_RequiresMethodName(t *testing.T) {
	h := &Headers{RequestID: 1, MethodName: "", PayloadType: PayloadTypeRequest}
	if _, err := DecodeHeaders(EncodeHeaders(h)); err == nil {
		t.Fatal("expected DecodeHeaders to reject a request with no method name")
	}
}

func TestPayloadType_String(t *testing.T) {
	cases := map[PayloadType]string{
		PayloadTypeRequest:  "Request",
		PayloadTypeResponse: "Response",
		PayloadTypeEvent:    "Event",
	}
	for pt, want := range cases {
		if pt.String() != want {
			t.Errorf("%v.String() = %q, want %q", pt, pt.String(), want)
		}
	}
}

func TestProtocolError_EncodeDecodeRoundTrip(t *testing.T) {
	e := NewError(CodeMethodNotFound, "no such method")
	decoded, err := DecodeProtocolError(EncodeProtocolError(e))
	if err != nil {
		t.Fatalf("DecodeProtocolError failed: %v", err)
	}
	if decoded.Code != e.Code || decoded.Msg != e.Msg {
		t.Errorf("decoded = %+v, want %+v", decoded, e)
	}
}

func TestDecodeTLV_RejectsTruncatedHeader(t *testing.T) {
	if _, err := decodeTLV([]byte{0x01, 0x00, 0x01}); err == nil {
		t.Fatal("expected an error for a truncated field header")
	}
}

func TestDecodeTLV_RejectsTruncatedValue(t *testing.T) {
	data := []byte{0x01, 0x00, byte(wireVarint), 0x08, 0x00, 0x00, 0x00, 0x01, 0x02}
	if _, err := decodeTLV(data); err == nil {
		t.Fatal("expected an error for a value shorter than its declared length")
	}
}

func TestDecodeTLV_TrailingBytesAfterTerminatorIgnored(t *testing.T) {
	var e tlvEncoder
	e.putVarint(1, 7)
	data := e.finish()
	data = append(data, 0xFF, 0xFF, 0xFF) // garbage past the terminator

	fields, err := decodeTLV(data)
	if err != nil {
		t.Fatalf("decodeTLV failed: %v", err)
	}
	if len(fields) != 1 || fields[0].tag != 1 {
		t.Errorf("fields = %+v, want a single tag-1 field", fields)
	}
}
