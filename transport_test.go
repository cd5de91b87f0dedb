package epoxy

import (
	"context"
	"testing"
	"time"
)

func TestTransport_ConnectAndListener_EndToEnd(t *testing.T) {
	transport := NewTransport()

	listener, err := transport.MakeListener("127.0.0.1:0")
	if err != nil {
		t.Fatalf("MakeListener failed: %v", err)
	}
	defer listener.Stop()

	if err := listener.AddService("double", func(_ context.Context, payload []byte) ([]byte, error) {
		out := make([]byte, len(payload)*2)
		copy(out, payload)
		copy(out[len(payload):], payload)
		return out, nil
	}); err != nil {
		t.Fatalf("AddService failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	listener.Start(ctx)

	client, err := transport.Connect(context.Background(), listener.ListenEndpoint().String())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Stop()

	slot, err := client.SendRequest(context.Background(), "double", []byte("ab"))
	if err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}

	awaitCtx, awaitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer awaitCancel()
	msg, err := slot.Await(awaitCtx)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if msg.IsError() {
		t.Fatalf("unexpected error response: %v", msg.Err())
	}
	if string(msg.Payload()) != "abab" {
		t.Errorf("payload = %q, want %q", msg.Payload(), "abab")
	}
}

func TestTransport_Connect_EphemeralListenerPortIsResolved(t *testing.T) {
	transport := NewTransport()

	listener, err := transport.MakeListener("127.0.0.1:0")
	if err != nil {
		t.Fatalf("MakeListener failed: %v", err)
	}
	defer listener.Stop()

	addr := listener.ListenEndpoint().String()
	if addr == "127.0.0.1:0" {
		t.Fatalf("ListenEndpoint should resolve the ephemeral port, got %q", addr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	listener.Start(ctx)

	client, err := transport.Connect(context.Background(), addr)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	client.Stop()
}

func TestTransport_Connect_RefusedWhenNothingListening(t *testing.T) {
	transport := NewTransport()
	if _, err := transport.Connect(context.Background(), "127.0.0.1:1"); err == nil {
		t.Fatal("expected Connect to fail against a port nothing is listening on")
	}
}

func TestTransport_Connect_AppliesDefaultOptions(t *testing.T) {
	transport := NewTransport(WithConfig(&Config{Version: 99, ServiceName: "billing"}))

	listener, err := transport.MakeListener("127.0.0.1:0")
	if err != nil {
		t.Fatalf("MakeListener failed: %v", err)
	}
	defer listener.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	listener.Start(ctx)

	client, err := transport.Connect(context.Background(), listener.ListenEndpoint().String())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Stop()

	if client.opts.config.Version != 99 {
		t.Errorf("client config version = %d, want 99", client.opts.config.Version)
	}
}

func TestTransport_Stop_IsANoOp(t *testing.T) {
	transport := NewTransport()
	if err := transport.Stop(); err != nil {
		t.Errorf("Stop() = %v, want nil", err)
	}
}
