// Command echo runs a minimal Epoxy server exposing a single "echo" method,
// and a client that calls it once and prints the reply.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/epoxytransport/epoxy"
)

func main() {
	transport := epoxy.NewTransport()

	listener, err := transport.MakeListener("127.0.0.1:12345")
	if err != nil {
		slog.Error("failed to create listener", "error", err)
		return
	}

	if err := listener.AddService("echo", func(_ context.Context, payload []byte) ([]byte, error) {
		return payload, nil
	}); err != nil {
		slog.Error("failed to register echo service", "error", err)
		return
	}

	listener.OnConnected(func(conn *epoxy.Connection) *epoxy.Error {
		slog.Info("client connected", "addr", conn.RemoteEndpoint())
		return nil
	})
	listener.OnDisconnected(func(conn *epoxy.Connection, cause error) {
		slog.Info("client disconnected", "addr", conn.RemoteEndpoint(), "cause", cause)
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down server...")
		cancel()
		_ = listener.Stop()
	}()

	slog.Info("server start", "addr", listener.ListenEndpoint())
	listener.Start(ctx)

	// Give the listener a moment to come up before dialing it from within
	// the same process; a separate client process would simply connect.
	time.Sleep(50 * time.Millisecond)

	client, err := transport.Connect(context.Background(), listener.ListenEndpoint().String())
	if err != nil {
		slog.Error("failed to connect", "error", err)
		return
	}
	defer client.Stop()

	slot, err := client.SendRequest(context.Background(), "echo", []byte("hello, epoxy"))
	if err != nil {
		slog.Error("request failed", "error", err)
		return
	}

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer reqCancel()
	msg, err := slot.Await(reqCtx)
	if err != nil {
		slog.Error("await failed", "error", err)
		return
	}
	if msg.IsError() {
		slog.Error("echo returned an error", "error", msg.Err())
		return
	}
	slog.Info("echo reply", "payload", string(msg.Payload()))

	<-ctx.Done()
}
