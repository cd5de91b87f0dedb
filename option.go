package epoxy

import "time"

// connOptions holds per-Connection configuration, built up by ConnOption
// values applying the layer stack, logger, and handshake config a
// Connection needs.
type connOptions struct {
	logger        Logger
	layers        *LayerStack
	config        *Config
	idleTimeout   time.Duration
	handshakeWait time.Duration
}

func defaultConnOptions() connOptions {
	return connOptions{
		logger:        defaultLogger(),
		layers:        NewLayerStack(),
		config:        DefaultConfig(),
		idleTimeout:   0,
		handshakeWait: 10 * time.Second,
	}
}

// ConnOption configures a Connection at construction time.
type ConnOption func(*connOptions)

// WithLogger overrides the Logger a Connection reports lifecycle and error
// events to. Defaults to the process-wide logging singleton.
func WithLogger(logger Logger) ConnOption {
	return func(o *connOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLayers installs the LayerStack a Connection runs outbound payloads
// through on send and inbound payloads through on receive.
func WithLayers(layers *LayerStack) ConnOption {
	return func(o *connOptions) {
		if layers != nil {
			o.layers = layers
		}
	}
}

// WithConfig overrides the Config a client Connection advertises during its
// handshake.
func WithConfig(cfg *Config) ConnOption {
	return func(o *connOptions) {
		if cfg != nil {
			o.config = cfg
		}
	}
}

// WithIdleTimeout sets a read deadline, refreshed before each inbound frame
// is read in the service phase; writes get no deadline. Zero (the default)
// disables idle timeouts.
func WithIdleTimeout(d time.Duration) ConnOption {
	return func(o *connOptions) {
		o.idleTimeout = d
	}
}

// WithHandshakeTimeout bounds how long the initial EpoxyConfig exchange may
// take before a client Connect or server accept abandons the connection.
func WithHandshakeTimeout(d time.Duration) ConnOption {
	return func(o *connOptions) {
		if d > 0 {
			o.handshakeWait = d
		}
	}
}

// listenerOptions holds per-Listener configuration.
type listenerOptions struct {
	logger    Logger
	connOpts  []ConnOption
	acceptBuf int
}

func defaultListenerOptions() listenerOptions {
	return listenerOptions{logger: defaultLogger()}
}

// ListenerOption configures a Listener at construction time.
type ListenerOption func(*listenerOptions)

// WithListenerLogger overrides the Logger a Listener reports accept-loop
// events to.
func WithListenerLogger(logger Logger) ListenerOption {
	return func(o *listenerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithConnOptions supplies the ConnOptions every accepted server-side
// Connection is constructed with (layers, idle timeout, and so on).
func WithConnOptions(opts ...ConnOption) ListenerOption {
	return func(o *listenerOptions) {
		o.connOpts = append(o.connOpts, opts...)
	}
}
