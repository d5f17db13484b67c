// Package transport owns one child server process and frames its stdio into
// discrete JSON-RPC messages: an inbound loop decodes stdout lines and
// correlates responses by id, an outbound loop serializes writes to stdin,
// and connect performs the mandatory ready/init handshake with bounded
// retries.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jg-phare/mcphub/pkg/protocol"
)

// ErrClosed is returned when operations are attempted on a closed transport.
var ErrClosed = errors.New("transport closed")

// Defaults for connect and teardown. Call sites that need a tighter
// handshake window (10s is common) set Options.HandshakeTimeout explicitly.
const (
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultRetryCount       = 3
	DefaultRetryDelay       = 2 * time.Second
	DefaultShutdownTimeout  = 30 * time.Second
)

// Options configures connect, handshake, and teardown behavior.
type Options struct {
	// HandshakeTimeout bounds the wait for the ready/init message on each
	// spawn attempt. Zero means DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration
	// RetryCount is the number of spawn attempts before giving up.
	// Zero means DefaultRetryCount.
	RetryCount int
	// RetryDelay is the fixed pause between attempts. Zero means
	// DefaultRetryDelay.
	RetryDelay time.Duration
	// ShutdownTimeout bounds the graceful-exit wait before the process is
	// force-killed. Zero means DefaultShutdownTimeout.
	ShutdownTimeout time.Duration
	// Logger receives transport diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.RetryCount <= 0 {
		o.RetryCount = DefaultRetryCount
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = DefaultShutdownTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Conn abstracts bidirectional JSON-RPC communication with one server.
// The concrete implementation is StdioTransport; the interface exists so the
// manager and routers can be tested with injected fakes.
type Conn interface {
	// Send sends a request and returns the response correlated by id.
	Send(ctx context.Context, req protocol.Message) (protocol.Message, error)
	// Notify sends a notification (no id, no response expected).
	Notify(ctx context.Context, method string, params any) error
	// Messages returns the stream of non-response traffic (notifications).
	// The channel is closed when the server's stdout reaches end of stream.
	Messages() <-chan protocol.Message
	// Close tears down the process. Safe to call multiple times.
	Close() error
}
