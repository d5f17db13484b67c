package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/jg-phare/mcphub/pkg/config"
	"github.com/jg-phare/mcphub/pkg/protocol"
)

const (
	// inboundBuffer bounds the non-response message channel.
	inboundBuffer = 100
	// outboundBuffer bounds the write queue consumed by the outbound loop.
	outboundBuffer = 100

	// Scanner limits for JSONL payloads.
	initialScannerBuffer = 64 * 1024
	maxScannerBuffer     = 1024 * 1024
)

// outMsg is one queued write. errc (buffered, may be nil) receives the
// write result so callers can observe per-call transport failures.
type outMsg struct {
	data []byte
	errc chan error
}

// StdioTransport speaks line-delimited JSON-RPC with a spawned child process
// over its stdin/stdout. Stderr is inherited for diagnostics. It satisfies
// Conn.
type StdioTransport struct {
	identity config.ServerIdentity
	opts     Options
	logger   *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	pendMu  sync.Mutex
	pending map[string]chan protocol.Message

	inbound  chan protocol.Message // non-response traffic; closed on EOF
	outbound chan outMsg

	done      chan struct{} // closed when the inbound loop exits
	closed    chan struct{} // closed by Close
	closeOnce sync.Once
}

// Connect spawns the server described by identity and performs the ready/init
// handshake, re-spawning from scratch on each failed attempt up to
// Options.RetryCount times with Options.RetryDelay between attempts.
// Exhausting the retries returns an error identifying the last failure.
func Connect(ctx context.Context, identity config.ServerIdentity, opts Options) (*StdioTransport, error) {
	opts = opts.withDefaults()
	logger := opts.Logger.With("server", identity.Name)

	var lastErr error
	for attempt := 1; attempt <= opts.RetryCount; attempt++ {
		t, err := spawn(identity, opts, logger)
		if err != nil {
			lastErr = err
		} else {
			ready, err := t.awaitReady(ctx, opts.HandshakeTimeout)
			if err == nil {
				logger.Info("server ready", "reported", ready.ServerName(), "pid", t.cmd.Process.Pid)
				return t, nil
			}
			lastErr = err
			t.Close()
		}

		logger.Warn("handshake failed", "attempt", attempt, "retries", opts.RetryCount, "error", lastErr)
		if attempt < opts.RetryCount {
			select {
			case <-time.After(opts.RetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("failed to start server %q after %d attempts: %w", identity.Name, opts.RetryCount, lastErr)
}

// spawn launches the child process and starts both framing loops.
func spawn(identity config.ServerIdentity, opts Options, logger *slog.Logger) (*StdioTransport, error) {
	if identity.Command == "" {
		return nil, fmt.Errorf("server %q: command must not be empty", identity.Name)
	}

	cmd := exec.Command(identity.Command, identity.Args...)
	cmd.Env = mergeEnv(identity.Env)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}
	logger.Debug("started subprocess", "pid", cmd.Process.Pid)

	t := &StdioTransport{
		identity: identity,
		opts:     opts,
		logger:   logger,
		cmd:      cmd,
		stdin:    stdin,
		stdout:   stdout,
		pending:  make(map[string]chan protocol.Message),
		inbound:  make(chan protocol.Message, inboundBuffer),
		outbound: make(chan outMsg, outboundBuffer),
		done:     make(chan struct{}),
		closed:   make(chan struct{}),
	}

	go t.inboundLoop()
	go t.outboundLoop()

	return t, nil
}

// awaitReady consumes the first inbound message and checks it is the
// ready/init handshake line.
func (t *StdioTransport) awaitReady(ctx context.Context, timeout time.Duration) (protocol.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-t.inbound:
		if !ok {
			return protocol.Message{}, fmt.Errorf("server exited before ready")
		}
		if !msg.IsReady() {
			return protocol.Message{}, fmt.Errorf("unexpected first message: method=%q id=%q", msg.Method, msg.ID)
		}
		return msg, nil
	case <-timer.C:
		return protocol.Message{}, fmt.Errorf("server initialization timeout")
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

// inboundLoop reads stdout line by line, parses each line as one message,
// fulfills pending calls by id, and publishes everything else on the inbound
// channel. Unparseable lines are logged and dropped. End of stream closes
// the inbound channel.
func (t *StdioTransport) inboundLoop() {
	defer close(t.done)
	defer close(t.inbound)

	scanner := bufio.NewScanner(t.stdout)
	scanner.Buffer(make([]byte, initialScannerBuffer), maxScannerBuffer)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg protocol.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			t.logger.Warn("dropping unparseable line", "error", err)
			continue
		}

		if msg.IsResponse() {
			t.pendMu.Lock()
			ch, ok := t.pending[msg.ID]
			if ok {
				delete(t.pending, msg.ID)
			}
			t.pendMu.Unlock()

			if ok {
				ch <- msg
			} else {
				// Caller gave up (timeout) before the response arrived.
				t.logger.Debug("dropping uncorrelated response", "id", msg.ID)
			}
			continue
		}

		select {
		case t.inbound <- msg:
		case <-t.closed:
			return
		}
	}
}

// outboundLoop serializes queued writes onto stdin in call order.
func (t *StdioTransport) outboundLoop() {
	for {
		select {
		case m := <-t.outbound:
			_, err := t.stdin.Write(append(m.data, '\n'))
			if m.errc != nil {
				m.errc <- err
			}
			if err != nil {
				t.logger.Warn("write to stdin failed", "error", err)
			}
		case <-t.closed:
			return
		}
	}
}

// unregister abandons a pending call. A response arriving after this is
// treated as uncorrelated and dropped by the inbound loop.
func (t *StdioTransport) unregister(id string) {
	t.pendMu.Lock()
	delete(t.pending, id)
	t.pendMu.Unlock()
}

// Send writes a request and waits for the response with the matching id.
// Concurrent Sends on one transport are safe; responses are matched by id,
// not arrival order.
func (t *StdioTransport) Send(ctx context.Context, req protocol.Message) (protocol.Message, error) {
	if req.ID == "" {
		return protocol.Message{}, fmt.Errorf("Send requires a request id; use Notify for notifications")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("marshal request: %w", err)
	}

	// Register before writing so a fast response cannot race the map.
	ch := make(chan protocol.Message, 1)
	t.pendMu.Lock()
	t.pending[req.ID] = ch
	t.pendMu.Unlock()

	errc := make(chan error, 1)
	select {
	case t.outbound <- outMsg{data: data, errc: errc}:
	case <-t.closed:
		t.unregister(req.ID)
		return protocol.Message{}, ErrClosed
	case <-ctx.Done():
		t.unregister(req.ID)
		return protocol.Message{}, ctx.Err()
	}

	select {
	case err := <-errc:
		if err != nil {
			t.unregister(req.ID)
			return protocol.Message{}, fmt.Errorf("write request: %w", err)
		}
	case <-ctx.Done():
		t.unregister(req.ID)
		return protocol.Message{}, ctx.Err()
	case <-t.done:
		t.unregister(req.ID)
		return protocol.Message{}, ErrClosed
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		t.unregister(req.ID)
		return protocol.Message{}, ctx.Err()
	case <-t.done:
		// The response may have been delivered just before end of stream.
		select {
		case resp := <-ch:
			return resp, nil
		default:
		}
		t.unregister(req.ID)
		return protocol.Message{}, ErrClosed
	}
}

// Notify writes a notification and waits only for the write to complete.
func (t *StdioTransport) Notify(ctx context.Context, method string, params any) error {
	msg, err := protocol.NewNotification(method, params)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	errc := make(chan error, 1)
	select {
	case t.outbound <- outMsg{data: data, errc: errc}:
	case <-t.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("write notification: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return ErrClosed
	}
}

// Messages returns the stream of non-response traffic. During connect the
// first entry is consumed by the handshake; afterwards the channel carries
// server notifications until end of stream closes it.
func (t *StdioTransport) Messages() <-chan protocol.Message {
	return t.inbound
}

// Identity returns the launch identity this transport was created from.
func (t *StdioTransport) Identity() config.ServerIdentity {
	return t.identity
}

// Close tears the process down: stop both loops, close stdin, request
// graceful termination, wait up to ShutdownTimeout, then force-kill.
// Idempotent.
func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.stdin.Close()

		if t.cmd.Process != nil {
			_ = t.cmd.Process.Signal(syscall.SIGTERM)
		}

		waited := make(chan error, 1)
		go func() { waited <- t.cmd.Wait() }()

		select {
		case <-waited:
		case <-time.After(t.opts.ShutdownTimeout):
			t.logger.Warn("force killing process", "pid", t.cmd.Process.Pid)
			if t.cmd.Process != nil {
				_ = t.cmd.Process.Kill()
			}
			<-waited
		}

		// Wait for the inbound loop to observe end of stream.
		<-t.done
	})
	return nil
}

var _ Conn = (*StdioTransport)(nil)
