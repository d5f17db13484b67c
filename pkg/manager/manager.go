// Package manager owns the named collection of server connections and their
// groups: connect/disconnect lifecycle, lookup by name, and lookup by group.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jg-phare/mcphub/pkg/config"
	"github.com/jg-phare/mcphub/pkg/transport"
)

// Status is the lifecycle state of one connection.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusReady      Status = "ready"
	StatusClosed     Status = "closed"
	StatusFailed     Status = "failed"
)

// Connection is the live state of one framed transport. At most one
// Connection exists per server name; reconnecting replaces it.
type Connection struct {
	Name      string
	Identity  config.ServerIdentity
	Transport transport.Conn
	Status    Status
	LastError string
}

// DialFunc establishes a transport for one identity. Tests inject fakes here.
type DialFunc func(ctx context.Context, identity config.ServerIdentity, opts transport.Options) (transport.Conn, error)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithDialer replaces the transport factory.
func WithDialer(dial DialFunc) Option {
	return func(m *Manager) { m.dial = dial }
}

// WithTransportOptions sets the options passed to every dial.
func WithTransportOptions(opts transport.Options) Option {
	return func(m *Manager) { m.topts = opts }
}

// Manager is the connection registry. The connection map is guarded by mu;
// connect/disconnect for one name are serialized by a per-name lock so a
// slow handshake on one server never blocks operations on another.
type Manager struct {
	cfg    *config.Config
	dial   DialFunc
	topts  transport.Options
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[string]*Connection

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// New creates a manager over the given configuration.
func New(cfg *config.Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		logger: slog.Default(),
		conns:  make(map[string]*Connection),
		locks:  make(map[string]*sync.Mutex),
		dial: func(ctx context.Context, identity config.ServerIdentity, opts transport.Options) (transport.Conn, error) {
			return transport.Connect(ctx, identity, opts)
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// config returns the current configuration snapshot.
func (m *Manager) config() *config.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// nameLock returns the mutex serializing lifecycle operations for one name.
func (m *Manager) nameLock(name string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	l, ok := m.locks[name]
	if !ok {
		l = &sync.Mutex{}
		m.locks[name] = l
	}
	return l
}

// Connect establishes a connection to a configured server. Connecting a name
// that already has a live connection returns it without re-launching.
func (m *Manager) Connect(ctx context.Context, name string) (*Connection, error) {
	lock := m.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	existing, ok := m.conns[name]
	m.mu.RUnlock()
	if ok && existing.Status == StatusReady {
		return existing, nil
	}

	identity, err := m.config().ServerParams(name)
	if err != nil {
		return nil, err
	}

	conn, err := m.dial(ctx, identity, m.topts)
	if err != nil {
		m.logger.Error("failed to connect to server", "server", name, "error", err)
		return nil, fmt.Errorf("connect %s: %w", name, err)
	}

	c := &Connection{
		Name:      name,
		Identity:  identity,
		Transport: conn,
		Status:    StatusReady,
	}

	m.mu.Lock()
	m.conns[name] = c
	m.mu.Unlock()

	m.logger.Info("connected to server", "server", name)
	return c, nil
}

// ConnectAll connects every active server, best-effort: a failure on one
// name is logged and skipped, the rest still attempt.
func (m *Manager) ConnectAll(ctx context.Context) []*Connection {
	active := m.config().ActiveServers
	conns := make([]*Connection, 0, len(active))
	for _, name := range active {
		conn, err := m.Connect(ctx, name)
		if err != nil {
			m.logger.Error("skipping server", "server", name, "error", err)
			continue
		}
		conns = append(conns, conn)
	}
	return conns
}

// Disconnect tears down one server's connection. Unknown or already
// disconnected names are a no-op.
func (m *Manager) Disconnect(name string) error {
	lock := m.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	conn, ok := m.conns[name]
	if ok {
		delete(m.conns, name)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	conn.Status = StatusClosed
	if err := conn.Transport.Close(); err != nil {
		conn.LastError = err.Error()
		m.logger.Error("error disconnecting from server", "server", name, "error", err)
		return fmt.Errorf("disconnect %s: %w", name, err)
	}
	m.logger.Info("disconnected from server", "server", name)
	return nil
}

// DisconnectAll tears down every live connection.
func (m *Manager) DisconnectAll() {
	m.mu.RLock()
	names := make([]string, 0, len(m.conns))
	for name := range m.conns {
		names = append(names, name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		if err := m.Disconnect(name); err != nil {
			m.logger.Error("disconnect failed", "server", name, "error", err)
		}
	}
}

// Get returns the live connection for a name, if any.
func (m *Manager) Get(name string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[name]
	return conn, ok
}

// GetGroup returns the live connections for a group's members, in member
// order, silently omitting disconnected members. An unknown group yields an
// empty result; non-existence and emptiness are not distinguished here.
func (m *Manager) GetGroup(groupName string) []*Connection {
	group, ok := m.config().Group(groupName)
	if !ok {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]*Connection, 0, len(group.Servers))
	for _, name := range group.Servers {
		if conn, ok := m.conns[name]; ok {
			conns = append(conns, conn)
		}
	}
	return conns
}

// All returns every live connection in active-server order; connections for
// names outside the active list follow in map order.
func (m *Manager) All() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]*Connection, 0, len(m.conns))
	seen := make(map[string]bool, len(m.conns))
	for _, name := range m.cfg.ActiveServers {
		if conn, ok := m.conns[name]; ok {
			conns = append(conns, conn)
			seen[name] = true
		}
	}
	for name, conn := range m.conns {
		if !seen[name] {
			conns = append(conns, conn)
		}
	}
	return conns
}

// Config exposes the current configuration.
func (m *Manager) Config() *config.Config {
	return m.config()
}

// Reload swaps in a new configuration. Connections whose server is no longer
// active are torn down; newly active servers connect on the next Connect or
// ConnectAll. Surviving connections keep running untouched.
func (m *Manager) Reload(cfg *config.Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()

	active := make(map[string]bool, len(cfg.ActiveServers))
	for _, name := range cfg.ActiveServers {
		active[name] = true
	}
	for _, conn := range m.All() {
		if !active[conn.Name] {
			m.logger.Info("dropping server removed from configuration", "server", conn.Name)
			if err := m.Disconnect(conn.Name); err != nil {
				m.logger.Error("disconnect failed", "server", conn.Name, "error", err)
			}
		}
	}
}
