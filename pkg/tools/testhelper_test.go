package tools

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jg-phare/mcphub/pkg/config"
	"github.com/jg-phare/mcphub/pkg/manager"
	"github.com/jg-phare/mcphub/pkg/protocol"
	"github.com/jg-phare/mcphub/pkg/transport"
)

// fakeConn answers requests through a programmable handler and records
// every request it sees.
type fakeConn struct {
	mu       sync.Mutex
	handler  func(req protocol.Message) (protocol.Message, error)
	requests []protocol.Message
	msgs     chan protocol.Message
}

func newFakeConn(handler func(req protocol.Message) (protocol.Message, error)) *fakeConn {
	return &fakeConn{handler: handler, msgs: make(chan protocol.Message)}
}

// withTools builds a fakeConn that answers discover_tools with the given
// raw tool entries and echoes empty results for everything else.
func withTools(t *testing.T, entries ...string) *fakeConn {
	t.Helper()
	raw := make([]json.RawMessage, len(entries))
	for i, e := range entries {
		raw[i] = json.RawMessage(e)
	}
	result, err := json.Marshal(map[string]any{"tools": raw})
	require.NoError(t, err)

	return newFakeConn(func(req protocol.Message) (protocol.Message, error) {
		if req.Method == protocol.MethodDiscoverTools {
			return protocol.Message{JSONRPC: protocol.Version, ID: req.ID, Result: result}, nil
		}
		return protocol.Message{JSONRPC: protocol.Version, ID: req.ID, Result: json.RawMessage(`{}`)}, nil
	})
}

func (f *fakeConn) Send(_ context.Context, req protocol.Message) (protocol.Message, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	handler := f.handler
	f.mu.Unlock()
	return handler(req)
}

func (f *fakeConn) Notify(context.Context, string, any) error { return nil }
func (f *fakeConn) Messages() <-chan protocol.Message         { return f.msgs }
func (f *fakeConn) Close() error                              { return nil }

func (f *fakeConn) recorded() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Message, len(f.requests))
	copy(out, f.requests)
	return out
}

// newTestManager connects a manager whose transports are the given fakes.
func newTestManager(t *testing.T, conns map[string]*fakeConn) *manager.Manager {
	t.Helper()

	servers := make(map[string]any, len(conns))
	active := make([]string, 0, len(conns))
	for name := range conns {
		servers[name] = map[string]any{"command": "fake-" + name}
		active = append(active, name)
	}
	doc, err := json.Marshal(map[string]any{
		"version":       "2.0.0",
		"mcpServers":    servers,
		"activeServers": active,
	})
	require.NoError(t, err)

	cfg, err := config.ParseJSON(doc)
	require.NoError(t, err)

	dial := func(_ context.Context, identity config.ServerIdentity, _ transport.Options) (transport.Conn, error) {
		return conns[identity.Name], nil
	}
	m := manager.New(cfg, manager.WithDialer(dial))
	for name := range conns {
		_, err := m.Connect(context.Background(), name)
		require.NoError(t, err)
	}
	return m
}
