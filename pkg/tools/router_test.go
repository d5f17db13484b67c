package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jg-phare/mcphub/pkg/protocol"
)

func registryWith(schemas ...Schema) *Registry {
	r := NewRegistry()
	for _, s := range schemas {
		r.Register(s)
	}
	return r
}

func TestCall_BareNameAndCounterIDs(t *testing.T) {
	conn := newFakeConn(func(req protocol.Message) (protocol.Message, error) {
		return protocol.Message{JSONRPC: protocol.Version, ID: req.ID, Result: json.RawMessage(`{"rows":[]}`)}, nil
	})
	m := newTestManager(t, map[string]*fakeConn{"sqlite": conn})
	r := NewRouter(m, registryWith(Schema{Name: "execute_query", ServerName: "sqlite"}), nil)

	result, err := r.Call(context.Background(), "sqlite.execute_query", map[string]any{"query": "select 1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"rows":[]}`, string(result))

	_, err = r.Call(context.Background(), "sqlite.execute_query", nil)
	require.NoError(t, err)

	reqs := conn.recorded()
	require.Len(t, reqs, 2)
	assert.Equal(t, "execute_query", reqs[0].Method, "method is the bare tool name")
	assert.Equal(t, "tool_call_1", reqs[0].ID)
	assert.Equal(t, "tool_call_2", reqs[1].ID)

	var params map[string]any
	require.NoError(t, json.Unmarshal(reqs[0].Params, &params))
	assert.Equal(t, "select 1", params["query"])
}

func TestCall_UnknownTool(t *testing.T) {
	m := newTestManager(t, map[string]*fakeConn{"sqlite": withTools(t)})
	r := NewRouter(m, NewRegistry(), nil)

	_, err := r.Call(context.Background(), "sqlite.missing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestCall_ServerNotConnected(t *testing.T) {
	m := newTestManager(t, map[string]*fakeConn{"sqlite": withTools(t)})
	r := NewRouter(m, registryWith(Schema{Name: "scrape_page", ServerName: "web"}), nil)

	_, err := r.Call(context.Background(), "web.scrape_page", nil)
	require.Error(t, err)
	assert.EqualError(t, err, "Server 'web' not connected")
}

func TestCall_ErrorResponseIsFailure(t *testing.T) {
	conn := newFakeConn(func(req protocol.Message) (protocol.Message, error) {
		return protocol.Message{
			JSONRPC: protocol.Version,
			ID:      req.ID,
			Error:   &protocol.RPCError{Code: -32000, Message: "table locked"},
		}, nil
	})
	m := newTestManager(t, map[string]*fakeConn{"sqlite": conn})
	r := NewRouter(m, registryWith(Schema{Name: "execute_query", ServerName: "sqlite"}), nil)

	_, err := r.Call(context.Background(), "sqlite.execute_query", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table locked")
}

func TestCallParallel_FailuresIndependent(t *testing.T) {
	good := newFakeConn(func(req protocol.Message) (protocol.Message, error) {
		return protocol.Message{JSONRPC: protocol.Version, ID: req.ID, Result: json.RawMessage(`{"ok":true}`)}, nil
	})
	bad := newFakeConn(func(req protocol.Message) (protocol.Message, error) {
		return protocol.Message{}, errors.New("connection reset")
	})
	m := newTestManager(t, map[string]*fakeConn{"sqlite": good, "web": bad})
	r := NewRouter(m, registryWith(
		Schema{Name: "execute_query", ServerName: "sqlite"},
		Schema{Name: "scrape_page", ServerName: "web"},
	), nil)

	results := r.CallParallel(context.Background(), map[string]map[string]any{
		"sqlite.execute_query": {"query": "select 1"},
		"web.scrape_page":      {"url": "https://example.com"},
	})

	require.Len(t, results, 2)
	assert.JSONEq(t, `{"ok":true}`, string(results["sqlite.execute_query"]))
	assert.Nil(t, results["web.scrape_page"])
}

func TestValidate(t *testing.T) {
	schema := Schema{
		Name:       "execute_query",
		ServerName: "sqlite",
		Parameters: []Parameter{
			{Name: "query", Type: "string", Required: true},
			{Name: "limit", Type: "integer"},
			{Name: "explain", Type: "boolean"},
			{Name: "weights", Type: "array"},
			{Name: "options", Type: "object"},
			{Name: "mode", Type: "string", Enum: []any{"ro", "rw"}},
			{Name: "level", Type: "integer", Enum: []any{float64(1), float64(2)}},
		},
	}
	r := NewRouter(nil, registryWith(schema), nil)

	tests := []struct {
		name string
		args map[string]any
		want bool
	}{
		{"required present", map[string]any{"query": "select 1"}, true},
		{"required missing", map[string]any{"limit": 10}, false},
		{"string mismatch", map[string]any{"query": 42}, false},
		{"integer as int", map[string]any{"query": "q", "limit": 10}, true},
		{"integer as integral float", map[string]any{"query": "q", "limit": float64(10)}, true},
		{"integer as fractional float", map[string]any{"query": "q", "limit": 10.5}, false},
		{"boolean mismatch", map[string]any{"query": "q", "explain": "yes"}, false},
		{"array accepted", map[string]any{"query": "q", "weights": []any{1.0, 2.0}}, true},
		{"array mismatch", map[string]any{"query": "q", "weights": "1,2"}, false},
		{"object accepted", map[string]any{"query": "q", "options": map[string]any{"a": 1}}, true},
		{"object mismatch", map[string]any{"query": "q", "options": []any{}}, false},
		{"enum member", map[string]any{"query": "q", "mode": "ro"}, true},
		{"enum non-member", map[string]any{"query": "q", "mode": "append"}, false},
		{"numeric enum loose match", map[string]any{"query": "q", "level": 2}, true},
		{"numeric enum non-member", map[string]any{"query": "q", "level": 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Validate("sqlite.execute_query", tt.args))
		})
	}

	assert.False(t, r.Validate("sqlite.missing", nil), "unknown tool never validates")
}
