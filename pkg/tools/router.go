package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/jg-phare/mcphub/pkg/manager"
	"github.com/jg-phare/mcphub/pkg/protocol"
)

// Router resolves tool ids to their owning connections and dispatches calls.
// Call ids are a local monotonic counter, so concurrent calls on one
// connection correlate correctly even when responses interleave.
type Router struct {
	manager  *manager.Manager
	registry *Registry
	logger   *slog.Logger
	callID   atomic.Int64
}

// NewRouter creates a tool router over the given manager and registry.
func NewRouter(m *manager.Manager, registry *Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{manager: m, registry: registry, logger: logger}
}

func (r *Router) nextCallID() string {
	return fmt.Sprintf("tool_call_%d", r.callID.Add(1))
}

// Call dispatches one tool call. The request method is the tool's bare name
// and the params are the caller's arguments. A server-side error object on
// the response surfaces as a failed call, not a panic.
func (r *Router) Call(ctx context.Context, toolID string, args map[string]any) (json.RawMessage, error) {
	tool, ok := r.registry.Get(toolID)
	if !ok {
		return nil, fmt.Errorf("tool %q not registered", toolID)
	}

	conn, ok := r.manager.Get(tool.ServerName)
	if !ok {
		return nil, fmt.Errorf("Server '%s' not connected", tool.ServerName)
	}

	req, err := protocol.NewRequest(r.nextCallID(), tool.Name, args)
	if err != nil {
		return nil, err
	}

	resp, err := conn.Transport.Send(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", toolID, err)
	}
	if resp.Error != nil {
		r.logger.Error("tool call error", "tool", toolID, "code", resp.Error.Code, "message", resp.Error.Message)
		return nil, fmt.Errorf("call %s: %s", toolID, resp.Error.Message)
	}
	return resp.Result, nil
}

// CallParallel issues every call concurrently and collects results
// independently: a failed call yields a nil entry and never prevents the
// others from returning.
func (r *Router) CallParallel(ctx context.Context, calls map[string]map[string]any) map[string]json.RawMessage {
	var (
		mu      sync.Mutex
		results = make(map[string]json.RawMessage, len(calls))
	)

	var wg sync.WaitGroup
	for toolID, args := range calls {
		wg.Add(1)
		go func(toolID string, args map[string]any) {
			defer wg.Done()
			result, err := r.Call(ctx, toolID, args)
			if err != nil {
				r.logger.Error("parallel tool call failed", "tool", toolID, "error", err)
				result = nil
			}
			mu.Lock()
			results[toolID] = result
			mu.Unlock()
		}(toolID, args)
	}
	wg.Wait()
	return results
}

// Validate checks arguments against a tool's schema without calling it:
// required parameters present, primitive types compatible, and values
// inside any declared enum.
func (r *Router) Validate(toolID string, args map[string]any) bool {
	tool, ok := r.registry.Get(toolID)
	if !ok {
		return false
	}

	for _, p := range tool.Parameters {
		if p.Required {
			if _, present := args[p.Name]; !present {
				return false
			}
		}
	}

	for _, p := range tool.Parameters {
		value, present := args[p.Name]
		if !present {
			continue
		}
		if !typeMatches(p.Type, value) {
			return false
		}
		if len(p.Enum) > 0 && !enumContains(p.Enum, value) {
			return false
		}
	}
	return true
}

// typeMatches checks a value against a primitive type tag. Unknown tags
// pass: validation only rejects what it can positively identify as wrong.
func typeMatches(typ string, v any) bool {
	switch typ {
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "integer":
		switch n := v.(type) {
		case int, int8, int16, int32, int64, uint, uint32, uint64:
			return true
		case float64:
			return n == math.Trunc(n)
		case float32:
			return float64(n) == math.Trunc(float64(n))
		case json.Number:
			_, err := n.Int64()
			return err == nil
		default:
			return false
		}
	case "number":
		switch v.(type) {
		case int, int8, int16, int32, int64, uint, uint32, uint64, float32, float64, json.Number:
			return true
		default:
			return false
		}
	case "array":
		if v == nil {
			return false
		}
		kind := reflect.TypeOf(v).Kind()
		return kind == reflect.Slice || kind == reflect.Array
	case "object":
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}

func enumContains(enum []any, v any) bool {
	for _, e := range enum {
		if reflect.DeepEqual(e, v) {
			return true
		}
		// JSON decoding turns numbers into float64; compare numerics loosely.
		if ef, ok := asFloat(e); ok {
			if vf, ok := asFloat(v); ok && ef == vf {
				return true
			}
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
