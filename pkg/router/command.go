// Package router fans a single logical command out to one server, a named
// group, or every live connection, and aggregates the per-target outcomes
// under one shared deadline.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jg-phare/mcphub/pkg/manager"
	"github.com/jg-phare/mcphub/pkg/protocol"
)

// TargetType selects how a command is routed.
type TargetType string

const (
	TargetSingle    TargetType = "single"
	TargetGroup     TargetType = "group"
	TargetBroadcast TargetType = "broadcast"
)

// DefaultTimeout is the shared deadline applied when the caller passes zero.
const DefaultTimeout = 30 * time.Second

// MethodChat is the request method a routed command is delivered under.
const MethodChat = "chat"

// Aggregation error strings. Timeout errors are distinct from transport
// errors so callers can tell a missed deadline from a broken pipe.
const (
	errTimeout       = "Timeout"
	errCommandTimed  = "Command timed out"
	errPartialFailed = "Some servers failed to process command"
)

// CommandResponse is the outcome for one target: data on success, an error
// string otherwise, never both.
type CommandResponse struct {
	ServerName string          `json:"server_name"`
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// AggregatedResponse is the combined report for one routed command. Success
// is the logical AND over every targeted CommandResponse. Order lists the
// server names in resolution order.
type AggregatedResponse struct {
	Success   bool                       `json:"success"`
	Responses map[string]CommandResponse `json:"responses"`
	Order     []string                   `json:"order,omitempty"`
	Error     string                     `json:"error,omitempty"`
}

// FailedServers lists the targets whose response failed, in resolution order.
func (a *AggregatedResponse) FailedServers() []string {
	var failed []string
	for _, name := range a.Order {
		if resp, ok := a.Responses[name]; ok && !resp.Success {
			failed = append(failed, name)
		}
	}
	return failed
}

// SuccessfulServers lists the targets whose response succeeded, in
// resolution order.
func (a *AggregatedResponse) SuccessfulServers() []string {
	var succeeded []string
	for _, name := range a.Order {
		if resp, ok := a.Responses[name]; ok && resp.Success {
			succeeded = append(succeeded, name)
		}
	}
	return succeeded
}

func failure(format string, args ...any) *AggregatedResponse {
	return &AggregatedResponse{
		Success:   false,
		Responses: map[string]CommandResponse{},
		Error:     fmt.Sprintf(format, args...),
	}
}

// Router resolves routing targets against the connection registry and
// executes commands concurrently across them.
type Router struct {
	manager *manager.Manager
	logger  *slog.Logger
}

// New creates a command router over the given manager.
func New(m *manager.Manager, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{manager: m, logger: logger}
}

// Send routes a command and collects per-target responses. Resolution
// failures and partial failures are reported in the returned value, never as
// a panic or an error the caller must catch.
func (r *Router) Send(ctx context.Context, command string, target TargetType, targetName string, timeout time.Duration) *AggregatedResponse {
	conns, errResp := r.resolve(target, targetName)
	if errResp != nil {
		return errResp
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	params := map[string]string{"message": command}
	return r.fanOut(ctx, conns, MethodChat, params, timeout)
}

// resolve maps a routing target to its live connections, in resolution order.
func (r *Router) resolve(target TargetType, targetName string) ([]*manager.Connection, *AggregatedResponse) {
	switch target {
	case TargetSingle:
		if targetName == "" {
			return nil, failure("Server name required for single-server command")
		}
		conn, ok := r.manager.Get(targetName)
		if !ok {
			return nil, failure("Server '%s' not connected", targetName)
		}
		return []*manager.Connection{conn}, nil

	case TargetGroup:
		if targetName == "" {
			return nil, failure("Group name required for group command")
		}
		conns := r.manager.GetGroup(targetName)
		if len(conns) == 0 {
			return nil, failure("No connected servers in group '%s'", targetName)
		}
		return conns, nil

	case TargetBroadcast:
		conns := r.manager.All()
		if len(conns) == 0 {
			return nil, failure("No servers connected for broadcast")
		}
		return conns, nil

	default:
		return nil, failure("Invalid target type: %s", target)
	}
}

// fanOut issues one request per connection concurrently, all under a single
// deadline. Targets that respond in time keep their real result; targets
// still outstanding when the deadline elapses are marked with a Timeout
// error. One target's transport failure never aborts its siblings.
func (r *Router) fanOut(ctx context.Context, conns []*manager.Connection, method string, params any, timeout time.Duration) *AggregatedResponse {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	order := make([]string, len(conns))
	for i, conn := range conns {
		order[i] = conn.Name
	}

	var (
		mu      sync.Mutex
		results = make(map[string]CommandResponse, len(conns))
	)

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(conn *manager.Connection) {
			defer wg.Done()
			resp := r.sendOne(cctx, conn, method, params)
			mu.Lock()
			results[conn.Name] = resp
			mu.Unlock()
		}(conn)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-cctx.Done():
		// Deadline elapsed with targets outstanding. Snapshot what arrived;
		// late responses are dropped by their transports.
		mu.Lock()
		agg := &AggregatedResponse{
			Success:   false,
			Responses: make(map[string]CommandResponse, len(conns)),
			Order:     order,
			Error:     errCommandTimed,
		}
		for _, name := range order {
			if resp, ok := results[name]; ok {
				agg.Responses[name] = resp
			} else {
				agg.Responses[name] = CommandResponse{ServerName: name, Success: false, Error: errTimeout}
			}
		}
		mu.Unlock()
		return agg
	}

	agg := &AggregatedResponse{
		Success:   true,
		Responses: results,
		Order:     order,
	}
	for _, resp := range results {
		if !resp.Success {
			agg.Success = false
			agg.Error = errPartialFailed
			break
		}
	}

	// The deadline and the last in-flight call can finish together, in which
	// case the select above may take the done branch. Per-target timeouts
	// caused by the shared deadline still report as a command timeout.
	if !agg.Success && cctx.Err() == context.DeadlineExceeded {
		for _, resp := range results {
			if resp.Error == errTimeout {
				agg.Error = errCommandTimed
				break
			}
		}
	}
	return agg
}

// sendOne issues a single correlated request and converts every failure mode
// into a CommandResponse value.
func (r *Router) sendOne(ctx context.Context, conn *manager.Connection, method string, params any) CommandResponse {
	req, err := protocol.NewRequest(uuid.NewString(), method, params)
	if err != nil {
		return CommandResponse{ServerName: conn.Name, Success: false, Error: err.Error()}
	}

	resp, err := conn.Transport.Send(ctx, req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return CommandResponse{ServerName: conn.Name, Success: false, Error: errTimeout}
		}
		r.logger.Warn("command failed", "server", conn.Name, "error", err)
		return CommandResponse{ServerName: conn.Name, Success: false, Error: err.Error()}
	}
	if resp.Error != nil {
		return CommandResponse{ServerName: conn.Name, Success: false, Error: resp.Error.Message}
	}
	return CommandResponse{ServerName: conn.Name, Success: true, Data: resp.Result}
}
