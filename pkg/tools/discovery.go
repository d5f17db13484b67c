package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jg-phare/mcphub/pkg/manager"
	"github.com/jg-phare/mcphub/pkg/protocol"
)

// discoveryID is the correlation id for discover_tools requests. DiscoverAll
// issues at most one discovery per connection at a time, so a fixed id per
// connection is safe.
const discoveryID = "tool_discovery"

// DefaultVersion is assigned to advertised tools that omit a version.
const DefaultVersion = "1.0.0"

// rawParameter mirrors one advertised parameter entry. Required defaults to
// true when absent.
type rawParameter struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Type        string         `json:"type"`
	Required    *bool          `json:"required"`
	Default     any            `json:"default"`
	Enum        []any          `json:"enum"`
	Items       map[string]any `json:"items"`
}

// rawTool mirrors one advertised tool entry.
type rawTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  []rawParameter `json:"parameters"`
	Returns     map[string]any `json:"returns"`
	Version     string         `json:"version"`
	Tags        []string       `json:"tags"`
}

type discoverResult struct {
	Tools []json.RawMessage `json:"tools"`
}

// Discovery queries connected servers for their advertised tool schemas and
// registers them in a shared registry.
type Discovery struct {
	manager  *manager.Manager
	registry *Registry
	logger   *slog.Logger
}

// NewDiscovery creates a Discovery populating the given registry.
func NewDiscovery(m *manager.Manager, registry *Registry, logger *slog.Logger) *Discovery {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discovery{manager: m, registry: registry, logger: logger}
}

// Registry returns the shared registry discovery populates.
func (d *Discovery) Registry() *Registry { return d.registry }

// Discover asks one server for its tools and registers every valid entry.
// Entries failing the shape check are logged and skipped.
func (d *Discovery) Discover(ctx context.Context, serverName string) ([]Schema, error) {
	conn, ok := d.manager.Get(serverName)
	if !ok {
		return nil, fmt.Errorf("Server '%s' not connected", serverName)
	}

	req, err := protocol.NewRequest(discoveryID, protocol.MethodDiscoverTools, nil)
	if err != nil {
		return nil, err
	}
	resp, err := conn.Transport.Send(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("discover tools on %s: %w", serverName, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("discover tools on %s: %s", serverName, resp.Error.Message)
	}

	var result discoverResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("parse discover result from %s: %w", serverName, err)
	}

	tools := make([]Schema, 0, len(result.Tools))
	for _, entry := range result.Tools {
		if !ValidateToolEntry(entry) {
			d.logger.Warn("skipping malformed tool entry", "server", serverName)
			continue
		}
		var raw rawTool
		if err := json.Unmarshal(entry, &raw); err != nil {
			d.logger.Warn("skipping undecodable tool entry", "server", serverName, "error", err)
			continue
		}
		schema := convertTool(raw, serverName)
		d.registry.Register(schema)
		tools = append(tools, schema)
	}
	d.logger.Info("discovered tools", "server", serverName, "count", len(tools))
	return tools, nil
}

// DiscoverAll runs discovery across every live connection independently.
// One server's failure is logged and contributes an empty list; it never
// aborts the others.
func (d *Discovery) DiscoverAll(ctx context.Context) map[string][]Schema {
	conns := d.manager.All()

	var (
		mu      sync.Mutex
		results = make(map[string][]Schema, len(conns))
	)

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			tools, err := d.Discover(ctx, name)
			if err != nil {
				d.logger.Error("discovery failed", "server", name, "error", err)
				tools = []Schema{}
			}
			mu.Lock()
			results[name] = tools
			mu.Unlock()
		}(conn.Name)
	}
	wg.Wait()
	return results
}

// convertTool fills in the defaults the advertisement may omit: version
// "1.0.0", empty tags, required=true per parameter.
func convertTool(raw rawTool, serverName string) Schema {
	params := make([]Parameter, len(raw.Parameters))
	for i, p := range raw.Parameters {
		required := true
		if p.Required != nil {
			required = *p.Required
		}
		params[i] = Parameter{
			Name:        p.Name,
			Description: p.Description,
			Type:        p.Type,
			Required:    required,
			Default:     p.Default,
			Enum:        p.Enum,
			Items:       p.Items,
		}
	}

	version := raw.Version
	if version == "" {
		version = DefaultVersion
	}
	tags := raw.Tags
	if tags == nil {
		tags = []string{}
	}

	return Schema{
		Name:        raw.Name,
		Description: raw.Description,
		Parameters:  params,
		Returns:     raw.Returns,
		ServerName:  serverName,
		Version:     version,
		Tags:        tags,
	}
}
