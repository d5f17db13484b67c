// Package config loads hub configuration: which servers to launch, how they
// are grouped, and which are active. Two on-disk shapes are accepted, in
// either JSON or YAML: the legacy v1 shape (servers only, one implicit
// group) and the v2 shape with explicit groups and an active-server list.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultGroup is the name of the implicit all-servers group created when a
// legacy v1 configuration carries no explicit groups.
const DefaultGroup = "default"

// ServerIdentity describes how to launch one server. Immutable after load.
type ServerIdentity struct {
	Name    string            `json:"name" yaml:"name"`
	Command string            `json:"command" yaml:"command"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// ServerGroup is a named set of server names. Groups may overlap, and
// membership is by name, so a group can reference a disconnected server.
type ServerGroup struct {
	Servers     []string `json:"servers" yaml:"servers"`
	Description string   `json:"description" yaml:"description"`
}

// Config is the resolved hub configuration.
type Config struct {
	Version       string
	Servers       map[string]ServerIdentity
	Groups        map[string]ServerGroup
	ActiveServers []string
}

// rawConfig mirrors the on-disk shape shared by v1 and v2 files.
type rawConfig struct {
	Version    string                 `json:"version" yaml:"version"`
	MCPServers map[string]rawServer   `json:"mcpServers" yaml:"mcpServers"`
	Groups     map[string]ServerGroup `json:"serverGroups" yaml:"serverGroups"`
	Active     []string               `json:"activeServers" yaml:"activeServers"`
}

type rawServer struct {
	Command string            `json:"command" yaml:"command"`
	Args    []string          `json:"args" yaml:"args"`
	Env     map[string]string `json:"env" yaml:"env"`
}

// Load reads a configuration file, choosing the decoder by extension
// (.yaml/.yml for YAML, anything else JSON).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// ParseJSON parses a JSON configuration document.
func ParseJSON(data []byte) (*Config, error) {
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return resolve(raw)
}

// ParseYAML parses a YAML configuration document.
func ParseYAML(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return resolve(raw)
}

// resolve converts the raw document into a Config, synthesizing the default
// group and active list for v1 files.
func resolve(raw rawConfig) (*Config, error) {
	version := raw.Version
	if version == "" {
		version = "1.0.0"
	}

	servers := make(map[string]ServerIdentity, len(raw.MCPServers))
	for name, s := range raw.MCPServers {
		if s.Command == "" {
			return nil, fmt.Errorf("server %q has no command", name)
		}
		servers[name] = ServerIdentity{
			Name:    name,
			Command: s.Command,
			Args:    s.Args,
			Env:     s.Env,
		}
	}

	cfg := &Config{
		Version: version,
		Servers: servers,
	}

	if strings.HasPrefix(version, "1") {
		// v1: one implicit group holding every configured server, all active.
		names := make([]string, 0, len(servers))
		for name := range servers {
			names = append(names, name)
		}
		sort.Strings(names)
		cfg.Groups = map[string]ServerGroup{
			DefaultGroup: {Servers: names, Description: "All configured servers"},
		}
		cfg.ActiveServers = names
		return cfg, nil
	}

	cfg.Groups = raw.Groups
	if cfg.Groups == nil {
		cfg.Groups = make(map[string]ServerGroup)
	}
	cfg.ActiveServers = raw.Active

	for groupName, group := range cfg.Groups {
		for _, member := range group.Servers {
			if _, ok := servers[member]; !ok {
				return nil, fmt.Errorf("group %q references unknown server %q", groupName, member)
			}
		}
	}
	for _, name := range cfg.ActiveServers {
		if _, ok := servers[name]; !ok {
			return nil, fmt.Errorf("active server %q not configured", name)
		}
	}
	return cfg, nil
}

// ServerParams returns the identity for a configured server.
func (c *Config) ServerParams(name string) (ServerIdentity, error) {
	id, ok := c.Servers[name]
	if !ok {
		return ServerIdentity{}, fmt.Errorf("Server '%s' not found in configuration", name)
	}
	return id, nil
}

// ActiveIdentities returns identities for every active server, in list order.
func (c *Config) ActiveIdentities() ([]ServerIdentity, error) {
	ids := make([]ServerIdentity, 0, len(c.ActiveServers))
	for _, name := range c.ActiveServers {
		id, err := c.ServerParams(name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Group returns a named group. The second return is false for unknown names;
// callers that treat unknown and empty alike can ignore it.
func (c *Config) Group(name string) (ServerGroup, bool) {
	g, ok := c.Groups[name]
	return g, ok
}
