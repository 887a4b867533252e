// Package config loads and validates the proxy configuration.
//
// DESIGN: The file format is the MCP client format (mcp.json) used by
// Claude Desktop and friends, with an optional proxySettings key for the
// proxy's own tunables. YAML variants (.yaml/.yml) are accepted too since
// several deployments template their configs.
//
// A missing config file is not an error: the proxy starts in empty-server
// mode and still serves the three drill-in tools.
//
// FILES:
//   - config.go:   Root Config, Load(), Validate()
//   - settings.go: ProxySettings tunables and defaults
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// serverNamePattern constrains upstream names: they become tool-name
// prefixes, so they must stay shell- and identifier-safe.
var serverNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// ServerConfig describes one underlying MCP server. Immutable after load.
type ServerConfig struct {
	Name    string            `json:"name" yaml:"name"`
	Command string            `json:"command" yaml:"command"`
	Args    []string          `json:"args" yaml:"args"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// Config is the root proxy configuration.
type Config struct {
	Servers  []ServerConfig
	Settings ProxySettings
}

// rawConfig mirrors the on-disk mcp.json layout.
type rawConfig struct {
	MCPServers map[string]rawServer `json:"mcpServers" yaml:"mcpServers"`
	Settings   *rawSettings         `json:"proxySettings,omitempty" yaml:"proxySettings,omitempty"`
}

type rawServer struct {
	Command string            `json:"command" yaml:"command"`
	Args    []string          `json:"args" yaml:"args"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// Load reads configuration from path. An empty path looks for mcp.json in
// the working directory. A missing file yields an empty-server config.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "mcp.json"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", path).Msg("config file not found, using empty configuration")
			return &Config{Settings: DefaultSettings()}, nil
		}
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	cfg, err := LoadFromBytes(data, isYAMLPath(path))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration in %q: %w", path, err)
	}

	log.Info().
		Str("path", path).
		Int("servers", len(cfg.Servers)).
		Msg("configuration loaded")
	return cfg, nil
}

// LoadFromBytes parses configuration from raw bytes.
func LoadFromBytes(data []byte, asYAML bool) (*Config, error) {
	var raw rawConfig
	if asYAML {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg := &Config{Settings: DefaultSettings()}
	if raw.Settings != nil {
		raw.Settings.apply(&cfg.Settings)
	}

	for name, rs := range raw.MCPServers {
		cfg.Servers = append(cfg.Servers, ServerConfig{
			Name:    strings.TrimSpace(name),
			Command: strings.TrimSpace(rs.Command),
			Args:    rs.Args,
			Env:     rs.Env,
		})
	}
	sortServers(cfg.Servers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks server descriptors and settings.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Servers))
	for _, s := range c.Servers {
		if s.Name == "" {
			return fmt.Errorf("server name cannot be empty")
		}
		if !serverNamePattern.MatchString(s.Name) {
			return fmt.Errorf("invalid server name %q: must match %s", s.Name, serverNamePattern.String())
		}
		if s.Command == "" {
			return fmt.Errorf("server %q: command cannot be empty", s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate server name: %q", s.Name)
		}
		seen[s.Name] = true
	}
	return c.Settings.Validate()
}

func isYAMLPath(path string) bool {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// sortServers keeps startup order deterministic regardless of map ordering.
func sortServers(servers []ServerConfig) {
	for i := 1; i < len(servers); i++ {
		for j := i; j > 0 && servers[j].Name < servers[j-1].Name; j-- {
			servers[j], servers[j-1] = servers[j-1], servers[j]
		}
	}
}
