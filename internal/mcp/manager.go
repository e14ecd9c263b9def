package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
)

// CatalogTool is an entry in the merged tool catalog. Name is the
// collision-safe name presented to the model; the manager maps it back
// to the owning server and the server's own tool name on dispatch.
type CatalogTool struct {
	Name     string
	ServerID string
	Tool     *Tool
}

// Manager connects to the configured MCP servers and merges their tool
// catalogs into one namespace for the agent loop.
type Manager struct {
	logger *slog.Logger

	mu           sync.RWMutex
	clients      map[string]*Client
	order        []string
	catalog      map[string]*CatalogTool
	catalogOrder []string
}

// NewManager creates clients for the given server configurations. Each
// configuration is validated; a bad entry fails the whole set so a typo
// cannot silently drop a server from a benchmark run.
func NewManager(configs []*ServerConfig, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		logger:  logger,
		clients: make(map[string]*Client),
		catalog: make(map[string]*CatalogTool),
	}

	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if _, exists := m.clients[cfg.ID]; exists {
			return nil, fmt.Errorf("duplicate server ID %q", cfg.ID)
		}
		m.clients[cfg.ID] = NewClient(cfg, logger)
		m.order = append(m.order, cfg.ID)
	}

	return m, nil
}

// ConnectAll connects every configured server and builds the merged
// catalog. A server that fails to connect is logged and skipped; the
// remaining servers still serve their tools.
func (m *Manager) ConnectAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var connectErr error
	for _, id := range m.order {
		client := m.clients[id]
		if err := client.Connect(ctx); err != nil {
			m.logger.Error("MCP server connect failed", "server", id, "error", err)
			if connectErr == nil {
				connectErr = fmt.Errorf("connect %s: %w", id, err)
			}
			continue
		}
	}

	m.rebuildCatalogLocked()
	return connectErr
}

// CloseAll closes every connected client.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, client := range m.clients {
		if client.Connected() {
			if err := client.Close(); err != nil {
				m.logger.Warn("MCP server close failed", "server", id, "error", err)
			}
		}
	}
	m.catalog = make(map[string]*CatalogTool)
	m.catalogOrder = nil
}

// rebuildCatalogLocked merges the per-server tool lists. The first
// server to claim a name keeps it; later servers with the same tool
// name get a server-qualified name instead.
func (m *Manager) rebuildCatalogLocked() {
	catalog := make(map[string]*CatalogTool)
	var catalogOrder []string

	for _, id := range m.order {
		client := m.clients[id]
		if !client.Connected() {
			continue
		}
		for _, tool := range client.Tools() {
			name := sanitizeToolName(tool.Name)
			if _, taken := catalog[name]; taken {
				name = uniqueToolName(catalog, id, tool.Name)
				m.logger.Warn("tool name collision, qualifying",
					"server", id, "tool", tool.Name, "as", name)
			}
			catalog[name] = &CatalogTool{
				Name:     name,
				ServerID: id,
				Tool:     tool,
			}
			catalogOrder = append(catalogOrder, name)
		}
	}

	m.catalog = catalog
	m.catalogOrder = catalogOrder
}

// uniqueToolName qualifies a colliding tool name with the server ID,
// then with a numeric suffix until the name is free. Sanitization can
// fold distinct names together (truncation, character replacement), so
// the qualified name itself may collide.
func uniqueToolName(catalog map[string]*CatalogTool, serverID, toolName string) string {
	name := sanitizeToolName(serverID + "_" + toolName)
	if _, taken := catalog[name]; !taken {
		return name
	}
	for i := 2; ; i++ {
		suffix := fmt.Sprintf("_%d", i)
		base := name
		if len(base)+len(suffix) > 64 {
			base = base[:64-len(suffix)]
		}
		candidate := base + suffix
		if _, taken := catalog[candidate]; !taken {
			return candidate
		}
	}
}

var toolNameInvalid = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// sanitizeToolName maps arbitrary MCP tool names onto the character set
// and length the model API accepts for tool names.
func sanitizeToolName(name string) string {
	clean := toolNameInvalid.ReplaceAllString(name, "_")
	if len(clean) > 64 {
		clean = clean[:64]
	}
	if clean == "" {
		clean = "tool"
	}
	return clean
}

// Catalog returns the merged tool catalog in server order.
func (m *Manager) Catalog() []*CatalogTool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*CatalogTool, 0, len(m.catalogOrder))
	for _, name := range m.catalogOrder {
		out = append(out, m.catalog[name])
	}
	return out
}

// HasTool reports whether the merged catalog contains the name.
func (m *Manager) HasTool(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.catalog[name]
	return ok
}

// CallTool dispatches a call to the server owning the named tool, using
// the server's own tool name.
func (m *Manager) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolCallResult, error) {
	m.mu.RLock()
	entry, ok := m.catalog[name]
	var client *Client
	if ok {
		client = m.clients[entry.ServerID]
	}
	m.mu.RUnlock()

	if !ok || client == nil {
		return nil, fmt.Errorf("unknown MCP tool %q", name)
	}

	return client.CallTool(ctx, entry.Tool.Name, arguments)
}

// Servers returns the IDs of configured servers in order.
func (m *Manager) Servers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}
