package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/mcpworld/harness/internal/mcp"
)

// ToolKind distinguishes native desktop tools from MCP server tools for
// exec-mode filtering and metrics.
type ToolKind string

const (
	ToolKindNative ToolKind = "native"
	ToolKindMCP    ToolKind = "mcp"
)

// Registry holds the tools offered to the model for one run.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	kinds map[string]ToolKind
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
		kinds: make(map[string]ToolKind),
	}
}

// Register adds a tool. Names must be unique across kinds.
func (r *Registry) Register(tool Tool, kind ToolKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool has empty name")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}

	r.tools[name] = tool
	r.kinds[name] = kind
	r.order = append(r.order, name)
	return nil
}

// RegisterMCP wraps every tool in the manager's merged catalog and
// registers it. The manager has already made the names collision-safe.
func (r *Registry) RegisterMCP(manager *mcp.Manager) error {
	for _, entry := range manager.Catalog() {
		tool := &mcpTool{manager: manager, entry: entry}
		if err := r.Register(tool, ToolKindMCP); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Kind returns the kind of the named tool.
func (r *Registry) Kind(name string) ToolKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.kinds[name]
}

// List returns all tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Names returns all tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := append([]string(nil), r.order...)
	sort.Strings(out)
	return out
}

// ForExecMode returns the subset of tools offered under the given mode:
// gui drops MCP tools, api drops the screen tool, mixed keeps all.
func (r *Registry) ForExecMode(mode ExecMode) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Tool
	for _, name := range r.order {
		tool := r.tools[name]
		switch mode {
		case ExecModeGUI:
			if r.kinds[name] == ToolKindMCP {
				continue
			}
		case ExecModeAPI:
			if _, isScreen := tool.(ComputerUseConfigProvider); isScreen {
				continue
			}
		}
		out = append(out, tool)
	}
	return out
}

// mcpTool adapts a merged-catalog entry to the Tool interface.
type mcpTool struct {
	manager *mcp.Manager
	entry   *mcp.CatalogTool
}

func (t *mcpTool) Name() string {
	return t.entry.Name
}

func (t *mcpTool) Description() string {
	return t.entry.Tool.Description
}

func (t *mcpTool) Schema() json.RawMessage {
	if len(t.entry.Tool.InputSchema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return t.entry.Tool.InputSchema
}

func (t *mcpTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var args map[string]any
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return &ToolResult{Content: fmt.Sprintf("invalid tool input: %v", err), IsError: true}, nil
		}
	}

	result, err := t.manager.CallTool(ctx, t.entry.Name, args)
	if err != nil {
		return &ToolResult{Content: err.Error(), IsError: true}, nil
	}

	out := &ToolResult{
		Content: result.Text(),
		IsError: result.IsError,
	}
	for _, c := range result.Content {
		if c.Type == "image" && c.Data != "" {
			out.Base64Image = c.Data
			break
		}
	}
	return out, nil
}
