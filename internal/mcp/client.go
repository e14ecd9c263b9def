package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const protocolVersion = "2024-11-05"

// Client connects to a single MCP server and exposes its tools.
type Client struct {
	config    *ServerConfig
	transport Transport
	logger    *slog.Logger

	mu      sync.RWMutex
	tools   []*Tool
	schemas map[string]*jsonschema.Schema

	serverInfo ServerInfo
}

// NewClient creates a client for the configured server.
func NewClient(cfg *ServerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config:    cfg,
		transport: NewTransport(cfg),
		logger:    logger.With("mcp_server", cfg.ID),
		schemas:   make(map[string]*jsonschema.Schema),
	}
}

// newClientWithTransport is used by tests to inject a fake transport.
func newClientWithTransport(cfg *ServerConfig, tr Transport, logger *slog.Logger) *Client {
	c := NewClient(cfg, logger)
	c.transport = tr
	return c
}

// Connect establishes the connection, performs the initialize handshake,
// and fetches the tool catalog.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}

	result, err := c.transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "mcpworld",
			"version": "1.0.0",
		},
	})
	if err != nil {
		c.transport.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	var initResult InitializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		c.transport.Close()
		return fmt.Errorf("parse initialize result: %w", err)
	}

	c.serverInfo = initResult.ServerInfo
	c.logger.Info("connected to MCP server",
		"name", c.serverInfo.Name,
		"version", c.serverInfo.Version,
		"protocol", initResult.ProtocolVersion)

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn("failed to send initialized notification", "error", err)
	}

	if err := c.RefreshTools(ctx); err != nil {
		c.logger.Warn("failed to list tools", "error", err)
	}

	return nil
}

// Close closes the connection to the MCP server.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Config returns the server configuration.
func (c *Client) Config() *ServerConfig {
	return c.config
}

// ServerInfo returns information about the connected server.
func (c *Client) ServerInfo() ServerInfo {
	return c.serverInfo
}

// Connected returns whether the client is connected.
func (c *Client) Connected() bool {
	return c.transport.Connected()
}

// RefreshTools refreshes the cached tool catalog and compiles each
// tool's input schema for argument validation.
func (c *Client) RefreshTools(ctx context.Context) error {
	result, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return err
	}

	var resp ListToolsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return fmt.Errorf("parse tools/list result: %w", err)
	}

	schemas := make(map[string]*jsonschema.Schema, len(resp.Tools))
	for _, tool := range resp.Tools {
		if len(tool.InputSchema) == 0 {
			continue
		}
		sch, err := compileSchema(tool.InputSchema)
		if err != nil {
			// An unparseable schema disables validation for this tool
			// but not the tool itself.
			c.logger.Warn("invalid tool input schema", "tool", tool.Name, "error", err)
			continue
		}
		schemas[tool.Name] = sch
	}

	c.mu.Lock()
	c.tools = resp.Tools
	c.schemas = schemas
	c.mu.Unlock()

	c.logger.Debug("refreshed tools", "count", len(resp.Tools))
	return nil
}

func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool.json", bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile("tool.json")
}

// Tools returns the cached tool catalog.
func (c *Client) Tools() []*Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// ValidateInput checks arguments against the tool's declared input
// schema. Tools without a usable schema accept anything.
func (c *Client) ValidateInput(name string, arguments map[string]any) error {
	c.mu.RLock()
	sch := c.schemas[name]
	c.mu.RUnlock()

	if sch == nil {
		return nil
	}

	// Round-trip so numbers take the types the validator expects.
	data, err := json.Marshal(arguments)
	if err != nil {
		return fmt.Errorf("marshal arguments: %w", err)
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("unmarshal arguments: %w", err)
	}

	if err := sch.Validate(value); err != nil {
		return fmt.Errorf("arguments for %s: %w", name, err)
	}
	return nil
}

// CallTool validates the arguments and calls a tool on the MCP server.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolCallResult, error) {
	if err := c.ValidateInput(name, arguments); err != nil {
		return nil, err
	}

	params := CallToolParams{
		Name: name,
	}

	if arguments != nil {
		argsJSON, err := json.Marshal(arguments)
		if err != nil {
			return nil, fmt.Errorf("marshal arguments: %w", err)
		}
		params.Arguments = argsJSON
	}

	result, err := c.transport.Call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}

	var callResult ToolCallResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, fmt.Errorf("parse result: %w", err)
	}

	return &callResult, nil
}

// Events returns the notification channel.
func (c *Client) Events() <-chan *JSONRPCNotification {
	return c.transport.Events()
}
