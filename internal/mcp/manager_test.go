package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

// testManager wires fake-transport clients into a manager directly.
func testManager(t *testing.T, servers map[string][]*Tool, order []string) (*Manager, map[string]*fakeTransport) {
	t.Helper()

	m := &Manager{
		logger:  slog.Default(),
		clients: make(map[string]*Client),
		catalog: make(map[string]*CatalogTool),
	}
	transports := make(map[string]*fakeTransport)

	for _, id := range order {
		tr := &fakeTransport{tools: servers[id]}
		transports[id] = tr
		m.clients[id] = newClientWithTransport(&ServerConfig{ID: id}, tr, nil)
		m.order = append(m.order, id)
	}

	if err := m.ConnectAll(context.Background()); err != nil {
		t.Fatalf("connect all: %v", err)
	}
	return m, transports
}

func TestManagerMergesCatalogs(t *testing.T) {
	m, _ := testManager(t, map[string][]*Tool{
		"fs":  {{Name: "read_file"}, {Name: "write_file"}},
		"web": {{Name: "fetch"}},
	}, []string{"fs", "web"})

	catalog := m.Catalog()
	if len(catalog) != 3 {
		t.Fatalf("catalog size = %d, want 3", len(catalog))
	}

	want := []string{"read_file", "write_file", "fetch"}
	for i, name := range want {
		if catalog[i].Name != name {
			t.Errorf("catalog[%d] = %q, want %q", i, catalog[i].Name, name)
		}
	}
	if !m.HasTool("fetch") {
		t.Error("expected fetch in catalog")
	}
}

func TestManagerQualifiesCollidingNames(t *testing.T) {
	m, _ := testManager(t, map[string][]*Tool{
		"a": {{Name: "search"}},
		"b": {{Name: "search"}},
	}, []string{"a", "b"})

	if !m.HasTool("search") {
		t.Error("first server should keep the plain name")
	}
	if !m.HasTool("b_search") {
		t.Error("second server should get a qualified name")
	}
}

func TestManagerCallToolRoutesToOwner(t *testing.T) {
	m, transports := testManager(t, map[string][]*Tool{
		"a": {{Name: "search"}},
		"b": {{Name: "search"}},
	}, []string{"a", "b"})

	if _, err := m.CallTool(context.Background(), "b_search", map[string]any{"q": "x"}); err != nil {
		t.Fatalf("call: %v", err)
	}

	if len(transports["a"].calls) != 0 {
		t.Errorf("server a received %d calls, want 0", len(transports["a"].calls))
	}
	if len(transports["b"].calls) != 1 {
		t.Fatalf("server b received %d calls, want 1", len(transports["b"].calls))
	}
	// The server sees its own tool name, not the qualified one.
	if got := transports["b"].calls[0].Name; got != "search" {
		t.Errorf("dispatched name = %q, want search", got)
	}
}

func TestManagerCallToolUnknown(t *testing.T) {
	m, _ := testManager(t, map[string][]*Tool{
		"a": {{Name: "search"}},
	}, []string{"a"})

	if _, err := m.CallTool(context.Background(), "nope", nil); err == nil {
		t.Error("expected error for unknown tool")
	}
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	_, err := NewManager([]*ServerConfig{
		{ID: "ok", Transport: TransportStdio, Command: "server"},
		{ID: "bad", Transport: TransportStdio},
	}, nil)
	if err == nil {
		t.Error("expected error for config missing command")
	}

	_, err = NewManager([]*ServerConfig{
		{ID: "dup", Transport: TransportStdio, Command: "server"},
		{ID: "dup", Transport: TransportStdio, Command: "server"},
	}, nil)
	if err == nil {
		t.Error("expected error for duplicate server ID")
	}
}

func TestSanitizeToolName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"read_file", "read_file"},
		{"files.read", "files_read"},
		{"weird name!", "weird_name_"},
		{"", "tool"},
	}
	for _, tt := range tests {
		if got := sanitizeToolName(tt.in); got != tt.want {
			t.Errorf("sanitizeToolName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := make([]byte, 100)
	for i := range long {
		long[i] = 'a'
	}
	if got := sanitizeToolName(string(long)); len(got) != 64 {
		t.Errorf("long name length = %d, want 64", len(got))
	}
}

func TestManagerCatalogCarriesSchemas(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`)
	m, _ := testManager(t, map[string][]*Tool{
		"a": {{Name: "search", InputSchema: schema}},
	}, []string{"a"})

	catalog := m.Catalog()
	if len(catalog) != 1 {
		t.Fatalf("catalog size = %d, want 1", len(catalog))
	}
	if string(catalog[0].Tool.InputSchema) != string(schema) {
		t.Error("catalog entry lost its input schema")
	}
}

func TestUniqueToolNameResolvesQualifiedCollisions(t *testing.T) {
	// Long names truncate to the same 64 characters, so the
	// server-qualified fallback collides too.
	long := strings.Repeat("a", 80)
	m, _ := testManager(t, map[string][]*Tool{
		"s1": {{Name: long}},
		"s2": {{Name: long}, {Name: long + "b"}},
	}, []string{"s1", "s2"})

	catalog := m.Catalog()
	if len(catalog) != 3 {
		t.Fatalf("catalog has %d entries, want 3", len(catalog))
	}

	seen := make(map[string]bool)
	for _, entry := range catalog {
		if seen[entry.Name] {
			t.Errorf("duplicate catalog name %q", entry.Name)
		}
		seen[entry.Name] = true
		if len(entry.Name) > 64 {
			t.Errorf("catalog name %q exceeds 64 characters", entry.Name)
		}
		if !m.HasTool(entry.Name) {
			t.Errorf("catalog entry %q not reachable", entry.Name)
		}
	}
}
