package mcp

import (
	"testing"
	"time"
)

func TestProcessLineRoutesResponse(t *testing.T) {
	tr := NewStdioTransport(&ServerConfig{ID: "test"})

	ch := make(chan *JSONRPCResponse, 1)
	tr.pendingMu.Lock()
	tr.pending[7] = ch
	tr.pendingMu.Unlock()

	tr.processLine(`{"jsonrpc":"2.0","id":7,"result":{"ok":true}}`)

	select {
	case resp := <-ch:
		if resp.Error != nil {
			t.Errorf("unexpected error: %v", resp.Error)
		}
		if string(resp.Result) != `{"ok":true}` {
			t.Errorf("result = %s", resp.Result)
		}
	case <-time.After(time.Second):
		t.Fatal("response not delivered")
	}

	// The pending entry must be cleared.
	tr.pendingMu.Lock()
	_, still := tr.pending[7]
	tr.pendingMu.Unlock()
	if still {
		t.Error("pending entry not removed after delivery")
	}
}

func TestProcessLineRoutesNotification(t *testing.T) {
	tr := NewStdioTransport(&ServerConfig{ID: "test"})

	tr.processLine(`{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`)

	select {
	case notif := <-tr.events:
		if notif.Method != "notifications/tools/list_changed" {
			t.Errorf("method = %q", notif.Method)
		}
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestProcessLineIgnoresGarbage(t *testing.T) {
	tr := NewStdioTransport(&ServerConfig{ID: "test"})

	// Non-JSON output from a chatty server must not panic or block.
	tr.processLine("Server started on port 3000")
	tr.processLine(`{"jsonrpc":"2.0","id":99,"result":{}}`)

	select {
	case notif := <-tr.events:
		t.Errorf("unexpected notification: %v", notif)
	default:
	}
}
