package mcp

import (
	"context"
	"testing"

	"github.com/bladecode/blade/internal/event"
	"github.com/bladecode/blade/internal/tool"
	"github.com/bladecode/blade/pkg/types"
)

func TestPrefixedName(t *testing.T) {
	if got := PrefixedName("files", "stat file"); got != "files_stat_file" {
		t.Errorf("PrefixedName = %q", got)
	}
	if got := PrefixedName("my.server", "read"); got != "my_server_read" {
		t.Errorf("PrefixedName = %q", got)
	}
}

func TestAddDisabledServer(t *testing.T) {
	c := NewClient(nil)
	err := c.AddServer(context.Background(), "off", types.MCPServerConfig{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}

	status := c.Status()
	if len(status) != 1 || status[0].Status != StatusDisabled {
		t.Fatalf("status = %+v", status)
	}
	if len(c.Tools()) != 0 {
		t.Fatal("disabled server must expose no tools")
	}
}

func TestDuplicateServerRejected(t *testing.T) {
	c := NewClient(nil)
	cfg := types.MCPServerConfig{Enabled: false}
	c.AddServer(context.Background(), "a", cfg)
	if err := c.AddServer(context.Background(), "a", cfg); err == nil {
		t.Fatal("duplicate server id should error")
	}
}

func TestConnectFailureDoesNotPoisonClient(t *testing.T) {
	c := NewClient(nil)
	cfg := types.MCPServerConfig{
		Enabled:     true,
		AutoConnect: true,
		Transport:   "stdio",
		Command:     []string{"/nonexistent/mcp-server-binary"},
		TimeoutMS:   500,
	}

	if err := c.AddServer(context.Background(), "broken", cfg); err == nil {
		t.Fatal("expected connect failure")
	}

	status := c.Status()
	if len(status) != 1 || status[0].Status != StatusFailed {
		t.Fatalf("status = %+v, want failed", status)
	}
	if status[0].Error == nil {
		t.Fatal("failed server should carry an error")
	}

	// The failure stays contained; other operations keep working.
	if len(c.Tools()) != 0 {
		t.Fatal("failed server must expose no tools")
	}
}

func TestAdapterReconcilesRegistry(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()

	c := NewClient(nil)
	registry := tool.NewRegistry("")
	a := NewAdapter(c, registry, nil)

	// Simulate a connected server by injecting state directly.
	c.mu.Lock()
	c.servers["fake"] = &server{
		id:     "fake",
		status: StatusConnected,
		tools: []RemoteTool{
			{Name: "echo", Description: "echoes", InputSchema: []byte(`{"type":"object"}`)},
		},
	}
	c.mu.Unlock()

	a.Refresh()
	if _, ok := registry.Get("fake_echo"); !ok {
		t.Fatal("remote tool not registered")
	}

	// Disconnect removes the adapter from the registry.
	c.mu.Lock()
	c.servers["fake"].status = StatusDisconnected
	c.servers["fake"].tools = nil
	c.mu.Unlock()

	a.Refresh()
	if _, ok := registry.Get("fake_echo"); ok {
		t.Fatal("disconnected server's tool still registered")
	}
}
