package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bladecode/blade/internal/event"
	"github.com/bladecode/blade/internal/logging"
	"github.com/bladecode/blade/pkg/types"
)

const defaultConnectTimeout = 5 * time.Second

// Client manages MCP server connections using the official MCP SDK.
type Client struct {
	mu        sync.RWMutex
	servers   map[string]*server
	sdkClient *sdkmcp.Client
	bus       *event.Bus
}

// server is one configured external tool server.
type server struct {
	id         string
	config     types.MCPServerConfig
	session    *sdkmcp.ClientSession
	tools      []RemoteTool
	status     Status
	err        string
	serverInfo *ServerInfo
}

// NewClient creates a new MCP client.
func NewClient(bus *event.Bus) *Client {
	sdkClient := sdkmcp.NewClient(&sdkmcp.Implementation{
		Name:    "blade",
		Version: "1.0.0",
	}, nil)

	return &Client{
		servers:   make(map[string]*server),
		sdkClient: sdkClient,
		bus:       bus,
	}
}

// AddServer registers a server and, when enabled, connects to it. A
// connection failure marks the server failed without bringing down the
// agent.
func (c *Client) AddServer(ctx context.Context, id string, config types.MCPServerConfig) error {
	c.mu.Lock()
	if _, ok := c.servers[id]; ok {
		c.mu.Unlock()
		return fmt.Errorf("server already exists: %s", id)
	}

	if !config.Enabled {
		c.servers[id] = &server{id: id, config: config, status: StatusDisabled}
		c.mu.Unlock()
		return nil
	}

	srv := &server{id: id, config: config, status: StatusDisconnected}
	c.servers[id] = srv
	c.mu.Unlock()

	if config.AutoConnect {
		return c.Connect(ctx, id)
	}
	return nil
}

// Connect walks a server to Connected and loads its tool list.
func (c *Client) Connect(ctx context.Context, id string) error {
	c.mu.Lock()
	srv, ok := c.servers[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("server not found: %s", id)
	}
	if srv.status == StatusConnected || srv.status == StatusConnecting {
		c.mu.Unlock()
		return nil
	}
	srv.status = StatusConnecting
	srv.err = ""
	c.mu.Unlock()

	session, info, toolList, err := c.establish(ctx, srv.config)

	c.mu.Lock()
	if err != nil {
		srv.status = StatusFailed
		srv.err = err.Error()
		c.mu.Unlock()
		logging.Logger.Warn().Str("server", id).Err(err).Msg("mcp connect failed")
		return err
	}
	srv.session = session
	srv.serverInfo = info
	srv.tools = toolList
	srv.status = StatusConnected
	c.mu.Unlock()

	c.publishToolsUpdated(id)
	return nil
}

// establish opens the transport, initializes the session, and fetches the
// remote tool list.
func (c *Client) establish(ctx context.Context, config types.MCPServerConfig) (*sdkmcp.ClientSession, *ServerInfo, []RemoteTool, error) {
	timeout := defaultConnectTimeout
	if config.TimeoutMS > 0 {
		timeout = time.Duration(config.TimeoutMS) * time.Millisecond
	}
	ctx, cancelConnect := context.WithTimeout(ctx, timeout)
	defer cancelConnect()

	var transport sdkmcp.Transport
	switch config.Transport {
	case "sse", "websocket":
		// Remote endpoints speak SSE; websocket configs use the same
		// endpoint shape.
		if config.Endpoint == "" {
			return nil, nil, nil, fmt.Errorf("empty endpoint")
		}
		transport = &sdkmcp.SSEClientTransport{
			Endpoint:   config.Endpoint,
			HTTPClient: &http.Client{Timeout: timeout},
		}

	case "stdio", "":
		if len(config.Command) == 0 {
			return nil, nil, nil, fmt.Errorf("empty command")
		}
		args := append(append([]string(nil), config.Command[1:]...), config.Args...)
		cmd := exec.Command(config.Command[0], args...)
		cmd.Env = os.Environ()
		for k, v := range config.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
		transport = &sdkmcp.CommandTransport{Command: cmd}

	default:
		return nil, nil, nil, fmt.Errorf("unknown transport type: %s", config.Transport)
	}

	session, err := c.sdkClient.Connect(ctx, transport, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect: %w", err)
	}

	var info *ServerInfo
	if initResult := session.InitializeResult(); initResult != nil {
		info = &ServerInfo{
			Name:    initResult.ServerInfo.Name,
			Version: initResult.ServerInfo.Version,
		}
	}

	toolList, err := listTools(ctx, session)
	if err != nil {
		// Tools may be unsupported; the session is still useful.
		toolList = nil
	}

	return session, info, toolList, nil
}

func listTools(ctx context.Context, session *sdkmcp.ClientSession) ([]RemoteTool, error) {
	result, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, err
	}

	tools := make([]RemoteTool, 0, len(result.Tools))
	for _, t := range result.Tools {
		schemaJSON, err := json.Marshal(t.InputSchema)
		if err != nil || string(schemaJSON) == "null" {
			schemaJSON = []byte(`{"type":"object"}`)
		}
		tools = append(tools, RemoteTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaJSON,
		})
	}
	return tools, nil
}

// Disconnect closes a server's session and returns it to Disconnected.
func (c *Client) Disconnect(id string) error {
	c.mu.Lock()
	srv, ok := c.servers[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("server not found: %s", id)
	}
	if srv.session != nil {
		srv.session.Close()
		srv.session = nil
	}
	srv.status = StatusDisconnected
	srv.tools = nil
	c.mu.Unlock()

	c.publishToolsUpdated(id)
	return nil
}

// Tools returns all tools from connected servers, names prefixed with the
// server id so they stay unique in the registry.
func (c *Client) Tools() []RemoteTool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var all []RemoteTool
	for id, srv := range c.servers {
		if srv.status != StatusConnected {
			continue
		}
		for _, t := range srv.tools {
			all = append(all, RemoteTool{
				Name:        PrefixedName(id, t.Name),
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
	}
	return all
}

// PrefixedName builds the registry-unique name for a remote tool.
func PrefixedName(serverID, toolName string) string {
	return sanitize(serverID) + "_" + sanitize(toolName)
}

func sanitize(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

// CallTool executes a prefixed tool on the owning server and returns the
// textual result.
func (c *Client) CallTool(ctx context.Context, prefixedName string, args json.RawMessage) (string, error) {
	c.mu.RLock()
	var target *server
	var remoteName string
	for id, srv := range c.servers {
		if srv.status != StatusConnected {
			continue
		}
		prefix := sanitize(id) + "_"
		if !strings.HasPrefix(prefixedName, prefix) {
			continue
		}
		candidate := strings.TrimPrefix(prefixedName, prefix)
		for _, t := range srv.tools {
			if sanitize(t.Name) == candidate {
				target = srv
				remoteName = t.Name
				break
			}
		}
		if target != nil {
			break
		}
	}
	c.mu.RUnlock()

	if target == nil {
		return "", fmt.Errorf("no connected server provides tool %s", prefixedName)
	}
	if target.session == nil {
		return "", fmt.Errorf("server not connected: %s", target.id)
	}

	var argsMap map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &argsMap); err != nil {
			return "", fmt.Errorf("failed to parse arguments: %w", err)
		}
	}

	result, err := target.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      remoteName,
		Arguments: argsMap,
	})
	if err != nil {
		return "", err
	}

	var output strings.Builder
	for _, content := range result.Content {
		if textContent, ok := content.(*sdkmcp.TextContent); ok {
			output.WriteString(textContent.Text)
		}
	}

	if result.IsError {
		msg := output.String()
		if msg == "" {
			msg = "tool execution failed"
		}
		return "", fmt.Errorf("tool error: %s", msg)
	}
	return output.String(), nil
}

// Status reports all configured servers.
func (c *Client) Status() []ServerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []ServerStatus
	for id, srv := range c.servers {
		s := ServerStatus{
			ID:        id,
			Name:      srv.config.Name,
			Status:    srv.status,
			ToolCount: len(srv.tools),
		}
		if srv.err != "" {
			errCopy := srv.err
			s.Error = &errCopy
		}
		out = append(out, s)
	}
	return out
}

// Close disconnects every server.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, srv := range c.servers {
		if srv.session != nil {
			srv.session.Close()
			srv.session = nil
		}
		if srv.status == StatusConnected {
			srv.status = StatusDisconnected
		}
	}
	return nil
}

func (c *Client) publishToolsUpdated(id string) {
	if c.bus == nil {
		return
	}

	c.mu.RLock()
	srv := c.servers[id]
	names := make([]string, 0, len(srv.tools))
	for _, t := range srv.tools {
		names = append(names, PrefixedName(id, t.Name))
	}
	c.mu.RUnlock()

	c.bus.Publish(event.Event{
		Type: event.ToolsUpdated,
		Data: event.ToolsUpdatedData{Server: id, Tools: names},
	})
}
