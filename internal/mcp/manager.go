package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// ServerStatus represents the current state of an MCP server.
type ServerStatus string

const (
	StatusStopped ServerStatus = "stopped"
	StatusReady   ServerStatus = "ready"
	StatusFailed  ServerStatus = "failed"
)

// ToolNameSeparator joins server and tool names in advertised tool names.
const ToolNameSeparator = "__"

const defaultStartTimeout = 15 * time.Second

// ServerState holds the state of a managed MCP server.
type ServerState struct {
	Name   string
	Status ServerStatus
	Error  error
	Client *Client
}

// Manager starts the configured MCP servers for one invocation and routes
// tool calls to them.
type Manager struct {
	servers  map[string]ServerConfig
	statuses map[string]*ServerState
	mu       sync.RWMutex

	// StartTimeout bounds the handshake and tool listing of each server.
	StartTimeout time.Duration
}

// NewManager creates a new MCP manager for the given servers.
func NewManager(servers map[string]ServerConfig) *Manager {
	return &Manager{
		servers:      servers,
		statuses:     make(map[string]*ServerState),
		StartTimeout: defaultStartTimeout,
	}
}

// StartAll connects to every enabled server in name order. A server that
// fails to start is logged and skipped; its tools are simply not offered.
// ctx must outlive the manager because stdio servers are bound to it.
func (m *Manager) StartAll(ctx context.Context) {
	for _, name := range ServerNames(m.servers) {
		cfg := m.servers[name]
		if cfg.Disabled {
			continue
		}
		if err := m.start(ctx, name, NewClient(name, cfg)); err != nil {
			slog.Warn("MCP server unavailable", "server", name, "error", err)
		}
	}
}

func (m *Manager) start(ctx context.Context, name string, client *Client) error {
	done := make(chan error, 1)
	go func() { done <- client.Start(ctx) }()

	var err error
	select {
	case err = <-done:
	case <-time.After(m.StartTimeout):
		err = fmt.Errorf("start timed out after %s", m.StartTimeout)
		go func() {
			<-done
			client.Stop()
		}()
	}

	state := &ServerState{Name: name, Status: StatusReady, Client: client}
	if err != nil {
		state.Status = StatusFailed
		state.Error = err
		state.Client = nil
	}
	m.mu.Lock()
	m.statuses[name] = state
	m.mu.Unlock()
	return err
}

// ServerStatus returns the current status of a server.
func (m *Manager) ServerStatus(name string) (ServerStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.statuses[name]
	if !ok {
		return StatusStopped, nil
	}
	return state.Status, state.Error
}

// StopAll stops all running MCP servers.
func (m *Manager) StopAll() {
	m.mu.Lock()
	var clients []*Client
	for _, state := range m.statuses {
		if state.Client != nil {
			clients = append(clients, state.Client)
		}
	}
	m.statuses = make(map[string]*ServerState)
	m.mu.Unlock()

	for _, c := range clients {
		if err := c.Stop(); err != nil {
			slog.Debug("MCP server stop failed", "server", c.Name(), "error", err)
		}
	}
}

// AllTools returns all tools from all running MCP servers, sorted by name.
// Tool names are prefixed with server name to avoid collisions.
func (m *Manager) AllTools() []ToolSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var allTools []ToolSpec
	for name, state := range m.statuses {
		if state.Status != StatusReady || state.Client == nil {
			continue
		}
		for _, tool := range state.Client.Tools() {
			allTools = append(allTools, ToolSpec{
				Name:        name + ToolNameSeparator + tool.Name,
				Description: fmt.Sprintf("[%s] %s", name, tool.Description),
				Schema:      tool.Schema,
			})
		}
	}
	sort.Slice(allTools, func(i, j int) bool { return allTools[i].Name < allTools[j].Name })
	return allTools
}

// CallTool routes a tool call to the appropriate MCP server.
// Tool names should be prefixed with "servername__".
func (m *Manager) CallTool(ctx context.Context, fullName string, args json.RawMessage) (string, error) {
	serverName, toolName := ParseToolName(fullName)
	if serverName == "" {
		return "", fmt.Errorf("invalid MCP tool name: %s (expected servername__toolname)", fullName)
	}

	m.mu.RLock()
	state, ok := m.statuses[serverName]
	m.mu.RUnlock()

	if !ok || state.Status != StatusReady || state.Client == nil {
		return "", fmt.Errorf("MCP server %s is not running", serverName)
	}

	return state.Client.CallTool(ctx, toolName, args)
}

// ParseToolName splits a prefixed name at the first separator.
func ParseToolName(fullName string) (serverName, toolName string) {
	if i := strings.Index(fullName, ToolNameSeparator); i > 0 {
		return fullName[:i], fullName[i+len(ToolNameSeparator):]
	}
	return "", fullName
}

// States returns the state of every server that was started, by name.
func (m *Manager) States() []ServerState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]ServerState, 0, len(m.statuses))
	for _, state := range m.statuses {
		states = append(states, ServerState{
			Name:   state.Name,
			Status: state.Status,
			Error:  state.Error,
		})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states
}
