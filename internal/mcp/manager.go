package mcp

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"briefer/internal/logging"
)

// ConnectionStatus is the lifecycle state of one named server connection.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

// serverConn is the slice of a connected client the manager tracks. Live
// connections are *Client; tests substitute fakes.
type serverConn interface {
	IsInitialized() bool
	CallTool(ctx context.Context, tool string, args map[string]any) (*ToolCallResult, error)
	Stop() error
}

// dialFunc establishes one connection to a named server.
type dialFunc func(ctx context.Context, name string, cfg ProcessConfig) (serverConn, error)

func dialStdio(ctx context.Context, name string, cfg ProcessConfig) (serverConn, error) {
	client := NewClient(name, NewProcessManager(cfg))
	if err := client.Start(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// Manager tracks configured MCP servers and their live connections. Servers
// are connected lazily, on first use; the manager is the capability
// provider the agent core consumes.
type Manager struct {
	logger  logging.Logger
	configs map[string]ProcessConfig
	dial    dialFunc

	mu       sync.Mutex
	clients  map[string]serverConn
	statuses map[string]ConnectionStatus
	lastErrs map[string]string
	connects map[string]*sync.Mutex // serializes connection attempts per server
}

// NewManager creates a manager from named server configurations.
func NewManager(configs map[string]ProcessConfig, logger logging.Logger) *Manager {
	return &Manager{
		logger:   logging.OrNop(logger),
		configs:  configs,
		dial:     dialStdio,
		clients:  make(map[string]serverConn),
		statuses: make(map[string]ConnectionStatus),
		lastErrs: make(map[string]string),
		connects: make(map[string]*sync.Mutex),
	}
}

// Has reports whether a server with the given name is configured.
func (m *Manager) Has(name string) bool {
	_, ok := m.configs[name]
	return ok
}

// Names returns the configured server names, sorted.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.configs))
	for name := range m.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status returns the connection status for a named server.
func (m *Manager) Status(name string) ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status, ok := m.statuses[name]; ok {
		if status == StatusConnected {
			if client := m.clients[name]; client == nil || !client.IsInitialized() {
				return StatusError
			}
		}
		return status
	}
	if _, ok := m.configs[name]; ok {
		return StatusDisconnected
	}
	return StatusError
}

// Connect establishes a connection to a named server, reusing a live one.
// Attempts for the same server are serialized so concurrent callers cannot
// spawn duplicate subprocesses.
func (m *Manager) Connect(ctx context.Context, name string) (serverConn, error) {
	cfg, ok := m.configs[name]
	if !ok {
		return nil, fmt.Errorf("mcp server %q is not configured", name)
	}

	m.mu.Lock()
	guard, ok := m.connects[name]
	if !ok {
		guard = &sync.Mutex{}
		m.connects[name] = guard
	}
	m.mu.Unlock()

	guard.Lock()
	defer guard.Unlock()

	m.mu.Lock()
	if client, ok := m.clients[name]; ok && client.IsInitialized() {
		m.mu.Unlock()
		return client, nil
	}
	m.statuses[name] = StatusConnecting
	m.mu.Unlock()

	client, err := m.dial(ctx, name, cfg)
	if err != nil {
		m.mu.Lock()
		m.statuses[name] = StatusError
		m.lastErrs[name] = err.Error()
		m.mu.Unlock()
		return nil, fmt.Errorf("connect to %q: %w", name, err)
	}

	m.mu.Lock()
	m.clients[name] = client
	m.statuses[name] = StatusConnected
	delete(m.lastErrs, name)
	m.mu.Unlock()

	m.logger.Info("Connected to MCP server %q", name)
	return client, nil
}

// Invoke connects to the named server if needed, calls the tool, and
// returns the concatenated text content of the result.
func (m *Manager) Invoke(ctx context.Context, server, tool string, args map[string]any) (string, error) {
	client, err := m.Connect(ctx, server)
	if err != nil {
		return "", err
	}
	result, err := client.CallTool(ctx, tool, args)
	if err != nil {
		return "", err
	}
	return result.Text(), nil
}

// StopAll disconnects every live server.
func (m *Manager) StopAll() {
	m.mu.Lock()
	clients := make(map[string]serverConn, len(m.clients))
	for name, client := range m.clients {
		clients[name] = client
	}
	m.clients = make(map[string]serverConn)
	for name := range m.statuses {
		m.statuses[name] = StatusDisconnected
	}
	m.mu.Unlock()

	for name, client := range clients {
		if err := client.Stop(); err != nil {
			m.logger.Warn("Failed to stop MCP server %q: %v", name, err)
		}
	}
}
