package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"briefer/internal/async"
	"briefer/internal/logging"
)

// ProtocolVersion is the MCP protocol revision this client speaks.
const ProtocolVersion = "2024-11-05"

const callTimeout = 30 * time.Second

// Client speaks MCP over a stdio subprocess transport.
type Client struct {
	serverName string
	process    *ProcessManager
	idGen      *RequestIDGenerator
	logger     logging.Logger

	mu           sync.RWMutex
	pendingCalls map[any]chan *Response
	initialized  bool
	serverInfo   ServerInfo
}

// ClientInfo identifies this client in the initialize handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerInfo identifies the connected server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolSchema describes one tool exposed by the server.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ToolCallResult is the content-block payload of a tools/call response.
type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock is one piece of a tool result.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Text concatenates all text blocks of the result, newline-joined.
func (r *ToolCallResult) Text() string {
	parts := make([]string, 0, len(r.Content))
	for _, block := range r.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// NewClient creates a client bound to the given subprocess.
func NewClient(serverName string, process *ProcessManager) *Client {
	return &Client{
		serverName:   serverName,
		process:      process,
		idGen:        &RequestIDGenerator{},
		pendingCalls: make(map[any]chan *Response),
		logger:       logging.NewComponentLogger(fmt.Sprintf("MCPClient[%s]", serverName)),
	}
}

// Start launches the server process and performs the initialize handshake.
func (c *Client) Start(ctx context.Context) error {
	if err := c.process.Start(ctx); err != nil {
		return fmt.Errorf("start server process: %w", err)
	}

	async.Go(c.logger, "mcp.client.readLoop", c.readLoop)

	if err := c.initialize(ctx); err != nil {
		_ = c.process.Stop(5 * time.Second)
		return fmt.Errorf("initialize handshake: %w", err)
	}
	return nil
}

// Stop shuts down the server process.
func (c *Client) Stop() error {
	return c.process.Stop(5 * time.Second)
}

// IsInitialized reports whether the handshake completed.
func (c *Client) IsInitialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized && c.process.IsRunning()
}

func (c *Client) initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": ProtocolVersion,
		"clientInfo":      ClientInfo{Name: "briefer", Version: "0.1.0"},
		"capabilities":    map[string]any{},
	}

	result, err := c.call(ctx, "initialize", params)
	if err != nil {
		return err
	}

	var initResult struct {
		ProtocolVersion string     `json:"protocolVersion"`
		ServerInfo      ServerInfo `json:"serverInfo"`
	}
	if err := unmarshalResult(result, &initResult); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}
	if initResult.ProtocolVersion != ProtocolVersion {
		c.logger.Warn("Protocol version mismatch: client=%s server=%s",
			ProtocolVersion, initResult.ProtocolVersion)
	}

	c.mu.Lock()
	c.serverInfo = initResult.ServerInfo
	c.initialized = true
	c.mu.Unlock()

	if err := c.notify("notifications/initialized", nil); err != nil {
		c.logger.Warn("Failed to send initialized notification: %v", err)
	}

	c.logger.Info("Initialized with server %s v%s", initResult.ServerInfo.Name, initResult.ServerInfo.Version)
	return nil
}

// ListTools fetches the server's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]ToolSchema, error) {
	if !c.IsInitialized() {
		return nil, fmt.Errorf("client not initialized")
	}

	result, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	var response struct {
		Tools []ToolSchema `json:"tools"`
	}
	if err := unmarshalResult(result, &response); err != nil {
		return nil, fmt.Errorf("parse tools list: %w", err)
	}
	return response.Tools, nil
}

// CallTool executes one tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolCallResult, error) {
	if !c.IsInitialized() {
		return nil, fmt.Errorf("client not initialized")
	}

	result, err := c.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": arguments,
	})
	if err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}

	var toolResult ToolCallResult
	if err := unmarshalResult(result, &toolResult); err != nil {
		return nil, fmt.Errorf("parse tool result: %w", err)
	}
	if toolResult.IsError {
		return nil, fmt.Errorf("tool %s reported error: %s", name, toolResult.Text())
	}
	return &toolResult, nil
}

func (c *Client) call(ctx context.Context, method string, params map[string]any) (any, error) {
	id := c.idGen.Next()

	data, err := json.Marshal(NewRequest(id, method, params))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')

	respChan := make(chan *Response, 1)
	c.mu.Lock()
	c.pendingCalls[id] = respChan
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pendingCalls, id)
		c.mu.Unlock()
	}()

	if err := c.process.Write(data); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp := <-respChan:
		if resp.IsError() {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
	case <-time.After(callTimeout):
		return nil, fmt.Errorf("request timeout after %v", callTimeout)
	}
}

func (c *Client) notify(method string, params map[string]any) error {
	data, err := json.Marshal(NewNotification(method, params))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return c.process.Write(append(data, '\n'))
}

// readLoop routes newline-delimited responses to waiting callers.
func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.process.Stdout())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		resp, err := UnmarshalResponse(scanner.Bytes())
		if err != nil {
			c.logger.Error("Failed to unmarshal response: %v", err)
			continue
		}

		c.mu.RLock()
		ch, ok := c.pendingCalls[resp.ID]
		c.mu.RUnlock()

		if !ok {
			c.logger.Warn("No pending call for response id=%v", resp.ID)
			continue
		}
		select {
		case ch <- resp:
		default:
			c.logger.Warn("Response channel full, dropping response id=%v", resp.ID)
		}
	}

	if err := scanner.Err(); err != nil {
		c.logger.Error("Read loop error: %v", err)
	}
}

func unmarshalResult(result any, target any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
