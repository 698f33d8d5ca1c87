package mcpwire

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// defaultRequestTimeout bounds how long a Client waits for a reply keyed by
// request id before resolving with a transport error.
const defaultRequestTimeout = 30 * time.Second

// Client speaks the remote-server half of the protocol: it sends
// initialize, then tools/list and tools/call on demand, matching replies
// to outstanding requests by id. A Client must not send tools/call before
// initialize has been acknowledged.
type Client struct {
	transport   Transport
	nextID      int64
	mu          sync.Mutex
	pending     map[int64]chan *Response
	initialized bool
	closed      bool
	closeErr    error
}

// NewClient wraps an already-connected Transport. Call Initialize before
// any other method.
func NewClient(t Transport) *Client {
	c := &Client{
		transport: t,
		pending:   make(map[int64]chan *Response),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	for raw := range c.transport.Incoming() {
		env, err := classify(raw)
		if err != nil {
			continue
		}
		resp, ok := env.(*Response)
		if !ok {
			continue // the client does not serve inbound requests
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
		// Stray replies with no matching pending request are dropped.
	}

	// Transport closed: fail every outstanding request.
	c.mu.Lock()
	c.closed = true
	c.closeErr = c.transport.Err()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("mcpwire: marshal params for %s: %w", method, err)
	}

	id := atomic.AddInt64(&c.nextID, 1)
	req := &Request{JSONRPC: "2.0", ID: id, Method: method, Params: paramsJSON}
	raw, err := marshalEnvelope(req)
	if err != nil {
		return nil, fmt.Errorf("mcpwire: marshal request %s: %w", method, err)
	}

	ch := make(chan *Response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("mcpwire: transport closed: %w", c.closeErr)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.transport.Send(raw); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("mcpwire: send %s: %w", method, err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("mcpwire: transport closed awaiting %s reply: %w", method, c.closeErr)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("mcpwire: %s: %s", method, resp.Error.Message)
		}
		return resp.Result, nil
	case <-timeoutCtx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("mcpwire: %s timed out after %s", method, defaultRequestTimeout)
	}
}

// Initialize performs the MCP handshake. Must succeed before ListTools or
// CallTool are used.
func (c *Client) Initialize(ctx context.Context, clientName, clientVersion string) (*InitializeResult, error) {
	raw, err := c.call(ctx, "initialize", InitializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      Implementation{Name: clientName, Version: clientVersion},
	})
	if err != nil {
		return nil, err
	}
	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcpwire: parse initialize result: %w", err)
	}
	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()

	_ = c.sendNotification("notifications/initialized", nil)
	return &result, nil
}

func (c *Client) sendNotification(method string, params any) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return err
	}
	note := &Notification{JSONRPC: "2.0", Method: method, Params: paramsJSON}
	raw, err := marshalEnvelope(note)
	if err != nil {
		return err
	}
	return c.transport.Send(raw)
}

// ListTools fetches the remote tool inventory.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	if !c.isInitialized() {
		return nil, fmt.Errorf("mcpwire: client not initialized")
	}
	raw, err := c.call(ctx, "tools/list", struct{}{})
	if err != nil {
		return nil, err
	}
	var result ListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcpwire: parse tools/list result: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes name with args and returns the concatenated text
// content. If the remote tool reported isError, CallTool returns a non-nil
// error wrapping the failure text.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if !c.isInitialized() {
		return "", fmt.Errorf("mcpwire: client not initialized")
	}
	raw, err := c.call(ctx, "tools/call", CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", err
	}
	var result CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("mcpwire: parse tools/call result: %w", err)
	}

	var text string
	for _, block := range result.Content {
		if block.Type == "text" {
			if text != "" {
				text += "\n"
			}
			text += block.Text
		}
	}
	if result.IsError {
		return "", fmt.Errorf("mcpwire: tool %q returned error: %s", name, text)
	}
	return text, nil
}

func (c *Client) isInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// Close closes the underlying transport, which fails every outstanding
// request via readLoop's drain.
func (c *Client) Close() error {
	return c.transport.Close()
}
