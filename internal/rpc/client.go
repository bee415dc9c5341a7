package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/psgate/psgate/internal/events"
)

// Client talks to a running gateway over its unix socket.
type Client struct {
	socketPath string
	conn       net.Conn
	scanner    *bufio.Scanner
	mu         sync.Mutex
	nextID     atomic.Int64
}

// NewClient creates a client for the given socket path.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Connect establishes the connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("connecting to gateway: %w", err)
	}
	c.conn = conn
	c.scanner = bufio.NewScanner(conn)
	c.scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.scanner = nil
	return err
}

// Call sends one request and decodes the result into out (when non-nil).
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID.Add(1)
	var paramsJSON json.RawMessage
	if params != nil {
		p, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		paramsJSON = p
	}
	data, err := json.Marshal(RPCRequest{Method: method, Params: paramsJSON, ID: id})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		return fmt.Errorf("connection closed")
	}

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
		ID     int64           `json:"id"`
	}
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s (%s)", resp.Error.Message, resp.Error.Kind)
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// Subscribe switches the connection into streaming mode and delivers events
// to fn until ctx is done or the connection closes.
func (c *Client) Subscribe(ctx context.Context, fn func(events.Event)) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	id := c.nextID.Add(1)
	data, err := json.Marshal(RPCRequest{Method: "subscribe", ID: id})
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')
	if _, err := c.conn.Write(data); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("write request: %w", err)
	}
	scanner := c.scanner
	c.mu.Unlock()

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		var frame struct {
			Result struct {
				Subscribed bool          `json:"subscribed"`
				Event      *events.Event `json:"event"`
			} `json:"result"`
			Error *Error `json:"error"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			continue
		}
		if frame.Error != nil {
			return fmt.Errorf("subscribe failed: %s", frame.Error.Message)
		}
		if frame.Result.Event != nil {
			fn(*frame.Result.Event)
		}
	}
	return scanner.Err()
}
