// Package connection provides the management socket client for
// pagevault-cli.
package connection

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/yndnr/pagevault-go/internal/server/localserver"
)

// ErrNotConnected is returned for calls before Connect.
var ErrNotConnected = errors.New("connection: not connected")

// ServerError is a failure reported by the daemon, carrying its
// machine-readable code.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// SocketClient is a client for the daemon's management socket.
type SocketClient struct {
	path   string
	conn   net.Conn
	reader *bufio.Reader
}

// NewSocketClient creates a client for socketPath. No connection is
// made until Connect or the first Call.
func NewSocketClient(socketPath string) *SocketClient {
	return &SocketClient{path: socketPath}
}

// Connect dials the socket.
func (c *SocketClient) Connect() error {
	conn, err := net.Dial("unix", c.path)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.path, err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

// Close closes the connection.
func (c *SocketClient) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

// Call sends one request and decodes the response result into out.
// A response with ok=false becomes a *ServerError. out may be nil
// when the operation has no result.
func (c *SocketClient) Call(op string, params any, out any) error {
	if c.conn == nil {
		if err := c.Connect(); err != nil {
			return err
		}
	}

	req := localserver.Request{Op: op}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		req.Params = raw
	}

	line, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if _, err := c.conn.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	respLine, err := c.reader.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var resp localserver.Response
	if err := json.Unmarshal(respLine, &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if !resp.OK {
		se := &ServerError{Message: "request failed"}
		if resp.Error != nil {
			se.Code = resp.Error.Code
			se.Message = resp.Error.Message
		}
		return se
	}
	if out == nil {
		return nil
	}

	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("re-encode result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}
