package uds

import (
	"fmt"
	"net"
	"time"
)

// Client opens one connection per request.
type Client struct {
	socketPath string
	timeout    time.Duration
}

func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: 30 * time.Second}
}

// WithTimeout returns a copy of c whose dial and exchange are bounded by d.
func (c *Client) WithTimeout(d time.Duration) *Client {
	cp := *c
	cp.timeout = d
	return &cp
}

// Send performs one exchange. Failing to reach the socket is reported with
// a hint to start the daemon.
func (c *Client) Send(req *Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon at %s: %w\n"+
			"Is the daemon running? Start it with: herald daemon", c.socketPath, err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	if err := WriteFrame(conn, req); err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Command, err)
	}
	resp := new(Response)
	if err := ReadFrame(conn, resp); err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.Command, err)
	}
	return resp, nil
}

func (c *Client) SendCommand(command string, params any) (*Response, error) {
	req, err := NewRequest(command, params)
	if err != nil {
		return nil, err
	}
	return c.Send(req)
}

// Call sends command and decodes the result into out, which may be nil.
// A daemon side failure is returned as *ErrorDetail.
func (c *Client) Call(command string, params, out any) error {
	resp, err := c.SendCommand(command, params)
	if err != nil {
		return err
	}
	return resp.DecodeData(out)
}
