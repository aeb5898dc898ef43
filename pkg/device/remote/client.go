package remote

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/marmos91/dittotape/internal/logger"
	"github.com/marmos91/dittotape/pkg/device"
)

// Client is a device.Device served by a remote Server.
type Client struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
	rd   *bufio.Reader
	xid  uint32
	caps device.Caps
}

// NewClient returns a closed client for addr (host:port). timeout bounds
// each call; zero disables it.
func NewClient(addr string, timeout time.Duration) *Client {
	return &Client{addr: addr, timeout: timeout}
}

func (c *Client) Name() string { return "remote:" + c.addr }

// Capabilities are learnt at Open and always include CapRemote.
func (c *Client) Capabilities() device.Caps {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps | device.CapRemote
}

// Open dials the server and opens the remote device.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", c.addr)
		if err != nil {
			return fmt.Errorf("%w: dial %s: %v", device.ErrNotReady, c.addr, err)
		}
		c.conn = conn
		c.rd = bufio.NewReader(conn)
		logger.Debug("Remote tape connected", logger.KeyAddress, c.addr)
	}

	rep, err := c.callLocked(&Request{Proc: ProcOpen})
	if err != nil {
		return err
	}
	if err := rep.Err(); err != nil {
		return err
	}
	c.caps = device.Caps(rep.Caps)
	return nil
}

// Close closes the remote device and the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	rep, err := c.callLocked(&Request{Proc: ProcClose})
	cerr := c.conn.Close()
	c.conn = nil
	if err != nil {
		return err
	}
	if err := rep.Err(); err != nil {
		return err
	}
	return cerr
}

func (c *Client) callLocked(req *Request) (*Reply, error) {
	if c.conn == nil {
		return nil, device.ErrClosed
	}
	c.xid++
	req.XID = c.xid

	if c.timeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
	}
	if err := writeMessage(c.conn, req); err != nil {
		return nil, c.brokenLocked(err)
	}
	var rep Reply
	if err := readMessage(c.rd, &rep); err != nil {
		return nil, c.brokenLocked(err)
	}
	if rep.XID != req.XID {
		return nil, c.brokenLocked(fmt.Errorf("reply xid %d for call %d", rep.XID, req.XID))
	}
	return &rep, nil
}

// brokenLocked drops a connection whose framing can no longer be trusted.
func (c *Client) brokenLocked(err error) error {
	logger.Warn("Remote tape connection lost", logger.KeyAddress, c.addr, logger.KeyError, err)
	_ = c.conn.Close()
	c.conn = nil
	return fmt.Errorf("%w: %v", device.ErrIO, err)
}

func (c *Client) call(req *Request) (*Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rep, err := c.callLocked(req)
	if err != nil {
		return nil, err
	}
	return rep, nil
}

func (c *Client) Read(p []byte) (int, error) {
	rep, err := c.call(&Request{Proc: ProcRead, Count: int32(len(p))})
	if err != nil {
		return 0, err
	}
	if err := rep.Err(); err != nil {
		return int(rep.N), err
	}
	return copy(p, rep.Data), nil
}

func (c *Client) Write(p []byte) (int, error) {
	rep, err := c.call(&Request{Proc: ProcWrite, Data: p})
	if err != nil {
		return 0, err
	}
	return int(rep.N), rep.Err()
}

func (c *Client) Do(op device.Op, count int) error {
	rep, err := c.call(&Request{Proc: ProcDo, Op: uint32(op), Count: int32(count)})
	if err != nil {
		return err
	}
	return rep.Err()
}

func (c *Client) Status() (device.Status, error) {
	rep, err := c.call(&Request{Proc: ProcStatus})
	if err != nil {
		return device.Status{}, err
	}
	if err := rep.Err(); err != nil {
		return device.Status{}, err
	}
	return rep.status(), nil
}

func (c *Client) BlockSize() (int, error) {
	rep, err := c.call(&Request{Proc: ProcGetBlockSize})
	if err != nil {
		return 0, err
	}
	if err := rep.Err(); err != nil {
		return 0, err
	}
	return int(rep.BlockSize), nil
}

func (c *Client) SetBlockSize(size int) error {
	rep, err := c.call(&Request{Proc: ProcSetBlockSize, Count: int32(size)})
	if err != nil {
		return err
	}
	return rep.Err()
}

var _ device.Device = (*Client)(nil)
