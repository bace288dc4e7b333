package client

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/triekv/triekv/internal/errors"
	"github.com/triekv/triekv/internal/model"
	"github.com/triekv/triekv/internal/protocol"
)

// ReplicaConn is a single line-protocol connection to one store server.
// Requests on a connection are serialized.
type ReplicaConn struct {
	addr model.ServerAddress

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	// pending counts replies still owed for requests that timed out; they
	// are read and discarded before the next request.
	pending int
	broken  error
}

// DialReplica opens a connection to addr
func DialReplica(ctx context.Context, addr model.ServerAddress, timeout time.Duration) (*ReplicaConn, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr.Addr())
	if err != nil {
		return nil, errors.Unavailable(fmt.Sprintf("failed to connect to replica %s", addr), err).
			WithDetail("replica", addr.String())
	}
	return &ReplicaConn{
		addr:   addr,
		conn:   conn,
		reader: bufio.NewReader(conn),
	}, nil
}

// Addr returns the server address of the connection
func (c *ReplicaConn) Addr() model.ServerAddress {
	return c.addr
}

// Do sends one request line and waits for its reply line. The wait is
// bounded by timeout and by the deadline of ctx, whichever comes first.
func (c *ReplicaConn) Do(ctx context.Context, line string, timeout time.Duration) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken != nil {
		return "", errors.Unavailable(fmt.Sprintf("connection to %s is unusable", c.addr), c.broken)
	}
	if err := ctx.Err(); err != nil {
		return "", errors.Unavailable("request cancelled", err)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return "", c.fail(err)
	}

	for c.pending > 0 {
		if _, err := c.reader.ReadString(protocol.Terminator); err != nil {
			return "", c.readError(err)
		}
		c.pending--
	}

	if _, err := c.conn.Write([]byte(line + string(protocol.Terminator))); err != nil {
		return "", c.fail(err)
	}

	reply, err := c.reader.ReadString(protocol.Terminator)
	if err != nil {
		if isTimeout(err) {
			c.pending++
		}
		return "", c.readError(err)
	}
	return strings.TrimRight(reply, "\r\n"), nil
}

// Close closes the socket
func (c *ReplicaConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken == nil {
		c.broken = net.ErrClosed
	}
	return c.conn.Close()
}

func (c *ReplicaConn) readError(err error) error {
	if isTimeout(err) {
		return errors.Unavailable(fmt.Sprintf("replica %s did not answer in time", c.addr), err)
	}
	return c.fail(err)
}

// fail marks the connection unusable after a transport error
func (c *ReplicaConn) fail(err error) error {
	c.broken = err
	return errors.Unavailable(fmt.Sprintf("connection to %s failed", c.addr), err)
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
