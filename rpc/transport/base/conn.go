package base

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marlinkv/marlin/rpc/common"
	"github.com/marlinkv/marlin/rpc/serializer"
	"github.com/marlinkv/marlin/rpc/transport"
)

// messageConn implements transport.IMessageConn on top of a net.Conn
// with length-prefixed frames and an injected serializer.
//
// Thread-safety: Send may be called concurrently, Recv must be called
// from a single reader goroutine.
type messageConn struct {
	conn       net.Conn
	serializer serializer.IRPCSerializer
	bufferPool *sync.Pool

	writeMu   sync.Mutex
	timeoutNs atomic.Int64
}

// NewMessageConn wraps an established connection. The buffer pool is
// shared across connections of one transport, nil allocates per-read.
func NewMessageConn(conn net.Conn, s serializer.IRPCSerializer, pool *sync.Pool, timeout time.Duration) transport.IMessageConn {
	c := &messageConn{
		conn:       conn,
		serializer: s,
		bufferPool: pool,
	}
	c.timeoutNs.Store(int64(timeout))
	return c
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IMessageConn)
// --------------------------------------------------------------------------

func (c *messageConn) Send(msg *common.Message) error {
	data, err := c.serializer.Serialize(*msg)
	if err != nil {
		return err
	}

	// Protect writes with a mutex, frames must not interleave
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if timeout := c.timeout(); timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}

	return writeFrame(c.conn, data)
}

func (c *messageConn) Recv(msg *common.Message) error {
	if timeout := c.timeout(); timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	} else {
		// A previously armed deadline must not fire after SetTimeout(0)
		if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
			return err
		}
	}

	var buf []byte
	if c.bufferPool != nil {
		buf = c.bufferPool.Get().([]byte)
		defer c.bufferPool.Put(buf)
	}

	data, err := readFrame(c.conn, buf)
	if err != nil {
		return err
	}

	return c.serializer.Deserialize(data, msg)
}

func (c *messageConn) SetTimeout(d time.Duration) {
	c.timeoutNs.Store(int64(d))
}

func (c *messageConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *messageConn) Close() error {
	return c.conn.Close()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (c *messageConn) timeout() time.Duration {
	return time.Duration(c.timeoutNs.Load())
}
