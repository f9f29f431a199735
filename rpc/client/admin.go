package client

import (
	"fmt"

	"github.com/marlinkv/marlin/rpc/common"
	"github.com/marlinkv/marlin/rpc/transport"
)

// --------------------------------------------------------------------------
// Admin Client
// --------------------------------------------------------------------------

// AdminClient sends admin commands to one node and returns the rendered
// reply lines. One client owns one connection.
//
// Thread-safety: not safe for concurrent use, callers serialize.
type AdminClient struct {
	conn transport.IMessageConn
}

// NewAdminClient dials the node named by config.
func NewAdminClient(dialer transport.IRPCClientTransport, config common.ClientConfig) (*AdminClient, error) {
	conn, err := dialer.Dial(config)
	if err != nil {
		return nil, err
	}
	return &AdminClient{conn: conn}, nil
}

// Do sends one command and returns its reply lines. Error replies come
// back as an error carrying the wire string.
func (c *AdminClient) Do(cmd string, args ...string) ([]string, error) {
	if err := c.conn.Send(common.NewCommandRequest(cmd, args...)); err != nil {
		return nil, fmt.Errorf("send %s: %v", cmd, err)
	}
	var resp common.Message
	if err := c.conn.Recv(&resp); err != nil {
		return nil, fmt.Errorf("recv %s reply: %v", cmd, err)
	}
	if resp.Err != "" {
		return nil, fmt.Errorf("%s", resp.Err)
	}
	if resp.MsgType != common.MsgTCommand {
		return nil, fmt.Errorf("unexpected reply type %s", resp.MsgType)
	}
	return resp.Lines, nil
}

// Close closes the connection.
func (c *AdminClient) Close() error {
	return c.conn.Close()
}
