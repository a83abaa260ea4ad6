package serverinstr

import (
	"net"
	"sync/atomic"
)

// WrapListener returns a listener whose connections are counted on accept
// and report their transferred bytes on close.
func (i *Instrumentor) WrapListener(l net.Listener) net.Listener {
	return &listener{Listener: l, inst: i}
}

type listener struct {
	net.Listener
	inst *Instrumentor
}

func (l *listener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	l.inst.connectionAccepted()
	return &countingConn{Conn: c, inst: l.inst}, nil
}

// countingConn tallies bytes moved through the connection. The tally is
// reported once, on the first Close.
type countingConn struct {
	net.Conn
	inst *Instrumentor

	read    atomic.Int64
	written atomic.Int64
	closed  atomic.Bool
}

func (c *countingConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	c.read.Add(int64(n))
	return n, err
}

func (c *countingConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	c.written.Add(int64(n))
	return n, err
}

func (c *countingConn) Close() error {
	err := c.Conn.Close()
	if c.closed.CompareAndSwap(false, true) {
		c.inst.connectionClosed(c.read.Load(), c.written.Load())
	}
	return err
}
