package nameserver

import (
	"io"
	"net"
	"time"
)

// Conn is the subset of net.Conn the router needs to talk to an SS; narrowed
// to ease testing with in-memory pipes.
type Conn interface {
	io.ReadWriteCloser
	CloseWrite() error
	SetDeadline(t time.Time) error
}

type tcpConn struct {
	*net.TCPConn
}

func dialTCP(addr string) (Conn, error) {
	c, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return nil, err
	}
	tc, ok := c.(*net.TCPConn)
	if !ok {
		c.Close()
		return nil, io.ErrClosedPipe
	}
	return tcpConn{tc}, nil
}

// Bridge relays bytes bidirectionally between client and ss until both
// directions report EOF, half-closing the write side of the peer as each
// direction finishes. This is the fork-and-proxy bridge of §4.9, used for
// WRITE sessions and forwarded STREAM requests so the NS never has to
// understand the protocol it is forwarding.
func Bridge(client, ss Conn) {
	done := make(chan struct{}, 2)

	go func() {
		io.Copy(ss, client)
		ss.CloseWrite()
		done <- struct{}{}
	}()
	go func() {
		io.Copy(client, ss)
		client.CloseWrite()
		done <- struct{}{}
	}()

	<-done
	<-done
}
