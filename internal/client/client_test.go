package client

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dfs/internal/wire"
)

// fakeNameServer accepts one connection per handler call, mimicking the
// real name server's per-command dial-and-reply pattern closely enough to
// exercise the client's read path.
func fakeNameServer(t *testing.T, handle func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handle(conn)
		}
	}()
	return ln.Addr().String()
}

func TestAuthenticateSuccess(t *testing.T) {
	addr := fakeNameServer(t, func(conn net.Conn) {
		defer conn.Close()
		wire.ReadMessage(bufio.NewReader(conn))
		conn.Write([]byte("AUTH:SUCCESS\n"))
	})

	c := New(addr, time.Second, 50*time.Millisecond)
	require.NoError(t, c.Authenticate("alice", "secret"))
	assert.Equal(t, "alice", c.User())
}

func TestAuthenticateFailure(t *testing.T) {
	addr := fakeNameServer(t, func(conn net.Conn) {
		defer conn.Close()
		wire.ReadMessage(bufio.NewReader(conn))
		conn.Write([]byte("AUTH:FAILED\n"))
	})

	c := New(addr, time.Second, 50*time.Millisecond)
	assert.Error(t, c.Authenticate("alice", "wrong"))
}

func TestDoReadsUntilQuiet(t *testing.T) {
	addr := fakeNameServer(t, func(conn net.Conn) {
		defer conn.Close()
		wire.ReadMessage(bufio.NewReader(conn))
		conn.Write([]byte("Success: File 'notes.txt' created successfully\n"))
	})

	c := New(addr, time.Second, 50*time.Millisecond)
	c.user, c.pass = "alice", "secret"
	reply, err := c.Do("CREATE notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "Success: File 'notes.txt' created successfully\n", reply)
}

func TestLocateParsesHostPort(t *testing.T) {
	addr := fakeNameServer(t, func(conn net.Conn) {
		defer conn.Close()
		wire.ReadLine(bufio.NewReader(conn))
		conn.Write([]byte("SS_IP:127.0.0.1\nSS_PORT:8082\n\n"))
	})

	c := New(addr, time.Second, 50*time.Millisecond)
	host, port, err := c.Locate("notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)
	assert.Equal(t, 8082, port)
}

func TestLocateNotFound(t *testing.T) {
	addr := fakeNameServer(t, func(conn net.Conn) {
		defer conn.Close()
		wire.ReadLine(bufio.NewReader(conn))
		conn.Write([]byte("Error: file \"notes.txt\" not found\n\n"))
	})

	c := New(addr, time.Second, 50*time.Millisecond)
	_, _, err := c.Locate("notes.txt")
	assert.Error(t, err)
}
