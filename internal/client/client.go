// Package client implements the dfs-client side of the wire protocol: AUTH
// against the name server, authenticated command round-trips, the
// direct-to-storage-server path STREAM takes after a LOCATE, and WRITE
// sessions bridged through the name server.
package client

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/marmos91/dfs/internal/dfserrors"
	"github.com/marmos91/dfs/internal/wire"
)

// Client holds the credentials and timing knobs needed to talk to one name
// server. It keeps no connection open between commands: every call dials
// fresh, mirroring the original client's one-socket-per-command design.
type Client struct {
	nameServerAddr     string
	user, pass         string
	initialReadTimeout time.Duration
	quietWindow        time.Duration
}

// New builds a Client for the given name server address.
func New(nameServerAddr string, initialReadTimeout, quietWindow time.Duration) *Client {
	return &Client{
		nameServerAddr:     nameServerAddr,
		initialReadTimeout: initialReadTimeout,
		quietWindow:        quietWindow,
	}
}

// Authenticate verifies user/pass against the name server and, on success,
// remembers them for subsequent commands.
func (c *Client) Authenticate(user, pass string) error {
	conn, err := net.DialTimeout("tcp", c.nameServerAddr, 5*time.Second)
	if err != nil {
		return dfserrors.Transport(err, "dial name server")
	}
	defer conn.Close()

	msg := wire.NewMessage().Set("TYPE", "AUTH").Set("USER", user).Set("PASS", pass)
	if err := msg.WriteTo(conn); err != nil {
		return dfserrors.Transport(err, "send AUTH")
	}

	r := bufio.NewReader(conn)
	line, err := wire.ReadLine(r)
	if err != nil && line == "" {
		return dfserrors.Transport(err, "read AUTH reply")
	}
	if !strings.Contains(line, "AUTH:SUCCESS") {
		return dfserrors.Auth("invalid username or password")
	}
	c.user, c.pass = user, pass
	return nil
}

// User returns the authenticated username, or "" before Authenticate.
func (c *Client) User() string {
	return c.user
}

// Do sends one authenticated command to the name server and reads its
// reply using the quiet-window heuristic described on ClientConfig.
func (c *Client) Do(raw string) (string, error) {
	conn, err := net.DialTimeout("tcp", c.nameServerAddr, 5*time.Second)
	if err != nil {
		return "", dfserrors.Transport(err, "dial name server")
	}
	defer conn.Close()

	msg := wire.NewMessage().Set("USER", c.user).Set("PASS", c.pass).Set("CMD", raw)
	if err := msg.WriteTo(conn); err != nil {
		return "", dfserrors.Transport(err, "send command")
	}

	return readQuiet(conn, c.initialReadTimeout, c.quietWindow)
}

// Locate asks the name server which storage server holds file, using the
// legacy unframed "LOCATE <file>" request.
func (c *Client) Locate(file string) (host string, port int, err error) {
	conn, err := net.DialTimeout("tcp", c.nameServerAddr, 5*time.Second)
	if err != nil {
		return "", 0, dfserrors.Transport(err, "dial name server")
	}
	defer conn.Close()

	if err := wire.WriteLine(conn, "LOCATE "+file); err != nil {
		return "", 0, dfserrors.Transport(err, "send LOCATE")
	}

	r := bufio.NewReader(conn)
	m, err := wire.ReadMessage(r)
	if err != nil {
		return "", 0, dfserrors.Transport(err, "read LOCATE reply")
	}
	if errLine, ok := m.Get("Error"); ok {
		return "", 0, dfserrors.NotFound("%s", strings.TrimSpace(errLine))
	}
	host, ok := m.Get("SS_IP")
	if !ok {
		return "", 0, dfserrors.NotFound("file %q not found", file)
	}
	port, err = m.GetInt("SS_PORT")
	if err != nil {
		return "", 0, dfserrors.Transport(err, "parse SS_PORT")
	}
	return host, port, nil
}

// DialStorageServer opens a direct connection to a storage server and
// sends the authenticated command, for STREAM, which bypasses the name
// server's forwarding path once the owning SS is known.
func (c *Client) DialStorageServer(addr, raw string) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, dfserrors.Transport(err, "dial storage server")
	}
	msg := wire.NewMessage().Set("USER", c.user).Set("PASS", c.pass).Set("CMD", raw)
	if err := msg.WriteTo(conn); err != nil {
		conn.Close()
		return nil, dfserrors.Transport(err, "send command to storage server")
	}
	return conn, nil
}

// StreamAddr resolves the host:port a STREAM for file should dial directly,
// per spec.md §6.3: the client LOCATEs first, then connects to the SS.
func (c *Client) StreamAddr(file string) (string, error) {
	host, port, err := c.Locate(file)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", host, port), nil
}

// readQuiet reads everything the peer sends until initialTimeout elapses
// without a first byte, or quietWindow elapses after the most recent read.
func readQuiet(conn net.Conn, initialTimeout, quietWindow time.Duration) (string, error) {
	var b strings.Builder
	buf := make([]byte, 4096)

	conn.SetReadDeadline(time.Now().Add(initialTimeout))
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			b.Write(buf[:n])
			conn.SetReadDeadline(time.Now().Add(quietWindow))
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				break
			}
			if b.Len() > 0 {
				break
			}
			return "", dfserrors.Transport(err, "read reply")
		}
	}
	return b.String(), nil
}
