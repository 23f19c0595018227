package client

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/dfs/internal/dfserrors"
	"github.com/marmos91/dfs/internal/wire"
)

// etirw is the interactive WRITE session's termination sentinel (spec.md
// §6.2), sent by the client to signal the final edit has been applied.
const etirw = "ETIRW"

// WriteSession is one interactive WRITE round-trip, bridged by the name
// server straight through to the owning storage server's write coordinator.
type WriteSession struct {
	conn net.Conn
	r    *bufio.Reader
	done bool
}

// OpenWrite sends "WRITE <file> <index>" to the name server and returns the
// session along with the server's initial lock confirmation line.
func (c *Client) OpenWrite(file string, index int) (*WriteSession, string, error) {
	conn, err := net.DialTimeout("tcp", c.nameServerAddr, 5*time.Second)
	if err != nil {
		return nil, "", dfserrors.Transport(err, "dial name server")
	}

	raw := fmt.Sprintf("WRITE %s %d", file, index)
	msg := wire.NewMessage().Set("USER", c.user).Set("PASS", c.pass).Set("CMD", raw)
	if err := msg.WriteTo(conn); err != nil {
		conn.Close()
		return nil, "", dfserrors.Transport(err, "send WRITE")
	}

	r := bufio.NewReader(conn)
	line, err := wire.ReadLine(r)
	if line == "" && err != nil {
		conn.Close()
		return nil, "", dfserrors.Transport(err, "read WRITE reply")
	}
	if strings.HasPrefix(line, "ERROR:") {
		conn.Close()
		return nil, "", dfserrors.Conflict("%s", strings.TrimSpace(strings.TrimPrefix(line, "ERROR:")))
	}
	return &WriteSession{conn: conn, r: r}, line, nil
}

// Edit sends one "<word_index> <content>" edit and returns the server's
// reply line.
func (s *WriteSession) Edit(wordIndex int, content string) (string, error) {
	if err := wire.WriteLine(s.conn, strconv.Itoa(wordIndex)+" "+content); err != nil {
		return "", dfserrors.Transport(err, "send edit")
	}
	line, err := wire.ReadLine(s.r)
	if line == "" && err != nil {
		return "", dfserrors.Transport(err, "read edit reply")
	}
	return line, nil
}

// Commit sends ETIRW, reads the final "Write Successful!" reply, and closes
// the session.
func (s *WriteSession) Commit() (string, error) {
	defer s.Close()
	if err := wire.WriteLine(s.conn, etirw); err != nil {
		return "", dfserrors.Transport(err, "send ETIRW")
	}
	line, err := wire.ReadLine(s.r)
	if line == "" && err != nil {
		return "", dfserrors.Transport(err, "read commit reply")
	}
	return line, nil
}

// Close aborts the session by dropping the connection without ETIRW; the
// storage server's write coordinator releases the lock and discards the
// working buffer on any abnormal end.
func (s *WriteSession) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.conn.Close()
}
